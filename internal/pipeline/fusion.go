package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/geometry"
	"roadvision/internal/lanes"
	"roadvision/internal/smoothing"
)

// sliceDivisor sets the first detector row at ceil(h / sliceDivisor)
const sliceDivisor = 2.5

// Fusion merges object detection and lane fitting for one video stream
type Fusion struct {
	cfg        *Config
	size       image.Point
	adapter    *geometry.Adapter
	classifier *lanes.Classifier
	roiPixels  geometry.Polygon
	cache      *smoothing.Cache

	detector Detector
	lanes    LanePipeline
	recorder Recorder
	bus      *EventBus
	readout  ResultHandler

	sessionID string
	seq       uint64
	overlay   *image.RGBA // detection overlay, reused across frames
	mu        sync.Mutex
}

// Option configures a Fusion
type Option func(*Fusion)

// WithDetector sets the object detector
func WithDetector(d Detector) Option {
	return func(f *Fusion) { f.detector = d }
}

// WithLanePipeline sets the lane fitting collaborator
func WithLanePipeline(l LanePipeline) Option {
	return func(f *Fusion) { f.lanes = l }
}

// WithRecorder sets the frame recorder
func WithRecorder(r Recorder) Option {
	return func(f *Fusion) { f.recorder = r }
}

// WithEventBus sets the bus frame results are published on
func WithEventBus(b *EventBus) Option {
	return func(f *Fusion) { f.bus = b }
}

// WithReadout sets the live readout printer, used when Config.Readout is on
func WithReadout(h ResultHandler) Option {
	return func(f *Fusion) { f.readout = h }
}

// WithSessionID overrides the generated session identifier
func WithSessionID(id string) Option {
	return func(f *Fusion) { f.sessionID = id }
}

// NewFusion validates the configuration and builds a fusion session
func NewFusion(cfg *Config, opts ...Option) (*Fusion, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var adapterOpts []geometry.AdapterOption
	if cfg.AnchorROIEdges {
		adapterOpts = append(adapterOpts, geometry.WithAnchoredEdges())
	}
	adapter, err := geometry.NewAdapter(cfg.ROI, adapterOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid roi: %w", err)
	}

	cache, err := smoothing.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	size := cfg.Size()
	roiPixels := geometry.ToPixel(cfg.ROI, size)

	f := &Fusion{
		cfg:        cfg,
		size:       size,
		adapter:    adapter,
		classifier: lanes.NewClassifier(roiPixels, size.X),
		roiPixels:  roiPixels,
		cache:      cache,
		overlay:    image.NewRGBA(image.Rectangle{Max: size}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.ObjectDetection && f.detector == nil {
		return nil, errors.New("object detection enabled without a detector")
	}
	if cfg.LaneDetection && f.lanes == nil {
		return nil, errors.New("lane detection enabled without a lane pipeline")
	}
	if f.sessionID == "" {
		f.sessionID = uuid.New().String()
	}

	log.Printf("[Fusion] Session %s ready (%dx%d, objects: %v, lanes: %v, policy: %s)",
		f.sessionID, size.X, size.Y, cfg.ObjectDetection, cfg.LaneDetection, cfg.ErrorPolicy)
	return f, nil
}

// SessionID returns the session identifier
func (f *Fusion) SessionID() string { return f.sessionID }

// Config returns a copy of the effective configuration
func (f *Fusion) Config() Config { return *f.cfg }

// Cache returns the smoothing cache owned by this session
func (f *Fusion) Cache() *smoothing.Cache { return f.cache }

// Smoothed returns the cache means of the left and right curves,
// or nil while the cache is empty
func (f *Fusion) Smoothed() *SmoothedCurves {
	left, err := f.cache.Mean(0)
	if err != nil {
		return nil
	}
	right, err := f.cache.Mean(1)
	if err != nil {
		return nil
	}
	return &SmoothedCurves{Left: left, Right: right, Samples: f.cache.Len()}
}

// Process runs one frame through detection, ROI adaptation, lane fitting and compositing
func (f *Fusion) Process(ctx context.Context, frame image.Image) (*Output, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	f.seq++
	out := &Output{Seq: f.seq, ROI: f.adapter.NewFrameROI()}

	if f.cfg.Invert {
		frame = imaging.Rotate180(frame)
	}
	if f.cfg.RecordRaw && f.recorder != nil {
		raw := imaging.Resize(frame, RawRecordSize.X, RawRecordSize.Y, imaging.Box)
		if err := f.recorder.RecordRaw(raw); err != nil {
			log.Warnf("[Fusion] Failed to record raw frame %d: %v", out.Seq, err)
		}
	}
	resized := imaging.Resize(frame, f.size.X, f.size.Y, imaging.Box)

	clear(f.overlay.Pix)

	if f.cfg.ObjectDetection {
		detections, err := f.detect(ctx, resized, &out.ROI)
		if err != nil {
			if pass, herr := f.handleFailure(out.Seq, err); herr != nil {
				return nil, herr
			} else if pass {
				return f.passthrough(out, resized, start), nil
			}
			// Drop this frame's detections but keep the frame
			clear(f.overlay.Pix)
			out.ROI = f.adapter.NewFrameROI()
		} else {
			out.Detections = detections
		}
	}

	var base image.Image = resized
	var fit *LaneFit
	if f.cfg.LaneDetection {
		var err error
		fit, err = f.fitLanes(ctx, resized, out.ROI)
		if err != nil {
			if pass, herr := f.handleFailure(out.Seq, err); herr != nil {
				return nil, herr
			} else if pass {
				return f.passthrough(out, resized, start), nil
			}
			fit = nil
		} else if fit.Overlay != nil {
			base = f.fitToSize(fit.Overlay)
		}
	}

	composed := composite(base, f.overlay)
	var measurements *Measurements
	if fit != nil {
		drawPolygon(composed, out.ROI.Pixels(f.size).ImagePoints(), ROIColor)
		measurements = &Measurements{
			LeftCurve:     fit.LeftCurve,
			RightCurve:    fit.RightCurve,
			LaneCurve:     fit.LaneCurve,
			VehicleOffset: fit.VehicleOffset,
			Turn:          fit.Turn,
		}
	}
	out.Frame = composed
	if fit != nil && f.cfg.ShowVisuals && fit.Visual != nil {
		out.Frame = concat(fit.Visual, composed)
	}
	if f.cfg.ReturnData {
		out.Data = measurements
	}

	f.emit(out, measurements, false, start)
	return out, nil
}

// PositionPreview draws the centre line and the static ROI on a resized frame,
// for aligning a camera mount
func (f *Fusion) PositionPreview(frame image.Image) (*image.RGBA, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}
	if f.cfg.Invert {
		frame = imaging.Rotate180(frame)
	}
	preview := toRGBA(imaging.Resize(frame, f.size.X, f.size.Y, imaging.Box))

	mid := f.size.X / 2
	drawLine(preview, image.Pt(mid, 0), image.Pt(mid, f.size.Y-1), ROIColor)
	drawPolygon(preview, f.roiPixels.ImagePoints(), ROIColor)
	return preview, nil
}

func checkFrame(frame image.Image) error {
	if frame == nil {
		return &InvalidFrameError{Reason: "nil image"}
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return &InvalidFrameError{Reason: fmt.Sprintf("empty bounds %v", b)}
	}
	return nil
}

// detect runs the detector on the lower slice of the frame, assigns lanes,
// advances the ROI and draws the detection overlay
func (f *Fusion) detect(ctx context.Context, frame image.Image, roi *geometry.FrameROI) ([]Detection, error) {
	h := frame.Bounds().Dy()
	offset := int(math.Ceil(float64(h) / sliceDivisor))
	slice := imaging.Crop(frame, image.Rect(0, offset, frame.Bounds().Dx(), h))

	raw, err := f.callDetector(ctx, slice)
	if err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, len(raw))
	for _, r := range raw {
		if r.Confidence <= f.cfg.Confidence || !f.cfg.AllowsClass(r.Class) {
			continue
		}
		box := r.Box.Canon()
		if box.Empty() {
			continue
		}
		full := box.Add(image.Pt(0, offset))
		d := Detection{
			Class:      r.Class,
			Confidence: r.Confidence,
			Box:        full,
			Midpoint: geometry.Point{
				X: float64(full.Min.X + box.Dx()/2),
				Y: float64(full.Min.Y + box.Dy()/2),
			},
		}
		d.Lane = f.classifier.Classify(d.Midpoint)
		detections = append(detections, d)
	}

	var ego []image.Rectangle
	for _, d := range detections {
		if d.Lane == lanes.Ego {
			ego = append(ego, d.Box.Sub(image.Pt(0, offset)))
		}
		drawDetection(f.overlay, d)
	}
	*roi = f.adapter.Adapt(ego, h, offset)

	log.Debugf("[Fusion] Frame %d: %d/%d detections kept, near edge %.2f",
		f.seq, len(detections), len(raw), roi.NearY)
	return detections, nil
}

func (f *Fusion) callDetector(ctx context.Context, img image.Image) (raw []RawDetection, err error) {
	defer recoverStage(StageDetect, &err)
	raw, err = f.detector.Detect(ctx, img)
	if err != nil {
		return nil, &CollaboratorError{Stage: StageDetect, Err: err}
	}
	return raw, nil
}

func (f *Fusion) fitLanes(ctx context.Context, frame image.Image, roi geometry.FrameROI) (fit *LaneFit, err error) {
	defer recoverStage(StageLaneFit, &err)
	fit, err = f.lanes.Fit(ctx, frame, f.cache, roi, f.cfg.ShowVisuals)
	if err != nil {
		return nil, &CollaboratorError{Stage: StageLaneFit, Err: err}
	}
	if fit == nil {
		return nil, &CollaboratorError{Stage: StageLaneFit, Err: errors.New("no result returned")}
	}
	return fit, nil
}

// handleFailure applies the error policy. It returns passthrough=true when the
// frame should be emitted unmodified, or a non-nil error when processing halts.
func (f *Fusion) handleFailure(seq uint64, err error) (passthrough bool, halt error) {
	switch f.cfg.ErrorPolicy {
	case ErrorPolicyHalt:
		log.Errorf("[Fusion] Frame %d: %v, halting", seq, err)
		return false, err
	case ErrorPolicyPassthrough:
		log.Warnf("[Fusion] Frame %d: %v, passing frame through", seq, err)
		return true, nil
	default:
		log.Warnf("[Fusion] Frame %d: %v, continuing", seq, err)
		return false, nil
	}
}

func (f *Fusion) passthrough(out *Output, frame image.Image, start time.Time) *Output {
	out.Frame = frame
	out.Detections = nil
	out.ROI = f.adapter.NewFrameROI()
	f.emit(out, nil, true, start)
	return out
}

// fitToSize resizes a collaborator image to the working resolution when needed
func (f *Fusion) fitToSize(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == f.size.X && b.Dy() == f.size.Y {
		return img
	}
	return imaging.Resize(img, f.size.X, f.size.Y, imaging.Box)
}

func (f *Fusion) emit(out *Output, m *Measurements, passthrough bool, start time.Time) {
	if f.cfg.RecordProcessed && f.recorder != nil {
		if err := f.recorder.RecordProcessed(out.Frame); err != nil {
			log.Warnf("[Fusion] Failed to record processed frame %d: %v", out.Seq, err)
		}
	}

	result := &FrameResult{
		SessionID:    f.sessionID,
		Seq:          out.Seq,
		Timestamp:    time.Now(),
		Frame:        out.Frame,
		Measurements: m,
		Smoothed:     f.Smoothed(),
		Detections:   out.Detections,
		ROI:          out.ROI,
		NearEdge:     out.ROI.NearY,
		Passthrough:  passthrough,
		LatencyMs:    float32(time.Since(start).Microseconds()) / 1000,
	}

	if f.cfg.Readout && f.readout != nil {
		f.readout.OnFrameResult(result)
	}
	if f.bus != nil {
		f.bus.Publish(result)
	}
}
