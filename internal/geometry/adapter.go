package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// MinSlope is the smallest edge slope magnitude accepted at construction.
const MinSlope = 1e-6

// ErrDegenerateROI matches every DegenerateROIError.
var ErrDegenerateROI = errors.New("degenerate roi")

// DegenerateROIError reports an ROI side edge whose slope is zero or undefined.
type DegenerateROIError struct {
	Edge   string // "left" or "right"
	Reason string
}

func (e *DegenerateROIError) Error() string {
	return fmt.Sprintf("degenerate roi: %s edge %s", e.Edge, e.Reason)
}

func (e *DegenerateROIError) Is(target error) bool {
	return target == ErrDegenerateROI
}

// EdgeSlopes holds |Δ(1-y)/Δx| for the two sides of the ego-lane trapezoid.
type EdgeSlopes struct {
	Left  float64
	Right float64
}

// FrameROI is the per-frame copy of the pipeline ROI. Its near edge (the first
// two points) only ever moves toward the camera while a frame is processed.
type FrameROI struct {
	Points PipelineROI
	NearY  float64
}

// Polygon returns the ROI in canonical order.
func (r FrameROI) Polygon() Polygon {
	return r.Points.Polygon()
}

// Pixels returns the ROI in canonical order scaled to a frame size.
func (r FrameROI) Pixels(size image.Point) Polygon {
	return ToPixel(r.Polygon(), size)
}

// Adapter owns the static ROI and derives a fresh FrameROI for every frame.
type Adapter struct {
	roi      Polygon
	template PipelineROI
	slopes   EdgeSlopes
	anchored bool
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithAnchoredEdges back-projects from the ROI's bottom vertices instead of the
// frame's bottom corners, so the near edge stays on the drawn side edges when
// the ROI does not reach the corners.
func WithAnchoredEdges() AdapterOption {
	return func(a *Adapter) { a.anchored = true }
}

// NewAdapter validates the ROI and precomputes the edge slopes.
func NewAdapter(roi Polygon, opts ...AdapterOption) (*Adapter, error) {
	left, err := edgeSlope("left", roi[TopLeft], roi[BottomLeft])
	if err != nil {
		return nil, err
	}
	right, err := edgeSlope("right", roi[TopRight], roi[BottomRight])
	if err != nil {
		return nil, err
	}
	if err := roi.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roi: %w", err)
	}

	a := &Adapter{
		roi:      roi,
		template: roi.PipelineOrder(),
		slopes:   EdgeSlopes{Left: left, Right: right},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func edgeSlope(edge string, top, bottom Point) (float64, error) {
	dx := top.X - bottom.X
	dy := (1 - top.Y) - (1 - bottom.Y)
	if dx == 0 {
		return 0, &DegenerateROIError{Edge: edge, Reason: "is vertical (zero width)"}
	}
	slope := math.Abs(dy / dx)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, &DegenerateROIError{Edge: edge, Reason: "has an undefined slope"}
	}
	if slope < MinSlope {
		return 0, &DegenerateROIError{Edge: edge, Reason: fmt.Sprintf("slope %g is zero", slope)}
	}
	return slope, nil
}

// ROI returns the static normalized ROI.
func (a *Adapter) ROI() Polygon { return a.roi }

// Template returns the static ROI in pipeline order.
func (a *Adapter) Template() PipelineROI { return a.template }

// Slopes returns the precomputed edge slopes.
func (a *Adapter) Slopes() EdgeSlopes { return a.slopes }

// NearEdge returns the template's near-edge y.
func (a *Adapter) NearEdge() float64 { return a.template[0].Y }

// farEdge is the highest y the near edge may advance to.
func (a *Adapter) farEdge() float64 {
	return math.Min(a.roi[BottomLeft].Y, a.roi[BottomRight].Y)
}

// NewFrameROI starts a frame from the template. Adaptation from a previous
// frame is never carried over.
func (a *Adapter) NewFrameROI() FrameROI {
	return FrameROI{Points: a.template, NearY: a.NearEdge()}
}

// BackProject returns the x of the left and right ROI edges at normalized y:
// (1-y)/slope and 1-(1-y)/slope, rounded to two decimals. The edges are
// assumed to meet the frame's bottom corners unless the adapter was built
// WithAnchoredEdges.
func (a *Adapter) BackProject(y float64) (left, right float64) {
	if a.anchored {
		bl, br := a.roi[BottomLeft], a.roi[BottomRight]
		rise := func(bottom Point) float64 { return (1 - y) - (1 - bottom.Y) }
		return round2(bl.X + rise(bl)/a.slopes.Left), round2(br.X - rise(br)/a.slopes.Right)
	}
	return round2((1 - y) / a.slopes.Left), round2(1 - (1-y)/a.slopes.Right)
}

// Advance pushes the near edge of roi down to the bottom of an ego-lane
// obstruction. endY is the box bottom in slice pixels and sliceOffset the
// slice's first row in the frame. Only a candidate below both the current
// near edge and the template's near edge moves the ROI.
func (a *Adapter) Advance(roi *FrameROI, endY, frameHeight, sliceOffset int) bool {
	if frameHeight <= 0 {
		return false
	}
	candidate := round2(float64(endY+sliceOffset) / float64(frameHeight))
	if far := a.farEdge(); candidate > far {
		candidate = far
	}
	if candidate <= roi.NearY || candidate <= a.NearEdge() {
		return false
	}

	left, right := a.BackProject(candidate)
	roi.NearY = candidate
	roi.Points[0] = Point{X: left, Y: candidate}
	roi.Points[1] = Point{X: right, Y: candidate}
	return true
}

// Adapt builds this frame's ROI from the ego-lane boxes (slice coordinates).
// The closest obstruction alone decides the near edge.
func (a *Adapter) Adapt(egoBoxes []image.Rectangle, frameHeight, sliceOffset int) FrameROI {
	roi := a.NewFrameROI()
	for _, box := range egoBoxes {
		a.Advance(&roi, box.Max.Y, frameHeight, sliceOffset)
	}
	return roi
}
