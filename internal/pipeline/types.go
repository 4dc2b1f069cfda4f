package pipeline

import (
	"fmt"
	"image"
	"slices"
	"time"

	"roadvision/internal/geometry"
	"roadvision/internal/lanes"
)

// ErrorPolicy defines what a frame does when a collaborator fails
type ErrorPolicy string

const (
	// ErrorPolicyContinue - log, drop the failed stage for this frame only
	ErrorPolicyContinue ErrorPolicy = "continue"
	// ErrorPolicyPassthrough - emit the resized frame unmodified for this tick
	ErrorPolicyPassthrough ErrorPolicy = "passthrough"
	// ErrorPolicyHalt - return the collaborator error to the caller
	ErrorPolicyHalt ErrorPolicy = "halt"
)

// DefaultClasses are the detector classes treated as road vehicles
var DefaultClasses = []string{"bus", "car", "motorbike"}

// RawRecordSize is the resolution raw frames are recorded at
var RawRecordSize = image.Pt(1280, 720)

// FrameData represents a captured video frame
type FrameData struct {
	Seq       uint64      // Frame sequence number assigned by the source
	Timestamp time.Time   // Capture timestamp
	Image     image.Image // Decoded frame
}

// RawDetection is a single detector output before filtering
type RawDetection struct {
	Class      string          `json:"class"`
	Confidence float32         `json:"confidence"` // [0-1]
	Box        image.Rectangle `json:"box"`        // Pixel box in the detector's input image
}

// Detection is a filtered, lane-assigned detection in full-frame pixels
type Detection struct {
	Class      string          `json:"class"`
	Confidence float32         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
	Midpoint   geometry.Point  `json:"midpoint"`
	Lane       lanes.Lane      `json:"lane"`
}

// LaneFit is what the lane pipeline returns for one frame
type LaneFit struct {
	Overlay       image.Image // Frame with lane annotations, working resolution
	Visual        image.Image // Diagnostic visualization (optional)
	LaneCurve     float64
	LeftCurve     float64
	RightCurve    float64
	VehicleOffset float64
	Turn          string
}

// Measurements is the structured per-frame readout
type Measurements struct {
	LeftCurve     float64 `json:"left_curve"`
	RightCurve    float64 `json:"right_curve"`
	LaneCurve     float64 `json:"lane_curve"`
	VehicleOffset float64 `json:"vehicle_offset"`
	Turn          string  `json:"turn"`
}

// SmoothedCurves are the cache means of the left and right curves
type SmoothedCurves struct {
	Left    float64 `json:"left"`
	Right   float64 `json:"right"`
	Samples int     `json:"samples"`
}

// Output is what Process returns to the caller
type Output struct {
	Seq        uint64
	Frame      image.Image       // Composited frame
	Data       *Measurements     // Set when ReturnData is configured and lanes were fitted
	Detections []Detection       // Detections that survived filtering
	ROI        geometry.FrameROI // This frame's adapted ROI
}

// FrameResult is published for every processed frame
type FrameResult struct {
	SessionID    string            `json:"session_id"`
	Seq          uint64            `json:"seq"`
	Timestamp    time.Time         `json:"timestamp"`
	Frame        image.Image       `json:"-"`
	Measurements *Measurements     `json:"measurements,omitempty"` // nil when lanes were not fitted
	Smoothed     *SmoothedCurves   `json:"smoothed,omitempty"`     // nil while the cache is empty
	Detections   []Detection       `json:"detections"`
	ROI          geometry.FrameROI `json:"-"`
	NearEdge     float64           `json:"near_edge"`
	Passthrough  bool              `json:"passthrough"`
	LatencyMs    float32           `json:"latency_ms"`
}

// Config contains the effective settings of a fusion session
type Config struct {
	Confidence      float32          `json:"confidence"`
	ObjectDetection bool             `json:"object_detection"`
	LaneDetection   bool             `json:"lane_detection"`
	ShowVisuals     bool             `json:"show_visuals"`
	RecordRaw       bool             `json:"record_raw"`
	RecordProcessed bool             `json:"record_processed"`
	Invert          bool             `json:"invert"`
	CacheSize       int              `json:"cache_size"`
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	ROI             geometry.Polygon `json:"roi"`
	AnchorROIEdges  bool             `json:"anchor_roi_edges"`
	ReturnData      bool             `json:"return_data"`
	Readout         bool             `json:"readout"`
	DetectAll       bool             `json:"detect_all"`
	Classes         []string         `json:"classes"`
	ErrorPolicy     ErrorPolicy      `json:"error_policy"`
}

// DefaultConfig returns the defaults for a 640x360 forward camera
func DefaultConfig() *Config {
	return &Config{
		Confidence:      0.2,
		ObjectDetection: true,
		LaneDetection:   true,
		ShowVisuals:     true,
		RecordRaw:       false,
		RecordProcessed: false,
		Invert:          false,
		CacheSize:       5,
		Width:           640,
		Height:          360,
		ROI:             geometry.DefaultROI,
		AnchorROIEdges:  false,
		ReturnData:      false,
		Readout:         true,
		DetectAll:       false,
		Classes:         slices.Clone(DefaultClasses),
		ErrorPolicy:     ErrorPolicyContinue,
	}
}

// Size returns the working resolution
func (c *Config) Size() image.Point {
	return image.Pt(c.Width, c.Height)
}

// AllowsClass reports whether detections of class survive filtering
func (c *Config) AllowsClass(class string) bool {
	return c.DetectAll || slices.Contains(c.Classes, class)
}

// Validate checks settings that do not depend on collaborators
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("working resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache size must be at least 1, got %d", c.CacheSize)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %.3f", c.Confidence)
	}
	switch c.ErrorPolicy {
	case ErrorPolicyContinue, ErrorPolicyPassthrough, ErrorPolicyHalt:
	default:
		return fmt.Errorf("unknown error policy: %q", c.ErrorPolicy)
	}
	return nil
}

// ConfigOverrides contains partial settings from a file, the environment or flags
// Nil/zero values mean "inherit"
type ConfigOverrides struct {
	Confidence      *float32     `json:"confidence,omitempty"`
	ObjectDetection *bool        `json:"object_detection,omitempty"`
	LaneDetection   *bool        `json:"lane_detection,omitempty"`
	ShowVisuals     *bool        `json:"show_visuals,omitempty"`
	RecordRaw       *bool        `json:"record_raw,omitempty"`
	RecordProcessed *bool        `json:"record_processed,omitempty"`
	Invert          *bool        `json:"invert,omitempty"`
	CacheSize       *int         `json:"cache_size,omitempty"`
	Width           *int         `json:"width,omitempty"`
	Height          *int         `json:"height,omitempty"`
	ROI             [][2]float64 `json:"roi,omitempty"`
	AnchorROIEdges  *bool        `json:"anchor_roi_edges,omitempty"`
	ReturnData      *bool        `json:"return_data,omitempty"`
	Readout         *bool        `json:"readout,omitempty"`
	DetectAll       *bool        `json:"detect_all,omitempty"`
	Classes         []string     `json:"classes,omitempty"`
	ErrorPolicy     *ErrorPolicy `json:"error_policy,omitempty"`
}

// MergeWith applies the overrides on top of base and returns a new Config
func (o *ConfigOverrides) MergeWith(base *Config) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	effective := *base
	effective.Classes = slices.Clone(base.Classes)

	if o == nil {
		return &effective, nil
	}

	if o.Confidence != nil {
		effective.Confidence = *o.Confidence
	}
	if o.ObjectDetection != nil {
		effective.ObjectDetection = *o.ObjectDetection
	}
	if o.LaneDetection != nil {
		effective.LaneDetection = *o.LaneDetection
	}
	if o.ShowVisuals != nil {
		effective.ShowVisuals = *o.ShowVisuals
	}
	if o.RecordRaw != nil {
		effective.RecordRaw = *o.RecordRaw
	}
	if o.RecordProcessed != nil {
		effective.RecordProcessed = *o.RecordProcessed
	}
	if o.Invert != nil {
		effective.Invert = *o.Invert
	}
	if o.CacheSize != nil {
		effective.CacheSize = *o.CacheSize
	}
	if o.Width != nil {
		effective.Width = *o.Width
	}
	if o.Height != nil {
		effective.Height = *o.Height
	}
	if len(o.ROI) > 0 {
		roi, err := geometry.PolygonFromPairs(o.ROI)
		if err != nil {
			return nil, fmt.Errorf("invalid roi override: %w", err)
		}
		effective.ROI = roi
	}
	if o.AnchorROIEdges != nil {
		effective.AnchorROIEdges = *o.AnchorROIEdges
	}
	if o.ReturnData != nil {
		effective.ReturnData = *o.ReturnData
	}
	if o.Readout != nil {
		effective.Readout = *o.Readout
	}
	if o.DetectAll != nil {
		effective.DetectAll = *o.DetectAll
	}
	if len(o.Classes) > 0 {
		effective.Classes = slices.Clone(o.Classes)
	}
	if o.ErrorPolicy != nil {
		effective.ErrorPolicy = *o.ErrorPolicy
	}

	return &effective, nil
}
