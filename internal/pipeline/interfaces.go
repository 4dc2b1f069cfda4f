package pipeline

import (
	"context"
	"image"

	"roadvision/internal/geometry"
	"roadvision/internal/smoothing"
)

// Detector is the object detection capability.
// Implementations wrap a concrete backend (remote service, local model, fake).
type Detector interface {
	// Name returns the detector identifier (e.g., "mobilenet-ssd")
	Name() string

	// Detect runs detection on an image and returns boxes in the image's pixel coordinates
	Detect(ctx context.Context, img image.Image) ([]RawDetection, error)
}

// HealthChecker is implemented by collaborators that can report availability
type HealthChecker interface {
	IsHealthy() bool
}

// LanePipeline is the lane curve fitting capability.
// It may read and push samples on the cache it is handed.
type LanePipeline interface {
	Fit(ctx context.Context, frame image.Image, cache *smoothing.Cache, roi geometry.FrameROI, visualize bool) (*LaneFit, error)
}

// Recorder persists frames from a running session
type Recorder interface {
	// RecordRaw stores an ingested frame before it is resized
	RecordRaw(frame image.Image) error

	// RecordProcessed stores the composited output frame
	RecordProcessed(frame image.Image) error

	// Close flushes and releases recorder resources
	Close() error
}

// FrameSource yields frames on demand. Next returns io.EOF when the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (*FrameData, error)
	Close() error
}

// ResultHandler receives per-frame results
type ResultHandler interface {
	// OnFrameResult is called once per processed frame, in frame order
	OnFrameResult(result *FrameResult)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *FrameResult)

func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) { f(result) }
