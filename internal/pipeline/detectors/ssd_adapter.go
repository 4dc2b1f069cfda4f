package detectors

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"roadvision/internal/detection"
	"roadvision/internal/pipeline"
)

// SSDAdapter wraps ServiceDetector to implement pipeline.Detector
type SSDAdapter struct {
	detector      *detection.ServiceDetector
	confThreshold float32
	jpegQuality   int
}

// NewSSDAdapter creates a new detector adapter
func NewSSDAdapter(detector *detection.ServiceDetector, confThreshold float32) *SSDAdapter {
	if confThreshold < 0 {
		confThreshold = 0
	}
	return &SSDAdapter{
		detector:      detector,
		confThreshold: confThreshold,
		jpegQuality:   90,
	}
}

func (a *SSDAdapter) Name() string {
	return "mobilenet-ssd"
}

func (a *SSDAdapter) IsHealthy() bool {
	if a.detector == nil {
		return false
	}
	return a.detector.IsHealthy()
}

func (a *SSDAdapter) Detect(ctx context.Context, img image.Image) ([]pipeline.RawDetection, error) {
	if a.detector == nil {
		return nil, fmt.Errorf("detector not configured")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(a.jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	result, err := a.detector.DetectObjects(ctx, buf.Bytes(), a.confThreshold)
	if err != nil {
		return nil, fmt.Errorf("SSD detection failed: %w", err)
	}

	return a.convertResult(img.Bounds().Min, result), nil
}

// convertResult converts service detections to boxes relative to the image origin
func (a *SSDAdapter) convertResult(origin image.Point, result *detection.DetectionResult) []pipeline.RawDetection {
	detections := make([]pipeline.RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.BBox) < 4 {
			continue
		}
		class := d.Class
		if class == "" {
			class = pipeline.ClassName(d.ClassID)
		}
		box := image.Rect(
			int(math.Round(float64(d.BBox[0]))),
			int(math.Round(float64(d.BBox[1]))),
			int(math.Round(float64(d.BBox[2]))),
			int(math.Round(float64(d.BBox[3]))),
		)
		detections = append(detections, pipeline.RawDetection{
			Class:      class,
			Confidence: d.Confidence,
			Box:        box.Add(origin),
		})
	}
	return detections
}

// Ensure SSDAdapter implements Detector
var _ pipeline.Detector = (*SSDAdapter)(nil)
var _ pipeline.HealthChecker = (*SSDAdapter)(nil)
