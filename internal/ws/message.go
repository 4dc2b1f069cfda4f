package ws

import (
	"time"

	"roadvision/internal/pipeline"
)

// ReadoutMessage represents a per-frame readout broadcast
type ReadoutMessage struct {
	Type         string                   `json:"type"` // "readout"
	SessionID    string                   `json:"session_id"`
	Seq          uint64                   `json:"seq"`
	Timestamp    time.Time                `json:"timestamp"`
	Measurements *pipeline.Measurements   `json:"measurements,omitempty"`
	Smoothed     *pipeline.SmoothedCurves `json:"smoothed,omitempty"`
	NearEdge     float64                  `json:"near_edge"`
	Passthrough  bool                     `json:"passthrough"`
	LatencyMs    float32                  `json:"latency_ms"`
	Objects      []ObjectDetection        `json:"objects"`
}

// ObjectDetection represents a single lane-assigned object
type ObjectDetection struct {
	Class      string  `json:"class"`      // "car", "bus", etc.
	Confidence float32 `json:"confidence"` // 0.0-1.0
	BBox       []int   `json:"bbox"`       // [x, y, w, h] in pixels
	Lane       string  `json:"lane"`       // "mine", "left", "right"
}

// NewReadoutMessage builds a readout message from a frame result
func NewReadoutMessage(result *pipeline.FrameResult) *ReadoutMessage {
	msg := &ReadoutMessage{
		Type:         "readout",
		SessionID:    result.SessionID,
		Seq:          result.Seq,
		Timestamp:    result.Timestamp,
		Measurements: result.Measurements,
		Smoothed:     result.Smoothed,
		NearEdge:     result.NearEdge,
		Passthrough:  result.Passthrough,
		LatencyMs:    result.LatencyMs,
		Objects:      make([]ObjectDetection, 0, len(result.Detections)),
	}
	for _, d := range result.Detections {
		msg.AddObject(d.Class, d.Confidence, []int{d.Box.Min.X, d.Box.Min.Y, d.Box.Dx(), d.Box.Dy()}, string(d.Lane))
	}
	return msg
}

// AddObject adds an object detection to the message
func (m *ReadoutMessage) AddObject(class string, confidence float32, bbox []int, lane string) {
	m.Objects = append(m.Objects, ObjectDetection{
		Class:      class,
		Confidence: confidence,
		BBox:       bbox,
		Lane:       lane,
	})
}
