package database

import (
	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// MeasurementLog stores every published frame result
type MeasurementLog struct {
	db *Database
}

// NewMeasurementLog creates a handler that writes frame results to db
func NewMeasurementLog(db *Database) *MeasurementLog {
	return &MeasurementLog{db: db}
}

// OnFrameResult implements pipeline.ResultHandler
func (m *MeasurementLog) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil {
		return
	}
	if err := m.db.SaveFrame(FrameFromResult(result)); err != nil {
		log.Warnf("[Database] Failed to log frame %d: %v", result.Seq, err)
	}
}

// FrameFromResult converts a published result into a FrameRecord
func FrameFromResult(result *pipeline.FrameResult) *FrameRecord {
	f := &FrameRecord{
		SessionID:   result.SessionID,
		Seq:         result.Seq,
		Timestamp:   result.Timestamp,
		NearEdge:    result.NearEdge,
		Passthrough: result.Passthrough,
		LatencyMs:   float64(result.LatencyMs),
		Detections:  make([]DetectionRecord, 0, len(result.Detections)),
	}

	if m := result.Measurements; m != nil {
		f.Fitted = true
		f.LeftCurve = m.LeftCurve
		f.RightCurve = m.RightCurve
		f.LaneCurve = m.LaneCurve
		f.VehicleOffset = m.VehicleOffset
		f.Turn = m.Turn
	}
	if s := result.Smoothed; s != nil {
		left, right := s.Left, s.Right
		f.SmoothedLeft = &left
		f.SmoothedRight = &right
	}

	for _, d := range result.Detections {
		f.Detections = append(f.Detections, DetectionRecord{
			Class:      d.Class,
			Confidence: d.Confidence,
			X:          d.Box.Min.X,
			Y:          d.Box.Min.Y,
			Width:      d.Box.Dx(),
			Height:     d.Box.Dy(),
			Lane:       string(d.Lane),
		})
	}
	return f
}

var _ pipeline.ResultHandler = (*MeasurementLog)(nil)
