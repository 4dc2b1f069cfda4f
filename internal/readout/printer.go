// Package readout prints a single-line live readout of lane measurements.
package readout

import (
	"fmt"
	"io"
	"sync"

	"roadvision/internal/pipeline"
)

const placeholder = "--"

// Printer rewrites one terminal line per frame
type Printer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewPrinter creates a printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Format renders the readout line. Missing measurements print placeholders.
func Format(m *pipeline.Measurements) string {
	if m == nil {
		return fmt.Sprintf("\rLeft Curve: %6s\tRight Curve: %6s\tCenter Curve: %6s\tVehicle Offset: %s\t\tTurn: %s",
			placeholder, placeholder, placeholder, placeholder, placeholder)
	}
	turn := m.Turn
	if turn == "" {
		turn = placeholder
	}
	return fmt.Sprintf("\rLeft Curve: %6.0f\tRight Curve: %6.0f\tCenter Curve: %6.0f\tVehicle Offset: %.4f\t\tTurn: %s",
		m.LeftCurve, m.RightCurve, m.LaneCurve, m.VehicleOffset, turn)
}

// OnFrameResult implements pipeline.ResultHandler. Write errors are ignored.
func (p *Printer) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, Format(result.Measurements))
}

var _ pipeline.ResultHandler = (*Printer)(nil)
