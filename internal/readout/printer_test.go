package readout

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"roadvision/internal/pipeline"
)

func TestFormat(t *testing.T) {
	got := Format(&pipeline.Measurements{
		LeftCurve:     1234.4,
		RightCurve:    987.6,
		LaneCurve:     1111,
		VehicleOffset: -0.12347,
		Turn:          "Left Curve",
	})
	assert.Equal(t, "\rLeft Curve:   1234\tRight Curve:    988\tCenter Curve:   1111\tVehicle Offset: -0.1235\t\tTurn: Left Curve", got)
}

func TestFormat_Placeholders(t *testing.T) {
	assert.Equal(t, "\rLeft Curve:     --\tRight Curve:     --\tCenter Curve:     --\tVehicle Offset: --\t\tTurn: --", Format(nil))

	got := Format(&pipeline.Measurements{})
	assert.Contains(t, got, "Turn: --")
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OnFrameResult(&pipeline.FrameResult{Seq: 1})
	p.OnFrameResult(&pipeline.FrameResult{Seq: 2, Measurements: &pipeline.Measurements{Turn: "Straight"}})
	p.OnFrameResult(nil)

	out := buf.String()
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\r")))
	assert.Contains(t, out, "Turn: Straight")
}
