package geometry

import (
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(DefaultROI)
	require.NoError(t, err)
	return a
}

// box returns a rectangle whose bottom edge maps to the given normalized y in a
// 100-row frame with no slice offset.
func box(bottom int) image.Rectangle {
	return image.Rect(40, bottom-10, 60, bottom)
}

func TestToPixel(t *testing.T) {
	got := ToPixel(DefaultROI, image.Pt(640, 360))
	want := Polygon{
		{X: 275.2, Y: 226.8},
		{X: 364.8, Y: 226.8},
		{X: 608, Y: 342},
		{X: 32, Y: 342},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("ToPixel mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineOrderRoundTrip(t *testing.T) {
	pipe := DefaultROI.PipelineOrder()
	assert.Equal(t, DefaultROI[BottomLeft], pipe[2])
	assert.Equal(t, DefaultROI[BottomRight], pipe[3])
	assert.Equal(t, DefaultROI, pipe.Polygon())
}

func TestNewAdapter_Slopes(t *testing.T) {
	a := newDefaultAdapter(t)
	slopes := a.Slopes()
	assert.InDelta(t, 0.32/0.38, slopes.Left, 1e-9)
	assert.InDelta(t, 0.32/0.38, slopes.Right, 1e-9)
	assert.Equal(t, 0.63, a.NearEdge())
}

func TestNewAdapter_DegenerateROI(t *testing.T) {
	tests := []struct {
		name string
		roi  Polygon
		edge string
	}{
		{
			name: "vertical left edge",
			roi:  Polygon{{0.3, 0.6}, {0.6, 0.6}, {0.9, 0.9}, {0.3, 0.9}},
			edge: "left",
		},
		{
			name: "vertical right edge",
			roi:  Polygon{{0.3, 0.6}, {0.7, 0.6}, {0.7, 0.9}, {0.1, 0.9}},
			edge: "right",
		},
		{
			name: "zero height",
			roi:  Polygon{{0.3, 0.9}, {0.6, 0.9}, {0.9, 0.9}, {0.1, 0.9}},
			edge: "left",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.roi)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerateROI))

			var degenerate *DegenerateROIError
			require.ErrorAs(t, err, &degenerate)
			assert.Equal(t, tt.edge, degenerate.Edge)
		})
	}
}

func TestNewAdapter_InvalidPolygon(t *testing.T) {
	t.Run("out of range", func(t *testing.T) {
		_, err := NewAdapter(Polygon{{0.4, 0.6}, {0.6, 0.6}, {1.2, 0.9}, {0.1, 0.9}})
		assert.Error(t, err)
	})
	t.Run("self intersecting", func(t *testing.T) {
		// Bottom vertices swapped: the side edges cross.
		_, err := NewAdapter(Polygon{{0.4, 0.6}, {0.6, 0.6}, {0.05, 0.95}, {0.95, 0.95}})
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrDegenerateROI))
	})
}

func TestBackProject_CornerFormula(t *testing.T) {
	a := newDefaultAdapter(t)

	left, right := a.BackProject(0.70)
	assert.Equal(t, 0.36, left)
	assert.Equal(t, 0.64, right)

	// Reaching the frame corners reproduces the template.
	a, err := NewAdapter(Polygon{{0.40, 0.55}, {0.62, 0.55}, {1, 1}, {0, 1}})
	require.NoError(t, err)
	left, right = a.BackProject(0.55)
	assert.InDelta(t, 0.40, left, 1e-9)
	assert.InDelta(t, 0.62, right, 1e-9)

	left, right = a.BackProject(0.8)
	assert.InDelta(t, round2(0.2/a.Slopes().Left), left, 1e-9)
	assert.InDelta(t, round2(1-0.2/a.Slopes().Right), right, 1e-9)
}

func TestBackProject_AnchoredEdgesReproduceTemplate(t *testing.T) {
	rois := []Polygon{
		DefaultROI,
		{{0.40, 0.55}, {0.62, 0.55}, {1, 1}, {0, 1}},
		{{0.45, 0.60}, {0.52, 0.60}, {0.90, 0.92}, {0.10, 0.92}},
	}
	for _, roi := range rois {
		a, err := NewAdapter(roi, WithAnchoredEdges())
		require.NoError(t, err)

		left, right := a.BackProject(roi[TopLeft].Y)
		assert.InDelta(t, roi[TopLeft].X, left, 1e-9)
		assert.InDelta(t, roi[TopRight].X, right, 1e-9)
	}

	a, err := NewAdapter(DefaultROI, WithAnchoredEdges())
	require.NoError(t, err)
	left, right := a.BackProject(0.70)
	assert.Equal(t, 0.35, left)
	assert.Equal(t, 0.65, right)
}

func TestAdapt_RunningMax(t *testing.T) {
	a := newDefaultAdapter(t)

	for _, boxes := range [][]image.Rectangle{
		{box(70), box(55)},
		{box(55), box(70)},
	} {
		roi := a.Adapt(boxes, 100, 0)
		assert.Equal(t, 0.70, roi.NearY)
		assert.Equal(t, 0.70, roi.Points[0].Y)
		assert.Equal(t, 0.70, roi.Points[1].Y)

		left, right := a.BackProject(0.70)
		assert.Equal(t, left, roi.Points[0].X)
		assert.Equal(t, right, roi.Points[1].X)
		assert.Equal(t, 0.36, left)
		assert.Equal(t, 0.64, right)

		// Far edge stays put.
		assert.Equal(t, DefaultROI[BottomLeft], roi.Points[2])
		assert.Equal(t, DefaultROI[BottomRight], roi.Points[3])
	}
}

func TestAdapt_NeverRegressesBelowTemplate(t *testing.T) {
	a := newDefaultAdapter(t)

	roi := a.Adapt([]image.Rectangle{box(50)}, 100, 0)
	assert.Equal(t, 0.63, roi.NearY)
	assert.Equal(t, a.Template(), roi.Points)
}

func TestAdapt_SliceOffset(t *testing.T) {
	a := newDefaultAdapter(t)

	// A 200-row frame sliced at row 80: bottom 60 in the slice is row 140 = 0.70.
	roi := a.Adapt([]image.Rectangle{image.Rect(10, 20, 50, 60)}, 200, 80)
	assert.Equal(t, 0.70, roi.NearY)
}

func TestAdapt_ClampsToFarEdge(t *testing.T) {
	a := newDefaultAdapter(t)

	roi := a.Adapt([]image.Rectangle{box(100)}, 100, 0)
	assert.Equal(t, 0.95, roi.NearY)
	assert.Equal(t, 0.06, roi.Points[0].X)
	assert.Equal(t, 0.94, roi.Points[1].X)

	anchored, err := NewAdapter(DefaultROI, WithAnchoredEdges())
	require.NoError(t, err)
	roi = anchored.Adapt([]image.Rectangle{box(100)}, 100, 0)
	assert.InDelta(t, DefaultROI[BottomLeft].X, roi.Points[0].X, 1e-9)
	assert.InDelta(t, DefaultROI[BottomRight].X, roi.Points[1].X, 1e-9)
}

func TestAdvance_TiesIgnored(t *testing.T) {
	a := newDefaultAdapter(t)
	roi := a.NewFrameROI()

	assert.True(t, a.Advance(&roi, 70, 100, 0))
	assert.False(t, a.Advance(&roi, 70, 100, 0))
	assert.False(t, a.Advance(&roi, 63, 100, 0))
	assert.False(t, a.Advance(&roi, 70, 0, 0))
}

func TestNewFrameROI_StartsFromTemplateEachFrame(t *testing.T) {
	a := newDefaultAdapter(t)

	first := a.Adapt([]image.Rectangle{box(80)}, 100, 0)
	assert.Equal(t, 0.80, first.NearY)

	second := a.Adapt(nil, 100, 0)
	assert.Equal(t, 0.63, second.NearY)
	assert.Equal(t, a.Template(), second.Points)

	// Mutating a frame ROI leaves the template alone.
	first.Points[2] = Point{}
	assert.Equal(t, DefaultROI[BottomLeft], a.Template()[2])
}

func TestPolygonFromPairs(t *testing.T) {
	p, err := PolygonFromPairs(DefaultROI.Pairs())
	require.NoError(t, err)
	assert.Equal(t, DefaultROI, p)

	_, err = PolygonFromPairs([][2]float64{{0, 0}})
	assert.Error(t, err)
}
