// Package geometry converts region-of-interest polygons between normalized and
// pixel space and adapts the ego-lane ROI to detected obstructions.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Point is a 2D coordinate, normalized ([0,1]) or in pixels depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a quadrilateral in canonical order:
// top-left, top-right, bottom-right, bottom-left.
type Polygon [4]Point

// Vertex indices of a Polygon.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// DefaultROI is the ego-lane trapezoid for a centred forward camera.
var DefaultROI = Polygon{
	{X: 0.43, Y: 0.63},
	{X: 0.57, Y: 0.63},
	{X: 0.95, Y: 0.95},
	{X: 0.05, Y: 0.95},
}

// PolygonFromPairs builds a Polygon from [x, y] pairs as found in config files.
func PolygonFromPairs(pairs [][2]float64) (Polygon, error) {
	var p Polygon
	if len(pairs) != 4 {
		return p, fmt.Errorf("polygon needs 4 points, got %d", len(pairs))
	}
	for i, xy := range pairs {
		p[i] = Point{X: xy[0], Y: xy[1]}
	}
	return p, nil
}

// Pairs returns the polygon as [x, y] pairs.
func (p Polygon) Pairs() [][2]float64 {
	out := make([][2]float64, len(p))
	for i, pt := range p {
		out[i] = [2]float64{pt.X, pt.Y}
	}
	return out
}

// ToPixel scales a normalized polygon to a frame of the given size.
func ToPixel(p Polygon, size image.Point) Polygon {
	w, h := float64(size.X), float64(size.Y)
	var out Polygon
	for i, pt := range p {
		out[i] = Point{X: pt.X * w, Y: pt.Y * h}
	}
	return out
}

// ImagePoints rounds the polygon to integer pixel positions for drawing.
func (p Polygon) ImagePoints() []image.Point {
	out := make([]image.Point, len(p))
	for i, pt := range p {
		out[i] = image.Pt(int(math.Round(pt.X)), int(math.Round(pt.Y)))
	}
	return out
}

// Validate checks that every vertex is finite and within [0,1] and that the
// quadrilateral does not intersect itself.
func (p Polygon) Validate() error {
	for i, pt := range p {
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
			return fmt.Errorf("roi vertex %d is not finite: (%v, %v)", i, pt.X, pt.Y)
		}
		if pt.X < 0 || pt.X > 1 || pt.Y < 0 || pt.Y > 1 {
			return fmt.Errorf("roi vertex %d outside [0,1]: (%.3f, %.3f)", i, pt.X, pt.Y)
		}
	}

	// Opposite edges of a simple quadrilateral never meet.
	if segmentsIntersect(p[TopLeft], p[TopRight], p[BottomRight], p[BottomLeft]) {
		return fmt.Errorf("roi top and bottom edges intersect")
	}
	if segmentsIntersect(p[TopRight], p[BottomRight], p[BottomLeft], p[TopLeft]) {
		return fmt.Errorf("roi left and right edges intersect")
	}
	return nil
}

// PipelineOrder re-orders the polygon for the lane pipeline:
// top-left, top-right, bottom-left, bottom-right.
func (p Polygon) PipelineOrder() PipelineROI {
	return PipelineROI{p[TopLeft], p[TopRight], p[BottomLeft], p[BottomRight]}
}

// PipelineROI is a quadrilateral in lane pipeline order:
// top-left, top-right, bottom-left, bottom-right.
type PipelineROI [4]Point

// Polygon returns the canonical ordering.
func (r PipelineROI) Polygon() Polygon {
	return Polygon{r[0], r[1], r[3], r[2]}
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(a, b, p Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

// segmentsIntersect reports whether segments ab and cd share any point.
func segmentsIntersect(a, b, c, d Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(c, d, a):
		return true
	case d2 == 0 && onSegment(c, d, b):
		return true
	case d3 == 0 && onSegment(a, b, c):
		return true
	case d4 == 0 && onSegment(a, b, d):
		return true
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
