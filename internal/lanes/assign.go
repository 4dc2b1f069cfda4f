// Package lanes decides which traffic lane a detected object occupies.
package lanes

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"roadvision/internal/geometry"
)

// Lane is the lane a detection was assigned to.
type Lane string

const (
	Ego   Lane = "mine"
	Left  Lane = "left"
	Right Lane = "right"
)

// Ring converts a pixel-space polygon into a closed orb ring.
func Ring(p geometry.Polygon) orb.Ring {
	ring := make(orb.Ring, 0, len(p)+1)
	for _, pt := range p {
		ring = append(ring, orb.Point{pt.X, pt.Y})
	}
	return append(ring, ring[0])
}

// Classify assigns a midpoint to a lane. The midpoint is ego-lane when it lies
// inside roi (boundary included) or within the horizontal band [band[0], band[1]];
// otherwise the frame half it falls in decides.
func Classify(mid geometry.Point, roi orb.Ring, band [2]float64, frameWidth int) Lane {
	if planar.RingContains(roi, orb.Point{mid.X, mid.Y}) {
		return Ego
	}
	if mid.X >= band[0] && mid.X <= band[1] {
		return Ego
	}
	if mid.X > float64(frameWidth)/2 {
		return Right
	}
	return Left
}

// Classifier binds Classify to one static ROI and frame width.
// It holds no per-frame state, so results do not depend on detection order.
type Classifier struct {
	ring       orb.Ring
	band       [2]float64
	frameWidth int
}

// NewClassifier builds a classifier from the unshrunk ROI in pixel space.
func NewClassifier(roiPixels geometry.Polygon, frameWidth int) *Classifier {
	return &Classifier{
		ring:       Ring(roiPixels),
		band:       [2]float64{roiPixels[geometry.TopLeft].X, roiPixels[geometry.TopRight].X},
		frameWidth: frameWidth,
	}
}

// Classify assigns a midpoint (full-frame pixels) to a lane.
func (c *Classifier) Classify(mid geometry.Point) Lane {
	return Classify(mid, c.ring, c.band, c.frameWidth)
}

// Band returns the ego-lane x band taken from the ROI's top edge.
func (c *Classifier) Band() [2]float64 {
	return c.band
}
