package pipeline

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"roadvision/internal/lanes"
)

// Overlay colors
var (
	EgoColor   = color.RGBA{0, 0, 255, 255}
	OtherColor = color.RGBA{0, 255, 0, 255}
	ROIColor   = color.RGBA{0, 0, 255, 255}
	LabelColor = color.RGBA{255, 255, 255, 255}
)

// fillFactor darkens a box color for its filled interior
const fillFactor = 0.4

// dim scales the color channels of c by f, keeping it opaque
func dim(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{uint8(float64(c.R) * f), uint8(float64(c.G) * f), uint8(float64(c.B) * f), 255}
}

// toRGBA copies img into a new RGBA image anchored at the origin
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// fillRect fills r (clipped to the image) with c
func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Canon().Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawBox draws the outline of r with the given thickness
func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	r = r.Canon()
	x, y, w, h := r.Min.X, r.Min.Y, r.Dx(), r.Dy()

	for t := 0; t < thickness; t++ {
		// Top and bottom edges
		for i := x; i <= x+w; i++ {
			setIn(img, bounds, i, y+t, c)
			setIn(img, bounds, i, y+h-t, c)
		}
		// Left and right edges
		for j := y; j <= y+h; j++ {
			setIn(img, bounds, x+t, j, c)
			setIn(img, bounds, x+w-t, j, c)
		}
	}
}

func setIn(img *image.RGBA, bounds image.Rectangle, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(bounds) {
		img.SetRGBA(x, y, c)
	}
}

// drawLine draws a one-pixel line from p0 to p1 (Bresenham)
func drawLine(img *image.RGBA, p0, p1 image.Point, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(p1.X - p0.X)
	dy := -abs(p1.Y - p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	e := dx + dy
	x, y := p0.X, p0.Y
	for {
		setIn(img, bounds, x, y, c)
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawPolygon draws a closed polyline through pts
func drawPolygon(img *image.RGBA, pts []image.Point, c color.RGBA) {
	for i := range pts {
		drawLine(img, pts[i], pts[(i+1)%len(pts)], c)
	}
}

// drawLabel draws text with its baseline at y
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if x < 0 {
		x = 0
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

// drawDetection draws a filled box, its outline, the class label and the lane label
func drawDetection(img *image.RGBA, d Detection) {
	c := OtherColor
	if d.Lane == lanes.Ego {
		c = EgoColor
	}
	box := d.Box.Canon()

	fillRect(img, box, dim(c, fillFactor))
	drawBox(img, box, c, 2)

	y := box.Min.Y - 5
	if y <= 5 {
		y = box.Max.Y + 5
	}
	drawLabel(img, box.Min.X, y, d.Class, LabelColor)
	drawLabel(img, box.Min.X, y+box.Dy()+15, "lane: "+string(d.Lane), LabelColor)
}

// composite lays overlay on base; any non-zero overlay pixel wins
func composite(base image.Image, overlay *image.RGBA) *image.RGBA {
	out := toRGBA(base)
	ob := overlay.Bounds().Intersect(out.Bounds())
	for y := ob.Min.Y; y < ob.Max.Y; y++ {
		for x := ob.Min.X; x < ob.Max.X; x++ {
			i := overlay.PixOffset(x, y)
			p := overlay.Pix[i : i+4 : i+4]
			if p[0]|p[1]|p[2]|p[3] == 0 {
				continue
			}
			j := out.PixOffset(x, y)
			copy(out.Pix[j:j+4], p)
		}
	}
	return out
}

// concat places left beside right, scaling left to right's height
func concat(left, right image.Image) *image.NRGBA {
	h := right.Bounds().Dy()
	if left.Bounds().Dy() != h {
		left = imaging.Resize(left, 0, h, imaging.Box)
	}
	lw := left.Bounds().Dx()
	out := imaging.New(lw+right.Bounds().Dx(), h, color.Black)
	out = imaging.Paste(out, left, image.Pt(0, 0))
	return imaging.Paste(out, right, image.Pt(lw, 0))
}
