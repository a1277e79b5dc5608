// Package overlay draws picked landmarks and the warped outline over a
// photograph for visual checking of a merge.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

const markerRadius = 6

// Layer is what gets drawn over a base image.
type Layer struct {
	// Points are numbered markers; index i uses Palette colour i so matching
	// landmarks on the two photographs share a colour.
	Points []geometry.Point2D
	// Outline is a closed polygon, typically the moving photo's warped border.
	Outline []geometry.Point2D
	// Anchor, when set, is drawn as a cross.
	Anchor *geometry.Point2D
	Title  string
}

// Palette returns n evenly spaced, saturated hues.
func Palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		out[i] = colorful.Hsv(360*float64(i)/float64(max(n, 1)), 0.85, 1).Clamped()
	}
	return out
}

// Render returns a copy of base with l drawn on top.
func Render(base image.Image, l Layer) image.Image {
	dc := gg.NewContextForImage(base)

	if len(l.Outline) > 1 {
		dc.SetRGBA(1, 1, 1, 0.9)
		dc.SetLineWidth(2)
		dc.MoveTo(l.Outline[0].X, l.Outline[0].Y)
		for _, p := range l.Outline[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.Stroke()
	}

	palette := Palette(len(l.Points))
	for i, p := range l.Points {
		dc.SetColor(palette[i])
		dc.DrawCircle(p.X, p.Y, markerRadius)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(fmt.Sprint(i+1), p.X, p.Y, 0.5, 0.35)
	}

	if l.Anchor != nil {
		a := *l.Anchor
		dc.SetRGB(1, 0, 1)
		dc.SetLineWidth(2)
		dc.DrawLine(a.X-markerRadius, a.Y, a.X+markerRadius, a.Y)
		dc.DrawLine(a.X, a.Y-markerRadius, a.X, a.Y+markerRadius)
		dc.Stroke()
	}

	if l.Title != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawString(l.Title, 10, 20)
	}
	return dc.Image()
}

// Outline maps the corners of a size-sized image through h. Corners that map
// to infinity are dropped.
func Outline(h geometry.Homography, size image.Point) []geometry.Point2D {
	w, ht := float64(size.X), float64(size.Y)
	var out []geometry.Point2D
	for _, c := range []geometry.Point2D{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: ht}, {X: 0, Y: ht}} {
		if p, ok := h.Apply(c); ok {
			out = append(out, p)
		}
	}
	return out
}
