package geometry

import (
	"image"

	"golang.org/x/image/draw"
)

// ToNRGBA returns img as an NRGBA whose bounds start at (0,0), the raster
// frame every stage works in. img itself is returned when it already is one.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
