package blend

import (
	"image"

	"golang.org/x/image/draw"
)

// Pyramid is one level of a downsample, blur, upsample pass.
type Pyramid struct {
	// Factor is the integer reduction applied to each axis before blurring.
	Factor int `json:"factor" yaml:"factor"`
	// Sigma is the Gaussian standard deviation in downsampled pixels.
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

// Smooth returns a low-frequency copy of img with the same bounds. Colour is
// blurred premultiplied, so transparent regions do not darken their
// neighbours; the returned alpha records how much opaque content fed each pixel.
func (p Pyramid) Smooth(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	factor := max(p.Factor, 1)
	sw := max((b.Dx()+factor-1)/factor, 1)
	sh := max((b.Dy()+factor-1)/factor, 1)

	small := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, b, draw.Src, nil)

	var channels [4]plane
	for c := range channels {
		channels[c] = newPlane(sw, sh)
	}
	for y := 0; y < sh; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < sw; x++ {
			for c := range channels {
				channels[c].set(x, y, float64(row[4*x+c]))
			}
		}
	}
	for c := range channels {
		channels[c] = channels[c].gaussianBlur(p.Sigma)
	}
	for y := 0; y < sh; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < sw; x++ {
			a := clampByte(channels[3].get(x, y))
			for c := 0; c < 3; c++ {
				// Keep the premultiplied invariant colour <= alpha.
				row[4*x+c] = min(clampByte(channels[c].get(x, y)), a)
			}
			row[4*x+3] = a
		}
	}

	large := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.ApproxBiLinear.Scale(large, large.Bounds(), small, small.Bounds(), draw.Src, nil)

	out := image.NewNRGBA(b)
	draw.Draw(out, b, large, image.Point{}, draw.Src)
	return out
}
