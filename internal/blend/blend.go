// Package blend composites a warped photograph with its reference on a shared
// canvas, softening the seam with a two-level image pyramid.
package blend

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

var (
	// ErrNilImage is returned when either input is missing.
	ErrNilImage = errors.New("nil image")
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("invalid blend parameters")
)

// Params tunes the overlap blend. Weights are fractions in [0,1].
type Params struct {
	// ReferenceWeight is the share of the reference in the sharp overlap colour.
	ReferenceWeight float64 `json:"reference_weight" yaml:"reference_weight"`
	// CoarsestWeight is the share of the coarsest level in the blurred colour.
	CoarsestWeight float64 `json:"coarsest_weight" yaml:"coarsest_weight"`
	// MaxBlurOpacity is the blurred layer's opacity at FalloffRadius and beyond.
	MaxBlurOpacity float64 `json:"max_blur_opacity" yaml:"max_blur_opacity"`
	// FalloffRadius is the distance from the anchor at which the blur reaches
	// full opacity. Zero means the canvas diagonal.
	FalloffRadius float64 `json:"falloff_radius" yaml:"falloff_radius"`

	Coarse   Pyramid `json:"coarse" yaml:"coarse"`
	Coarsest Pyramid `json:"coarsest" yaml:"coarsest"`

	// Workers splits output rows; values below one use GOMAXPROCS.
	Workers int `json:"-" yaml:"-"`
}

// DefaultParams returns the weights used when nothing is configured.
func DefaultParams() Params {
	return Params{
		ReferenceWeight: 150.0 / 255,
		CoarsestWeight:  125.0 / 255,
		MaxBlurOpacity:  185.0 / 255,
		Coarse:          Pyramid{Factor: 8, Sigma: 2},
		Coarsest:        Pyramid{Factor: 64, Sigma: 2},
	}
}

// Validate reports the first out-of-range field.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"reference_weight": p.ReferenceWeight,
		"coarsest_weight":  p.CoarsestWeight,
		"max_blur_opacity": p.MaxBlurOpacity,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%g not in [0,1]", ErrInvalidParams, name, v)
		}
	}
	if p.FalloffRadius < 0 || math.IsNaN(p.FalloffRadius) {
		return fmt.Errorf("%w: falloff_radius=%g", ErrInvalidParams, p.FalloffRadius)
	}
	for _, level := range []Pyramid{p.Coarse, p.Coarsest} {
		if level.Factor < 1 || level.Sigma < 0 {
			return fmt.Errorf("%w: pyramid level %+v", ErrInvalidParams, level)
		}
	}
	return nil
}

// Blend writes a fresh composite of warped and reference. Both images share
// canvas coordinates; the output covers the union of their bounds.
//
// Where only one input has alpha the output is that input's colour, opaque.
// Where both do, a sharp mix of the two is faded toward the pyramid-smoothed
// overlay with distance from anchor. Pixels neither input covers stay transparent.
func Blend(warped, reference *image.NRGBA, anchor geometry.Point2D, p Params) (*image.NRGBA, error) {
	if warped == nil || reference == nil {
		return nil, ErrNilImage
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	bounds := warped.Bounds().Union(reference.Bounds())

	overlay := overlayPass(warped, reference, bounds)

	var coarse, coarsest *image.NRGBA
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); coarse = p.Coarse.Smooth(overlay) }()
	go func() { defer wg.Done(); coarsest = p.Coarsest.Smooth(overlay) }()
	wg.Wait()

	radius := p.FalloffRadius
	if radius == 0 {
		radius = math.Hypot(float64(bounds.Dx()), float64(bounds.Dy()))
	}

	out := image.NewNRGBA(bounds)
	workers := p.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, max(bounds.Dy(), 1))

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(first int) {
			defer wg.Done()
			for y := bounds.Min.Y + first; y < bounds.Max.Y; y += workers {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					out.SetNRGBA(x, y, blendPixel(warped, reference, overlay, coarse, coarsest, x, y, anchor, radius, p))
				}
			}
		}(w)
	}
	wg.Wait()
	return out, nil
}

// overlayPass takes whichever input has alpha, averaging where both do.
func overlayPass(warped, reference *image.NRGBA, bounds image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := warped.NRGBAAt(x, y)
			b := reference.NRGBAAt(x, y)
			switch {
			case a.A == 0:
				out.SetNRGBA(x, y, b)
			case b.A == 0:
				out.SetNRGBA(x, y, a)
			default:
				out.SetNRGBA(x, y, color.NRGBA{
					R: uint8((uint16(a.R) + uint16(b.R) + 1) / 2),
					G: uint8((uint16(a.G) + uint16(b.G) + 1) / 2),
					B: uint8((uint16(a.B) + uint16(b.B) + 1) / 2),
					A: max(a.A, b.A),
				})
			}
		}
	}
	return out
}

func blendPixel(warped, reference, overlay, coarse, coarsest *image.NRGBA, x, y int, anchor geometry.Point2D, radius float64, p Params) color.NRGBA {
	a := warped.NRGBAAt(x, y)
	b := reference.NRGBAAt(x, y)
	switch {
	case a.A == 0 && b.A == 0:
		return color.NRGBA{}
	case a.A == 0:
		b.A = 255
		return b
	case b.A == 0:
		a.A = 255
		return a
	}

	sharp := lerp(rgb(a), rgb(b), p.ReferenceWeight)

	// The blurred layers may have no coverage at the canvas fringe.
	blurred := rgb(overlay.NRGBAAt(x, y))
	c1, c2 := coarse.NRGBAAt(x, y), coarsest.NRGBAAt(x, y)
	switch {
	case c1.A > 0 && c2.A > 0:
		blurred = lerp(rgb(c1), rgb(c2), p.CoarsestWeight)
	case c1.A > 0:
		blurred = rgb(c1)
	case c2.A > 0:
		blurred = rgb(c2)
	}

	dist := math.Hypot(float64(x)+0.5-anchor.X, float64(y)+0.5-anchor.Y)
	weight := p.MaxBlurOpacity * math.Min(dist/radius, 1)
	mixed := lerp(sharp, blurred, weight)

	return color.NRGBA{R: clampByte(mixed[0]), G: clampByte(mixed[1]), B: clampByte(mixed[2]), A: 255}
}

func rgb(c color.NRGBA) [3]float64 {
	return [3]float64{float64(c.R), float64(c.G), float64(c.B)}
}

func lerp(a, b [3]float64, t float64) [3]float64 {
	return [3]float64{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
		a[2] + (b[2]-a[2])*t,
	}
}
