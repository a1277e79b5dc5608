// Package warp resamples a photograph through a projective transform into a
// larger output canvas.
package warp

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/linalg"
)

var (
	// ErrInvalidMatrix means the transform cannot be inverted.
	ErrInvalidMatrix = errors.New("invalid matrix")
	// ErrCanvasOverflow means the requested canvas is empty or larger than allowed.
	ErrCanvasOverflow = errors.New("canvas overflow")
)

// DefaultMaxPixels bounds the canvas area, about 400MB of NRGBA.
const DefaultMaxPixels = 100_000_000

const detTolerance = 1e-12

// Sampling selects how source pixels are read.
type Sampling int

const (
	// Nearest picks the source pixel containing the inverse-mapped point.
	Nearest Sampling = iota
	// Bilinear interpolates the four source pixels around the inverse-mapped point.
	Bilinear
)

func (s Sampling) String() string {
	switch s {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return "unknown"
	}
}

// ParseSampling maps a config string onto a Sampling. Empty means Nearest.
func ParseSampling(name string) (Sampling, error) {
	switch name {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return Nearest, fmt.Errorf("unknown sampling mode %q", name)
	}
}

type options struct {
	sampling  Sampling
	workers   int
	maxPixels int
	solver    linalg.Solver
}

// Option customises Warp.
type Option func(*options)

// WithSampling selects the sampling mode.
func WithSampling(s Sampling) Option { return func(o *options) { o.sampling = s } }

// WithWorkers sets how many goroutines share the rows. Values below one use GOMAXPROCS.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithMaxPixels overrides DefaultMaxPixels.
func WithMaxPixels(n int) Option { return func(o *options) { o.maxPixels = n } }

// WithSolver swaps the matrix inversion backend.
func WithSolver(s linalg.Solver) Option { return func(o *options) { o.solver = s } }

// Warp maps src through h into a freshly allocated canvas of the given size.
//
// Each canvas pixel centre is carried back into the source by the inverse of h.
// Points that land outside the source bounds are painted with fill, so every
// canvas pixel is written exactly once.
func Warp(src image.Image, h geometry.Homography, size image.Point, fill color.NRGBA, opts ...Option) (*image.NRGBA, error) {
	o := options{sampling: Nearest, maxPixels: DefaultMaxPixels, solver: linalg.Default}
	for _, opt := range opts {
		opt(&o)
	}

	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: canvas %dx%d is empty", ErrCanvasOverflow, size.X, size.Y)
	}
	if size.X > o.maxPixels/size.Y {
		return nil, fmt.Errorf("%w: canvas %dx%d exceeds %d pixels", ErrCanvasOverflow, size.X, size.Y, o.maxPixels)
	}
	if !h.Finite() || math.Abs(h.Det()) <= detTolerance {
		return nil, fmt.Errorf("%w: determinant %g", ErrInvalidMatrix, h.Det())
	}
	inv, err := h.Inverse(o.solver)
	if err != nil || !inv.Finite() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}

	source := geometry.ToNRGBA(src)
	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))

	workers := o.workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, size.Y)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(first int) {
			defer wg.Done()
			for y := first; y < size.Y; y += workers {
				warpRow(dst, source, inv, y, fill, o.sampling)
			}
		}(w)
	}
	wg.Wait()

	return dst, nil
}

func warpRow(dst, src *image.NRGBA, inv geometry.Homography, y int, fill color.NRGBA, sampling Sampling) {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	row := dst.Pix[y*dst.Stride : y*dst.Stride+dst.Rect.Dx()*4]

	for x := 0; x < dst.Rect.Dx(); x++ {
		c := fill
		if p, ok := inv.Apply(geometry.Pt(float64(x)+0.5, float64(y)+0.5)); ok &&
			p.X >= 0 && p.X < w && p.Y >= 0 && p.Y < h {
			if sampling == Bilinear {
				c = bilinear(src, p.X-0.5, p.Y-0.5)
			} else {
				c = src.NRGBAAt(b.Min.X+int(p.X), b.Min.Y+int(p.Y))
			}
		}
		row[4*x+0] = c.R
		row[4*x+1] = c.G
		row[4*x+2] = c.B
		row[4*x+3] = c.A
	}
}

// bilinear samples src at continuous pixel-index coordinates (u,v), clamping
// neighbours at the edges. Colour is interpolated premultiplied so transparent
// neighbours do not bleed black into the result.
func bilinear(src *image.NRGBA, u, v float64) color.NRGBA {
	b := src.Bounds()
	x0 := int(math.Floor(u))
	y0 := int(math.Floor(v))
	fx := u - float64(x0)
	fy := v - float64(y0)

	var acc [4]float64
	for _, s := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	} {
		px := clamp(x0+s.dx, 0, b.Dx()-1) + b.Min.X
		py := clamp(y0+s.dy, 0, b.Dy()-1) + b.Min.Y
		c := src.NRGBAAt(px, py)
		a := float64(c.A) * s.w
		acc[0] += float64(c.R) * a
		acc[1] += float64(c.G) * a
		acc[2] += float64(c.B) * a
		acc[3] += a
	}
	if acc[3] <= 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{
		R: clampByte(acc[0] / acc[3]),
		G: clampByte(acc[1] / acc[3]),
		B: clampByte(acc[2] / acc[3]),
		A: clampByte(acc[3]),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
