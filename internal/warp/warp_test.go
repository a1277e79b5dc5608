package warp

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

var transparent = color.NRGBA{}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestWarpIdentityReproducesSource(t *testing.T) {
	src := gradient(17, 13)
	for _, s := range []Sampling{Nearest, Bilinear} {
		t.Run(s.String(), func(t *testing.T) {
			out, err := Warp(src, geometry.Identity(), image.Pt(34, 13), transparent, WithSampling(s), WithWorkers(3))
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			for y := 0; y < 13; y++ {
				for x := 0; x < 34; x++ {
					got := out.NRGBAAt(x, y)
					want := transparent
					if x < 17 {
						want = src.NRGBAAt(x, y)
					}
					if got != want {
						t.Fatalf("pixel (%d,%d): expected %v, got %v", x, y, want, got)
					}
				}
			}
		})
	}
}

func TestWarpScaleFillsCanvas(t *testing.T) {
	red := color.NRGBA{R: 200, G: 10, B: 30, A: 255}
	src := solid(10, 10, red)
	h := geometry.Homography{2, 0, 0, 0, 2, 0, 0, 0, 1}

	out, err := Warp(src, h, image.Pt(20, 20), transparent)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if got := out.NRGBAAt(x, y); got != red {
				t.Fatalf("pixel (%d,%d): expected %v, got %v", x, y, red, got)
			}
		}
	}
}

func TestWarpCoverageUsesFill(t *testing.T) {
	src := solid(4, 4, color.NRGBA{G: 255, A: 255})
	fill := color.NRGBA{R: 1, G: 2, B: 3, A: 4}
	// Shift right by 10: the first ten columns have no source content.
	h := geometry.Homography{1, 0, 10, 0, 1, 0, 0, 0, 1}

	out, err := Warp(src, h, image.Pt(20, 6), fill)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 20; x++ {
			got := out.NRGBAAt(x, y)
			inside := x >= 10 && x < 14 && y < 4
			if inside && got != (color.NRGBA{G: 255, A: 255}) {
				t.Fatalf("pixel (%d,%d) should be sampled, got %v", x, y, got)
			}
			if !inside && got != fill {
				t.Fatalf("pixel (%d,%d) should be fill, got %v", x, y, got)
			}
		}
	}
}

func TestWarpRejectsSingularMatrix(t *testing.T) {
	h := geometry.Homography{1, 2, 0, 2, 4, 0, 0, 0, 1}
	_, err := Warp(solid(2, 2, transparent), h, image.Pt(4, 4), transparent)
	if !errors.Is(err, ErrInvalidMatrix) {
		t.Fatalf("expected ErrInvalidMatrix, got %v", err)
	}
}

func TestWarpCanvasBounds(t *testing.T) {
	src := solid(2, 2, transparent)
	cases := []struct {
		name string
		size image.Point
		opts []Option
	}{
		{"empty", image.Pt(0, 10), nil},
		{"too large", image.Pt(100, 100), []Option{WithMaxPixels(9999)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Warp(src, geometry.Identity(), tc.size, transparent, tc.opts...)
			if !errors.Is(err, ErrCanvasOverflow) {
				t.Fatalf("expected ErrCanvasOverflow, got %v", err)
			}
		})
	}
}

func TestWarpIsDeterministicAcrossWorkerCounts(t *testing.T) {
	src := gradient(40, 30)
	h := geometry.Homography{0.9, 0.1, 5, -0.05, 1.1, 3, 0.0005, 0.0002, 1}
	a, err := Warp(src, h, image.Pt(80, 30), transparent, WithWorkers(1), WithSampling(Bilinear))
	if err != nil {
		t.Fatalf("warp failed: %v", err)
	}
	b, err := Warp(src, h, image.Pt(80, 30), transparent, WithWorkers(7), WithSampling(Bilinear))
	if err != nil {
		t.Fatalf("warp failed: %v", err)
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatalf("byte %d differs between worker counts", i)
		}
	}
}

func TestParseSampling(t *testing.T) {
	if s, err := ParseSampling("bilinear"); err != nil || s != Bilinear {
		t.Fatalf("expected bilinear, got %v %v", s, err)
	}
	if s, err := ParseSampling(""); err != nil || s != Nearest {
		t.Fatalf("expected nearest default, got %v %v", s, err)
	}
	if _, err := ParseSampling("lanczos"); err == nil {
		t.Fatalf("expected error for unknown sampling")
	}
}
