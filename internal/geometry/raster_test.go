package geometry

import (
	"image"
	"image/color"
	"testing"
)

func TestToNRGBAShiftsOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 12, 12))
	src.Set(10, 10, color.RGBA{R: 255, A: 255})
	got := ToNRGBA(src)
	if got.Rect.Min != (image.Point{}) {
		t.Fatalf("expected zero origin, got %v", got.Rect)
	}
	if got.NRGBAAt(0, 0) != (color.NRGBA{R: 255, A: 255}) {
		t.Fatalf("unexpected pixel %v", got.NRGBAAt(0, 0))
	}

	sub := image.NewNRGBA(image.Rect(0, 0, 4, 4)).SubImage(image.Rect(1, 1, 3, 3))
	if got := ToNRGBA(sub); got.Rect != image.Rect(0, 0, 2, 2) {
		t.Fatalf("expected sub-image copied to zero origin, got %v", got.Rect)
	}

	zero := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	if ToNRGBA(zero) != zero {
		t.Fatalf("zero-origin NRGBA should be returned as is")
	}
}
