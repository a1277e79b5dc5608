package geometry

import (
	"math"
	"testing"

	"github.com/ajbt200128/mosaic/internal/linalg"
)

func TestCorrespondencesEvictOldest(t *testing.T) {
	var c Correspondences
	for i := 1; i <= 5; i++ {
		c.Push(Pt(float64(i), 0))
	}
	got := c.Points()
	want := []Point2D{Pt(5, 0), Pt(4, 0), Pt(3, 0), Pt(2, 0)}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("point %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if !c.Full() {
		t.Fatalf("expected list to be full")
	}

	// Points returns a copy.
	got[0] = Pt(99, 99)
	if c.Points()[0] != Pt(5, 0) {
		t.Fatalf("Points leaked internal storage")
	}

	c.Reset()
	if c.Len() != 0 || c.Full() {
		t.Fatalf("expected empty list after reset, got %d", c.Len())
	}
}

func TestFlipYIsInvolution(t *testing.T) {
	p := Pt(3, 7)
	flipped := FlipY(p, 100)
	if flipped != Pt(3, 93) {
		t.Fatalf("unexpected flip %v", flipped)
	}
	if FlipY(flipped, 100) != p {
		t.Fatalf("flip is not its own inverse")
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([]Point2D{Pt(0, 0), Pt(0, 10), Pt(10, 10), Pt(10, 0)})
	if c != Pt(5, 5) {
		t.Fatalf("expected (5,5), got %v", c)
	}
	if Centroid(nil) != (Point2D{}) {
		t.Fatalf("expected zero centroid for empty input")
	}
}

func TestHasCollinearTriple(t *testing.T) {
	cases := []struct {
		name string
		pts  []Point2D
		want bool
	}{
		{"square", []Point2D{Pt(0, 0), Pt(0, 10), Pt(10, 10), Pt(10, 0)}, false},
		{"three on a line", []Point2D{Pt(0, 0), Pt(5, 5), Pt(10, 10), Pt(10, 0)}, true},
		{"duplicate", []Point2D{Pt(0, 0), Pt(0, 0), Pt(10, 10), Pt(10, 0)}, true},
		{"all same", []Point2D{Pt(1, 1), Pt(1, 1), Pt(1, 1), Pt(1, 1)}, true},
		{"nearly collinear", []Point2D{Pt(0, 0), Pt(50, 1e-9), Pt(100, 0), Pt(0, 100)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasCollinearTriple(tc.pts, 1e-9); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHomographyApplyAndInverse(t *testing.T) {
	h := Homography{2, 0, 5, 0, 3, -1, 0.001, 0, 1}
	p, ok := h.Apply(Pt(10, 20))
	if !ok {
		t.Fatalf("expected finite mapping")
	}
	inv, err := h.Inverse(linalg.Default)
	if err != nil {
		t.Fatalf("inverse failed: %v", err)
	}
	back, ok := inv.Apply(p)
	if !ok {
		t.Fatalf("expected finite inverse mapping")
	}
	if back.Distance(Pt(10, 20)) > 1e-9 {
		t.Fatalf("round trip drifted: %v", back)
	}
}

func TestHomographyApplyAtInfinity(t *testing.T) {
	h := Homography{1, 0, 0, 0, 1, 0, 1, 0, 0}
	if _, ok := h.Apply(Pt(0, 5)); ok {
		t.Fatalf("expected point at infinity to be rejected")
	}
}

func TestHomographyNormalized(t *testing.T) {
	h := Homography{4, 0, 0, 0, 4, 0, 0, 0, 2}
	n, ok := h.Normalized(1e-12)
	if !ok {
		t.Fatalf("expected normalizable matrix")
	}
	if !n.ApproxEqual(Homography{2, 0, 0, 0, 2, 0, 0, 0, 1}, 0) {
		t.Fatalf("unexpected normalized matrix %v", n)
	}
	if _, ok := (Homography{1, 0, 0, 0, 1, 0, 0, 0, 0}).Normalized(1e-12); ok {
		t.Fatalf("expected h[8]=0 to be rejected")
	}
	if !Identity().Finite() || (Homography{math.NaN()}).Finite() {
		t.Fatalf("Finite misreports")
	}
}
