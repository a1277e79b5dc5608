package estimate

import (
	"errors"
	"testing"

	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/linalg"
)

var square = []geometry.Point2D{
	geometry.Pt(0, 0), geometry.Pt(0, 10), geometry.Pt(10, 10), geometry.Pt(10, 0),
}

func TestEstimateIdentity(t *testing.T) {
	pts := []geometry.Point2D{
		geometry.Pt(12, 40), geometry.Pt(300, 25), geometry.Pt(280, 410), geometry.Pt(30, 390),
	}
	h, err := Estimate(pts, pts)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !h.ApproxEqual(geometry.Identity(), 1e-9) {
		t.Fatalf("expected identity, got\n%v", h)
	}
}

func TestEstimatePureScale(t *testing.T) {
	dst := []geometry.Point2D{
		geometry.Pt(0, 0), geometry.Pt(0, 20), geometry.Pt(20, 20), geometry.Pt(20, 0),
	}
	h, err := Estimate(square, dst)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := geometry.Homography{2, 0, 0, 0, 2, 0, 0, 0, 1}
	if !h.ApproxEqual(want, 1e-9) {
		t.Fatalf("expected diagonal scale, got\n%v", h)
	}
}

func TestEstimateReproducesCorrespondences(t *testing.T) {
	truth := geometry.Homography{0.9, 0.12, 35, -0.08, 1.05, 12, 0.0004, -0.0002, 1}
	src := []geometry.Point2D{
		geometry.Pt(50, 60), geometry.Pt(620, 48), geometry.Pt(600, 430), geometry.Pt(70, 455),
	}
	dst := make([]geometry.Point2D, len(src))
	for i, p := range src {
		q, ok := truth.Apply(p)
		if !ok {
			t.Fatalf("ground truth maps %v to infinity", p)
		}
		dst[i] = q
	}

	h, err := Estimate(src, dst)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for i, r := range Residuals(h, src, dst) {
		if r > 1e-3 {
			t.Fatalf("correspondence %d off by %g px", i, r)
		}
	}
	if !h.ApproxEqual(truth, 1e-6) {
		t.Fatalf("expected recovered matrix\n%v\ngot\n%v", truth, h)
	}
}

func TestEstimateRejectsDegenerateGeometry(t *testing.T) {
	cases := []struct {
		name     string
		src, dst []geometry.Point2D
	}{
		{
			name: "collinear source",
			src:  []geometry.Point2D{geometry.Pt(0, 0), geometry.Pt(5, 5), geometry.Pt(10, 10), geometry.Pt(10, 0)},
			dst:  square,
		},
		{
			name: "duplicate destination",
			src:  square,
			dst:  []geometry.Point2D{geometry.Pt(0, 0), geometry.Pt(0, 0), geometry.Pt(10, 10), geometry.Pt(10, 0)},
		},
		{
			name: "all source points collinear",
			src:  []geometry.Point2D{geometry.Pt(0, 0), geometry.Pt(1, 0), geometry.Pt(2, 0), geometry.Pt(3, 0)},
			dst:  square,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Estimate(tc.src, tc.dst)
			if !errors.Is(err, ErrSingularTransform) {
				t.Fatalf("expected ErrSingularTransform, got %v", err)
			}
		})
	}
}

func TestEstimateInsufficientPoints(t *testing.T) {
	_, err := Estimate(square[:3], square)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	_, err = Estimate(square, nil)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}

type failingSolver struct{ linalg.Gonum }

func (failingSolver) Solve(a, b []float64, n int) ([]float64, error) {
	return nil, linalg.ErrSingular
}

func TestEstimateSolverFailure(t *testing.T) {
	_, err := Estimate(square, square, WithSolver(failingSolver{}))
	if !errors.Is(err, ErrSingularTransform) {
		t.Fatalf("expected ErrSingularTransform, got %v", err)
	}
}

func TestEstimateInlierThreshold(t *testing.T) {
	// A negative threshold can never be met, so the consensus pass must reject.
	_, err := Estimate(square, square, WithInlierThreshold(-1))
	if !errors.Is(err, ErrSingularTransform) {
		t.Fatalf("expected ErrSingularTransform, got %v", err)
	}
}
