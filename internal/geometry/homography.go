package geometry

import (
	"fmt"
	"math"

	"github.com/ajbt200128/mosaic/internal/linalg"
)

// Homography is a row-major 3x3 projective transform mapping homogeneous source
// coordinates onto destination coordinates: dst ~ H * src.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p through the transform. ok is false when p maps to infinity.
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	v := linalg.MulVec3(h, [3]float64{p.X, p.Y, 1})
	if v[2] == 0 || math.IsNaN(v[2]) {
		return Point2D{}, false
	}
	return Point2D{X: v[0] / v[2], Y: v[1] / v[2]}, true
}

// Det returns the determinant of the matrix.
func (h Homography) Det() float64 {
	return linalg.Det3(h)
}

// Normalized rescales the matrix so that h[8] == 1. ok is false when h[8] is
// too small to divide by.
func (h Homography) Normalized(tol float64) (Homography, bool) {
	if math.Abs(h[8]) <= tol || math.IsNaN(h[8]) {
		return h, false
	}
	var out Homography
	for i := range h {
		out[i] = h[i] / h[8]
	}
	return out, true
}

// Inverse returns the inverse transform using s.
func (h Homography) Inverse(s linalg.Solver) (Homography, error) {
	inv, err := s.Invert3(h)
	if err != nil {
		return Homography{}, err
	}
	return Homography(inv), nil
}

// Finite reports whether every entry is a finite number.
func (h Homography) Finite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual reports whether every entry of h and o differ by at most tol.
func (h Homography) ApproxEqual(o Homography, tol float64) bool {
	for i := range h {
		if math.Abs(h[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// Slice returns the entries as a plain slice, handy for JSON and structpb.
func (h Homography) Slice() []float64 {
	return append([]float64(nil), h[:]...)
}

func (h Homography) String() string {
	return fmt.Sprintf("[%10f, %10f, %10f]\n[%10f, %10f, %10f]\n[%10f, %10f, %10f]\n",
		h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8])
}
