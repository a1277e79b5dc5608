// Package estimate fits the projective transform that carries four landmark
// points of one photograph onto the matching landmarks of another.
package estimate

import (
	"errors"
	"fmt"
	"math"

	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/linalg"
)

var (
	// ErrInsufficientPoints means the caller did not supply exactly four correspondences.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrSingularTransform means the correspondences admit no unique projective transform.
	ErrSingularTransform = errors.New("singular transform")
)

const (
	defaultInlierThreshold = 1e-3
	collinearTolerance     = 1e-9
	normalizeTolerance     = 1e-12
)

type options struct {
	solver          linalg.Solver
	inlierThreshold float64
}

// Option customises Estimate.
type Option func(*options)

// WithSolver swaps the linear algebra backend.
func WithSolver(s linalg.Solver) Option {
	return func(o *options) { o.solver = s }
}

// WithInlierThreshold sets the maximum reprojection error, in pixels, a
// correspondence may show before the fit is rejected.
func WithInlierThreshold(px float64) Option {
	return func(o *options) { o.inlierThreshold = px }
}

// Estimate returns H such that H*src[i] ~ dst[i] for all four correspondences.
//
// The points are conditioned with a similarity transform before the 8x8 direct
// linear system (h[8] fixed to 1) is solved. The fitted matrix is then checked
// against every correspondence in a single consensus pass; with exactly the
// minimal sample there is nothing to resample, so any outlier means the
// geometry was degenerate.
func Estimate(src, dst []geometry.Point2D, opts ...Option) (geometry.Homography, error) {
	o := options{solver: linalg.Default, inlierThreshold: defaultInlierThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	if len(src) != geometry.MaxCorrespondences || len(dst) != geometry.MaxCorrespondences {
		return geometry.Homography{}, fmt.Errorf("%w: need %d source and %d destination points, got %d and %d",
			ErrInsufficientPoints, geometry.MaxCorrespondences, geometry.MaxCorrespondences, len(src), len(dst))
	}
	if geometry.HasCollinearTriple(src, collinearTolerance) {
		return geometry.Homography{}, fmt.Errorf("%w: source points are collinear or coincident", ErrSingularTransform)
	}
	if geometry.HasCollinearTriple(dst, collinearTolerance) {
		return geometry.Homography{}, fmt.Errorf("%w: destination points are collinear or coincident", ErrSingularTransform)
	}

	tSrc, nSrc := conditioning(src)
	tDst, nDst := conditioning(dst)

	a := make([]float64, 0, 64)
	b := make([]float64, 0, 8)
	for i := range nSrc {
		X, Y := nSrc[i].X, nSrc[i].Y
		x, y := nDst[i].X, nDst[i].Y
		// x = (h0 X + h1 Y + h2) / (h6 X + h7 Y + 1)
		a = append(a, X, Y, 1, 0, 0, 0, -X*x, -Y*x)
		b = append(b, x)
		// y = (h3 X + h4 Y + h5) / (h6 X + h7 Y + 1)
		a = append(a, 0, 0, 0, X, Y, 1, -X*y, -Y*y)
		b = append(b, y)
	}

	sol, err := o.solver.Solve(a, b, 8)
	if err != nil {
		return geometry.Homography{}, fmt.Errorf("%w: %v", ErrSingularTransform, err)
	}
	hn := [9]float64{sol[0], sol[1], sol[2], sol[3], sol[4], sol[5], sol[6], sol[7], 1}

	tDstInv, err := o.solver.Invert3(tDst)
	if err != nil {
		return geometry.Homography{}, fmt.Errorf("%w: %v", ErrSingularTransform, err)
	}
	h, ok := geometry.Homography(linalg.Mul3(linalg.Mul3(tDstInv, hn), tSrc)).Normalized(normalizeTolerance)
	if !ok || !h.Finite() {
		return geometry.Homography{}, fmt.Errorf("%w: matrix cannot be normalized", ErrSingularTransform)
	}

	residuals := Residuals(h, src, dst)
	for i, r := range residuals {
		if !(r <= o.inlierThreshold) {
			return geometry.Homography{}, fmt.Errorf("%w: correspondence %d reprojects %.3g px away", ErrSingularTransform, i, r)
		}
	}
	return h, nil
}

// Residuals returns the reprojection error of every correspondence under h.
// Points mapped to infinity report +Inf.
func Residuals(h geometry.Homography, src, dst []geometry.Point2D) []float64 {
	n := min(len(src), len(dst))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		p, ok := h.Apply(src[i])
		if !ok {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = p.Distance(dst[i])
	}
	return out
}

// conditioning returns the similarity transform that moves the centroid of pts
// to the origin and scales their mean distance from it to sqrt(2), along with
// the transformed points.
func conditioning(pts []geometry.Point2D) ([9]float64, []geometry.Point2D) {
	c := geometry.Centroid(pts)
	mean := 0.0
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))

	s := 1.0
	if mean > 0 {
		s = math.Sqrt2 / mean
	}
	t := [9]float64{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}

	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = geometry.Point2D{X: s * (p.X - c.X), Y: s * (p.Y - c.Y)}
	}
	return t, out
}
