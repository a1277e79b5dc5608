// Package linalg hides the dense linear algebra the mosaic stages need behind a
// small interface so the estimator and warper never touch a matrix library directly.
package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a system has no unique solution.
var ErrSingular = errors.New("singular matrix")

// Solver solves square systems and inverts 3x3 matrices. Matrices are row-major.
type Solver interface {
	// Solve returns x such that a*x = b, where a is n*n and b has length n.
	Solve(a []float64, b []float64, n int) ([]float64, error)
	// Invert3 returns the inverse of a row-major 3x3 matrix.
	Invert3(m [9]float64) ([9]float64, error)
}

// Gonum implements Solver with gonum's LU based routines.
type Gonum struct{}

// Default is the solver used when callers do not supply one.
var Default Solver = Gonum{}

// Solve implements Solver.
func (Gonum) Solve(a []float64, b []float64, n int) ([]float64, error) {
	if n <= 0 || len(a) != n*n || len(b) != n {
		return nil, fmt.Errorf("solve: bad dimensions a=%d b=%d n=%d", len(a), len(b), n)
	}

	A := mat.NewDense(n, n, append([]float64(nil), a...))
	B := mat.NewVecDense(n, append([]float64(nil), b...))

	var x mat.VecDense
	if err := x.SolveVec(A, B); err != nil {
		// gonum reports near-singular systems as a Condition error alongside a
		// numerically meaningless answer, so any error is treated as singular.
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

// Invert3 implements Solver.
func (Gonum) Invert3(m [9]float64) ([9]float64, error) {
	A := mat.NewDense(3, 3, m[:])

	var inv mat.Dense
	if err := inv.Inverse(A); err != nil {
		return [9]float64{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = inv.At(r, c)
		}
	}
	return out, nil
}

// MulVec3 multiplies a row-major 3x3 matrix with a 3-vector.
func MulVec3(m [9]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// Mul3 returns the product a*b of two row-major 3x3 matrices.
func Mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[3*r+c] = a[3*r+0]*b[0+c] + a[3*r+1]*b[3+c] + a[3*r+2]*b[6+c]
		}
	}
	return out
}

// Det3 returns the determinant of a row-major 3x3 matrix.
func Det3(m [9]float64) float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}
