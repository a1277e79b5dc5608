// Package geometry provides the point and transform types shared by the mosaic stages.
package geometry

import (
	"fmt"
	"math"
)

// Point2D is a point in continuous raster coordinates. The origin is the top-left
// corner of pixel (0,0) and Y grows downward, so pixel (i,j) covers [i,i+1)x[j,j+1).
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point2D{X: x, Y: y}.
func Pt(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%.3f,%.3f)", p.X, p.Y)
}

// FlipY converts between raster coordinates and plot coordinates whose vertical
// axis runs upward from the bottom of an image of the given height. The
// conversion is its own inverse.
func FlipY(p Point2D, height int) Point2D {
	return Point2D{X: p.X, Y: float64(height) - p.Y}
}

// Centroid returns the mean of pts. It returns the zero point for an empty slice.
func Centroid(pts []Point2D) Point2D {
	if len(pts) == 0 {
		return Point2D{}
	}
	var c Point2D
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point2D{X: c.X / n, Y: c.Y / n}
}

// Extent returns the larger side of the bounding box of pts.
func Extent(pts []Point2D) float64 {
	if len(pts) == 0 {
		return 0
	}
	minX, maxX := pts[0].X, pts[0].X
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return math.Max(maxX-minX, maxY-minY)
}

// cross is twice the signed area of triangle abc.
func cross(a, b, c Point2D) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// HasCollinearTriple reports whether any three points of pts lie on a common
// line. Coincident points count as collinear. tol is relative to the squared
// extent of the set.
func HasCollinearTriple(pts []Point2D, tol float64) bool {
	ext := Extent(pts)
	if ext == 0 {
		return len(pts) >= 3
	}
	limit := tol * ext * ext
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				if math.Abs(cross(pts[i], pts[j], pts[k])) <= limit {
					return true
				}
			}
		}
	}
	return false
}
