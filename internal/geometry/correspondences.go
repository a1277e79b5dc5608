package geometry

// MaxCorrespondences is the number of landmark points a merge needs on each image.
const MaxCorrespondences = 4

// Correspondences is the bounded, most-recent-first list of landmarks picked on
// one image. The zero value is empty and ready to use.
type Correspondences struct {
	pts []Point2D
}

// Push records a new landmark at the front and drops the oldest one once more
// than MaxCorrespondences have been picked.
func (c *Correspondences) Push(p Point2D) {
	next := make([]Point2D, 0, MaxCorrespondences)
	next = append(next, p)
	next = append(next, c.pts...)
	if len(next) > MaxCorrespondences {
		next = next[:MaxCorrespondences]
	}
	c.pts = next
}

// Points returns a copy of the recorded landmarks, newest first.
func (c *Correspondences) Points() []Point2D {
	return append([]Point2D(nil), c.pts...)
}

// Len returns the number of recorded landmarks.
func (c *Correspondences) Len() int { return len(c.pts) }

// Full reports whether exactly MaxCorrespondences landmarks are recorded.
func (c *Correspondences) Full() bool { return len(c.pts) == MaxCorrespondences }

// Reset forgets every landmark.
func (c *Correspondences) Reset() { c.pts = nil }
