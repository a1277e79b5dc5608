package mosaic

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

// Side selects one of the two photographs in a session.
type Side int

const (
	// Reference is the photograph the other one is warped onto.
	Reference Side = iota
	// Moving is the photograph that gets warped.
	Moving
)

func (s Side) String() string {
	switch s {
	case Reference:
		return "reference"
	case Moving:
		return "moving"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ParseSide maps "reference"/"a" and "moving"/"b" onto a Side.
func ParseSide(name string) (Side, error) {
	switch name {
	case "reference", "a":
		return Reference, nil
	case "moving", "b":
		return Moving, nil
	default:
		return 0, fmt.Errorf("unknown side %q", name)
	}
}

// State is the merge readiness of a session.
type State int

const (
	// Idle means at least one side has fewer than four points; Merge does nothing.
	Idle State = iota
	// Ready means both sides have four points.
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "idle"
}

// Session holds the two photographs, the landmarks picked on each and the
// last published composite. All methods are safe for concurrent use; a Merge
// holds the session lock until it publishes or fails, so picks issued during a
// merge wait for it.
type Session struct {
	mu        sync.Mutex
	opts      Options
	images    [2]image.Image
	points    [2]geometry.Correspondences
	composite *image.NRGBA
	last      Result
}

// NewSession returns an Idle session over the two photographs.
func NewSession(reference, moving image.Image, opts Options) *Session {
	return &Session{opts: opts, images: [2]image.Image{reference, moving}}
}

func validSide(side Side) error {
	if side != Reference && side != Moving {
		return fmt.Errorf("unknown side %d", int(side))
	}
	return nil
}

// Pick records p, in raster coordinates, as the newest landmark on side.
func (s *Session) Pick(side Side, p geometry.Point2D) error {
	if err := validSide(side); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[side].Push(p)
	return nil
}

// Points returns the landmarks on side, newest first.
func (s *Session) Points(side Side) []geometry.Point2D {
	if validSide(side) != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[side].Points()
}

// Size returns the pixel dimensions of the photograph on side.
func (s *Session) Size(side Side) image.Point {
	if validSide(side) != nil || s.images[side] == nil {
		return image.Point{}
	}
	return s.images[side].Bounds().Size()
}

// Image returns the photograph on side. Callers must not modify it.
func (s *Session) Image(side Side) image.Image {
	if validSide(side) != nil {
		return nil
	}
	return s.images[side]
}

// State reports whether a Merge would run.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	if s.points[Reference].Full() && s.points[Moving].Full() {
		return Ready
	}
	return Idle
}

// Merge composes the two photographs from the current landmarks.
//
// While Idle it returns a zero Result and no error, changing nothing. On
// success both landmark lists are cleared and the composite is published. On
// failure the landmarks and any earlier composite are left exactly as they
// were, and the error is a *MergeError.
func (s *Session) Merge(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() == Idle {
		return Result{}, nil
	}

	res, err := Compose(s.images[Reference], s.images[Moving],
		s.points[Reference].Points(), s.points[Moving].Points(), s.opts)
	if err != nil {
		return Result{}, err
	}

	s.composite = res.Composite
	s.last = res
	s.points[Reference].Reset()
	s.points[Moving].Reset()
	return res, nil
}

// Composite returns the last published composite, or nil. Callers must not
// modify it.
func (s *Session) Composite() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composite
}

// LastResult returns the result of the last successful merge.
func (s *Session) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset forgets the landmarks on both sides. The composite is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[Reference].Reset()
	s.points[Moving].Reset()
}
