// Package mosaic merges two overlapping photographs into one composite from
// four hand-picked landmark pairs.
package mosaic

import (
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/ajbt200128/mosaic/internal/blend"
	"github.com/ajbt200128/mosaic/internal/estimate"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/linalg"
	"github.com/ajbt200128/mosaic/internal/logging"
	"github.com/ajbt200128/mosaic/internal/warp"
)

// Options configures a merge. The zero value is not usable; start from DefaultOptions.
type Options struct {
	// CanvasScale multiplies the reference width to size the canvas.
	CanvasScale int
	// MaxPixels bounds the canvas area.
	MaxPixels int
	Sampling  warp.Sampling
	Blend     blend.Params
	// Workers splits per-pixel work; values below one use GOMAXPROCS.
	Workers int
	Solver  linalg.Solver
	// Logger receives per-stage timings. Nil discards them.
	Logger *slog.Logger
	// JobID tags log lines.
	JobID string
	// PointOrigin is the origin of stored points that do not name their own.
	// Empty means bottom-left. Compose itself only sees raster points.
	PointOrigin string
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		CanvasScale: 2,
		MaxPixels:   warp.DefaultMaxPixels,
		Sampling:    warp.Nearest,
		Blend:       blend.DefaultParams(),
		Solver:      linalg.Default,
	}
}

// Timings records how long each stage took.
type Timings struct {
	Estimate time.Duration `json:"estimate"`
	Warp     time.Duration `json:"warp"`
	Blend    time.Duration `json:"blend"`
}

// Total is the sum of the stage durations.
func (t Timings) Total() time.Duration { return t.Estimate + t.Warp + t.Blend }

// Result is the outcome of a merge. Merged is false when nothing was attempted.
type Result struct {
	Merged     bool
	Composite  *image.NRGBA
	Homography geometry.Homography
	Anchor     geometry.Point2D
	Canvas     image.Point
	Timings    Timings
}

// Compose estimates the transform carrying movPts onto refPts, warps moving
// into a canvas anchored at the reference origin and blends the two.
// Point slices pair up by index. Any stage failure is returned as *MergeError.
func Compose(reference, moving image.Image, refPts, movPts []geometry.Point2D, opts Options) (Result, error) {
	if reference == nil || moving == nil {
		return Result{}, &MergeError{Stage: StageInput, Err: ErrMissingImage}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	solver := opts.Solver
	if solver == nil {
		solver = linalg.Default
	}

	start := time.Now()
	h, err := estimate.Estimate(movPts, refPts, estimate.WithSolver(solver))
	if err != nil {
		return Result{}, &MergeError{Stage: StageEstimate, Err: err}
	}
	res := Result{Homography: h}
	res.Timings.Estimate = time.Since(start)
	logging.LogMergeStage(logger, opts.JobID, string(StageEstimate), res.Timings.Estimate, 0)

	ref := geometry.ToNRGBA(reference)
	scale := max(opts.CanvasScale, 1)
	res.Canvas = image.Pt(scale*ref.Rect.Dx(), ref.Rect.Dy())

	start = time.Now()
	warped, err := warp.Warp(moving, h, res.Canvas, color.NRGBA{},
		warp.WithSampling(opts.Sampling),
		warp.WithWorkers(opts.Workers),
		warp.WithMaxPixels(maxPixels(opts.MaxPixels)),
		warp.WithSolver(solver),
	)
	if err != nil {
		return Result{}, &MergeError{Stage: StageWarp, Err: err}
	}
	res.Timings.Warp = time.Since(start)
	logging.LogMergeStage(logger, opts.JobID, string(StageWarp), res.Timings.Warp, len(warped.Pix))

	res.Anchor = geometry.Centroid(refPts)
	params := opts.Blend
	params.Workers = opts.Workers

	start = time.Now()
	composite, err := blend.Blend(warped, ref, res.Anchor, params)
	if err != nil {
		return Result{}, &MergeError{Stage: StageBlend, Err: err}
	}
	res.Timings.Blend = time.Since(start)
	logging.LogMergeStage(logger, opts.JobID, string(StageBlend), res.Timings.Blend, len(composite.Pix))

	res.Composite = composite
	res.Merged = true
	return res, nil
}

func maxPixels(n int) int {
	if n <= 0 {
		return warp.DefaultMaxPixels
	}
	return n
}
