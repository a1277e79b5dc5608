package tasks

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/estimate"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/imageio"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/overlay"
	"github.com/ajbt200128/mosaic/internal/warp"
)

// MergeRequest is one manifest-driven merge.
type MergeRequest struct {
	JobID    string
	Manifest *manifest.Manifest
	Options  mosaic.Options
}

// MergeResult describes what a merge produced.
type MergeResult struct {
	Reference       string
	Moving          string
	Output          string
	Overlay         string
	ReferencePoints []geometry.Point2D
	MovingPoints    []geometry.Point2D
	Homography      geometry.Homography
	Anchor          geometry.Point2D
	Canvas          image.Point
	MaxResidual     float64
	Timings         mosaic.Timings
	Duration        time.Duration
}

// Meta flattens the result for job records and subscribers.
func (r MergeResult) Meta() map[string]any {
	return map[string]any{
		"output":       r.Output,
		"overlay":      r.Overlay,
		"homography":   r.Homography.Slice(),
		"anchor":       r.Anchor,
		"canvas":       fmt.Sprintf("%dx%d", r.Canvas.X, r.Canvas.Y),
		"max_residual": r.MaxResidual,
		"estimate_ms":  r.Timings.Estimate.Milliseconds(),
		"warp_ms":      r.Timings.Warp.Milliseconds(),
		"blend_ms":     r.Timings.Blend.Milliseconds(),
	}
}

// MergeOptions builds pipeline options from the mosaic config section.
func MergeOptions(cfg config.Mosaic, workers int, logger *slog.Logger) (mosaic.Options, error) {
	sampling, err := warp.ParseSampling(cfg.Sampling)
	if err != nil {
		return mosaic.Options{}, err
	}
	opts := mosaic.DefaultOptions()
	opts.CanvasScale = cfg.CanvasScale
	opts.MaxPixels = cfg.MaxCanvasPixels
	opts.Sampling = sampling
	opts.Blend = cfg.Blend
	opts.Workers = workers
	opts.Logger = logger
	opts.PointOrigin = cfg.PointOrigin
	return opts, nil
}

// RunMerge loads both photographs named by the manifest, composes them and
// writes the composite, plus a debug overlay when the manifest asks for one.
func RunMerge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	m := req.Manifest
	if m == nil {
		return MergeResult{}, fmt.Errorf("%w: no manifest", manifest.ErrInvalid)
	}
	if err := m.Validate(); err != nil {
		return MergeResult{}, err
	}
	start := time.Now()

	res := MergeResult{
		Reference: m.Resolve(m.Reference),
		Moving:    m.Resolve(m.Moving),
		Output:    m.Resolve(m.Output),
	}
	ref, _, err := imageio.Load(res.Reference)
	if err != nil {
		return res, fmt.Errorf("load reference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	mov, _, err := imageio.Load(res.Moving)
	if err != nil {
		return res, fmt.Errorf("load moving: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.ReferencePoints, res.MovingPoints = m.RasterPoints(req.Options.PointOrigin, ref.Rect.Dy(), mov.Rect.Dy())

	opts := req.Options
	opts.JobID = req.JobID
	if m.Sampling != "" {
		if opts.Sampling, err = warp.ParseSampling(m.Sampling); err != nil {
			return res, fmt.Errorf("%w: %v", manifest.ErrInvalid, err)
		}
	}

	out, err := mosaic.Compose(ref, mov, res.ReferencePoints, res.MovingPoints, opts)
	if err != nil {
		return res, err
	}
	res.Homography = out.Homography
	res.Anchor = out.Anchor
	res.Canvas = out.Canvas
	res.Timings = out.Timings
	res.MaxResidual = slices.Max(estimate.Residuals(out.Homography, res.MovingPoints, res.ReferencePoints))

	if err := imageio.Save(res.Output, out.Composite); err != nil {
		return res, fmt.Errorf("save composite: %w", err)
	}

	if m.Overlay != "" {
		res.Overlay = m.Resolve(m.Overlay)
		debug := overlay.Render(out.Composite, overlay.Layer{
			Points:  res.ReferencePoints,
			Outline: overlay.Outline(out.Homography, mov.Rect.Size()),
			Anchor:  &res.Anchor,
		})
		if err := imageio.Save(res.Overlay, debug); err != nil {
			return res, fmt.Errorf("save overlay: %w", err)
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

// EstimateResult is the transform fitted for a manifest without rendering.
type EstimateResult struct {
	Homography geometry.Homography
	Residuals  []float64
}

// RunEstimate fits the transform for a manifest. Only image headers are read,
// for the Y flip of bottom-left points. origin applies when the manifest
// names none.
func RunEstimate(ctx context.Context, m *manifest.Manifest, origin string) (EstimateResult, error) {
	if m == nil {
		return EstimateResult{}, fmt.Errorf("%w: no manifest", manifest.ErrInvalid)
	}
	if err := m.Validate(); err != nil {
		return EstimateResult{}, err
	}
	var refH, movH int
	if m.PointOrigin(origin) == config.OriginBottomLeft {
		refSize, err := imageio.Size(m.Resolve(m.Reference))
		if err != nil {
			return EstimateResult{}, fmt.Errorf("read reference size: %w", err)
		}
		movSize, err := imageio.Size(m.Resolve(m.Moving))
		if err != nil {
			return EstimateResult{}, fmt.Errorf("read moving size: %w", err)
		}
		refH, movH = refSize.Y, movSize.Y
	}
	if err := ctx.Err(); err != nil {
		return EstimateResult{}, err
	}
	refPts, movPts := m.RasterPoints(origin, refH, movH)
	h, err := estimate.Estimate(movPts, refPts)
	if err != nil {
		return EstimateResult{}, &mosaic.MergeError{Stage: mosaic.StageEstimate, Err: err}
	}
	return EstimateResult{Homography: h, Residuals: estimate.Residuals(h, movPts, refPts)}, nil
}
