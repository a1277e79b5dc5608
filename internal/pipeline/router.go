package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ajbt200128/mosaic/internal/logging"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log        *slog.Logger
	store      *storage.Store
	opts       mosaic.Options
	mergeFn    mergeFunc
	estimateFn estimateFunc
	metaFn     func(path string) (storage.ImageMetadata, error)
}

type mergeFunc func(ctx context.Context, req tasks.MergeRequest) (tasks.MergeResult, error)

type estimateFunc func(ctx context.Context, m *manifest.Manifest, origin string) (tasks.EstimateResult, error)

func newRouter(logger *slog.Logger, store *storage.Store, opts mosaic.Options) Processor {
	return &router{
		log:        logger,
		store:      store,
		opts:       opts,
		mergeFn:    tasks.RunMerge,
		estimateFn: tasks.RunEstimate,
		metaFn:     tasks.ExtractMetadata,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobMerge:
		return r.handleMerge(ctx, job)
	case JobEstimate:
		return r.handleEstimate(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// loadManifest reads the job's manifest and applies output overrides given
// on the job itself. Override paths are taken relative to the working directory.
func loadManifest(job Job) (*manifest.Manifest, error) {
	m, err := manifest.Load(job.InputPath)
	if err != nil {
		return nil, err
	}
	if job.Output != "" {
		m.Output = absPath(job.Output)
	}
	if ov := getStringOption(job.Options, "overlay"); ov != "" {
		m.Overlay = absPath(ov)
	}
	if s := getStringOption(job.Options, "sampling"); s != "" {
		m.Sampling = s
	}
	return m, nil
}

func (r *router) handleMerge(ctx context.Context, job Job) Result {
	m, err := loadManifest(job)
	if err != nil {
		return Result{Job: job, Error: err, Meta: failureMeta(err)}
	}

	res, err := r.mergeFn(ctx, tasks.MergeRequest{JobID: job.ID, Manifest: m, Options: r.opts})
	if err != nil {
		return Result{Job: job, Error: err, Meta: failureMeta(err)}
	}

	if r.store != nil {
		if err := r.store.RecordCorrespondences(job.ID, res.ReferencePoints, res.MovingPoints); err != nil {
			r.log.Warn("failed to record correspondences", "job", job.ID, "error", err)
		}
		r.recordMetadata(job.ID, res.Reference, res.Moving)
	}

	return Result{Job: job, Meta: res.Meta()}
}

func (r *router) recordMetadata(jobID string, paths ...string) {
	for _, p := range paths {
		meta, err := r.metaFn(p)
		if err != nil {
			logging.LogProcessingStep(r.log, jobID, "metadata", "skipped", map[string]any{"path": p, "error": err.Error()})
			continue
		}
		if err := r.store.RecordImageMetadata(meta); err != nil {
			r.log.Warn("failed to record image metadata", "job", jobID, "path", p, "error", err)
			continue
		}
		logging.LogProcessingStep(r.log, jobID, "metadata", "recorded", map[string]any{"path": p, "camera": meta.CameraModel})
	}
}

func (r *router) handleEstimate(ctx context.Context, job Job) Result {
	m, err := loadManifest(job)
	if err != nil {
		return Result{Job: job, Error: err, Meta: failureMeta(err)}
	}
	res, err := r.estimateFn(ctx, m, r.opts.PointOrigin)
	if err != nil {
		return Result{Job: job, Error: err, Meta: failureMeta(err)}
	}
	return Result{Job: job, Meta: map[string]any{
		"homography": res.Homography.Slice(),
		"residuals":  res.Residuals,
	}}
}

func failureMeta(err error) map[string]any {
	return map[string]any{"user_message": mosaic.UserMessage(err)}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}
