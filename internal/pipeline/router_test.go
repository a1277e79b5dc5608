package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/estimate"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

const testManifest = `reference: left.png
moving: right.png
output: merged.png
reference_points: [{x: 20, y: 5}, {x: 20, y: 25}, {x: 38, y: 25}, {x: 38, y: 5}]
moving_points: [{x: 2, y: 5}, {x: 2, y: 25}, {x: 20, y: 25}, {x: 20, y: 5}]
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair.mosaic.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(storage.DriverModernc, filepath.Join(t.TempDir(), "mosaic.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type stubMerger struct {
	calls int
	last  tasks.MergeRequest
	err   error
}

func (s *stubMerger) merge(ctx context.Context, req tasks.MergeRequest) (tasks.MergeResult, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return tasks.MergeResult{}, s.err
	}
	ref, mov := req.Manifest.RasterPoints(config.OriginTopLeft, 0, 0)
	return tasks.MergeResult{
		Reference:       req.Manifest.Resolve(req.Manifest.Reference),
		Moving:          req.Manifest.Resolve(req.Manifest.Moving),
		Output:          req.Manifest.Resolve(req.Manifest.Output),
		ReferencePoints: ref,
		MovingPoints:    mov,
		Homography:      geometry.Homography{1, 0, 18, 0, 1, 0, 0, 0, 1},
		Canvas:          image.Pt(80, 30),
	}, nil
}

func stubMeta(path string) (storage.ImageMetadata, error) {
	return storage.ImageMetadata{FilePath: path, CameraModel: "stub", Width: 40, Height: 30}, nil
}

func TestRouterMergeRecordsCorrespondencesAndMetadata(t *testing.T) {
	store := openStore(t)
	merger := &stubMerger{}
	r := &router{
		log:     slog.Default(),
		store:   store,
		opts:    mosaic.DefaultOptions(),
		mergeFn: merger.merge,
		metaFn:  stubMeta,
	}

	path := writeManifest(t)
	res := r.Process(context.Background(), Job{ID: "merge-1", Type: JobMerge, InputPath: path})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if merger.calls != 1 || merger.last.JobID != "merge-1" {
		t.Fatalf("expected one merge call for merge-1, got %d (%q)", merger.calls, merger.last.JobID)
	}
	if res.Meta["canvas"] != "80x30" {
		t.Fatalf("unexpected canvas meta %v", res.Meta["canvas"])
	}

	ref, mov, err := store.Correspondences("merge-1")
	if err != nil {
		t.Fatalf("correspondences: %v", err)
	}
	if len(ref) != 4 || len(mov) != 4 || ref[0] != geometry.Pt(20, 5) || mov[3] != geometry.Pt(20, 5) {
		t.Fatalf("unexpected stored points ref=%v mov=%v", ref, mov)
	}

	meta, err := store.ImageMetadata(filepath.Join(filepath.Dir(path), "right.png"))
	if err != nil {
		t.Fatalf("image metadata: %v", err)
	}
	if meta.CameraModel != "stub" || meta.Width != 40 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestRouterMergeAppliesJobOverrides(t *testing.T) {
	merger := &stubMerger{}
	r := &router{log: slog.Default(), mergeFn: merger.merge, metaFn: stubMeta}

	out := filepath.Join(t.TempDir(), "elsewhere.png")
	res := r.Process(context.Background(), Job{
		ID:        "merge-2",
		Type:      JobMerge,
		InputPath: writeManifest(t),
		Output:    out,
		Options:   map[string]any{"sampling": "bilinear"},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if merger.last.Manifest.Output != out {
		t.Fatalf("expected output override %q, got %q", out, merger.last.Manifest.Output)
	}
	if merger.last.Manifest.Sampling != "bilinear" {
		t.Fatalf("expected sampling override, got %q", merger.last.Manifest.Sampling)
	}
}

func TestRouterMergeFailureCarriesUserMessage(t *testing.T) {
	store := openStore(t)
	merger := &stubMerger{err: &mosaic.MergeError{Stage: mosaic.StageEstimate, Err: estimate.ErrSingularTransform}}
	r := &router{log: slog.Default(), store: store, mergeFn: merger.merge, metaFn: stubMeta}

	res := r.Process(context.Background(), Job{ID: "merge-3", Type: JobMerge, InputPath: writeManifest(t)})
	if !errors.Is(res.Error, estimate.ErrSingularTransform) {
		t.Fatalf("expected singular transform, got %v", res.Error)
	}
	if res.Meta["user_message"] == "" {
		t.Fatalf("expected a user message")
	}
	ref, _, err := store.Correspondences("merge-3")
	if err != nil || len(ref) != 0 {
		t.Fatalf("expected nothing recorded on failure, got %v (%v)", ref, err)
	}
}

func TestRouterMissingManifest(t *testing.T) {
	merger := &stubMerger{}
	r := &router{log: slog.Default(), mergeFn: merger.merge}
	res := r.Process(context.Background(), Job{ID: "m", Type: JobMerge, InputPath: filepath.Join(t.TempDir(), "none.yaml")})
	if res.Error == nil {
		t.Fatalf("expected error for missing manifest")
	}
	if merger.calls != 0 {
		t.Fatalf("merge should not run without a manifest")
	}
}

func TestRouterEstimate(t *testing.T) {
	r := &router{
		log: slog.Default(),
		estimateFn: func(ctx context.Context, m *manifest.Manifest, origin string) (tasks.EstimateResult, error) {
			return tasks.EstimateResult{Homography: geometry.Identity(), Residuals: []float64{0, 0, 0, 0}}, nil
		},
	}
	res := r.Process(context.Background(), Job{ID: "e", Type: JobEstimate, InputPath: writeManifest(t)})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	h, ok := res.Meta["homography"].([]float64)
	if !ok || len(h) != 9 || h[0] != 1 || h[8] != 1 {
		t.Fatalf("unexpected homography meta %v", res.Meta["homography"])
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := &router{log: slog.Default()}
	if res := r.Process(context.Background(), Job{Type: "stack"}); res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

type echoProcessor struct{}

func (echoProcessor) Process(ctx context.Context, job Job) Result {
	if job.Type != JobMerge {
		return Result{Job: job, Error: errors.New("boom")}
	}
	return Result{Job: job, Meta: map[string]any{"canvas": "80x30"}}
}

func TestPipelineRecordsAndBroadcasts(t *testing.T) {
	store := openStore(t)
	p := newPipeline(context.Background(), 2, slog.Default(), store, echoProcessor{})
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "ok", Type: JobMerge, InputPath: "a.yaml"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(Job{ID: "bad", Type: JobEstimate, InputPath: "b.yaml"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	seen := map[string]error{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case res := <-results:
			seen[res.Job.ID] = res.Error
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %v", seen)
		}
	}
	if seen["ok"] != nil || seen["bad"] == nil {
		t.Fatalf("unexpected results %v", seen)
	}

	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatalf("recent jobs: %v", err)
	}
	status := map[string]string{}
	for _, j := range jobs {
		status[j.ID] = j.Status
	}
	if status["ok"] != "completed" || status["bad"] != "failed" {
		t.Fatalf("unexpected statuses %v", status)
	}
	meta, err := store.JobMeta("ok")
	if err != nil || meta["canvas"] != "80x30" {
		t.Fatalf("unexpected job meta %v (%v)", meta, err)
	}
}
