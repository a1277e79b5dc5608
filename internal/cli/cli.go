package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/fsutil"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/grpcserver"
	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/pipeline"
	"github.com/ajbt200128/mosaic/internal/server"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

// Version is reported by the version command.
const Version = "0.3.0"

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// serveOptions are the listeners started by the serve command.
type serveOptions struct {
	HTTPAddr   string
	GRPCAddr   string
	WatchPaths []string
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// defaultServe runs the HTTP and gRPC servers until ctx is done or either fails.
func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	mergeOpts, err := r.mergeOptions()
	if err != nil {
		return err
	}
	httpSrv, err := server.NewServer(server.Options{
		Addr:       opts.HTTPAddr,
		Merge:      mergeOpts,
		Origin:     r.cfg.Mosaic.PointOrigin,
		WatchPaths: opts.WatchPaths,
	}, r.store, r.pipeline, r.log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- httpSrv.Start(ctx)
	}()
	if opts.GRPCAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- grpcserver.New(mergeOpts, r.store, r.log).Start(ctx, opts.GRPCAddr)
		}()
	}

	err = <-errCh
	cancel()
	wg.Wait()
	return err
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	out      io.Writer
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      os.Stdout,
	}
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Root) mergeOptions() (mosaic.Options, error) {
	return tasks.MergeOptions(r.cfg.Mosaic, r.cfg.Processing.PixelWorkers, r.log)
}

// mergeArgs describes an ad-hoc merge given on the command line.
type mergeArgs struct {
	Reference    string
	Moving       string
	RefPoints    string
	MovingPoints string
	Output       string
	Overlay      string
	Origin       string
	Sampling     string
	SaveManifest string
}

// merge writes a manifest for the two photographs and runs it.
func (r *Root) merge(ctx context.Context, a mergeArgs) error {
	refPts, err := parsePoints(a.RefPoints)
	if err != nil {
		return fmt.Errorf("--ref-points: %w", err)
	}
	movPts, err := parsePoints(a.MovingPoints)
	if err != nil {
		return fmt.Errorf("--moving-points: %w", err)
	}
	output := a.Output
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(a.Reference), filepath.Ext(a.Reference))
		output = filepath.Join(r.cfg.Paths.DefaultOutput, base+"-mosaic.png")
	}
	origin := a.Origin
	if origin == "" {
		origin = r.cfg.Mosaic.PointOrigin
	}

	m := &manifest.Manifest{
		Reference:       absPath(a.Reference),
		Moving:          absPath(a.Moving),
		Output:          absPath(output),
		Origin:          origin,
		Sampling:        a.Sampling,
		ReferencePoints: refPts,
		MovingPoints:    movPts,
	}
	if a.Overlay != "" {
		m.Overlay = absPath(a.Overlay)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	path := a.SaveManifest
	if path == "" {
		dir, err := os.MkdirTemp(r.cfg.Processing.TempDir, "mosaic-")
		if err != nil {
			return fmt.Errorf("create manifest dir: %w", err)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "merge.mosaic.yaml")
	}
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return r.runManifest(ctx, path, "", true)
}

// runManifest queues one manifest as a merge job, optionally waiting for it.
func (r *Root) runManifest(ctx context.Context, path, output string, wait bool) error {
	job := pipeline.Job{
		ID:        newID("merge"),
		Type:      pipeline.JobMerge,
		InputPath: path,
		Output:    output,
	}
	if !wait {
		return r.enqueue(ctx, job)
	}
	res, err := r.enqueueAndWait(ctx, job)
	if err != nil {
		return err
	}
	r.printMerge(res)
	return nil
}

// run queues every manifest named by paths. Directories are searched for
// manifest files.
func (r *Root) run(ctx context.Context, paths []string, output string, wait bool) error {
	var manifests []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			manifests = append(manifests, p)
			continue
		}
		found, err := fsutil.ListManifests(p)
		if err != nil {
			return err
		}
		manifests = append(manifests, found...)
	}
	if len(manifests) == 0 {
		return errors.New("no manifests found")
	}
	if output != "" && len(manifests) > 1 {
		return errors.New("--output needs a single manifest")
	}

	var failed int
	for _, m := range manifests {
		if err := r.runManifest(ctx, m, output, wait); err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			r.printf("%s: %s\n", m, describe(err))
			r.log.Error("merge failed", "manifest", m, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d merges failed", failed, len(manifests))
	}
	return nil
}

func (r *Root) printMerge(res pipeline.Result) {
	out, _ := res.Meta["output"].(string)
	r.printf("merged %s -> %s", res.Job.InputPath, out)
	if canvas, ok := res.Meta["canvas"].(string); ok {
		r.printf(" (%s", canvas)
		if info, err := os.Stat(out); err == nil {
			r.printf(", %s", humanize.Bytes(uint64(info.Size())))
		}
		r.printf(")")
	}
	r.printf("\n")
	if ov, _ := res.Meta["overlay"].(string); ov != "" {
		r.printf("overlay %s\n", ov)
	}
}

// estimate fits and prints the transform of a manifest.
func (r *Root) estimate(ctx context.Context, path string) error {
	res, err := r.enqueueAndWait(ctx, pipeline.Job{
		ID:        newID("estimate"),
		Type:      pipeline.JobEstimate,
		InputPath: path,
	})
	if err != nil {
		return err
	}
	r.printf("homography:\n")
	if h, ok := res.Meta["homography"].([]float64); ok && len(h) == 9 {
		for row := 0; row < 3; row++ {
			r.printf("  % .6f % .6f % .6f\n", h[row*3], h[row*3+1], h[row*3+2])
		}
	}
	if resid, ok := res.Meta["residuals"].([]float64); ok {
		r.printf("residuals (px):")
		for _, v := range resid {
			r.printf(" %.2g", v)
		}
		r.printf("\n")
	}
	return nil
}

// watch queues a merge for every manifest written into dirs until ctx is done.
func (r *Root) watch(ctx context.Context, dirs []string) error {
	w, err := tasks.NewManifestWatcher(dirs, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	r.log.Info("watching for manifests", "paths", dirs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if err := r.runManifest(ctx, ev.Path, "", false); err != nil {
				r.log.Warn("failed to queue manifest", "path", ev.Path, "error", err)
			}
		}
	}
}

// jobs prints the most recent jobs from the store.
func (r *Root) jobs(limit int) error {
	recs, err := r.store.RecentJobs(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		r.printf("no jobs recorded\n")
		return nil
	}
	for _, rec := range recs {
		r.printf("%-40s %-8s %-9s %-14s %s\n", rec.ID, rec.JobType, rec.Status, humanize.Time(rec.CreatedAt), rec.InputPath)
		if rec.Error != "" {
			r.printf("    error: %s\n", rec.Error)
		}
	}
	return nil
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// describe returns the user-facing text of a merge error, or the raw error
// for failures outside the merge stages.
func describe(err error) string {
	var me *mosaic.MergeError
	if errors.As(err, &me) {
		return me.UserMessage()
	}
	return err.Error()
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// parsePoints reads "x,y" pairs separated by ';' or whitespace.
func parsePoints(s string) ([]geometry.Point2D, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ' ' || r == '\t' })
	if len(fields) != geometry.MaxCorrespondences {
		return nil, fmt.Errorf("need %d points as x,y;x,y;..., got %d", geometry.MaxCorrespondences, len(fields))
	}
	pts := make([]geometry.Point2D, len(fields))
	for i, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("point %q is not x,y", f)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", f, err)
		}
		pts[i] = geometry.Pt(x, y)
	}
	return pts, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
