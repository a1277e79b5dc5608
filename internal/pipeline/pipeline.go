// Package pipeline runs merge and estimate jobs on a fixed pool of workers and
// fans their results out to subscribers.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ajbt200128/mosaic/internal/logging"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	// JobMerge renders the composite described by a manifest.
	JobMerge JobType = "merge"
	// JobEstimate fits the transform of a manifest without rendering.
	JobEstimate JobType = "estimate"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// Job states as stored in processing_jobs.
const (
	statusQueued    = "queued"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Job is one queued request. InputPath names the manifest.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline dispatches jobs to workers and records them in the store when one is set.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline with the given concurrency. Merge jobs render with opts.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, opts mosaic.Options) *Pipeline {
	return newPipeline(ctx, concurrency, logger, store, newRouter(logger, store, opts))
}

func newPipeline(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit queues job for the workers. The job is recorded as queued even when
// the queue turns out to be full, so the store shows what was refused.
func (p *Pipeline) Submit(job Job) error {
	p.record(func(s *storage.Store) error {
		opts, _ := json.Marshal(job.Options)
		return s.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      statusQueued,
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(opts),
		})
	})

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running jobs, waits for the workers and closes every subscriber.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, id, job))
		}
	}
}

// run processes one job and records how it ended.
func (p *Pipeline) run(ctx context.Context, worker int, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)
	p.record(func(s *storage.Store) error { return s.RecordJobStart(job.ID) })

	res := p.processor.Process(ctx, job)
	elapsed := time.Since(start)

	status, msg := statusCompleted, ""
	if res.Error != nil {
		status, msg = statusFailed, res.Error.Error()
		logging.LogJobError(p.log, string(job.Type), job.ID, elapsed, res.Error, map[string]any{
			"manifest": job.InputPath,
			"output":   job.Output,
			"worker":   worker,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, elapsed, res.Meta)
	}
	p.record(func(s *storage.Store) error { return s.RecordJobResult(job.ID, status, res.Meta, msg) })
	return res
}

// record runs fn against the store, if any. Store failures never fail a job.
func (p *Pipeline) record(fn func(*storage.Store) error) {
	if p.store == nil {
		return
	}
	if err := fn(p.store); err != nil {
		p.log.Warn("job record failed", "error", err)
	}
}

// Subscribe returns a buffered channel of job results and a func that closes it.
// Results are dropped for a subscriber whose buffer is full.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
