package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/pipeline"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
	"github.com/ajbt200128/mosaic/internal/web"
)

// JobQueue is the part of the pipeline the server drives.
type JobQueue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Options configures a Server.
type Options struct {
	Addr string
	// Merge is used for every interactive session.
	Merge mosaic.Options
	// Origin is the default coordinate origin of posted points. Empty falls
	// back to Merge.PointOrigin, then to bottom-left.
	Origin string
	// WatchPaths are directories whose new manifests are queued as merge jobs.
	WatchPaths []string
}

// Server exposes merge sessions, job submission and result streams over HTTP.
type Server struct {
	opts     Options
	store    *storage.Store
	pipeline JobQueue
	hub      *web.Hub
	watcher  *tasks.ManifestWatcher
	log      *slog.Logger
	server   *http.Server

	mu       sync.RWMutex
	sessions map[string]*mosaic.Session
}

// NewServer creates a server. A nil store disables job listing.
func NewServer(opts Options, store *storage.Store, pipe JobQueue, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Origin == "" {
		opts.Origin = opts.Merge.PointOrigin
	}
	if opts.Origin == "" {
		opts.Origin = config.OriginBottomLeft
	}
	s := &Server{
		opts:     opts,
		store:    store,
		pipeline: pipe,
		hub:      web.NewHub(log),
		log:      log,
		sessions: make(map[string]*mosaic.Session),
	}

	if len(opts.WatchPaths) > 0 {
		w, err := tasks.NewManifestWatcher(opts.WatchPaths, log)
		if err != nil {
			return nil, err
		}
		s.watcher = w
		log.Info("manifest watcher initialized", "paths", opts.WatchPaths)
	}

	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx)
	go s.forwardResults(ctx)

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.log.Error("failed to start manifest watcher", "error", err)
			return err
		}
		go s.queueWatchedManifests(ctx)
	}

	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")

		if s.watcher != nil {
			s.watcher.Stop()
		}

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.opts.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/points", s.handlePick).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/points", s.handleResetPoints).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/merge", s.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/composite", s.handleComposite).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/preview/{side}", s.handlePreview).Methods(http.MethodGet)

	r.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleJobStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
}

// Serve starts a server with no watched directories.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe JobQueue, merge mosaic.Options, log *slog.Logger) error {
	server, err := NewServer(Options{Addr: addr, Merge: merge}, store, pipe, log)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// jobEvent is the wire form of a pipeline result.
type jobEvent struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Input  string         `json:"input"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func newJobEvent(res pipeline.Result) jobEvent {
	ev := jobEvent{
		ID:     res.Job.ID,
		Type:   string(res.Job.Type),
		Input:  res.Job.InputPath,
		Output: res.Job.Output,
		Meta:   res.Meta,
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	return ev
}

type submitRequest struct {
	Type     string `json:"type"`
	Manifest string `json:"manifest"`
	Output   string `json:"output,omitempty"`
	Overlay  string `json:"overlay,omitempty"`
	Sampling string `json:"sampling,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job request: "+err.Error())
		return
	}
	jobType := pipeline.JobType(req.Type)
	if jobType == "" {
		jobType = pipeline.JobMerge
	}
	if jobType != pipeline.JobMerge && jobType != pipeline.JobEstimate {
		writeError(w, http.StatusBadRequest, "unknown job type "+strconv.Quote(req.Type))
		return
	}
	if req.Manifest == "" {
		writeError(w, http.StatusBadRequest, "manifest is required")
		return
	}

	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		InputPath: req.Manifest,
		Output:    req.Output,
		Options:   map[string]any{},
	}
	if req.Overlay != "" {
		job.Options["overlay"] = req.Overlay
	}
	if req.Sampling != "" {
		job.Options["sampling"] = req.Sampling
	}
	if err := s.pipeline.Submit(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no result for job "+id)
		return
	}
	ref, mov, err := s.store.Correspondences(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               id,
		"meta":             meta,
		"reference_points": ref,
		"moving_points":    mov,
	})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newJobEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// forwardResults relays pipeline results to websocket clients.
func (s *Server) forwardResults(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(newJobEvent(res))
			if err != nil {
				s.log.Warn("failed to encode job event", "job", res.Job.ID, "error", err)
				continue
			}
			s.hub.Broadcast(payload)
		}
	}
}

// queueWatchedManifests turns manifests dropped into watched directories into
// merge jobs.
func (s *Server) queueWatchedManifests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			job := pipeline.Job{ID: uuid.NewString(), Type: pipeline.JobMerge, InputPath: ev.Path}
			if err := s.pipeline.Submit(job); err != nil {
				s.log.Warn("failed to queue watched manifest", "path", ev.Path, "error", err)
				continue
			}
			s.log.Info("queued watched manifest", "path", ev.Path, "job", job.ID, "operation", ev.Operation)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
