package tasks

import (
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ajbt200128/mosaic/internal/fsutil"
)

// FileSystemEvent represents a manifest appearing or changing on disk.
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
	Size      int64     `json:"size"`
}

// ManifestWatcher monitors directories for merge manifests.
type ManifestWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FileSystemEvent
	watchDirs []string
	done      chan struct{}
	log       *slog.Logger
}

// NewManifestWatcher creates a watcher over watchPaths. Call Start to begin.
func NewManifestWatcher(watchPaths []string, logger *slog.Logger) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ManifestWatcher{
		watcher:   watcher,
		Events:    make(chan FileSystemEvent, 100),
		watchDirs: watchPaths,
		done:      make(chan struct{}),
		log:       logger,
	}, nil
}

// Start begins monitoring the configured directories.
func (w *ManifestWatcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}

	go w.processEvents()

	return nil
}

// Stop stops the watcher. Events is closed once the event loop has exited.
func (w *ManifestWatcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *ManifestWatcher) processEvents() {
	defer close(w.Events)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}

			if !fsutil.IsManifestFile(event.Name) {
				continue
			}

			var size int64
			if info, err := os.Stat(event.Name); err == nil {
				size = info.Size()
			}

			fsEvent := FileSystemEvent{
				Path:      event.Name,
				Operation: operation,
				Time:      time.Now(),
				Size:      size,
			}

			select {
			case w.Events <- fsEvent:
			case <-w.done:
				return
			default:
				w.log.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}
