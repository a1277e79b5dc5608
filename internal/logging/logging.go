// Package logging builds the slog loggers used across the service and the
// helpers that give job and merge log lines a common shape.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ajbt200128/mosaic/internal/config"
)

// New returns a stdout logger. level is debug, info, warn or error; format
// is json or text.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Setup installs the process-wide logger described by cfg.Logging. Output
// always goes to stdout; with file output on it is also appended to
// mosaic-YYYY-MM-DD.log, which mosaic-current.log points at.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	lc := cfg.Logging
	level := parseLevel(lc.Level)

	out := io.Writer(os.Stdout)
	if lc.FileOutput {
		file, err := openDatedLog(lc.LogDir, time.Now())
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	var handler slog.Handler = NewTraditionalHandler(out, level)
	if strings.EqualFold(lc.Format, "json") {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("logging initialized",
		"level", lc.Level,
		"format", lc.Format,
		"file_output", lc.FileOutput,
		"log_dir", lc.LogDir,
	)
	return logger, nil
}

// openDatedLog opens the log file for day in dir and repoints the
// mosaic-current.log symlink at it.
func openDatedLog(dir string, day time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("mosaic-%s.log", day.Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	current := filepath.Join(dir, "mosaic-current.log")
	_ = os.Remove(current)
	_ = os.Symlink(name, current)
	return file, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting:
// "[LEVEL] message [k=v ...]".
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []string
}

// NewTraditionalHandler writes to w with the standard date/time prefix.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key+"="+a.Value.String())
		return true
	})
	msg := r.Message
	if len(attrs) > 0 {
		msg += " [" + strings.Join(attrs, " ") + "]"
	}
	h.logger.Printf("[%s] %s", r.Level, msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, a.Key+"="+a.Value.String())
	}
	return &next
}

// WithGroup flattens groups into the parent's attributes.
func (h *TraditionalHandler) WithGroup(string) slog.Handler { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs a job leaving the queue.
func LogJobStart(logger *slog.Logger, jobType, jobID, manifest, output string, options map[string]any) {
	logger.Info("job started", "type", jobType, "id", jobID, "manifest", manifest, "output", output, "options", options)
}

// LogJobComplete logs a finished job with its result metadata.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, elapsed time.Duration, meta map[string]any) {
	logger.Info("job completed",
		"type", jobType,
		"id", jobID,
		"duration_ms", elapsed.Milliseconds(),
		"result", meta,
	)
}

func LogJobError(logger *slog.Logger, jobType, jobID string, elapsed time.Duration, err error, details map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", elapsed.Milliseconds(),
		"error", err.Error(),
		"details", details,
	)
}

// LogProcessingStep logs bookkeeping around a job, such as recording its points.
func LogProcessingStep(logger *slog.Logger, jobID, step, status string, details map[string]any) {
	logger.Debug("job step", "job_id", jobID, "step", step, "status", status, "details", details)
}

// LogMergeStage logs one finished stage of a merge. bytes is the size of the
// buffer the stage produced, zero when it produced none.
func LogMergeStage(logger *slog.Logger, jobID, stage string, duration time.Duration, bytes int) {
	attrs := []any{
		"job_id", jobID,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
	}
	if bytes > 0 {
		attrs = append(attrs, "buffer", humanize.Bytes(uint64(bytes)))
	}
	logger.Debug("merge stage", attrs...)
}
