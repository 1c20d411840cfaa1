// Package runlog provides per-run structured logging: a text stream on
// stderr for the operator and a JSON-lines file in the run's output
// directory for later inspection.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a short unique run identifier.
func NewRunID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])[:12]
}

// Logger wraps the two sinks for one run. It is passed explicitly through
// the pipeline; there is no process-global logger state.
type Logger struct {
	log  *slog.Logger
	file io.Closer
}

// Setup creates the output directory, opens run.jsonl inside it and
// returns a logger bound to the run ID. The stderr stream logs at Info
// unless debug is set.
func Setup(outDir, runID string, debug bool) (*Logger, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %q: %w", outDir, err)
	}
	f, err := os.OpenFile(filepath.Join(outDir, "run.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run.jsonl: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := fanoutHandler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	log := slog.New(handler).With("run_id", runID)
	return &Logger{log: log, file: f}, nil
}

// NewDiscard returns a logger that drops everything; for tests.
func NewDiscard() *Logger {
	return &Logger{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close flushes and closes the JSON sink.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Info logs an informational event.
func (l *Logger) Info(msg string, args ...any) { l.log.Info(msg, args...) }

// Debug logs a debug event.
func (l *Logger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }

// Error logs an error event.
func (l *Logger) Error(msg string, args ...any) { l.log.Error(msg, args...) }

// Stage runs fn surrounded by stage_start / stage_end events carrying the
// stage name and duration; a failure logs stage_failed and returns the
// error unchanged.
func (l *Logger) Stage(stage string, fn func() error) error {
	started := time.Now()
	l.log.Info("stage_start", "event", stage+".start", "stage", stage, "status", "started")
	if err := fn(); err != nil {
		l.log.Error("stage_failed",
			"event", stage+".error",
			"stage", stage,
			"status", "failed",
			"duration_ms", durationMS(started),
			"error", err.Error())
		return err
	}
	l.log.Info("stage_end",
		"event", stage+".end",
		"stage", stage,
		"status", "ok",
		"duration_ms", durationMS(started))
	return nil
}

func durationMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}

// fanoutHandler forwards each record to every underlying handler that
// accepts its level.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, hh := range h {
		if !hh.Enabled(ctx, record.Level) {
			continue
		}
		if err := hh.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
