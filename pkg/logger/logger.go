// Package logger configures slog for the pipeline and carries the run ID
// through contexts so every line logged during a run can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type runIDKey struct{}

// New builds a logger writing to w. format is "json" or "text"; level is
// debug, info, warn or error (anything else means info).
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a stdout logger as the slog default.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// WithRunID stores the run identifier in ctx so that loggers derived from it
// are tagged with run_id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunID(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey{}).(string)
	return runID
}

// FromContext returns the default logger, tagged with run_id when ctx has one.
func FromContext(ctx context.Context) *slog.Logger {
	if runID := RunID(ctx); runID != "" {
		return slog.Default().With("run_id", runID)
	}
	return slog.Default()
}

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
