// Package logging builds the structured loggers used across featmatch.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with featmatch-specific field helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to w. format is "text" or "json"; level is
// one of debug, info, warn, error.
func New(level, format string, w io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return &Logger{Logger: slog.New(handler)}, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// WithRun tags every record with the run identifier.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", runID)}
}

// WithImage adds an image field.
func (l *Logger) WithImage(image string) *Logger {
	return &Logger{Logger: l.Logger.With("image", image)}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored by NewContext, or fallback when ctx
// carries none.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return fallback
}

// LogLookup logs a match-result cache lookup.
func (l *Logger) LogLookup(ctx context.Context, key string, count int, hit bool, err error) {
	switch {
	case err != nil:
		l.WarnContext(ctx, "result cache lookup failed", "key", key, "error", err)
	case hit:
		l.InfoContext(ctx, "result cache hit", "key", key, "count", count)
	default:
		l.DebugContext(ctx, "result cache miss", "key", key)
	}
}

// LogDescriptors logs a descriptor load or computation. The image is
// expected on the logger, see WithImage.
func (l *Logger) LogDescriptors(ctx context.Context, n int, computed bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "descriptor load failed", "error", err)
	case computed:
		l.InfoContext(ctx, "descriptors computed", "descriptors", n)
	default:
		l.DebugContext(ctx, "descriptors loaded from cache", "descriptors", n)
	}
}
