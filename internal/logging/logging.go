package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var (
	once sync.Once
	base *slog.Logger
)

type Options struct {
	Component string
	FilePath  string
	Level     string
	// Stderr mirrors log records to stderr in addition to the file.
	Stderr bool
}

// Init configures the global logger exactly once. Stdout is left to command
// output, so records go to a rotating file.
func Init(opts Options) *slog.Logger {
	once.Do(func() {
		var writers []io.Writer
		if opts.FilePath != "" {
			_ = os.MkdirAll(filepath.Dir(opts.FilePath), 0o755)
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			})
		}
		if opts.Stderr {
			writers = append(writers, os.Stderr)
		}
		var w io.Writer = io.Discard
		if len(writers) > 0 {
			w = io.MultiWriter(writers...)
		}

		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
		component := opts.Component
		if component == "" {
			component = "macrobox"
		}
		base = slog.New(h).With("component", component)
	})
	return base
}

// Base returns the global logger. Before Init it discards everything, which
// keeps library packages quiet under tests.
func Base() *slog.Logger {
	if base == nil {
		return discard
	}
	return base
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// New returns a child logger that reuses the global handler.
func New(component string) *slog.Logger {
	return Base().With("component", component)
}

func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx fetches a logger from ctx or falls back to the global one.
func FromCtx(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Base()
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
