// Package logging builds the structured logger shared by every subsystem.
// Components take a *slog.Logger in their constructor (the way
// 0xtitan6-polymarket-mm threads a logger into NewClient) instead of
// calling package-level log.* the way the teacher bot does.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Options controls handler selection; zero value is sane for local dev.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // "text" (default) or "json"
}

// New builds a *slog.Logger writing to stderr.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		h = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
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

// Component returns a child logger tagged with its subsystem name, matching
// the teacher's "[module]" log-line prefix convention from spec §7.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}
