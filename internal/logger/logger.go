// Package logger builds the slog loggers used by the relay binaries and
// provides attribute helpers for the fields that show up in most records.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler used to render records.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type config struct {
	out       io.Writer
	level     slog.Level
	format    Format
	component string
}

// Option configures New.
type Option func(*config)

// WithOutput sets the destination writer. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.out = w
		}
	}
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithFormat selects text or JSON output. Unknown values fall back to text.
func WithFormat(format string) Option {
	return func(c *config) {
		if Format(strings.ToLower(format)) == FormatJSON {
			c.format = FormatJSON
			return
		}
		c.format = FormatText
	}
}

// WithComponent tags every record with a component attribute.
func WithComponent(name string) Option {
	return func(c *config) {
		c.component = name
	}
}

// New returns a configured logger.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		out:    os.Stderr,
		level:  slog.LevelInfo,
		format: FormatText,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var h slog.Handler
	if cfg.format == FormatJSON {
		h = slog.NewJSONHandler(cfg.out, handlerOpts)
	} else {
		h = slog.NewTextHandler(cfg.out, handlerOpts)
	}

	log := slog.New(h)
	if cfg.component != "" {
		log = log.With(Component(cfg.component))
	}
	return log
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
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

// Discard returns a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
