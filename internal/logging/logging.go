// Package logging builds the slog logger used by the CLI and the collectors.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the console encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config describes the logger.
type Config struct {
	Level  slog.Level
	Format Format
	// Writer receives console output. Defaults to os.Stderr.
	Writer io.Writer
	// File, when set, receives a JSON copy of every record at debug level.
	File io.Writer
}

// New returns a logger for cfg.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var console slog.Handler
	if cfg.Format == FormatJSON {
		console = slog.NewJSONHandler(w, opts)
	} else {
		console = slog.NewTextHandler(w, opts)
	}
	if cfg.File == nil {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(cfg.File, &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true})
	return slog.New(Tee(console, file))
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseFormat accepts text or json.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// teeHandler fans every record out to several handlers.
type teeHandler struct {
	handlers []slog.Handler
}

// Tee returns a handler that writes to all of hs.
func Tee(hs ...slog.Handler) slog.Handler {
	return &teeHandler{handlers: hs}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sub := range h.handlers {
		if !sub.Enabled(ctx, r.Level) {
			continue
		}
		// Each handler gets its own copy of the attrs.
		if err := sub.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := &teeHandler{handlers: make([]slog.Handler, len(h.handlers))}
	for i, sub := range h.handlers {
		h2.handlers[i] = sub.WithAttrs(attrs)
	}
	return h2
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := &teeHandler{handlers: make([]slog.Handler, len(h.handlers))}
	for i, sub := range h.handlers {
		h2.handlers[i] = sub.WithGroup(name)
	}
	return h2
}
