// Package logging configures the structured slog logger shared by every
// MediaBus component.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel normalizes a log level string into slog.Level.
// Unknown values return slog.LevelInfo with an error.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	if s == "" {
		return slog.LevelInfo, nil
	}
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level")
	}
}

// Options controls handler construction. Writer defaults to stderr.
type Options struct {
	Level       string
	Component   string
	JSON        bool
	Writer      io.Writer
	DefaultSlog bool
}

// New builds a slog.Logger tagged with a "component" attribute so that
// the pairing/runtime/httpsurface/supervisor subsystems can be told apart
// in a shared log stream.
func New(opt Options) (*slog.Logger, slog.Level, error) {
	level, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, 0, err
	}
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}

	lo := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var h slog.Handler
	if opt.JSON {
		h = slog.NewJSONHandler(w, lo)
	} else {
		h = slog.NewTextHandler(w, lo)
	}
	lg := slog.New(h)
	if opt.Component != "" {
		lg = lg.With("component", opt.Component)
	}
	if opt.DefaultSlog {
		slog.SetDefault(lg)
	}
	return lg, level, nil
}

// ScrubSecrets checks that a log message does not carry a forbidden
// substring (session cookie byte, challenge token, signing secret). It is
// a defensive test hook, not a redaction filter — callers must never pass
// secret material into log attributes in the first place.
func ScrubSecrets(msg string, secrets ...string) bool {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
