// Package logging builds the process-wide structured logger and the
// three-level taxonomy spec §6 requires (INFO, DEBUG, TRACE), extending
// log/slog the same way the teacher's driver code already reaches for it
// (internal/media/plex/plex.go, internal/mediautil/enrich.go) rather than
// pulling in a third-party logging library the teacher never uses itself.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is one tier more verbose than slog's built-in Debug level.
const LevelTrace slog.Level = slog.LevelDebug - 4

// ParseLevel maps a configuration string to a slog.Level. Any value other
// than "INFO", "DEBUG", or "TRACE" (case-insensitive) is a configuration
// error, fatal at startup per spec §6/§7.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of INFO, DEBUG, TRACE", s)
	}
}

// New builds a text-handler logger at the given level, writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}

// Trace logs at LevelTrace.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}
