// Package logging builds the JSON event logger shared by the binaries. Each
// record is one object of the form
//
//	{"level":"info","message":"Issue synced to Notion","event":"issue.synced",...}
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewEventHandler returns a JSON handler that drops the timestamp, renames
// msg to message and writes lower-case levels with WARN as "warning".
func NewEventHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceEventAttr,
	})
}

func replaceEventAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.Attr{}
	case slog.MessageKey:
		a.Key = "message"
	case slog.LevelKey:
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(level))
		}
	}
	return a
}

// LevelName renders a level the way events spell it.
func LevelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warning"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// New is the common constructor used by the binaries.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewEventHandler(w, level))
}
