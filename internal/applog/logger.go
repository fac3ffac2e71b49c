// Package applog builds the structured logger used by cmd/msdemo: pretty
// colored text on a TTY, JSON otherwise, matching the rest of this
// codebase's ambient logging conventions.
package applog

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a logger with configurable level and format.
//
// MESSAGESTORE_LOG_FORMAT options:
//   - "auto"   : pretty colored text on TTY, JSON otherwise (default)
//   - "pretty" : human-friendly colored text
//   - "text"   : slog text
//   - "json"   : structured JSON
func New(level string, format string) *slog.Logger {
	lvl := parseLevel(level)
	h := newHandler(lvl, format)
	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newHandler(level slog.Level, format string) slog.Handler {
	out := os.Stdout
	format = strings.ToLower(strings.TrimSpace(format))
	color := isLikelyTerminal(out)

	if format == "" || format == "auto" {
		if color {
			format = "pretty"
		} else {
			format = "json"
		}
	}

	switch format {
	case "pretty":
		return newPrettyHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: level <= slog.LevelDebug,
		}, color)
	case "text":
		return slog.NewTextHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: level <= slog.LevelDebug,
		})
	default:
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}
}

func isLikelyTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
