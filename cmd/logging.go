package cmd

import (
	"log/slog"
	"os"
	"strings"
)

// logLevel is shared by the installed handler so the interactive mode can
// change verbosity on config reload.
var logLevel = new(slog.LevelVar)

func setupLogging(level, format string) {
	logLevel.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
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
