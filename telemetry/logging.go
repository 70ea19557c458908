// Package telemetry carries the observability side of the engine: process
// logger setup plus Observer implementations for metrics and tracing. The
// engine itself only exposes the hook points.
package telemetry

import (
	"log/slog"
	"os"
)

// LogLevel resolves the logging level from the LOG_LEVEL environment
// variable (DEBUG, INFO, WARN, ERROR; default INFO).
func LogLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger initializes the process-wide logger. LOG_FORMAT selects the
// handler: "text" for development, anything else for JSON.
func SetupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithRunID returns a logger with the run id attached.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}
