// Package logging configures the process-wide slog logger used by all
// three WOPA tiers.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger for service, tagging every record
// with the service name. JSON output is used when WOPA_JSON_LOG is set to
// 1/true/json, otherwise text.
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("WOPA_JSON_LOG"))
	json := mode == "1" || mode == "true" || mode == "json"

	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", json)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("WOPA_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
