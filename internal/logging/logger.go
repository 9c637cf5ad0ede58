package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithConnection returns a logger scoped to one panel connection and its session.
func WithConnection(connID, sessionID string) *slog.Logger {
	return slog.With(
		"conn_id", connID,
		"session_id", sessionID,
	)
}

// WithCommand returns a logger scoped to a single inbound command.
func WithCommand(logger *slog.Logger, msgType string) *slog.Logger {
	return logger.With("msg_type", msgType)
}
