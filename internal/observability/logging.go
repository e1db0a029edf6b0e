// Package observability builds the structured loggers used by the host and client binaries.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/lobby/internal/config"
)

// Process names attached to every entry a binary logs.
const (
	ProcessHost   = "sessionhost"
	ProcessClient = "sessionclient"
)

// NewLogger creates a structured logger from the given logging configuration. Every entry
// carries a "process" field naming the binary; opts are applied when the logger is built.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, process string, opts ...zap.Option) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Roster churn is routine; stack traces are kept for errors only.
	zapCfg.DisableStacktrace = level > zapcore.DebugLevel

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	if process != "" {
		logger = logger.With(zap.String("process", process))
	}
	return logger, nil
}

// ForRole returns logger tagged with the session role ("host" or "client") and, when
// non-empty, the session id, so host and client lines from one process can be told apart.
func ForRole(logger *zap.Logger, role, sessionID string) *zap.Logger {
	fields := []zap.Field{zap.String("role", role)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return logger.With(fields...)
}
