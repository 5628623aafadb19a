// Package log constructs the structured loggers used across the runtime.
//
// Components take a *zap.Logger and tag their records with a 'component'
// field so logs from the client, server, and pool can be told apart. The
// client's reader and correlator add a 'role' field on top.
// Tests pass zap.NewNop().
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger writing JSON records to stderr, filtered at
// the given minimum level ('debug', 'info', 'warn' or 'error').
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)
	return cfg.Build()
}

// WithComponent tags all records from the returned logger with the component
// that emitted them.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}
