// Copyright (c) 2025 A Bit of Help, Inc.

// Package logger provides logging functionality for the application
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel is the level used when none is configured
const DefaultLevel = "info"

func productionConfig(level zapcore.Level) zap.Config {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config
}

// InitLoggerWithLevel builds the production logger at the named level, such as
// "debug" or "warn". An empty name selects DefaultLevel.
func InitLoggerWithLevel(level string) (*zap.Logger, error) {
	if level == "" {
		level = DefaultLevel
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return productionConfig(parsed).Build()
}

// InitLogger returns the production logger at DefaultLevel. If it cannot be built
// the failure goes to stderr and a no-op logger is returned.
func InitLogger() *zap.Logger {
	logger, err := InitLoggerWithLevel(DefaultLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

// SafeSync syncs the logger and ignores "bad file descriptor" errors
// which can occur during shutdown when stderr is already closed
func SafeSync(logger *zap.Logger) {
	if logger == nil {
		return
	}

	// Ignore "bad file descriptor" errors which can happen during shutdown
	if err := logger.Sync(); err != nil && err.Error() != "sync /dev/stderr: bad file descriptor" {
		// Can't use logger here as we're syncing it
		fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
	}
}
