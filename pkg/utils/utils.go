// Copyright (c) 2025 A Bit of Help, Inc.

// Package utils provides process helpers for the command line tool: signal driven
// shutdown and atomic file publication.
package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long in-flight work may take after the first signal.
const DefaultGracePeriod = 30 * time.Second

// ShutdownOptions tunes SetupGracefulShutdown.
type ShutdownOptions struct {
	// GracePeriod bounds the time between the first signal and a forced exit
	GracePeriod time.Duration

	// Exit terminates the process; os.Exit when nil
	Exit func(int)
}

// SetupGracefulShutdown cancels ctx on the first SIGINT, SIGTERM, SIGHUP or SIGQUIT.
// A second signal, or an expired grace period, exits the process immediately.
// It returns a function that should be deferred to clean up signal handling.
func SetupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, opts ShutdownOptions) func() {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	// Closed by the exiting goroutine
	done := make(chan struct{})

	go func() {
		defer logger.Debug("Signal handling goroutine exited")

		signaled := false
		var forceExit <-chan time.Time

		for {
			select {
			case sig := <-sigChan:
				if signaled {
					logger.Warn("Received second signal, forcing immediate shutdown",
						zap.String("signal", sig.String()))
					exit(1)
					return
				}
				signaled = true
				logger.Info("Received signal, initiating graceful shutdown",
					zap.String("signal", sig.String()),
					zap.Duration("grace_period", opts.GracePeriod))

				timer := time.NewTimer(opts.GracePeriod)
				defer timer.Stop()
				forceExit = timer.C

				// Pending streaming work observes the cancellation between chunks
				cancel()
			case <-forceExit:
				logger.Warn("Graceful shutdown timed out, forcing exit",
					zap.Duration("grace_period", opts.GracePeriod))
				exit(1)
				return
			case <-ctx.Done():
				if !signaled {
					return
				}
				// Keep listening for a second signal until cleanup runs
				ctx = context.Background()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigChan)
		logger.Debug("Signal handling cleaned up")
	}
}
