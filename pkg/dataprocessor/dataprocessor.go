// Copyright (c) 2025 A Bit of Help, Inc.

// Package dataprocessor runs stage transforms with context awareness.
//
// The algorithm packages (compression, seal, serialization) expose plain functions.
// Their *WithContext variants route through this package so that a canceled or expired
// context returns promptly, and a panicking codec surfaces as an error instead of
// taking the process down.
package dataprocessor

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

// drainTimeout bounds how long a canceled call waits for its worker goroutine.
const drainTimeout = 5 * time.Second

// ProcessWithContext executes a byte transform with context awareness
func ProcessWithContext(ctx context.Context, processFunc func([]byte) ([]byte, error), data []byte) ([]byte, error) {
	return Run(ctx, func() ([]byte, error) {
		return processFunc(data)
	})
}

// Run executes fn on a separate goroutine and returns its result, unless ctx ends first.
// A panic inside fn is recovered and reported as ErrPanic. On any error the zero value
// of T is returned so callers never observe partial output.
func Run[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	// Check if context is already canceled
	if err := perrors.FromContext(ctx); err != nil {
		return zero, err
	}

	done := make(chan struct{})
	var result T
	var processErr error

	// The WaitGroup lets a canceled call wait for the goroutine instead of leaking it
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				processErr = fmt.Errorf("%w in data processing: %v\nstack: %s", perrors.ErrPanic, r, debug.Stack())
			}
		}()

		result, processErr = fn()
	}()

	select {
	case <-done:
		if processErr != nil {
			return zero, processErr
		}
		return result, nil
	case <-ctx.Done():
		waitDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(waitDone)
		}()

		select {
		case <-waitDone:
		case <-time.After(drainTimeout):
			// No logger is available at this layer
			fmt.Fprintf(os.Stderr, "Warning: Timed out waiting for processing goroutine to complete\n")
		}

		return zero, fmt.Errorf("while processing data: %w", perrors.FromContext(ctx))
	}
}
