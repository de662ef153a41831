// Copyright (c) 2025 A Bit of Help, Inc.

package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

func TestStageError(t *testing.T) {
	baseErr := fmt.Errorf("%w: tag mismatch", ErrIntegrityViolation)
	se := NewStageError(baseErr, stage.KindSeal, 1, "hmac", "decode", 64)

	if se.Err != baseErr {
		t.Errorf("Expected Err to be %v, got %v", baseErr, se.Err)
	}
	if se.Stage != stage.KindSeal {
		t.Errorf("Expected Stage to be %v, got %v", stage.KindSeal, se.Stage)
	}
	if se.AlgorithmID != 1 {
		t.Errorf("Expected AlgorithmID to be %d, got %d", 1, se.AlgorithmID)
	}
	if se.Operation != "decode" {
		t.Errorf("Expected Operation to be %s, got %s", "decode", se.Operation)
	}
	if se.DataSize != 64 {
		t.Errorf("Expected DataSize to be %d, got %d", 64, se.DataSize)
	}
	if se.Time.IsZero() {
		t.Error("Expected Time to be set")
	}

	msg := se.Error()
	for _, want := range []string{"decode", "seal", "hmac", "id=1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in error message, got %q", want, msg)
		}
	}

	var err error = se
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Error("Expected StageError to unwrap to ErrIntegrityViolation")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	got, ok := AsStageError(wrapped)
	if !ok || got != se {
		t.Errorf("Expected AsStageError to find %v, got %v", se, got)
	}
	if _, ok := AsStageError(errors.New("plain")); ok {
		t.Error("Expected AsStageError to fail on a plain error")
	}
}

func TestStageErrorUnknownAlgorithmName(t *testing.T) {
	se := NewStageError(ErrUnknownAlgorithm, stage.KindCompress, 77, "", "decode", 0)
	if !strings.Contains(se.Error(), "algorithm=?") {
		t.Errorf("Expected placeholder algorithm name, got %q", se.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"integrity", ErrIntegrityViolation, true},
		{"not a container", ErrNotAContainer, true},
		{"truncated", fmt.Errorf("wrapped: %w", ErrTruncatedContainer), true},
		{"unresolvable", NewStageError(ErrUnresolvableStage, stage.KindCompress, 9, "", "decode", 0), true},
		{"key", ErrKey, false},
		{"canceled", ErrCanceled, false},
		{"other", errors.New("some other error"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFatal(tc.err); got != tc.expected {
				t.Errorf("IsFatal(%v) = %v, expected %v", tc.err, got, tc.expected)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	if err := FromContext(context.Background()); err != nil {
		t.Errorf("Expected nil for live context, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FromContext(ctx); !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected ErrCanceled wrapping context.Canceled, got %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	if err := FromContext(ctx); !IsTimeoutError(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestIsIOError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrIOFailure", ErrIOFailure, true},
		{"PathError", &os.PathError{Op: "open", Path: "nonexistent", Err: os.ErrNotExist}, true},
		{"Other error", errors.New("some other error"), false},
		{"Wrapped IO error", fmt.Errorf("wrapped: %w", ErrIOFailure), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := IsIOError(tc.err)
			if result != tc.expected {
				t.Errorf("IsIOError(%v) = %v, expected %v", tc.err, result, tc.expected)
			}
		})
	}
}

func TestIsTimeoutError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrTimeout", ErrTimeout, true},
		{"DeadlineExceeded", context.DeadlineExceeded, true},
		{"Other error", errors.New("some other error"), false},
		{"Wrapped timeout error", fmt.Errorf("wrapped: %w", ErrTimeout), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := IsTimeoutError(tc.err)
			if result != tc.expected {
				t.Errorf("IsTimeoutError(%v) = %v, expected %v", tc.err, result, tc.expected)
			}
		})
	}
}

func TestIsCancellationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrCanceled", ErrCanceled, true},
		{"Canceled", context.Canceled, true},
		{"Other error", errors.New("some other error"), false},
		{"Wrapped cancel error", fmt.Errorf("wrapped: %w", ErrCanceled), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := IsCancellationError(tc.err)
			if result != tc.expected {
				t.Errorf("IsCancellationError(%v) = %v, expected %v", tc.err, result, tc.expected)
			}
		})
	}
}

func TestErrorCollector(t *testing.T) {
	// Test NewErrorCollector
	ec := NewErrorCollector()
	if ec == nil {
		t.Fatal("NewErrorCollector() returned nil")
	}

	// Test HasErrors when empty
	if ec.HasErrors() {
		t.Error("New ErrorCollector should not have errors")
	}

	// Test Error when empty
	if ec.Error() != "no errors" {
		t.Errorf("Expected 'no errors', got '%s'", ec.Error())
	}

	// Test Add with nil
	ec.Add(nil)
	if ec.HasErrors() {
		t.Error("ErrorCollector should not have errors after adding nil")
	}

	// Test Add with error
	err1 := errors.New("error 1")
	ec.Add(err1)

	// Test HasErrors after adding
	if !ec.HasErrors() {
		t.Error("ErrorCollector should have errors after Add")
	}

	// Test Error with one error
	if ec.Error() != err1.Error() {
		t.Errorf("Expected '%s', got '%s'", err1.Error(), ec.Error())
	}

	// Test Errors
	errs := ec.Errors()
	if len(errs) != 1 || errs[0] != err1 {
		t.Errorf("Expected [%v], got %v", []error{err1}, errs)
	}

	// Add another error
	err2 := errors.New("error 2")
	ec.Add(err2)

	// Test Error with multiple errors
	errorMsg := ec.Error()
	if errorMsg == "" {
		t.Error("Error() returned empty string")
	}
	if len(ec.Errors()) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(ec.Errors()))
	}

	if ec.Err() == nil {
		t.Error("Expected Err() to return the collector")
	}
	if NewErrorCollector().Err() != nil {
		t.Error("Expected Err() to be nil for an empty collector")
	}
}

func TestErrorCollector_Unwrap(t *testing.T) {
	ec := NewErrorCollector()
	ec.Add(fmt.Errorf("chunk 3: %w", ErrCompression))
	ec.Add(NewStageError(ErrKey, stage.KindSeal, 1, "hmac", "encode", 0))

	if !errors.Is(ec.Err(), ErrCompression) || !errors.Is(ec.Err(), ErrKey) {
		t.Error("Expected errors.Is to see every collected error")
	}
	if _, ok := AsStageError(ec.Err()); !ok {
		t.Error("Expected errors.As to find the StageError")
	}
}
