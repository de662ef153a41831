// Copyright (c) 2025 A Bit of Help, Inc.

// Package errors provides the error taxonomy shared by every stage of the container pipeline.
//
// Leaf packages wrap one of the sentinel values below with their cause. The orchestrator then
// wraps that error in a StageError carrying the stage kind and algorithm id, so callers can
// match with errors.Is on the sentinel and errors.As on the StageError.
package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Standard errors that can be used for comparison with errors.Is
var (
	// ErrNotAContainer indicates the input does not start with the container magic
	ErrNotAContainer = errors.New("not a container")

	// ErrUnknownFormatVersion indicates the container format version is not supported
	ErrUnknownFormatVersion = errors.New("unknown container format version")

	// ErrTruncatedContainer indicates declared and actual lengths disagree
	ErrTruncatedContainer = errors.New("truncated container")

	// ErrStageOrder indicates descriptors violate serialize, compress, seal ordering
	ErrStageOrder = errors.New("invalid stage order")

	// ErrDuplicateAlgorithm indicates an algorithm id or name is already registered
	ErrDuplicateAlgorithm = errors.New("duplicate algorithm")

	// ErrUnknownAlgorithm indicates the registry has no entry for an algorithm
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrUnresolvableStage indicates a container references a stage this build cannot apply
	ErrUnresolvableStage = errors.New("unresolvable stage")

	// ErrRegistryFrozen indicates registration was attempted after initialization completed
	ErrRegistryFrozen = errors.New("registry frozen")

	// ErrUnknownSchema indicates the schema source has no definition for a schema id
	ErrUnknownSchema = errors.New("unknown schema")

	// ErrSchemaVersion indicates a schema version newer than the local definition
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrInvalidRecord indicates a record does not match its schema layout
	ErrInvalidRecord = errors.New("invalid record")

	// ErrCompression indicates a compression algorithm failed
	ErrCompression = errors.New("compression failed")

	// ErrUnsupportedParameter indicates a stage parameter is outside the algorithm's range
	ErrUnsupportedParameter = errors.New("unsupported parameter")

	// ErrIntegrityViolation indicates an authentication tag did not verify
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrKey indicates key material is absent or has the wrong length
	ErrKey = errors.New("invalid key material")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrIOFailure indicates an I/O operation failed
	ErrIOFailure = errors.New("I/O operation failed")

	// ErrPipelineBlocked indicates a worker stage could not hand off its output
	ErrPipelineBlocked = errors.New("pipeline stage blocked")

	// ErrPanic indicates a panic occurred
	ErrPanic = errors.New("panic occurred")
)

// StageError represents a failure in one stage of an encode or decode call
type StageError struct {
	// Err is the underlying error
	Err error

	// Stage is the kind of stage that failed
	Stage stage.Kind

	// AlgorithmID is the registry id of the algorithm in use
	AlgorithmID stage.AlgorithmID

	// Algorithm is the registered name of the algorithm, if known
	Algorithm string

	// Operation is the operation being performed, such as encode or decode
	Operation string

	// DataSize is the size of the input handed to the stage
	DataSize int

	// Time is when the error occurred
	Time time.Time
}

// Error implements the error interface
func (e *StageError) Error() string {
	name := e.Algorithm
	if name == "" {
		name = "?"
	}
	return fmt.Sprintf("%s: %s stage failed (algorithm=%s, id=%d, size=%d): %v",
		e.Operation,
		e.Stage,
		name,
		e.AlgorithmID,
		e.DataSize,
		e.Err)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError
func NewStageError(err error, kind stage.Kind, id stage.AlgorithmID, algorithm, operation string, dataSize int) *StageError {
	return &StageError{
		Err:         err,
		Stage:       kind,
		AlgorithmID: id,
		Algorithm:   algorithm,
		Operation:   operation,
		DataSize:    dataSize,
		Time:        time.Now(),
	}
}

// AsStageError returns the first StageError in err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// FromContext converts a context error into the matching sentinel.
// It returns nil when the context is still live.
func FromContext(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
}

// IsFatal reports whether err must never be retried. Tampering, corruption and
// version skew do not go away on a second attempt.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrNotAContainer) ||
		errors.Is(err, ErrTruncatedContainer) ||
		errors.Is(err, ErrUnknownFormatVersion) ||
		errors.Is(err, ErrStageOrder) ||
		errors.Is(err, ErrUnresolvableStage)
}

// IsIntegrityError checks if the error is a tag verification failure
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrIntegrityViolation)
}

// IsIOError checks if the error is an I/O error
func IsIOError(err error) bool {
	var pathErr *os.PathError
	return errors.Is(err, ErrIOFailure) || errors.As(err, &pathErr)
}

// IsTimeoutError checks if the error is a timeout error
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancellationError checks if the error is a cancellation error
func IsCancellationError(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ErrorCollector collects multiple errors
type ErrorCollector struct {
	errors []error
}

// NewErrorCollector creates a new ErrorCollector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collector
func (c *ErrorCollector) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// HasErrors returns true if the collector has any errors
func (c *ErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Error implements the error interface
func (c *ErrorCollector) Error() string {
	if len(c.errors) == 0 {
		return "no errors"
	}

	if len(c.errors) == 1 {
		return c.errors[0].Error()
	}

	msg := fmt.Sprintf("%d errors occurred:\n", len(c.errors))
	for i, err := range c.errors {
		msg += fmt.Sprintf("  %d: %v\n", i+1, err)
	}
	return msg
}

// Errors returns all collected errors
func (c *ErrorCollector) Errors() []error {
	return c.errors
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (c *ErrorCollector) Unwrap() []error {
	return c.errors
}

// Err returns nil when nothing was collected, otherwise the collector itself.
func (c *ErrorCollector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	return c
}
