// Copyright (c) 2025 A Bit of Help, Inc.

// Package processor provides the generic worker stage of the streaming pipeline.
//
// Workers of one stage share an input channel and may finish chunks in any order.
// Every chunk carries its sequence number so the writer stage can restore order.
package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap"
)

// ErrorSendTimeout bounds how long a worker waits to report an error
const ErrorSendTimeout = 200 * time.Millisecond

// Chunk is one piece of a payload travelling between stages.
type Chunk struct {
	// Seq is the zero-based position of the chunk in the payload
	Seq int

	// RawSize is the uncompressed length of the chunk
	RawSize int

	// Data is the chunk in its current form
	Data []byte
}

// ProcessorFunc transforms one chunk's data with context awareness
type ProcessorFunc func(ctx context.Context, c Chunk) ([]byte, error)

// Info identifies the algorithm a worker applies, for logs and errors.
type Info struct {
	// Name is the worker name used in logs, e.g. "compressor"
	Name string

	Kind        stage.Kind
	AlgorithmID stage.AlgorithmID
	Algorithm   string

	// Operation is the pipeline operation, encode or decode
	Operation string
}

// ReportError hands err to errCh, giving up after ErrorSendTimeout.
func ReportError(logger *zap.Logger, errCh chan<- error, err error) {
	select {
	case errCh <- err:
		logger.Debug("Error sent to error channel", zap.Error(err))
	case <-time.After(ErrorSendTimeout):
		logger.Warn("Error channel full or blocked, dropping error", zap.Error(err))
	}
}

// logContextStop logs why a stage stopped on a done context.
func logContextStop(logger *zap.Logger, what string, err error) {
	switch {
	case perrors.IsTimeoutError(err):
		logger.Warn(what+" timed out", zap.Error(err))
	case perrors.IsCancellationError(err):
		logger.Debug(what+" canceled by context", zap.Error(err))
	default:
		logger.Warn(what+" stopped by unknown context error", zap.Error(err))
	}
}

// Stage processes chunks from inputCh and sends the results to outputCh until inputCh
// closes or ctx ends. The first failure is reported on errCh and cancels the pipeline.
// A slow next stage is waited for; only ctx ends a pending send.
// onProcessed, if not nil, is called for every chunk produced.
func Stage(
	ctx context.Context,
	id int,
	info Info,
	logger *zap.Logger,
	inputCh <-chan Chunk,
	outputCh chan<- Chunk,
	errCh chan<- error,
	cancelPipeline context.CancelFunc,
	processorFunc ProcessorFunc,
	onProcessed func(in, out Chunk),
) {
	logger = logger.With(zap.String("worker", info.Name), zap.Int("worker_id", id))

	fail := func(err error, operation string, size int) {
		stageErr := perrors.NewStageError(err, info.Kind, info.AlgorithmID, info.Algorithm,
			info.Operation+"/"+operation, size)
		logger.Error(fmt.Sprintf("%s error", info.Name), zap.Int("data_size", size), zap.Error(stageErr))
		ReportError(logger, errCh, stageErr)
		cancelPipeline()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in processor stage",
				zap.String("stack", string(debug.Stack())),
				zap.Any("panic_value", r))
			fail(fmt.Errorf("%w: %v", perrors.ErrPanic, r), "process_chunk", 0)
		}
		logger.Debug(fmt.Sprintf("%s goroutine completed", info.Name))
	}()

	for in := range inputCh {
		if err := ctx.Err(); err != nil {
			logContextStop(logger, info.Name, err)
			return
		}

		data, err := processorFunc(ctx, in)
		if err != nil {
			// Cancellation is reported once, by the orchestrator
			if perrors.IsCancellationError(err) {
				logger.Debug(fmt.Sprintf("%s canceled", info.Name), zap.Error(err))
				return
			}
			fail(err, "process_chunk", len(in.Data))
			return
		}

		out := Chunk{Seq: in.Seq, RawSize: in.RawSize, Data: data}
		logger.Debug(fmt.Sprintf("Processed chunk (%s)", info.Name),
			zap.Int("seq", in.Seq),
			zap.Int("input_size", len(in.Data)),
			zap.Int("output_size", len(data)))
		if onProcessed != nil {
			onProcessed(in, out)
		}

		select {
		case outputCh <- out:
		case <-ctx.Done():
			logContextStop(logger, "Sending to next stage", ctx.Err())
			return
		}
	}
}
