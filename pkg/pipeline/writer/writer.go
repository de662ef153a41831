// Copyright (c) 2025 A Bit of Help, Inc.

// Package writer provides the writer stage of the streaming pipeline and atomic
// publication of its output.
package writer

import (
	"context"
	"fmt"
	"io"
	"os"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/utils"
	"go.uber.org/zap"
)

// Result summarizes what the writer consumed.
type Result struct {
	Bytes  int64
	Chunks int
}

// Stage receives chunks from the workers in any order and passes them to write in
// sequence order. outputHasher, if not nil, sees the data of every chunk written.
// A chunk still missing when inputCh closes on a live context is reported on errCh.
func Stage(
	ctx context.Context,
	logger *zap.Logger,
	inputCh <-chan processor.Chunk,
	errCh chan<- error,
	outputHasher io.Writer,
	cancelPipeline context.CancelFunc,
	write func(processor.Chunk) error,
) Result {
	var res Result
	defer func() {
		logger.Debug("Writer goroutine completed",
			zap.Int64("bytes", res.Bytes),
			zap.Int("chunks", res.Chunks))
	}()

	fail := func(err error, operation string, size int) {
		// The orchestrator attributes the error to the stage being streamed
		err = fmt.Errorf("writer %s (size=%d): %w", operation, size, err)
		logger.Error("Writer error", zap.Error(err))
		processor.ReportError(logger, errCh, err)
		cancelPipeline()
	}

	pending := make(map[int]processor.Chunk)
	next := 0
	for c := range inputCh {
		if err := ctx.Err(); err != nil {
			logger.Debug("Writer stopped by context", zap.Error(err))
			return res
		}

		pending[c.Seq] = c
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			if err := write(ready); err != nil {
				fail(fmt.Errorf("%w: %w", perrors.ErrIOFailure, err), "write_data", len(ready.Data))
				return res
			}
			if outputHasher != nil {
				outputHasher.Write(ready.Data)
			}
			res.Bytes += int64(len(ready.Data))
			res.Chunks++
			next++
		}
	}

	if len(pending) > 0 && ctx.Err() == nil {
		fail(fmt.Errorf("%w: chunk %d never arrived, %d chunks held back",
			perrors.ErrPipelineBlocked, next, len(pending)), "reassemble", 0)
	}
	return res
}

// Publish runs fill against a temporary file and renames it to path only if fill
// succeeds and ctx is still live. Nothing is left at path on failure.
func Publish(ctx context.Context, logger *zap.Logger, path string, mode os.FileMode, fill func(io.Writer) error) error {
	f, err := utils.CreateAtomic(path, mode)
	if err != nil {
		return err
	}

	if err := fill(f); err != nil {
		f.Abort()
		logger.Debug("Discarded partial output", zap.String("path", path), zap.Error(err))
		return err
	}
	if err := perrors.FromContext(ctx); err != nil {
		f.Abort()
		logger.Debug("Discarded output of canceled operation", zap.String("path", path))
		return err
	}
	if err := f.Commit(); err != nil {
		return err
	}
	logger.Debug("Published output", zap.String("path", path))
	return nil
}
