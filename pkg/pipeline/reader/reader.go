// Copyright (c) 2025 A Bit of Help, Inc.

// Package reader provides the reader stage of the streaming pipeline.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"go.uber.org/zap"
)

// Result summarizes what the reader produced.
type Result struct {
	Bytes  int64
	Chunks int
}

// Stage reads input in chunks of chunkSize bytes and sends them, numbered in order, to
// readCh. Every chunk except the last is full. readCh is closed on return. inputHasher,
// if not nil, sees every byte read. Sends wait as long as the workers need; only ctx
// stops them.
func Stage(
	ctx context.Context,
	logger *zap.Logger,
	input io.Reader,
	readCh chan<- processor.Chunk,
	errCh chan<- error,
	inputHasher io.Writer,
	chunkSize int,
) Result {
	var res Result
	defer func() {
		close(readCh)
		logger.Debug("Reader goroutine completed",
			zap.Int64("bytes", res.Bytes),
			zap.Int("chunks", res.Chunks))
	}()

	fail := func(err error, operation string, size int) {
		// The orchestrator attributes the error to the stage being streamed
		err = fmt.Errorf("reader %s (size=%d): %w", operation, size, err)
		logger.Error("Reader error", zap.Error(err))
		processor.ReportError(logger, errCh, err)
	}

	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			logger.Debug("Reader stopped by context", zap.Error(err))
			return res
		}

		// Read on a separate goroutine so cancellation is not held up by a slow source
		buffer := make([]byte, chunkSize)
		readDone := make(chan struct{})
		var n int
		var readErr error
		go func() {
			defer close(readDone)
			n, readErr = io.ReadFull(input, buffer)
		}()

		select {
		case <-readDone:
		case <-ctx.Done():
			logger.Debug("Read operation stopped by context", zap.Error(ctx.Err()))
			return res
		}

		last := false
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			last = true
		default:
			fail(fmt.Errorf("%w: %w", perrors.ErrIOFailure, readErr), "read_data", n)
			return res
		}
		if n == 0 {
			logger.Debug("End of input reached")
			return res
		}

		chunk := processor.Chunk{Seq: seq, RawSize: n, Data: buffer[:n]}
		if inputHasher != nil {
			inputHasher.Write(chunk.Data)
		}
		res.Bytes += int64(n)
		res.Chunks++

		select {
		case readCh <- chunk:
			logger.Debug("Sent chunk to workers", zap.Int("seq", seq), zap.Int("chunk_size", n))
		case <-ctx.Done():
			logger.Debug("Sending to workers stopped by context", zap.Error(ctx.Err()))
			return res
		}

		if last {
			logger.Debug("End of input reached")
			return res
		}
	}
}
