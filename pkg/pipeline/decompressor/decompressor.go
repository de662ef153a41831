// Copyright (c) 2025 A Bit of Help, Inc.

// Package decompressor provides the decompressor stage of the streaming pipeline.
//
// It is the reverse of pkg/pipeline/compressor. Every chunk must decompress to
// exactly its recorded raw size.
package decompressor

import (
	"context"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap"
)

// Stage decompresses chunks and sends them to the next stage
func Stage(
	ctx context.Context,
	id int,
	codec compression.Codec,
	logger *zap.Logger,
	inputCh <-chan processor.Chunk,
	outputCh chan<- processor.Chunk,
	errCh chan<- error,
	cancelPipeline context.CancelFunc,
	onProcessed func(in, out processor.Chunk),
) {
	decompressFunc := func(ctx context.Context, c processor.Chunk) ([]byte, error) {
		return compression.DecompressWithContext(ctx, codec, c.Data, c.RawSize)
	}

	processor.Stage(
		ctx,
		id,
		processor.Info{
			Name:        "decompressor",
			Kind:        stage.KindCompress,
			AlgorithmID: codec.ID(),
			Algorithm:   codec.Name(),
			Operation:   "decode",
		},
		logger,
		inputCh,
		outputCh,
		errCh,
		cancelPipeline,
		decompressFunc,
		onProcessed,
	)
}
