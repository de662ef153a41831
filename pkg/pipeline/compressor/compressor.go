// Copyright (c) 2025 A Bit of Help, Inc.

// Package compressor provides the compressor stage of the streaming pipeline.
//
// This package integrates the codecs from pkg/compression into the worker
// architecture of pkg/pipeline/processor. Each chunk is compressed independently,
// so workers can run in parallel and the decompressor can reverse chunks in any order.
package compressor

import (
	"context"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap"
)

// Stage compresses chunks at the given level and sends them to the next stage
func Stage(
	ctx context.Context,
	id int,
	codec compression.Codec,
	level int,
	logger *zap.Logger,
	readCh <-chan processor.Chunk,
	compressCh chan<- processor.Chunk,
	errCh chan<- error,
	cancelPipeline context.CancelFunc,
	onProcessed func(in, out processor.Chunk),
) {
	compressFunc := func(ctx context.Context, c processor.Chunk) ([]byte, error) {
		return compression.CompressWithContext(ctx, codec, c.Data, level)
	}

	processor.Stage(
		ctx,
		id,
		processor.Info{
			Name:        "compressor",
			Kind:        stage.KindCompress,
			AlgorithmID: codec.ID(),
			Algorithm:   codec.Name(),
			Operation:   "encode",
		},
		logger,
		readCh,
		compressCh,
		errCh,
		cancelPipeline,
		compressFunc,
		onProcessed,
	)
}
