// Copyright (c) 2025 A Bit of Help, Inc.

package decompressor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap/zaptest"
)

func run(t *testing.T, codec compression.Codec, chunks []processor.Chunk) ([]processor.Chunk, []error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputCh := make(chan processor.Chunk, len(chunks))
	outputCh := make(chan processor.Chunk, len(chunks))
	errCh := make(chan error, 4)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			Stage(ctx, id, codec, zaptest.NewLogger(t), inputCh, outputCh, errCh, cancel, nil)
		}(i)
	}
	for _, c := range chunks {
		inputCh <- c
	}
	close(inputCh)
	wg.Wait()
	close(outputCh)
	close(errCh)

	var out []processor.Chunk
	for c := range outputCh {
		out = append(out, c)
	}
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return out, errs
}

func TestStage(t *testing.T) {
	codec := compression.NewBrotli()
	var originals [][]byte
	var chunks []processor.Chunk
	for i := 0; i < 10; i++ {
		raw := bytes.Repeat([]byte("chunk payload "), i+1)
		packed, err := codec.Compress(raw, codec.DefaultLevel())
		if err != nil {
			t.Fatalf("Compress failed: %v", err)
		}
		originals = append(originals, raw)
		chunks = append(chunks, processor.Chunk{Seq: i, RawSize: len(raw), Data: packed})
	}

	out, errs := run(t, codec, chunks)
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if len(out) != len(chunks) {
		t.Fatalf("Expected %d chunks, got %d", len(chunks), len(out))
	}
	for _, c := range out {
		if !bytes.Equal(c.Data, originals[c.Seq]) {
			t.Errorf("Chunk %d mismatch", c.Seq)
		}
	}
}

func TestStage_SizeMismatch(t *testing.T) {
	codec := compression.NewSnappy()
	packed, err := codec.Compress([]byte("hello world"), 0)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	_, errs := run(t, codec, []processor.Chunk{{Seq: 0, RawSize: 5, Data: packed}})
	if len(errs) == 0 || !errors.Is(errs[0], perrors.ErrCompression) {
		t.Fatalf("Expected ErrCompression, got %v", errs)
	}
	se, ok := perrors.AsStageError(errs[0])
	if !ok || se.Stage != stage.KindCompress || se.Operation != "decode/process_chunk" {
		t.Errorf("Unexpected stage error %v", errs[0])
	}
}
