// Copyright (c) 2025 A Bit of Help, Inc.

package reader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"testing"
	"time"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"go.uber.org/zap/zaptest"
)

func collect(ch <-chan processor.Chunk) []processor.Chunk {
	var out []processor.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStage(t *testing.T) {
	testData := []byte("This is test data for the reader stage. It will be read in chunks and processed.")
	readCh := make(chan processor.Chunk, 100)
	errCh := make(chan error, 10)
	hasher := sha256.New()

	res := Stage(context.Background(), zaptest.NewLogger(t), bytes.NewReader(testData), readCh, errCh, hasher, 10)
	chunks := collect(readCh)

	if res.Bytes != int64(len(testData)) {
		t.Errorf("Expected %d bytes, got %d", len(testData), res.Bytes)
	}
	wantChunks := (len(testData) + 9) / 10
	if res.Chunks != wantChunks || len(chunks) != wantChunks {
		t.Fatalf("Expected %d chunks, got %d (result %d)", wantChunks, len(chunks), res.Chunks)
	}

	var joined []byte
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("Expected sequence %d, got %d", i, c.Seq)
		}
		if c.RawSize != len(c.Data) {
			t.Errorf("Chunk %d raw size %d does not match data %d", i, c.RawSize, len(c.Data))
		}
		if i < len(chunks)-1 && len(c.Data) != 10 {
			t.Errorf("Expected full chunk %d, got %d bytes", i, len(c.Data))
		}
		joined = append(joined, c.Data...)
	}
	if !bytes.Equal(joined, testData) {
		t.Error("Reassembled chunks differ from input")
	}

	want := sha256.Sum256(testData)
	if !bytes.Equal(hasher.Sum(nil), want[:]) {
		t.Error("Hasher did not see every byte")
	}

	select {
	case err := <-errCh:
		t.Errorf("Expected no errors, got %v", err)
	default:
	}
}

func TestStage_ExactMultiple(t *testing.T) {
	readCh := make(chan processor.Chunk, 10)
	res := Stage(context.Background(), zaptest.NewLogger(t), bytes.NewReader(make([]byte, 30)), readCh, make(chan error, 1), nil, 10)
	chunks := collect(readCh)
	if res.Chunks != 3 || len(chunks) != 3 {
		t.Errorf("Expected 3 chunks, got %d", len(chunks))
	}
}

func TestStage_EmptyInput(t *testing.T) {
	readCh := make(chan processor.Chunk, 1)
	res := Stage(context.Background(), zaptest.NewLogger(t), bytes.NewReader(nil), readCh, make(chan error, 1), nil, 10)
	if res.Chunks != 0 || len(collect(readCh)) != 0 {
		t.Error("Expected no chunks for empty input")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestStage_ReadError(t *testing.T) {
	readCh := make(chan processor.Chunk, 1)
	errCh := make(chan error, 1)
	Stage(context.Background(), zaptest.NewLogger(t), failingReader{}, readCh, errCh, nil, 10)

	select {
	case err := <-errCh:
		if !perrors.IsIOError(err) {
			t.Errorf("Expected an I/O error, got %v", err)
		}
	default:
		t.Fatal("Expected a read error")
	}
	if _, ok := <-readCh; ok {
		t.Error("Expected readCh to be closed")
	}
}

func TestStage_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	readCh := make(chan processor.Chunk, 1)
	errCh := make(chan error, 1)
	res := Stage(ctx, zaptest.NewLogger(t), bytes.NewReader([]byte("data")), readCh, errCh, nil, 10)

	if res.Chunks != 0 {
		t.Error("Expected nothing to be read after cancellation")
	}
	select {
	case err := <-errCh:
		t.Errorf("Expected cancellation to stay silent, got %v", err)
	default:
	}
}

func TestStage_ContextCanceledDuringRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	readCh := make(chan processor.Chunk, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Stage(ctx, zaptest.NewLogger(t), pr, readCh, make(chan error, 1), nil, 10)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the reader to stop while blocked in Read")
	}
}

func TestStage_SlowWorkers(t *testing.T) {
	readCh := make(chan processor.Chunk) // unbuffered, read late
	errCh := make(chan error, 1)
	done := make(chan Result)
	go func() {
		done <- Stage(context.Background(), zaptest.NewLogger(t), bytes.NewReader([]byte("data")), readCh, errCh, nil, 10)
	}()

	time.Sleep(100 * time.Millisecond)
	var got []byte
	for ch := range readCh {
		got = append(got, ch.Data...)
	}
	res := <-done

	if string(got) != "data" || res.Chunks != 1 {
		t.Errorf("Expected one chunk holding the input, got %q in %d chunks", got, res.Chunks)
	}
	select {
	case err := <-errCh:
		t.Errorf("Expected slow workers to be waited for, got %v", err)
	default:
	}
}
