// Copyright (c) 2025 A Bit of Help, Inc.

package writer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"go.uber.org/zap/zaptest"
)

func TestStage_ReordersChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputCh := make(chan processor.Chunk, 10)
	errCh := make(chan error, 1)
	for _, seq := range []int{3, 0, 2, 4, 1} {
		inputCh <- processor.Chunk{Seq: seq, Data: []byte{byte('a' + seq)}}
	}
	close(inputCh)

	var out bytes.Buffer
	hasher := sha256.New()
	res := Stage(ctx, zaptest.NewLogger(t), inputCh, errCh, hasher, cancel, func(c processor.Chunk) error {
		_, err := out.Write(c.Data)
		return err
	})

	if out.String() != "abcde" {
		t.Errorf("Expected ordered output %q, got %q", "abcde", out.String())
	}
	if res.Chunks != 5 || res.Bytes != 5 {
		t.Errorf("Unexpected result %+v", res)
	}
	want := sha256.Sum256([]byte("abcde"))
	if !bytes.Equal(hasher.Sum(nil), want[:]) {
		t.Error("Hasher did not see the ordered output")
	}
	if len(errCh) != 0 {
		t.Errorf("Expected no errors, got %v", <-errCh)
	}
}

func TestStage_MissingChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputCh := make(chan processor.Chunk, 2)
	errCh := make(chan error, 1)
	inputCh <- processor.Chunk{Seq: 0, Data: []byte("a")}
	inputCh <- processor.Chunk{Seq: 2, Data: []byte("c")}
	close(inputCh)

	res := Stage(ctx, zaptest.NewLogger(t), inputCh, errCh, nil, cancel, func(processor.Chunk) error { return nil })

	if res.Chunks != 1 {
		t.Errorf("Expected only the first chunk written, got %d", res.Chunks)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, perrors.ErrPipelineBlocked) {
			t.Errorf("Expected ErrPipelineBlocked, got %v", err)
		}
	default:
		t.Fatal("Expected an error for the missing chunk")
	}
}

func TestStage_WriteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputCh := make(chan processor.Chunk, 1)
	errCh := make(chan error, 1)
	inputCh <- processor.Chunk{Seq: 0, Data: []byte("a")}
	close(inputCh)

	Stage(ctx, zaptest.NewLogger(t), inputCh, errCh, nil, cancel, func(processor.Chunk) error {
		return errors.New("disk full")
	})

	select {
	case err := <-errCh:
		if !perrors.IsIOError(err) {
			t.Errorf("Expected an I/O error, got %v", err)
		}
	default:
		t.Fatal("Expected a write error")
	}
	if ctx.Err() == nil {
		t.Error("Expected the pipeline to be canceled")
	}
}

func TestStage_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputCh := make(chan processor.Chunk, 1)
	errCh := make(chan error, 1)
	inputCh <- processor.Chunk{Seq: 1, Data: []byte("b")}
	close(inputCh)

	res := Stage(ctx, zaptest.NewLogger(t), inputCh, errCh, nil, cancel, func(processor.Chunk) error { return nil })
	if res.Chunks != 0 || len(errCh) != 0 {
		t.Error("Expected a canceled writer to stay silent")
	}
}

func TestPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")

	err := Publish(context.Background(), zaptest.NewLogger(t), path, 0o644, func(w io.Writer) error {
		_, err := w.Write([]byte("published"))
		return err
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "published" {
		t.Errorf("Expected published content, got %q, %v", got, err)
	}
}

func TestPublish_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	boom := errors.New("boom")

	err := Publish(context.Background(), zaptest.NewLogger(t), path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected an empty directory, found %d entries", len(entries))
	}
}

func TestPublish_CanceledLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	ctx, cancel := context.WithCancel(context.Background())

	err := Publish(ctx, zaptest.NewLogger(t), path, 0o644, func(w io.Writer) error {
		_, err := w.Write([]byte("complete"))
		cancel()
		return err
	})
	if !errors.Is(err, perrors.ErrCanceled) {
		t.Fatalf("Expected ErrCanceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected nothing at the destination")
	}
}
