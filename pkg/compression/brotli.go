// Copyright (c) 2025 A Bit of Help, Inc.

package compression

import (
	"bytes"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/andybalholm/brotli"
)

// Brotli is the slow, high-ratio codec.
type Brotli struct{}

// NewBrotli returns the brotli codec.
func NewBrotli() *Brotli { return &Brotli{} }

func (*Brotli) ID() stage.AlgorithmID { return IDBrotli }
func (*Brotli) Name() string          { return "brotli" }
func (*Brotli) Version() uint16       { return 1 }
func (*Brotli) Levels() (int, int)    { return 1, brotli.BestCompression }
func (*Brotli) DefaultLevel() int     { return brotli.DefaultCompression }

// Compress implements Codec.
func (c *Brotli) Compress(data []byte, level int) ([]byte, error) {
	lvl, err := ValidateLevel(c, level)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	compressor := brotli.NewWriterLevel(&buf, lvl)

	if _, err := compressor.Write(data); err != nil {
		return nil, fmt.Errorf("%w: failed to compress data: %w", perrors.ErrCompression, err)
	}

	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to finalize compression: %w", perrors.ErrCompression, err)
	}

	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (c *Brotli) Decompress(data []byte, sizeHint int) ([]byte, error) {
	return readAll(c.Name(), brotli.NewReader(bytes.NewReader(data)), sizeHint)
}
