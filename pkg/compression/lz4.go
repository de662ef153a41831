// Copyright (c) 2025 A Bit of Help, Inc.

package compression

import (
	"bytes"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/pierrec/lz4/v4"
)

var lz4Levels = []lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 is the fast, low-ratio codec. It writes the LZ4 frame format.
type LZ4 struct{}

// NewLZ4 returns the LZ4 codec.
func NewLZ4() *LZ4 { return &LZ4{} }

func (*LZ4) ID() stage.AlgorithmID { return IDLZ4 }
func (*LZ4) Name() string          { return "lz4" }
func (*LZ4) Version() uint16       { return 1 }
func (*LZ4) Levels() (int, int)    { return 1, len(lz4Levels) }
func (*LZ4) DefaultLevel() int     { return 1 }

// Compress implements Codec.
func (c *LZ4) Compress(data []byte, level int) ([]byte, error) {
	lvl, err := ValidateLevel(c, level)
	if err != nil {
		return nil, err
	}
	// An empty input has no frame
	if len(data) == 0 {
		return []byte{}, nil
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[lvl-1])); err != nil {
		return nil, fmt.Errorf("%w: lz4 options: %w", perrors.ErrCompression, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: lz4 compress: %w", perrors.ErrCompression, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: lz4 finalize: %w", perrors.ErrCompression, err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (c *LZ4) Decompress(data []byte, sizeHint int) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	return readAll(c.Name(), lz4.NewReader(bytes.NewReader(data)), sizeHint)
}
