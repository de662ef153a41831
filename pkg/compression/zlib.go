// Copyright (c) 2025 A Bit of Help, Inc.

package compression

import (
	"bytes"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/klauspost/compress/zlib"
)

// Zlib is kept for interchange with consumers that only speak deflate.
type Zlib struct{}

// NewZlib returns the zlib codec.
func NewZlib() *Zlib { return &Zlib{} }

func (*Zlib) ID() stage.AlgorithmID { return IDZlib }
func (*Zlib) Name() string          { return "zlib" }
func (*Zlib) Version() uint16       { return 1 }
func (*Zlib) Levels() (int, int)    { return zlib.BestSpeed, zlib.BestCompression }
func (*Zlib) DefaultLevel() int     { return zlib.BestCompression }

// Compress implements Codec.
func (c *Zlib) Compress(data []byte, level int) ([]byte, error) {
	lvl, err := ValidateLevel(c, level)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, lvl)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib writer: %w", perrors.ErrUnsupportedParameter, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: zlib compress: %w", perrors.ErrCompression, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib finalize: %w", perrors.ErrCompression, err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (c *Zlib) Decompress(data []byte, sizeHint int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib header: %w", perrors.ErrCompression, err)
	}
	defer zr.Close()
	return readAll(c.Name(), zr, sizeHint)
}
