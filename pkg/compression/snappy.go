// Copyright (c) 2025 A Bit of Help, Inc.

package compression

import (
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/golang/snappy"
)

// snappyMaxExpansion bounds the decoded size of a valid block relative to its encoded
// size. The most expansive element is a 3-byte copy of 64 bytes.
const snappyMaxExpansion = 22

// Snappy trades ratio for speed and has no levels.
type Snappy struct{}

// NewSnappy returns the snappy codec.
func NewSnappy() *Snappy { return &Snappy{} }

func (*Snappy) ID() stage.AlgorithmID { return IDSnappy }
func (*Snappy) Name() string          { return "snappy" }
func (*Snappy) Version() uint16       { return 1 }
func (*Snappy) Levels() (int, int)    { return 0, 0 }
func (*Snappy) DefaultLevel() int     { return 0 }

// Compress implements Codec.
func (c *Snappy) Compress(data []byte, level int) ([]byte, error) {
	if _, err := ValidateLevel(c, level); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// Decompress implements Codec.
func (c *Snappy) Decompress(data []byte, sizeHint int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy header: %w", perrors.ErrCompression, err)
	}
	if n > snappyMaxExpansion*len(data) {
		return nil, fmt.Errorf("%w: snappy declares %d bytes for a %d byte block", perrors.ErrCompression, n, len(data))
	}
	if sizeHint >= 0 && n != sizeHint {
		return nil, fmt.Errorf("%w: snappy declares %d bytes, expected %d", perrors.ErrCompression, n, sizeHint)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy decompress: %w", perrors.ErrCompression, err)
	}
	return out, nil
}
