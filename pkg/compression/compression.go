// Copyright (c) 2025 A Bit of Help, Inc.

// Package compression provides the interchangeable compression algorithms of the pipeline.
//
// Every algorithm implements Codec and is identified by a stable AlgorithmID that is
// written into container descriptors. Ids are protocol constants: they are only ever
// added, never reassigned, so old containers stay decodable.
//
// The corresponding package in the pipeline hierarchy is pkg/pipeline/compressor,
// which fans chunk compression out across workers for large payloads.
package compression

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/dataprocessor"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Algorithm ids. Never reassign a value.
const (
	IDLZ4    stage.AlgorithmID = 1
	IDZstd   stage.AlgorithmID = 2
	IDBrotli stage.AlgorithmID = 3
	IDZlib   stage.AlgorithmID = 4
	IDSnappy stage.AlgorithmID = 5
)

// Codec compresses and decompresses whole byte buffers.
type Codec interface {
	// ID is the stable registry id written into descriptors
	ID() stage.AlgorithmID

	// Name is the registry name, e.g. "zstd"
	Name() string

	// Version is the descriptor version this implementation produces and the
	// newest one it can read
	Version() uint16

	// Levels returns the accepted compression level range. A codec without
	// levels returns (0, 0).
	Levels() (min, max int)

	// DefaultLevel is used when the caller passes level 0
	DefaultLevel() int

	// Compress returns the compressed form of data
	Compress(data []byte, level int) ([]byte, error)

	// Decompress reverses Compress. sizeHint is the expected output size, or -1 if unknown.
	Decompress(data []byte, sizeHint int) ([]byte, error)
}

// Builtins returns a fresh instance of every compression algorithm shipped with the module.
func Builtins() []Codec {
	return []Codec{
		NewLZ4(),
		NewZstd(),
		NewBrotli(),
		NewZlib(),
		NewSnappy(),
	}
}

// ValidateLevel resolves level 0 to the codec default and rejects levels outside the
// codec's range with ErrUnsupportedParameter.
func ValidateLevel(c Codec, level int) (int, error) {
	if level == 0 {
		return c.DefaultLevel(), nil
	}
	lo, hi := c.Levels()
	if level < lo || level > hi {
		return 0, fmt.Errorf("%w: %s level %d outside [%d, %d]", perrors.ErrUnsupportedParameter, c.Name(), level, lo, hi)
	}
	return level, nil
}

// CompressWithContext validates the level and compresses data with context awareness.
func CompressWithContext(ctx context.Context, c Codec, data []byte, level int) ([]byte, error) {
	lvl, err := ValidateLevel(c, level)
	if err != nil {
		return nil, err
	}
	return dataprocessor.ProcessWithContext(ctx, func(b []byte) ([]byte, error) {
		return c.Compress(b, lvl)
	}, data)
}

// DecompressWithContext decompresses data with context awareness and, when sizeHint is
// not negative, verifies the output has exactly that length.
func DecompressWithContext(ctx context.Context, c Codec, data []byte, sizeHint int) ([]byte, error) {
	out, err := dataprocessor.ProcessWithContext(ctx, func(b []byte) ([]byte, error) {
		return c.Decompress(b, sizeHint)
	}, data)
	if err != nil {
		return nil, err
	}
	if sizeHint >= 0 && len(out) != sizeHint {
		return nil, fmt.Errorf("%w: %s produced %d bytes, expected %d", perrors.ErrCompression, c.Name(), len(out), sizeHint)
	}
	return out, nil
}

// paramsSize is the encoded length of Params.
const paramsSize = 1 + 8 + 4

// Params are the compression stage parameters recorded in a descriptor.
type Params struct {
	// Level is the level actually used, after default resolution
	Level int

	// Size is the exact uncompressed payload length
	Size uint64

	// ChunkSize is non-zero when the payload is a sequence of independently
	// compressed chunk frames
	ChunkSize uint32
}

// MarshalBinary encodes the parameters as level u8, size u64, chunk size u32, big-endian.
func (p Params) MarshalBinary() ([]byte, error) {
	if p.Level < 0 || p.Level > 255 {
		return nil, fmt.Errorf("%w: level %d", perrors.ErrUnsupportedParameter, p.Level)
	}
	buf := make([]byte, paramsSize)
	buf[0] = byte(p.Level)
	binary.BigEndian.PutUint64(buf[1:9], p.Size)
	binary.BigEndian.PutUint32(buf[9:13], p.ChunkSize)
	return buf, nil
}

// UnmarshalBinary decodes parameters written by MarshalBinary.
func (p *Params) UnmarshalBinary(data []byte) error {
	if len(data) != paramsSize {
		return fmt.Errorf("%w: compression params are %d bytes, expected %d", perrors.ErrUnsupportedParameter, len(data), paramsSize)
	}
	p.Level = int(data[0])
	p.Size = binary.BigEndian.Uint64(data[1:9])
	p.ChunkSize = binary.BigEndian.Uint32(data[9:13])
	return nil
}

// maxPrealloc caps the buffer reserved up front from an untrusted size hint.
const maxPrealloc = 16 << 20

// readAll drains r into a buffer sized by sizeHint. When sizeHint is known, reading more
// than sizeHint bytes fails, which bounds the memory a hostile stream can claim.
func readAll(name string, r io.Reader, sizeHint int) ([]byte, error) {
	var buf bytes.Buffer
	if sizeHint >= 0 {
		buf.Grow(min(sizeHint, maxPrealloc))
		r = io.LimitReader(r, int64(sizeHint)+1)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %s decompress: %w", perrors.ErrCompression, name, err)
	}
	if sizeHint >= 0 && buf.Len() > sizeHint {
		return nil, fmt.Errorf("%w: %s output exceeds expected %d bytes", perrors.ErrCompression, name, sizeHint)
	}
	return buf.Bytes(), nil
}
