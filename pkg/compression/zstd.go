// Copyright (c) 2025 A Bit of Help, Inc.

package compression

import (
	"bytes"
	"fmt"
	"sync"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/klauspost/compress/zstd"
)

// zstdDefaultLevel matches the level the log shipper historically used.
const zstdDefaultLevel = 5

// zstdMaxWindow bounds the history buffer a frame header can make the decoder reserve.
// The encoders never use a window above 8 MiB.
const zstdMaxWindow = 64 << 20

// Encoders and the decoder are safe for concurrent EncodeAll/DecodeAll calls, so they are
// built once and shared. Encoders are cached per speed tier.
var (
	zstdEncoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder

	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	speed := zstd.EncoderLevelFromZstd(level)
	if enc, ok := zstdEncoders.Load(speed); ok {
		return enc.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, err
	}
	actual, loaded := zstdEncoders.LoadOrStore(speed, enc)
	if loaded {
		_ = enc.Close()
	}
	return actual.(*zstd.Encoder), nil
}

func sharedZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		// DecodeAll never grows dst past its capacity, so a frame header cannot claim
		// more memory than the caller reserved.
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecodeAllCapLimit(true),
			zstd.WithDecoderMaxWindow(zstdMaxWindow))
	})
	return zstdDecoder, zstdDecoderErr
}

// Zstd is the balanced codec and the historical default of the log shipper.
type Zstd struct{}

// NewZstd returns the zstd codec.
func NewZstd() *Zstd { return &Zstd{} }

func (*Zstd) ID() stage.AlgorithmID { return IDZstd }
func (*Zstd) Name() string          { return "zstd" }
func (*Zstd) Version() uint16       { return 1 }
func (*Zstd) Levels() (int, int)    { return 1, 22 }
func (*Zstd) DefaultLevel() int     { return zstdDefaultLevel }

// Compress implements Codec.
func (c *Zstd) Compress(data []byte, level int) ([]byte, error) {
	lvl, err := ValidateLevel(c, level)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []byte{}, nil
	}
	enc, err := zstdEncoder(lvl)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd encoder: %w", perrors.ErrCompression, err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress implements Codec. Outputs up to maxPrealloc bytes decode in one shot into a
// buffer of exactly sizeHint bytes; larger or unknown sizes stream, so memory follows the
// bytes actually produced rather than the size a header declares.
func (c *Zstd) Decompress(data []byte, sizeHint int) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	if sizeHint < 0 || sizeHint > maxPrealloc {
		dec, err := zstd.NewReader(bytes.NewReader(data),
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxWindow(zstdMaxWindow))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decoder: %w", perrors.ErrCompression, err)
		}
		defer dec.Close()
		return readAll("zstd", dec, sizeHint)
	}

	dec, err := sharedZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decoder: %w", perrors.ErrCompression, err)
	}
	out, err := dec.DecodeAll(data, make([]byte, 0, sizeHint))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decompress: %w", perrors.ErrCompression, err)
	}
	return out, nil
}
