// Copyright (c) 2025 A Bit of Help, Inc.

// Package options provides configuration options for the encode and decode pipeline.
package options

import (
	"fmt"
	"strings"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

const (
	// None disables an optional stage.
	None = "none"

	// DefaultSerializer names the serializer used when none is configured
	DefaultSerializer = "msgpack"

	// DefaultChunkSize defines the size of the chunks the streaming variant splits a payload into (32KB)
	DefaultChunkSize = 32 * 1024

	// MaxChunkSize bounds a chunk so its sizes fit the chunk frame header with room to spare
	MaxChunkSize = 64 * 1024 * 1024

	// DefaultChannelBufferSize defines the buffer size for pipeline channels
	// to prevent blocking between pipeline stages
	DefaultChannelBufferSize = 16

	// DefaultCompressorCount defines the number of concurrent compressor goroutines
	DefaultCompressorCount = 4

	// ErrorChannelBufferSize defines the buffer size for the error channel
	ErrorChannelBufferSize = 4
)

// PipelineOptions selects the stages applied by Encode and the policies applied by Decode.
// Algorithms are named by registry name, alias or decimal id.
type PipelineOptions struct {
	// Serializer names the serialization algorithm
	Serializer string

	// Compression names the compression algorithm, or None
	Compression string

	// Level is the compression level; zero selects the codec default
	Level int

	// Seal names the seal algorithm, or None
	Seal string

	// Key is the seal key. It is owned by the caller and never retained.
	// When empty the pipeline asks its key source for KeyID.
	Key []byte

	// KeyID names the key; it is recorded in the seal descriptor
	KeyID string

	// SkipIncompressible omits the compression stage when it does not shrink the payload
	SkipIncompressible bool

	// RequireSeal makes Decode reject containers without a seal stage
	RequireSeal bool

	// ChunkSize defines the size of the chunks used by the streaming variant
	ChunkSize int

	// ChannelBufferSize defines the buffer size for pipeline channels
	ChannelBufferSize int

	// CompressorCount defines the number of concurrent compressor goroutines
	CompressorCount int
}

// DefaultPipelineOptions returns a PipelineOptions with default values
func DefaultPipelineOptions() *PipelineOptions {
	return &PipelineOptions{
		Serializer:        DefaultSerializer,
		Compression:       None,
		Seal:              None,
		ChunkSize:         DefaultChunkSize,
		ChannelBufferSize: DefaultChannelBufferSize,
		CompressorCount:   DefaultCompressorCount,
	}
}

// IsNone reports whether name disables a stage.
func IsNone(name string) bool {
	return name == "" || strings.EqualFold(name, None)
}

// Compressing reports whether a compression stage is configured.
func (o *PipelineOptions) Compressing() bool {
	return !IsNone(o.Compression)
}

// Sealing reports whether a seal stage is configured.
func (o *PipelineOptions) Sealing() bool {
	return !IsNone(o.Seal)
}

// WithDefaults returns a copy with unset fields replaced by defaults.
// The key slice is shared, not copied.
func (o *PipelineOptions) WithDefaults() *PipelineOptions {
	out := *o
	if out.Serializer == "" {
		out.Serializer = DefaultSerializer
	}
	if out.ChunkSize == 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChannelBufferSize == 0 {
		out.ChannelBufferSize = DefaultChannelBufferSize
	}
	if out.CompressorCount == 0 {
		out.CompressorCount = DefaultCompressorCount
	}
	return &out
}

// Validate checks the options for caller misconfiguration. Zero sizes and counts
// are valid and mean the default.
func (o *PipelineOptions) Validate() error {
	switch {
	case o.Level < 0:
		return fmt.Errorf("%w: compression level %d", perrors.ErrUnsupportedParameter, o.Level)
	case o.ChunkSize < 0 || o.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d not in [0, %d]", perrors.ErrUnsupportedParameter, o.ChunkSize, MaxChunkSize)
	case o.ChannelBufferSize < 0:
		return fmt.Errorf("%w: channel buffer size %d", perrors.ErrUnsupportedParameter, o.ChannelBufferSize)
	case o.CompressorCount < 0:
		return fmt.Errorf("%w: compressor count %d", perrors.ErrUnsupportedParameter, o.CompressorCount)
	}
	return nil
}
