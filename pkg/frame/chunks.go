// Copyright (c) 2025 A Bit of Help, Inc.

package frame

import (
	"encoding/binary"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

// chunkHeaderSize is raw_len u32 followed by data_len u32.
const chunkHeaderSize = 8

// Chunk is one independently compressed piece of a streamed payload.
type Chunk struct {
	// RawSize is the length of the chunk before compression
	RawSize uint32

	// Data is the compressed chunk
	Data []byte
}

// ChunkFrameSize is the encoded size of a chunk holding n data bytes.
func ChunkFrameSize(n int) int {
	return chunkHeaderSize + n
}

// AppendChunk appends one chunk frame to dst.
func AppendChunk(dst []byte, rawSize uint32, data []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, rawSize)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

// SplitChunks decodes a sequence of chunk frames. Chunk data aliases payload.
func SplitChunks(payload []byte) ([]Chunk, error) {
	var chunks []Chunk
	for off := 0; off < len(payload); {
		if len(payload)-off < chunkHeaderSize {
			return nil, fmt.Errorf("%w: chunk header at offset %d", perrors.ErrTruncatedContainer, off)
		}
		raw := binary.BigEndian.Uint32(payload[off:])
		n := binary.BigEndian.Uint32(payload[off+4:])
		off += chunkHeaderSize
		if uint64(n) > uint64(len(payload)-off) {
			return nil, fmt.Errorf("%w: chunk at offset %d declares %d bytes", perrors.ErrTruncatedContainer, off-chunkHeaderSize, n)
		}
		chunks = append(chunks, Chunk{RawSize: raw, Data: payload[off : off+int(n)]})
		off += int(n)
	}
	return chunks, nil
}
