// Copyright (c) 2025 A Bit of Help, Inc.

// Package stats accumulates pipeline statistics from stage events
package stats

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/observe"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Stats tracks pipeline statistics with thread-safe access methods.
// Stage counters are direction independent: compressed and sealed sizes are the
// same whether the event came from an encode or a decode.
type Stats struct {
	// File level byte counts, maintained by the caller
	InputBytes  atomic.Uint64
	OutputBytes atomic.Uint64

	// Stage byte counts, maintained by StageApplied
	SerializedBytes atomic.Uint64
	CompressInBytes atomic.Uint64
	CompressedBytes atomic.Uint64
	SealInBytes     atomic.Uint64
	SealedBytes     atomic.Uint64

	// Cryptographic hashes for verification
	InputHash  []byte
	OutputHash []byte

	// Event counts
	Operations      atomic.Uint64
	ChunksProcessed atomic.Uint64
	SkippedStages   atomic.Uint64
	FailedStages    atomic.Uint64

	// Performance metrics
	ProcessingTime time.Duration
	stageNanos     atomic.Int64
}

var _ observe.Observer = (*Stats)(nil)

// NewStats creates a new Stats instance with initialized fields
func NewStats() *Stats {
	return &Stats{
		InputHash:  make([]byte, 0),
		OutputHash: make([]byte, 0),
	}
}

// UpdateInputBytes safely adds n bytes to the input byte count
func (s *Stats) UpdateInputBytes(n uint64) {
	s.InputBytes.Add(n)
}

// UpdateOutputBytes safely adds n bytes to the output byte count
func (s *Stats) UpdateOutputBytes(n uint64) {
	s.OutputBytes.Add(n)
}

// StageTime returns the total time spent inside stages.
func (s *Stats) StageTime() time.Duration {
	return time.Duration(s.stageNanos.Load())
}

// StageApplied implements observe.Observer.
func (s *Stats) StageApplied(_ context.Context, ev observe.Event) {
	if ev.Err != nil {
		s.FailedStages.Add(1)
		return
	}
	if ev.Skipped {
		s.SkippedStages.Add(1)
		return
	}
	s.stageNanos.Add(int64(ev.Duration))
	s.ChunksProcessed.Add(uint64(ev.Chunks))

	// plain is the size on the serialize side of the stage, transformed the other.
	plain, transformed := ev.BytesIn, ev.BytesOut
	if ev.Operation == observe.OpDecode {
		plain, transformed = transformed, plain
	}

	switch ev.Stage {
	case stage.KindSerialize:
		s.Operations.Add(1)
		s.SerializedBytes.Add(uint64(transformed))
	case stage.KindCompress:
		s.CompressInBytes.Add(uint64(plain))
		s.CompressedBytes.Add(uint64(transformed))
	case stage.KindSeal:
		s.SealInBytes.Add(uint64(plain))
		s.SealedBytes.Add(uint64(transformed))
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds %dms", hours, minutes, seconds, milliseconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds %dms", minutes, seconds, milliseconds)
	} else if seconds > 0 {
		return fmt.Sprintf("%ds %dms", seconds, milliseconds)
	}
	return fmt.Sprintf("%dms", milliseconds)
}

// ratio divides a by b, returning 0 when either is zero.
func ratio(a, b uint64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// CalculateRatios returns the compression ratio, the seal ratio and the percentage
// of space saved between input and output.
func (s *Stats) CalculateRatios() (float64, float64, float64) {
	compressionRatio := ratio(s.CompressInBytes.Load(), s.CompressedBytes.Load())
	sealRatio := ratio(s.SealInBytes.Load(), s.SealedBytes.Load())

	// Percentage of space saved = (1 - (output size / input size)) * 100
	var saved float64
	if in := s.InputBytes.Load(); in > 0 {
		saved = (1 - float64(s.OutputBytes.Load())/float64(in)) * 100
	}
	return compressionRatio, sealRatio, saved
}

// DisplaySummary writes a summary of the processing results to w and logs it
func (s *Stats) DisplaySummary(w io.Writer, logger *zap.Logger, inputPath, outputPath string) {
	timeFormatted := FormatDuration(s.ProcessingTime)
	compressionRatio, sealRatio, saved := s.CalculateRatios()

	inputBytes := s.InputBytes.Load()
	outputBytes := s.OutputBytes.Load()
	serializedBytes := s.SerializedBytes.Load()
	compressedBytes := s.CompressedBytes.Load()
	sealedBytes := s.SealedBytes.Load()
	chunksProcessed := s.ChunksProcessed.Load()

	fmt.Fprintln(w, "\n==================")
	fmt.Fprintln(w, "Processing Summary")
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Input file: %s\n", inputPath)
	fmt.Fprintf(w, "Output file: %s\n", outputPath)
	fmt.Fprintln(w, "------------------")
	fmt.Fprintf(w, "Total input bytes: %s (%d bytes)\n", humanize.Bytes(inputBytes), inputBytes)
	fmt.Fprintf(w, "Input SHA256: %s\n", hex.EncodeToString(s.InputHash))
	fmt.Fprintf(w, "Total output bytes: %s (%d bytes)\n", humanize.Bytes(outputBytes), outputBytes)
	fmt.Fprintf(w, "Output SHA256: %s\n", hex.EncodeToString(s.OutputHash))
	fmt.Fprintln(w, "------------------")
	fmt.Fprintf(w, "Serialized payload: %s\n", humanize.Bytes(serializedBytes))
	fmt.Fprintf(w, "Compressed payload: %s\n", humanize.Bytes(compressedBytes))
	fmt.Fprintf(w, "Sealed payload: %s\n", humanize.Bytes(sealedBytes))
	fmt.Fprintf(w, "Compression Ratio: %.2f:1\n", compressionRatio)
	fmt.Fprintf(w, "Seal Ratio: %.2f:1\n", sealRatio)
	fmt.Fprintf(w, "Space Saved: %.2f%%\n", saved)
	fmt.Fprintf(w, "Number of chunks processed: %s\n", humanize.Comma(int64(chunksProcessed)))
	fmt.Fprintln(w, "------------------")
	fmt.Fprintf(w, "Time in stages: %s\n", FormatDuration(s.StageTime()))
	fmt.Fprintf(w, "Total processing time: %s (%v)\n", timeFormatted, s.ProcessingTime)
	fmt.Fprintln(w, "==================")

	if logger == nil {
		return
	}
	logger.Debug("Processing completed successfully",
		zap.String("input_file", inputPath),
		zap.String("output_file", outputPath),
		zap.Uint64("total_input_bytes", inputBytes),
		zap.String("input_sha256_hash", hex.EncodeToString(s.InputHash)),
		zap.Uint64("total_output_bytes", outputBytes),
		zap.String("output_sha256_hash", hex.EncodeToString(s.OutputHash)),
		zap.Uint64("serialized_bytes", serializedBytes),
		zap.Uint64("compressed_bytes", compressedBytes),
		zap.Float64("compression_ratio", compressionRatio),
		zap.Uint64("sealed_bytes", sealedBytes),
		zap.Float64("seal_ratio", sealRatio),
		zap.Float64("saved_space", saved),
		zap.Uint64("operations", s.Operations.Load()),
		zap.Uint64("chunks_processed", chunksProcessed),
		zap.Uint64("skipped_stages", s.SkippedStages.Load()),
		zap.Uint64("failed_stages", s.FailedStages.Load()),
		zap.Duration("processing_time", s.ProcessingTime),
		zap.String("formatted_processing_time", timeFormatted))
}
