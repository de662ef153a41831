// Copyright (c) 2025 A Bit of Help, Inc.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/dataprocessor"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/frame"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/observe"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/compressor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/decompressor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/processor"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/reader"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/writer"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap"
)

// maxPrealloc caps the output buffer reserved from a descriptor's declared size.
const maxPrealloc = 16 << 20

// feedFunc produces numbered chunks on readCh and closes it.
type feedFunc func(ctx context.Context, readCh chan<- processor.Chunk, errCh chan<- error)

// workFunc is one worker of the fan-out.
type workFunc func(ctx context.Context, id int, in <-chan processor.Chunk, out chan<- processor.Chunk, errCh chan<- error, cancel context.CancelFunc)

// fanOut runs feed, ws.workers copies of work, and a writer that hands chunks to write
// in sequence order. It returns once every goroutine has exited. Cancellation of parent
// takes precedence over any error the stages reported.
func (p *Pipeline) fanOut(parent context.Context, ws workerSettings, feed feedFunc, work workFunc, write func(processor.Chunk) error) (writer.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	readCh := make(chan processor.Chunk, ws.channelBuffer)
	outCh := make(chan processor.Chunk, ws.channelBuffer)
	errCh := make(chan error, options.ErrorChannelBufferSize)

	var feedWG sync.WaitGroup
	feedWG.Add(1)
	go func() {
		defer feedWG.Done()
		feed(ctx, readCh, errCh)
	}()

	var workerWG sync.WaitGroup
	for i := range ws.workers {
		workerWG.Add(1)
		go func(id int) {
			defer workerWG.Done()
			work(ctx, id, readCh, outCh, errCh, cancel)
		}(i)
	}

	// Close the writer's input once every worker is done with it
	go func() {
		workerWG.Wait()
		close(outCh)
	}()

	res := writer.Stage(ctx, p.logger, outCh, errCh, nil, cancel, write)

	// The writer can return early on failure; release everyone still running
	cancel()
	feedWG.Wait()
	workerWG.Wait()
	close(errCh)

	collector := perrors.NewErrorCollector()
	for err := range errCh {
		collector.Add(err)
	}
	if err := perrors.FromContext(parent); err != nil {
		p.logger.Debug("Streaming stopped by caller", zap.Error(err))
		return res, err
	}
	return res, collector.Err()
}

// compressChunked reads r in chunks of plan.chunkSize, compresses them in parallel and
// reassembles the chunk frames in order. read is called with the raw byte count before
// the compress stage is reported.
func (p *Pipeline) compressChunked(ctx context.Context, op *operation, plan *encodePlan, r io.Reader, descs []stage.Descriptor, read func(int64)) ([]byte, []stage.Descriptor, error) {
	c := plan.codec
	start := time.Now()

	var raw *bytes.Buffer
	var rawSink io.Writer
	if plan.skipIncompressible {
		raw = new(bytes.Buffer)
		rawSink = raw
	}

	var in reader.Result
	var payload []byte
	out, err := p.fanOut(ctx, plan.workerSettings,
		func(ctx context.Context, readCh chan<- processor.Chunk, errCh chan<- error) {
			in = reader.Stage(ctx, p.logger, r, readCh, errCh, rawSink, plan.chunkSize)
		},
		func(ctx context.Context, id int, inCh <-chan processor.Chunk, outCh chan<- processor.Chunk, errCh chan<- error, cancel context.CancelFunc) {
			compressor.Stage(ctx, id, c, plan.level, p.logger, inCh, outCh, errCh, cancel, nil)
		},
		func(ch processor.Chunk) error {
			payload = frame.AppendChunk(payload, uint32(ch.RawSize), ch.Data)
			return nil
		},
	)
	if err == nil && out.Chunks != in.Chunks {
		err = fmt.Errorf("%w: wrote %d of %d chunks", perrors.ErrPipelineBlocked, out.Chunks, in.Chunks)
	}
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), int(in.Bytes), start)
	}
	if read != nil {
		read(in.Bytes)
	}

	if plan.skipIncompressible && int64(len(payload)) >= in.Bytes {
		op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), int(in.Bytes), len(payload), start,
			observe.Event{Chunks: out.Chunks, Skipped: true})
		return raw.Bytes(), descs, nil
	}
	desc, err := plan.compressDescriptor(uint64(in.Bytes), uint32(plan.chunkSize))
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), int(in.Bytes), start)
	}
	op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), int(in.Bytes), len(payload), start,
		observe.Event{Chunks: out.Chunks})
	return payload, append(descs, desc), nil
}

// EncodeChunked is Encode with the compression stage split into independently
// compressed chunks processed by a pool of workers. The seal still covers the whole
// payload. Cancellation is checked between chunks and returns ErrCanceled; no partial
// container is ever returned.
func (p *Pipeline) EncodeChunked(ctx context.Context, rec serialization.Record, opts *options.PipelineOptions) ([]byte, error) {
	op := p.begin(observe.OpEncode)
	plan, err := p.planEncode(ctx, op, opts)
	if err != nil {
		return nil, err
	}
	defer plan.close()

	raw, descs, err := p.serialize(ctx, op, plan, rec)
	if err != nil {
		return nil, err
	}
	payload := raw
	if plan.codec != nil {
		payload, descs, err = p.compressChunked(ctx, op, plan, bytes.NewReader(raw), descs, nil)
		if err != nil {
			return nil, err
		}
	}
	return p.seal(ctx, op, plan, descs, payload)
}

// rawLayout checks that schemaID is at its current version a single bytes field, the
// shape the raw serializer carries, and returns that version.
func (p *Pipeline) rawLayout(schemaID string) (uint16, error) {
	if p.schemas == nil {
		return 0, fmt.Errorf("%w: no schema source configured", perrors.ErrUnknownSchema)
	}
	s, err := p.schemas.Schema(schemaID)
	if err != nil {
		return 0, err
	}
	layout, err := s.Layout(s.Version)
	if err != nil {
		return 0, err
	}
	if len(layout) != 1 || layout[0].Type != schema.TypeBytes {
		return 0, fmt.Errorf("%w: schema %q is not a single bytes field", perrors.ErrInvalidRecord, schemaID)
	}
	return s.Version, nil
}

// EncodeReader encodes the bytes of r as a record of schemaID, which must be a single
// bytes field such as schema.BlobID. The raw serializer is always used. When
// compression is selected r is streamed through the chunked compressor; otherwise it is
// read whole.
func (p *Pipeline) EncodeReader(ctx context.Context, schemaID string, r io.Reader, opts *options.PipelineOptions) ([]byte, error) {
	o := options.DefaultPipelineOptions()
	if opts != nil {
		copied := *opts
		o = &copied
	}
	o.Serializer = serialization.NewRaw().Name()

	op := p.begin(observe.OpEncode)
	plan, err := p.planEncode(ctx, op, o)
	if err != nil {
		return nil, err
	}
	defer plan.close()

	ser := plan.ser
	start := time.Now()
	version, err := p.rawLayout(schemaID)
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), 0, start)
	}
	desc, err := plan.serializeDescriptor(schemaID, version)
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), 0, start)
	}
	descs := []stage.Descriptor{desc}
	serialized := func(n int64) {
		op.emit(ctx, stage.KindSerialize, ser.ID(), ser.Name(), int(n), int(n), start, observe.Event{})
	}

	if plan.codec != nil {
		payload, descs, err := p.compressChunked(ctx, op, plan, r, descs, serialized)
		if err != nil {
			return nil, err
		}
		return p.seal(ctx, op, plan, descs, payload)
	}

	payload, err := dataprocessor.Run(ctx, func() ([]byte, error) { return io.ReadAll(r) })
	if err != nil {
		if !perrors.IsCancellationError(err) && !perrors.IsTimeoutError(err) {
			err = fmt.Errorf("%w: %w", perrors.ErrIOFailure, err)
		}
		return nil, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), 0, start)
	}
	serialized(int64(len(payload)))
	return p.seal(ctx, op, plan, descs, payload)
}

// DecodeTo decodes a container written by EncodeReader and streams the payload bytes to
// w. Chunked payloads are decompressed by a pool of workers and written in order. On
// error w may hold partial output, so callers that publish files should write through
// writer.Publish.
func (p *Pipeline) DecodeTo(ctx context.Context, data []byte, w io.Writer, opts *options.PipelineOptions) (int64, error) {
	op := p.begin(observe.OpDecode)
	c, plan, err := p.planDecode(ctx, op, data, opts)
	if err != nil {
		return 0, err
	}
	defer plan.close()

	ser := plan.ser
	start := time.Now()
	if ser.ID() != serialization.IDRaw {
		err := fmt.Errorf("%w: payload was serialized with %s, streaming needs raw", perrors.ErrInvalidRecord, ser.Name())
		return 0, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), len(c.Payload), start)
	}
	if _, err := p.rawLayout(plan.serParams.SchemaID); err != nil {
		return 0, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), len(c.Payload), start)
	}

	payload, err := p.open(ctx, op, plan, c)
	if err != nil {
		return 0, err
	}

	counter := &countingWriter{w: w}
	if _, err := p.decompress(ctx, op, plan, payload, counter); err != nil {
		return counter.n, err
	}
	op.emit(ctx, stage.KindSerialize, ser.ID(), ser.Name(), int(counter.n), int(counter.n), start, observe.Event{})
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	cw.n += int64(n)
	return n, err
}

// decompress reverses the compression stage, if one was applied. With a nil sink the
// raw bytes are returned; otherwise they are written to sink and nil is returned.
func (p *Pipeline) decompress(ctx context.Context, op *operation, plan *decodePlan, payload []byte, sink io.Writer) ([]byte, error) {
	c := plan.codec
	if c == nil {
		if sink == nil {
			return payload, nil
		}
		if _, err := sink.Write(payload); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op.name, perrors.ErrIOFailure, err)
		}
		return nil, nil
	}

	start := time.Now()
	size := int(plan.compParams.Size)
	if !plan.chunked() {
		out, err := compression.DecompressWithContext(ctx, c, payload, size)
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), len(payload), start)
		}
		op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), len(payload), len(out), start, observe.Event{})
		if sink == nil {
			return out, nil
		}
		if _, err := sink.Write(out); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op.name, perrors.ErrIOFailure, err)
		}
		return nil, nil
	}

	chunks, err := frame.SplitChunks(payload)
	if err == nil {
		err = checkChunks(chunks, plan.compParams)
	}
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), len(payload), start)
	}

	var out []byte
	if sink == nil {
		out = make([]byte, 0, min(size, maxPrealloc))
	}
	res, err := p.fanOut(ctx, plan.workerSettings,
		func(ctx context.Context, readCh chan<- processor.Chunk, _ chan<- error) {
			defer close(readCh)
			for i, ch := range chunks {
				select {
				case readCh <- processor.Chunk{Seq: i, RawSize: int(ch.RawSize), Data: ch.Data}:
				case <-ctx.Done():
					return
				}
			}
		},
		func(ctx context.Context, id int, inCh <-chan processor.Chunk, outCh chan<- processor.Chunk, errCh chan<- error, cancel context.CancelFunc) {
			decompressor.Stage(ctx, id, c, p.logger, inCh, outCh, errCh, cancel, nil)
		},
		func(ch processor.Chunk) error {
			if sink != nil {
				_, err := sink.Write(ch.Data)
				return err
			}
			out = append(out, ch.Data...)
			return nil
		},
	)
	if err == nil && res.Chunks != len(chunks) {
		err = fmt.Errorf("%w: wrote %d of %d chunks", perrors.ErrPipelineBlocked, res.Chunks, len(chunks))
	}
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), len(payload), start)
	}
	op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), len(payload), int(res.Bytes), start,
		observe.Event{Chunks: res.Chunks})
	return out, nil
}

// checkChunks verifies the chunk frames against the descriptor before any chunk is
// decompressed, so out is never grown past the declared size.
func checkChunks(chunks []frame.Chunk, params compression.Params) error {
	var total uint64
	for i, ch := range chunks {
		if ch.RawSize > params.ChunkSize {
			return fmt.Errorf("%w: chunk %d declares %d bytes, chunk size is %d",
				perrors.ErrCompression, i, ch.RawSize, params.ChunkSize)
		}
		total += uint64(ch.RawSize)
	}
	if total != params.Size {
		return fmt.Errorf("%w: chunks hold %d bytes, descriptor declares %d",
			perrors.ErrCompression, total, params.Size)
	}
	return nil
}
