// Copyright (c) 2025 A Bit of Help, Inc.

// Package pipeline provides the end-to-end encode and decode contract.
//
// Encode applies serialize, then optionally compress, then optionally seal, and frames
// the result into a self-describing container. Decode parses the container, resolves
// every recorded descriptor before touching the payload, and reverses the stages in
// the order the descriptors give.
//
// The pipeline architecture separates core functionality from pipeline integration:
//
//  1. Core packages in /pkg (compression, seal, serialization, frame) implement the
//     algorithms and the wire format and can be used on their own.
//
//  2. Pipeline packages in /pkg/pipeline (reader, compressor, decompressor, writer)
//     fan chunk work out across goroutines for the streaming variant.
//
// A Pipeline holds no per-call state and is safe for concurrent use. The registry it
// is built with is frozen by New, which is the initialization barrier after which
// algorithms are only ever read.
package pipeline

import (
	"context"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/frame"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/keys"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/observe"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/registry"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"go.uber.org/zap"
)

// Pipeline encodes records into containers and decodes them back.
type Pipeline struct {
	registry *registry.Registry
	schemas  schema.Source
	keys     keys.Source
	observer observe.Observer
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithKeySource sets where seal keys come from when the options carry none.
func WithKeySource(src keys.Source) Option {
	return func(p *Pipeline) { p.keys = src }
}

// WithObserver sets the sink for stage events.
func WithObserver(o observe.Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the logger handed to the streaming worker stages.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a pipeline over reg and schemas. A nil reg selects registry.Default().
// reg is frozen, so all registration must happen before New.
func New(reg *registry.Registry, schemas schema.Source, opts ...Option) *Pipeline {
	if reg == nil {
		reg = registry.Default()
	}
	reg.Freeze()
	p := &Pipeline{
		registry: reg,
		schemas:  schemas,
		observer: observe.Nop,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry the pipeline resolves algorithms from.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// operation carries the per-call identity that ties stage events together.
type operation struct {
	id       string
	name     string
	observer observe.Observer
}

func (p *Pipeline) begin(name string) *operation {
	return &operation{id: observe.NewOperationID(), name: name, observer: p.observer}
}

// emit reports one stage to the observer.
func (op *operation) emit(ctx context.Context, kind stage.Kind, id stage.AlgorithmID, name string, in, out int, start time.Time, ev observe.Event) {
	ev.OperationID = op.id
	ev.Operation = op.name
	ev.Stage = kind
	ev.AlgorithmID = id
	ev.Algorithm = name
	ev.BytesIn = in
	ev.BytesOut = out
	ev.Duration = time.Since(start)
	op.observer.StageApplied(ctx, ev)
}

// fail wraps err with the stage it happened in, reports it, and returns it.
// Errors that already carry a stage are passed through unchanged.
func (op *operation) fail(ctx context.Context, err error, kind stage.Kind, id stage.AlgorithmID, name string, size int, start time.Time) error {
	if se, ok := perrors.AsStageError(err); ok {
		kind, id, name = se.Stage, se.AlgorithmID, se.Algorithm
	} else {
		err = perrors.NewStageError(err, kind, id, name, op.name, size)
	}
	op.emit(ctx, kind, id, name, size, 0, start, observe.Event{Err: err})
	return err
}

// Encode serializes rec and applies the stages opts selects. A nil opts means
// serialize only, with the default serializer.
func (p *Pipeline) Encode(ctx context.Context, rec serialization.Record, opts *options.PipelineOptions) ([]byte, error) {
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
		payload, descs, err = p.compressBulk(ctx, op, plan, raw, descs)
		if err != nil {
			return nil, err
		}
	}
	return p.seal(ctx, op, plan, descs, payload)
}

// serialize encodes rec and returns it with the descriptor list it starts.
func (p *Pipeline) serialize(ctx context.Context, op *operation, plan *encodePlan, rec serialization.Record) ([]byte, []stage.Descriptor, error) {
	ser := plan.ser
	start := time.Now()
	desc, err := plan.serializeDescriptor(rec.Schema, rec.Version)
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), 0, start)
	}
	raw, err := serialization.NewCodec(ser, p.schemas).EncodeWithContext(ctx, rec)
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), 0, start)
	}
	op.emit(ctx, stage.KindSerialize, ser.ID(), ser.Name(), 0, len(raw), start, observe.Event{})
	return raw, []stage.Descriptor{desc}, nil
}

// compressBulk compresses the whole payload in one call.
func (p *Pipeline) compressBulk(ctx context.Context, op *operation, plan *encodePlan, raw []byte, descs []stage.Descriptor) ([]byte, []stage.Descriptor, error) {
	c := plan.codec
	start := time.Now()
	out, err := compression.CompressWithContext(ctx, c, raw, plan.level)
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), len(raw), start)
	}
	if plan.skipIncompressible && len(out) >= len(raw) {
		op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), len(raw), len(out), start, observe.Event{Skipped: true})
		return raw, descs, nil
	}
	desc, err := plan.compressDescriptor(uint64(len(raw)), 0)
	if err != nil {
		return nil, nil, op.fail(ctx, err, stage.KindCompress, c.ID(), c.Name(), len(raw), start)
	}
	op.emit(ctx, stage.KindCompress, c.ID(), c.Name(), len(raw), len(out), start, observe.Event{})
	return out, append(descs, desc), nil
}

// seal appends the seal descriptor when one is planned, seals the payload with the
// header as associated data, and frames the container.
func (p *Pipeline) seal(ctx context.Context, op *operation, plan *encodePlan, descs []stage.Descriptor, payload []byte) ([]byte, error) {
	var tag []byte
	if s := plan.sealer; s != nil {
		start := time.Now()
		desc, err := plan.sealDescriptor()
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindSeal, s.ID(), s.Name(), len(payload), start)
		}
		descs = append(descs, desc)
		header, err := frame.EncodeHeader(descs)
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindSeal, s.ID(), s.Name(), len(payload), start)
		}
		sealed, t, err := seal.SealWithContext(ctx, s, payload, plan.key.Bytes(), seal.Params{
			KeyID:          plan.keyID,
			AssociatedData: header,
		})
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindSeal, s.ID(), s.Name(), len(payload), start)
		}
		op.emit(ctx, stage.KindSeal, s.ID(), s.Name(), len(payload), len(sealed)+len(t), start, observe.Event{})
		payload, tag = sealed, t
		return frame.BuildWithHeader(header, payload, descs, tag)
	}
	return frame.Build(payload, descs, tag)
}

// Decode parses a container and reverses its stages. opts may be nil; only Key and
// RequireSeal are consulted. On failure no part of a record is returned.
func (p *Pipeline) Decode(ctx context.Context, data []byte, opts *options.PipelineOptions) (serialization.Record, error) {
	op := p.begin(observe.OpDecode)
	c, plan, err := p.planDecode(ctx, op, data, opts)
	if err != nil {
		return serialization.Record{}, err
	}
	defer plan.close()

	payload, err := p.open(ctx, op, plan, c)
	if err != nil {
		return serialization.Record{}, err
	}
	raw, err := p.decompress(ctx, op, plan, payload, nil)
	if err != nil {
		return serialization.Record{}, err
	}

	start := time.Now()
	ser := plan.ser
	rec, err := serialization.NewCodec(ser, p.schemas).DecodeWithContext(ctx, raw, plan.serParams.SchemaID, plan.serParams.SchemaVersion)
	if err != nil {
		return serialization.Record{}, op.fail(ctx, err, stage.KindSerialize, ser.ID(), ser.Name(), len(raw), start)
	}
	op.emit(ctx, stage.KindSerialize, ser.ID(), ser.Name(), len(raw), len(raw), start, observe.Event{})
	return rec, nil
}

// open verifies and, for confidentiality sealers, decrypts the payload.
func (p *Pipeline) open(ctx context.Context, op *operation, plan *decodePlan, c *frame.Container) ([]byte, error) {
	s := plan.sealer
	if s == nil {
		return c.Payload, nil
	}
	start := time.Now()
	out, err := seal.OpenWithContext(ctx, s, c.Payload, c.Tag, plan.key.Bytes(), seal.Params{
		KeyID:          plan.sealParams.KeyID,
		AssociatedData: c.Header,
	})
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindSeal, s.ID(), s.Name(), len(c.Payload), start)
	}
	op.emit(ctx, stage.KindSeal, s.ID(), s.Name(), len(c.Payload)+len(c.Tag), len(out), start, observe.Event{})
	return out, nil
}
