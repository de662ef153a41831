// Copyright (c) 2025 A Bit of Help, Inc.

package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/frame"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/keys"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// workerSettings are the fan-out parameters of the streaming variant.
type workerSettings struct {
	chunkSize     int
	workers       int
	channelBuffer int
}

func settingsFrom(opts *options.PipelineOptions) workerSettings {
	return workerSettings{
		chunkSize:     opts.ChunkSize,
		workers:       opts.CompressorCount,
		channelBuffer: opts.ChannelBufferSize,
	}
}

// encodePlan is every algorithm and key an encode needs, resolved up front.
type encodePlan struct {
	ser serialization.Serializer

	codec              compression.Codec
	level              int
	skipIncompressible bool

	sealer seal.Sealer
	key    *keys.Buffer
	keyID  string

	workerSettings
}

func (pl *encodePlan) close() {
	if pl.key != nil {
		_ = pl.key.Close()
	}
}

func (pl *encodePlan) serializeDescriptor(schemaID string, version uint16) (stage.Descriptor, error) {
	params, err := serialization.Params{SchemaID: schemaID, SchemaVersion: version}.MarshalBinary()
	if err != nil {
		return stage.Descriptor{}, err
	}
	return stage.Descriptor{Kind: stage.KindSerialize, Algorithm: pl.ser.ID(), Version: pl.ser.Version(), Params: params}, nil
}

func (pl *encodePlan) compressDescriptor(size uint64, chunkSize uint32) (stage.Descriptor, error) {
	params, err := compression.Params{Level: pl.level, Size: size, ChunkSize: chunkSize}.MarshalBinary()
	if err != nil {
		return stage.Descriptor{}, err
	}
	return stage.Descriptor{Kind: stage.KindCompress, Algorithm: pl.codec.ID(), Version: pl.codec.Version(), Params: params}, nil
}

func (pl *encodePlan) sealDescriptor() (stage.Descriptor, error) {
	params, err := seal.Params{KeyID: pl.keyID}.MarshalBinary()
	if err != nil {
		return stage.Descriptor{}, err
	}
	return stage.Descriptor{Kind: stage.KindSeal, Algorithm: pl.sealer.ID(), Version: pl.sealer.Version(), Params: params}, nil
}

// planEncode resolves the algorithms named by opts and acquires the seal key. Nothing
// is serialized until every stage is known to be available.
func (p *Pipeline) planEncode(ctx context.Context, op *operation, opts *options.PipelineOptions) (*encodePlan, error) {
	if opts == nil {
		opts = options.DefaultPipelineOptions()
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op.name, err)
	}

	start := time.Now()
	plan := &encodePlan{
		skipIncompressible: opts.SkipIncompressible,
		keyID:              opts.KeyID,
		workerSettings:     settingsFrom(opts),
	}

	serID, err := p.registry.Lookup(stage.KindSerialize, opts.Serializer)
	if err == nil {
		plan.ser, err = p.registry.ResolveSerializer(serID)
	}
	if err != nil {
		return nil, op.fail(ctx, err, stage.KindSerialize, serID, opts.Serializer, 0, start)
	}

	if opts.Compressing() {
		id, err := p.registry.Lookup(stage.KindCompress, opts.Compression)
		if err == nil {
			plan.codec, err = p.registry.ResolveCompressor(id)
		}
		if err == nil {
			plan.level, err = compression.ValidateLevel(plan.codec, opts.Level)
		}
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindCompress, id, opts.Compression, 0, start)
		}
	}

	if opts.Sealing() {
		id, err := p.registry.Lookup(stage.KindSeal, opts.Seal)
		if err == nil {
			plan.sealer, err = p.registry.ResolveSealer(id)
		}
		if err == nil {
			plan.key, err = p.acquireKey(ctx, plan.sealer, opts.Key, opts.KeyID)
		}
		if err != nil {
			return nil, op.fail(ctx, err, stage.KindSeal, id, opts.Seal, 0, start)
		}
	}
	return plan, nil
}

// acquireKey copies the seal key into a Buffer the caller must close. An explicit key
// wins over the key source. Keyless sealers get an empty buffer.
func (p *Pipeline) acquireKey(ctx context.Context, s seal.Sealer, explicit []byte, keyID string) (*keys.Buffer, error) {
	if s.KeySize() == 0 {
		return keys.NewBuffer(nil), nil
	}
	if len(explicit) > 0 {
		return keys.NewBuffer(explicit), nil
	}
	if p.keys == nil {
		return nil, fmt.Errorf("%w: %s requires a key and no key source is configured", perrors.ErrKey, s.Name())
	}
	k, err := p.keys.Key(ctx, keyID)
	if err != nil {
		return nil, err
	}
	defer keys.Zero(k)
	return keys.NewBuffer(k), nil
}

// decodePlan is every algorithm, parameter set and key a decode needs.
type decodePlan struct {
	ser       serialization.Serializer
	serParams serialization.Params

	codec      compression.Codec
	compParams compression.Params

	sealer     seal.Sealer
	sealParams seal.Params
	key        *keys.Buffer

	workerSettings
}

func (pl *decodePlan) close() {
	if pl.key != nil {
		_ = pl.key.Close()
	}
}

// chunked reports whether the payload is a sequence of chunk frames.
func (pl *decodePlan) chunked() bool {
	return pl.codec != nil && pl.compParams.ChunkSize > 0
}

// unresolvable wraps a registry miss or version skew for a descriptor.
func unresolvable(d stage.Descriptor, err error) error {
	return fmt.Errorf("%w: %s algorithm %d v%d: %w", perrors.ErrUnresolvableStage, d.Kind, d.Algorithm, d.Version, err)
}

// newerThan reports a descriptor written by a newer implementation than the local one.
func newerThan(d stage.Descriptor, local uint16) error {
	if d.Version > local {
		return unresolvable(d, fmt.Errorf("%w: local implementation is v%d", perrors.ErrUnknownAlgorithm, local))
	}
	return nil
}

// planDecode parses data and resolves every descriptor before any stage is applied,
// so a container naming one unknown algorithm is rejected as a whole.
func (p *Pipeline) planDecode(ctx context.Context, op *operation, data []byte, opts *options.PipelineOptions) (*frame.Container, *decodePlan, error) {
	if opts == nil {
		opts = options.DefaultPipelineOptions()
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op.name, err)
	}

	c, err := frame.Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op.name, err)
	}

	start := time.Now()
	if opts.RequireSeal && !c.Sealed() {
		err := fmt.Errorf("%w: container is not sealed", perrors.ErrIntegrityViolation)
		return nil, nil, op.fail(ctx, err, stage.KindSeal, 0, "", len(c.Payload), start)
	}

	plan := &decodePlan{workerSettings: settingsFrom(opts)}
	for _, d := range c.Descriptors {
		name := p.registry.Name(d.Kind, d.Algorithm)
		if err := p.resolveDescriptor(plan, d); err != nil {
			return nil, nil, op.fail(ctx, err, d.Kind, d.Algorithm, name, len(c.Payload), start)
		}
	}

	if plan.sealer != nil {
		plan.key, err = p.acquireKey(ctx, plan.sealer, opts.Key, plan.sealParams.KeyID)
		if err != nil {
			return nil, nil, op.fail(ctx, err, stage.KindSeal, plan.sealer.ID(), plan.sealer.Name(), len(c.Payload), start)
		}
	}
	return c, plan, nil
}

func (p *Pipeline) resolveDescriptor(plan *decodePlan, d stage.Descriptor) error {
	switch d.Kind {
	case stage.KindSerialize:
		s, err := p.registry.ResolveSerializer(d.Algorithm)
		if err != nil {
			return unresolvable(d, err)
		}
		if err := newerThan(d, s.Version()); err != nil {
			return err
		}
		if err := plan.serParams.UnmarshalBinary(d.Params); err != nil {
			return err
		}
		plan.ser = s

	case stage.KindCompress:
		c, err := p.registry.ResolveCompressor(d.Algorithm)
		if err != nil {
			return unresolvable(d, err)
		}
		if err := newerThan(d, c.Version()); err != nil {
			return err
		}
		if err := plan.compParams.UnmarshalBinary(d.Params); err != nil {
			return err
		}
		if plan.compParams.Size > math.MaxInt {
			return fmt.Errorf("%w: payload size %d", perrors.ErrUnsupportedParameter, plan.compParams.Size)
		}
		if plan.compParams.ChunkSize > options.MaxChunkSize {
			return fmt.Errorf("%w: chunk size %d", perrors.ErrUnsupportedParameter, plan.compParams.ChunkSize)
		}
		plan.codec = c

	case stage.KindSeal:
		s, err := p.registry.ResolveSealer(d.Algorithm)
		if err != nil {
			return unresolvable(d, err)
		}
		if err := newerThan(d, s.Version()); err != nil {
			return err
		}
		if err := plan.sealParams.UnmarshalBinary(d.Params); err != nil {
			return err
		}
		plan.sealer = s

	default:
		return unresolvable(d, fmt.Errorf("%w: stage kind %d", perrors.ErrUnknownAlgorithm, uint8(d.Kind)))
	}
	return nil
}
