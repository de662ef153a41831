// Copyright (c) 2025 A Bit of Help, Inc.

// Package serialization turns schema-described records into bytes and back.
//
// A Serializer encodes the ordered values of one schema layout. Codec pairs a
// Serializer with a schema Source and handles the versioning rules: records are
// written at their declared version, older payloads are upgraded to the current
// version on read, and payloads from a newer version are rejected.
package serialization

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/dataprocessor"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Algorithm ids. Never reassign a value.
const (
	IDMsgpack   stage.AlgorithmID = 1
	IDCBOR      stage.AlgorithmID = 2
	IDProtowire stage.AlgorithmID = 3
	IDRaw       stage.AlgorithmID = 4
)

// Record is a structured value tagged with its schema id and version.
type Record struct {
	Schema  string
	Version uint16
	Fields  map[string]any
}

// Equal reports whether two records carry the same schema, version and values.
// Values are compared after normalization, so use records returned by Decode or
// Codec.Normalize.
func (r Record) Equal(o Record) bool {
	if r.Schema != o.Schema || r.Version != o.Version || len(r.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range r.Fields {
		ov, ok := o.Fields[k]
		if !ok {
			return false
		}
		if b, isBytes := v.([]byte); isBytes {
			ob, ok := ov.([]byte)
			if !ok || !bytes.Equal(b, ob) {
				return false
			}
			continue
		}
		if v != ov {
			return false
		}
	}
	return true
}

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Serializer encodes the ordered values of a layout.
type Serializer interface {
	ID() stage.AlgorithmID
	Name() string
	Version() uint16

	// Marshal encodes values, which are already normalized and ordered by layout.
	Marshal(layout []schema.Field, values []any) ([]byte, error)

	// Unmarshal decodes one value per layout field.
	Unmarshal(data []byte, layout []schema.Field) ([]any, error)
}

// Builtins returns a fresh instance of every serializer shipped with the module.
func Builtins() []Serializer {
	return []Serializer{
		NewMsgpack(),
		NewCBOR(),
		NewProtowire(),
		NewRaw(),
	}
}

// Params are the serialize stage parameters recorded in a descriptor.
type Params struct {
	SchemaID      string
	SchemaVersion uint16
}

// MarshalBinary encodes the parameters as version u16 followed by the schema id.
func (p Params) MarshalBinary() ([]byte, error) {
	if p.SchemaID == "" {
		return nil, fmt.Errorf("%w: empty schema id", perrors.ErrInvalidRecord)
	}
	buf := make([]byte, 2, 2+len(p.SchemaID))
	binary.BigEndian.PutUint16(buf, p.SchemaVersion)
	return append(buf, p.SchemaID...), nil
}

// UnmarshalBinary decodes parameters written by MarshalBinary.
func (p *Params) UnmarshalBinary(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("%w: serialize params are %d bytes", perrors.ErrUnsupportedParameter, len(data))
	}
	p.SchemaVersion = binary.BigEndian.Uint16(data[:2])
	p.SchemaID = string(data[2:])
	return nil
}

// Codec encodes and decodes whole records.
type Codec struct {
	ser     Serializer
	schemas schema.Source
}

// NewCodec returns a Codec that encodes with ser and resolves layouts from schemas.
func NewCodec(ser Serializer, schemas schema.Source) *Codec {
	return &Codec{ser: ser, schemas: schemas}
}

// Serializer returns the underlying serializer.
func (c *Codec) Serializer() Serializer {
	return c.ser
}

// Normalize checks rec against its schema layout and returns a copy holding canonical
// values, with omitted fields filled from their defaults.
func (c *Codec) Normalize(rec Record) (Record, error) {
	_, layout, err := c.layout(rec.Schema, rec.Version)
	if err != nil {
		return Record{}, err
	}
	values, err := orderedValues(rec, layout)
	if err != nil {
		return Record{}, err
	}
	return Record{Schema: rec.Schema, Version: rec.Version, Fields: toMap(layout, values)}, nil
}

// Encode serializes rec at its declared version.
func (c *Codec) Encode(rec Record) ([]byte, error) {
	_, layout, err := c.layout(rec.Schema, rec.Version)
	if err != nil {
		return nil, err
	}
	values, err := orderedValues(rec, layout)
	if err != nil {
		return nil, err
	}
	return c.ser.Marshal(layout, values)
}

// Decode deserializes data written at version and returns the record upgraded to the
// current schema version.
func (c *Codec) Decode(data []byte, schemaID string, version uint16) (Record, error) {
	s, layout, err := c.layout(schemaID, version)
	if err != nil {
		return Record{}, err
	}
	values, err := c.ser.Unmarshal(data, layout)
	if err != nil {
		return Record{}, err
	}
	if len(values) != len(layout) {
		return Record{}, fmt.Errorf("%w: decoded %d values for %d fields", perrors.ErrInvalidRecord, len(values), len(layout))
	}
	for i, f := range layout {
		v, err := normalizeDecoded(f, values[i])
		if err != nil {
			return Record{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		values[i] = v
	}

	fields := toMap(layout, values)
	for _, f := range s.Fields {
		if _, ok := fields[f.Name]; !ok {
			fields[f.Name] = f.Default
		}
	}
	return Record{Schema: schemaID, Version: s.Version, Fields: fields}, nil
}

// EncodeWithContext encodes rec with context awareness.
func (c *Codec) EncodeWithContext(ctx context.Context, rec Record) ([]byte, error) {
	return dataprocessor.Run(ctx, func() ([]byte, error) { return c.Encode(rec) })
}

// DecodeWithContext decodes data with context awareness.
func (c *Codec) DecodeWithContext(ctx context.Context, data []byte, schemaID string, version uint16) (Record, error) {
	return dataprocessor.Run(ctx, func() (Record, error) { return c.Decode(data, schemaID, version) })
}

func (c *Codec) layout(id string, version uint16) (*schema.Schema, []schema.Field, error) {
	if c.schemas == nil {
		return nil, nil, fmt.Errorf("%w: no schema source configured", perrors.ErrUnknownSchema)
	}
	s, err := c.schemas.Schema(id)
	if err != nil {
		return nil, nil, err
	}
	layout, err := s.Layout(version)
	if err != nil {
		return nil, nil, err
	}
	return s, layout, nil
}

func orderedValues(rec Record, layout []schema.Field) ([]any, error) {
	known := make(map[string]bool, len(layout))
	values := make([]any, len(layout))
	for i, f := range layout {
		known[f.Name] = true
		v, ok := rec.Fields[f.Name]
		if !ok {
			if !f.HasDefault() {
				return nil, fmt.Errorf("%w: missing field %q", perrors.ErrInvalidRecord, f.Name)
			}
			values[i] = f.Default
			continue
		}
		n, err := schema.Normalize(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		values[i] = n
	}
	for name := range rec.Fields {
		if !known[name] {
			return nil, fmt.Errorf("%w: field %q is not in %s v%d", perrors.ErrInvalidRecord, name, rec.Schema, rec.Version)
		}
	}
	return values, nil
}

// normalizeDecoded maps a decoded value to its canonical type. Encoders write empty
// byte strings as nil, which reads back as nil.
func normalizeDecoded(f schema.Field, v any) (any, error) {
	if v == nil && f.Type == schema.TypeBytes {
		return []byte{}, nil
	}
	return schema.Normalize(f.Type, v)
}

func toMap(layout []schema.Field, values []any) map[string]any {
	m := make(map[string]any, len(layout))
	for i, f := range layout {
		m[f.Name] = values[i]
	}
	return m
}
