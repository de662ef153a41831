// Copyright (c) 2025 A Bit of Help, Inc.

package serialization

import (
	"fmt"
	"math"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"google.golang.org/protobuf/encoding/protowire"
)

// Protowire writes the layout as a protobuf message without generated code. The field
// number is the layout position plus one; ints are sint64, uints are uint64, floats are
// double. Every field is written, including zero values.
type Protowire struct{}

// NewProtowire returns the protobuf wire serializer.
func NewProtowire() *Protowire { return &Protowire{} }

func (*Protowire) ID() stage.AlgorithmID { return IDProtowire }
func (*Protowire) Name() string          { return "protowire" }
func (*Protowire) Version() uint16       { return 1 }

func wireType(t schema.FieldType) protowire.Type {
	switch t {
	case schema.TypeFloat:
		return protowire.Fixed64Type
	case schema.TypeString, schema.TypeBytes:
		return protowire.BytesType
	default:
		return protowire.VarintType
	}
}

// Marshal implements Serializer.
func (*Protowire) Marshal(layout []schema.Field, values []any) ([]byte, error) {
	var b []byte
	for i, f := range layout {
		num := protowire.Number(i + 1)
		b = protowire.AppendTag(b, num, wireType(f.Type))
		switch v := values[i].(type) {
		case int64:
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
		case uint64:
			b = protowire.AppendVarint(b, v)
		case float64:
			b = protowire.AppendFixed64(b, math.Float64bits(v))
		case string:
			b = protowire.AppendString(b, v)
		case []byte:
			b = protowire.AppendBytes(b, v)
		case bool:
			b = protowire.AppendVarint(b, protowire.EncodeBool(v))
		default:
			return nil, fmt.Errorf("%w: protowire cannot encode %T for %q", perrors.ErrInvalidRecord, v, f.Name)
		}
	}
	return b, nil
}

// Unmarshal implements Serializer.
func (*Protowire) Unmarshal(data []byte, layout []schema.Field) ([]any, error) {
	values := make([]any, len(layout))
	seen := make([]bool, len(layout))

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: protowire tag: %w", perrors.ErrInvalidRecord, protowire.ParseError(n))
		}
		data = data[n:]

		idx := int(num) - 1
		if idx < 0 || idx >= len(layout) {
			return nil, fmt.Errorf("%w: protowire field %d outside layout", perrors.ErrInvalidRecord, num)
		}
		f := layout[idx]
		if typ != wireType(f.Type) {
			return nil, fmt.Errorf("%w: protowire field %q has wire type %d", perrors.ErrInvalidRecord, f.Name, typ)
		}

		var v any
		switch f.Type {
		case schema.TypeInt, schema.TypeUint, schema.TypeBool:
			x, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: protowire varint: %w", perrors.ErrInvalidRecord, protowire.ParseError(m))
			}
			n = m
			switch f.Type {
			case schema.TypeInt:
				v = protowire.DecodeZigZag(x)
			case schema.TypeUint:
				v = x
			default:
				v = protowire.DecodeBool(x)
			}
		case schema.TypeFloat:
			x, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: protowire fixed64: %w", perrors.ErrInvalidRecord, protowire.ParseError(m))
			}
			n = m
			v = math.Float64frombits(x)
		case schema.TypeString:
			x, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: protowire string: %w", perrors.ErrInvalidRecord, protowire.ParseError(m))
			}
			n = m
			v = x
		case schema.TypeBytes:
			x, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: protowire bytes: %w", perrors.ErrInvalidRecord, protowire.ParseError(m))
			}
			n = m
			v = append([]byte{}, x...)
		}
		data = data[n:]
		values[idx] = v
		seen[idx] = true
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: protowire field %q missing", perrors.ErrInvalidRecord, layout[i].Name)
		}
	}
	return values, nil
}
