// Copyright (c) 2025 A Bit of Help, Inc.

package serialization

import (
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack writes the layout values as a MessagePack array. It is the default serializer.
type Msgpack struct{}

// NewMsgpack returns the MessagePack serializer.
func NewMsgpack() *Msgpack { return &Msgpack{} }

func (*Msgpack) ID() stage.AlgorithmID { return IDMsgpack }
func (*Msgpack) Name() string          { return "msgpack" }
func (*Msgpack) Version() uint16       { return 1 }

// Marshal implements Serializer.
func (*Msgpack) Marshal(_ []schema.Field, values []any) ([]byte, error) {
	b, err := msgpack.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: msgpack encode: %w", perrors.ErrInvalidRecord, err)
	}
	return b, nil
}

// Unmarshal implements Serializer.
func (*Msgpack) Unmarshal(data []byte, layout []schema.Field) ([]any, error) {
	var values []any
	if err := msgpack.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: msgpack decode: %w", perrors.ErrInvalidRecord, err)
	}
	if len(values) != len(layout) {
		return nil, fmt.Errorf("%w: msgpack array has %d values, layout has %d", perrors.ErrInvalidRecord, len(values), len(layout))
	}
	return values, nil
}
