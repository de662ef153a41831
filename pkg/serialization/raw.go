// Copyright (c) 2025 A Bit of Help, Inc.

package serialization

import (
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Raw passes a single bytes field through unchanged. It is what the streaming
// encoder uses for opaque payloads such as files.
type Raw struct{}

// NewRaw returns the raw serializer.
func NewRaw() *Raw { return &Raw{} }

func (*Raw) ID() stage.AlgorithmID { return IDRaw }
func (*Raw) Name() string          { return "raw" }
func (*Raw) Version() uint16       { return 1 }

func checkRawLayout(layout []schema.Field) error {
	if len(layout) != 1 || layout[0].Type != schema.TypeBytes {
		return fmt.Errorf("%w: raw serializer needs exactly one bytes field", perrors.ErrInvalidRecord)
	}
	return nil
}

// Marshal implements Serializer.
func (*Raw) Marshal(layout []schema.Field, values []any) ([]byte, error) {
	if err := checkRawLayout(layout); err != nil {
		return nil, err
	}
	b, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: raw value is %T", perrors.ErrInvalidRecord, values[0])
	}
	return b, nil
}

// Unmarshal implements Serializer.
func (*Raw) Unmarshal(data []byte, layout []schema.Field) ([]any, error) {
	if err := checkRawLayout(layout); err != nil {
		return nil, err
	}
	return []any{append([]byte{}, data...)}, nil
}
