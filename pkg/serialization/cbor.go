// Copyright (c) 2025 A Bit of Help, Inc.

package serialization

import (
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses Core Deterministic Encoding so equal records give identical bytes,
// which keeps tags stable across producers.
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("serialization: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("serialization: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR writes the layout values as a deterministic CBOR array.
type CBOR struct{}

// NewCBOR returns the CBOR serializer.
func NewCBOR() *CBOR { return &CBOR{} }

func (*CBOR) ID() stage.AlgorithmID { return IDCBOR }
func (*CBOR) Name() string          { return "cbor" }
func (*CBOR) Version() uint16       { return 1 }

// Marshal implements Serializer.
func (*CBOR) Marshal(_ []schema.Field, values []any) ([]byte, error) {
	b, err := cborEncMode.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encode: %w", perrors.ErrInvalidRecord, err)
	}
	return b, nil
}

// Unmarshal implements Serializer.
func (*CBOR) Unmarshal(data []byte, layout []schema.Field) ([]any, error) {
	var values []any
	if err := cborDecMode.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: cbor decode: %w", perrors.ErrInvalidRecord, err)
	}
	if len(values) != len(layout) {
		return nil, fmt.Errorf("%w: cbor array has %d values, layout has %d", perrors.ErrInvalidRecord, len(values), len(layout))
	}
	return values, nil
}
