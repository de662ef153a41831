// Copyright (c) 2025 A Bit of Help, Inc.

// Package stage defines the identifiers shared by every transform in a container:
// the stage kind, the algorithm id, and the descriptor that records how a stage was applied.
package stage

import (
	"bytes"
	"fmt"
)

// Kind identifies one of the reversible transforms a container may record.
// The numeric values are written to the wire and must never change.
type Kind uint8

const (
	// KindSerialize converts a record into bytes
	KindSerialize Kind = 0

	// KindCompress shrinks the serialized bytes
	KindCompress Kind = 1

	// KindSeal authenticates or encrypts the payload
	KindSeal Kind = 2
)

// Kinds lists every stage kind in encode order.
var Kinds = []Kind{KindSerialize, KindCompress, KindSeal}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSerialize:
		return "serialize"
	case KindCompress:
		return "compress"
	case KindSeal:
		return "seal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known stage kind.
func (k Kind) Valid() bool {
	return k <= KindSeal
}

// ParseKind maps a name produced by String back to a Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stage kind %q", name)
}

// AlgorithmID is the stable numeric identifier of an implementation within a kind.
type AlgorithmID uint16

// Descriptor records which algorithm, version and parameters were used for one stage.
type Descriptor struct {
	Kind      Kind
	Algorithm AlgorithmID
	Version   uint16
	Params    []byte
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Params != nil {
		c.Params = append([]byte(nil), d.Params...)
	}
	return c
}

// Equal reports whether two descriptors are identical, including parameters.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Kind == o.Kind &&
		d.Algorithm == o.Algorithm &&
		d.Version == o.Version &&
		bytes.Equal(d.Params, o.Params)
}

// String renders the descriptor for diagnostics.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s(id=%d, v=%d, params=%d bytes)", d.Kind, d.Algorithm, d.Version, len(d.Params))
}
