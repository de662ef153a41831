// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/multiformats/go-multihash"
)

// Digest is a keyless sha2-256 multihash over the header and payload. It detects
// corruption, not forgery: anyone can recompute the tag.
type Digest struct{}

// NewDigest returns the keyless digest sealer.
func NewDigest() *Digest { return &Digest{} }

func (*Digest) ID() stage.AlgorithmID { return IDDigest }
func (*Digest) Name() string          { return "digest" }
func (*Digest) Version() uint16       { return 1 }
func (*Digest) Mode() Mode            { return ModeIntegrity }
func (*Digest) KeySize() int          { return 0 }

func (s *Digest) sum(data, ad []byte) ([]byte, error) {
	input := make([]byte, 0, 8+len(ad)+len(data))
	input = binary.BigEndian.AppendUint64(input, uint64(len(ad)))
	input = append(input, ad...)
	input = append(input, data...)

	mh, err := multihash.Sum(input, multihash.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	return mh, nil
}

// Seal implements Sealer.
func (s *Digest) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	tag, err := s.sum(data, p.AssociatedData)
	if err != nil {
		return nil, nil, err
	}
	return data, tag, nil
}

// Open implements Sealer.
func (s *Digest) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	want, err := s.sum(payload, p.AssociatedData)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, integrityViolation(s.Name())
	}
	return payload, nil
}
