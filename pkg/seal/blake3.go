// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"crypto/subtle"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/zeebo/blake3"
)

// Blake3 authenticates the payload with keyed BLAKE3.
type Blake3 struct{}

// NewBlake3 returns the keyed BLAKE3 sealer.
func NewBlake3() *Blake3 { return &Blake3{} }

func (*Blake3) ID() stage.AlgorithmID { return IDBlake3 }
func (*Blake3) Name() string          { return "blake3" }
func (*Blake3) Version() uint16       { return 1 }
func (*Blake3) Mode() Mode            { return ModeIntegrity }
func (*Blake3) KeySize() int          { return 32 }

func (s *Blake3) mac(data, key, ad []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("%w: blake3: %w", perrors.ErrKey, err)
	}
	writeAuthenticated(h, ad, data)
	return h.Sum(nil), nil
}

// Seal implements Sealer.
func (s *Blake3) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	tag, err := s.mac(data, key, p.AssociatedData)
	if err != nil {
		return nil, nil, err
	}
	return data, tag, nil
}

// Open implements Sealer.
func (s *Blake3) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	want, err := s.mac(payload, key, p.AssociatedData)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, integrityViolation(s.Name())
	}
	return payload, nil
}
