// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/google/tink/go/aead/subtle"
)

// aeadTagSize is the GCM and Poly1305 tag length.
const aeadTagSize = 16

// AESGCM encrypts the payload with AES-256-GCM through tink. The payload becomes
// iv || ciphertext and the tag is the GCM tag.
type AESGCM struct{}

// NewAESGCM returns the AES-256-GCM sealer.
func NewAESGCM() *AESGCM { return &AESGCM{} }

func (*AESGCM) ID() stage.AlgorithmID { return IDAESGCM }
func (*AESGCM) Name() string          { return "aes-gcm" }
func (*AESGCM) Version() uint16       { return 1 }
func (*AESGCM) Mode() Mode            { return ModeConfidentiality }
func (*AESGCM) KeySize() int          { return 32 }

func (s *AESGCM) primitive(key []byte) (*subtle.AESGCM, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	a, err := subtle.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes-gcm: %w", perrors.ErrKey, err)
	}
	return a, nil
}

// Seal implements Sealer.
func (s *AESGCM) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	a, err := s.primitive(key)
	if err != nil {
		return nil, nil, err
	}
	out, err := a.Encrypt(data, p.AssociatedData)
	if err != nil {
		return nil, nil, fmt.Errorf("aes-gcm encrypt: %w", err)
	}
	split := len(out) - aeadTagSize
	return out[:split:split], out[split:], nil
}

// Open implements Sealer.
func (s *AESGCM) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	a, err := s.primitive(key)
	if err != nil {
		return nil, err
	}
	if len(tag) != aeadTagSize {
		return nil, integrityViolation(s.Name())
	}
	ct := make([]byte, 0, len(payload)+len(tag))
	ct = append(append(ct, payload...), tag...)
	pt, err := a.Decrypt(ct, p.AssociatedData)
	if err != nil {
		return nil, integrityViolation(s.Name())
	}
	return pt, nil
}
