// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// HMAC authenticates the payload with HMAC-SHA256.
type HMAC struct{}

// NewHMAC returns the HMAC-SHA256 sealer.
func NewHMAC() *HMAC { return &HMAC{} }

func (*HMAC) ID() stage.AlgorithmID { return IDHMAC }
func (*HMAC) Name() string          { return "hmac" }
func (*HMAC) Version() uint16       { return 1 }
func (*HMAC) Mode() Mode            { return ModeIntegrity }
func (*HMAC) KeySize() int          { return 32 }

func (s *HMAC) mac(data, key, ad []byte) []byte {
	m := hmac.New(sha256.New, key)
	writeAuthenticated(m, ad, data)
	return m.Sum(nil)
}

// Seal implements Sealer.
func (s *HMAC) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	return data, s.mac(data, key, p.AssociatedData), nil
}

// Open implements Sealer.
func (s *HMAC) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	if !hmac.Equal(tag, s.mac(payload, key, p.AssociatedData)) {
		return nil, integrityViolation(s.Name())
	}
	return payload, nil
}
