// Copyright (c) 2025 A Bit of Help, Inc.

// Package seal provides the integrity and confidentiality algorithms of the pipeline.
//
// A Sealer either leaves the payload unchanged and produces an authentication tag
// (ModeIntegrity) or encrypts the payload and produces the AEAD tag (ModeConfidentiality).
// Open recomputes or verifies the tag in constant time and fails with ErrIntegrityViolation
// on any mismatch. Key material is borrowed for the duration of one call and never retained.
package seal

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/dataprocessor"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Algorithm ids. Never reassign a value.
const (
	IDHMAC       stage.AlgorithmID = 1
	IDBlake3     stage.AlgorithmID = 2
	IDDigest     stage.AlgorithmID = 3
	IDAESGCM     stage.AlgorithmID = 4
	IDXChaCha    stage.AlgorithmID = 5
	IDEd25519    stage.AlgorithmID = 6
	IDDilithium3 stage.AlgorithmID = 7
)

// Mode tells whether a sealer transforms the payload.
type Mode uint8

const (
	// ModeIntegrity leaves the payload unchanged and authenticates it with the tag
	ModeIntegrity Mode = iota

	// ModeConfidentiality encrypts the payload; the tag authenticates the ciphertext
	ModeConfidentiality
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeConfidentiality {
		return "confidentiality"
	}
	return "integrity"
}

// Params are the seal stage parameters.
type Params struct {
	// KeyID names the key in the caller's key source. It is the only field
	// recorded in the descriptor.
	KeyID string

	// AssociatedData is authenticated but not stored. The pipeline passes the
	// container header so descriptor tampering is detected.
	AssociatedData []byte
}

// MarshalBinary encodes the descriptor form of the parameters.
func (p Params) MarshalBinary() ([]byte, error) {
	return []byte(p.KeyID), nil
}

// UnmarshalBinary decodes parameters written by MarshalBinary.
func (p *Params) UnmarshalBinary(data []byte) error {
	p.KeyID = string(data)
	return nil
}

// Sealer authenticates, and optionally encrypts, a payload.
type Sealer interface {
	ID() stage.AlgorithmID
	Name() string
	Version() uint16
	Mode() Mode

	// KeySize is the exact key length in bytes. Zero means keyless.
	KeySize() int

	// Seal returns the possibly transformed payload and its tag.
	Seal(data, key []byte, p Params) (payload, tag []byte, err error)

	// Open verifies tag and returns the original data.
	Open(payload, tag, key []byte, p Params) ([]byte, error)
}

// Builtins returns a fresh instance of every seal algorithm shipped with the module.
func Builtins() []Sealer {
	return []Sealer{
		NewHMAC(),
		NewBlake3(),
		NewDigest(),
		NewAESGCM(),
		NewXChaCha20Poly1305(),
		NewEd25519(),
		NewDilithium3(),
	}
}

type sealResult struct {
	payload []byte
	tag     []byte
}

// SealWithContext seals data with context awareness.
func SealWithContext(ctx context.Context, s Sealer, data, key []byte, p Params) ([]byte, []byte, error) {
	r, err := dataprocessor.Run(ctx, func() (sealResult, error) {
		payload, tag, err := s.Seal(data, key, p)
		return sealResult{payload: payload, tag: tag}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return r.payload, r.tag, nil
}

// OpenWithContext opens a sealed payload with context awareness.
func OpenWithContext(ctx context.Context, s Sealer, payload, tag, key []byte, p Params) ([]byte, error) {
	return dataprocessor.Run(ctx, func() ([]byte, error) {
		return s.Open(payload, tag, key, p)
	})
}

// checkKey enforces the exact key length of an algorithm.
func checkKey(name string, key []byte, size int) error {
	if size == 0 {
		if len(key) != 0 {
			return fmt.Errorf("%w: %s is keyless but a %d-byte key was supplied", perrors.ErrKey, name, len(key))
		}
		return nil
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: %s requires a key", perrors.ErrKey, name)
	}
	if len(key) != size {
		return fmt.Errorf("%w: %s requires a %d-byte key, got %d", perrors.ErrKey, name, size, len(key))
	}
	return nil
}

// writeAuthenticated feeds the associated data, length-prefixed, followed by the payload.
// The prefix keeps (ad, payload) pairs with the same concatenation distinct.
func writeAuthenticated(h hash.Hash, ad, payload []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(ad)))
	h.Write(n[:])
	h.Write(ad)
	h.Write(payload)
}

// authenticatedDigest is the SHA-256 of the length-prefixed associated data and payload.
func authenticatedDigest(ad, payload []byte) []byte {
	h := sha256.New()
	writeAuthenticated(h, ad, payload)
	return h.Sum(nil)
}

func integrityViolation(name string) error {
	return fmt.Errorf("%w: %s tag mismatch", perrors.ErrIntegrityViolation, name)
}
