// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"crypto/rand"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"golang.org/x/crypto/chacha20poly1305"
)

// XChaCha20Poly1305 encrypts the payload with a random 24-byte nonce. The payload
// becomes nonce || ciphertext and the tag is the Poly1305 tag.
type XChaCha20Poly1305 struct{}

// NewXChaCha20Poly1305 returns the XChaCha20-Poly1305 sealer.
func NewXChaCha20Poly1305() *XChaCha20Poly1305 { return &XChaCha20Poly1305{} }

func (*XChaCha20Poly1305) ID() stage.AlgorithmID { return IDXChaCha }
func (*XChaCha20Poly1305) Name() string          { return "xchacha20poly1305" }
func (*XChaCha20Poly1305) Version() uint16       { return 1 }
func (*XChaCha20Poly1305) Mode() Mode            { return ModeConfidentiality }
func (*XChaCha20Poly1305) KeySize() int          { return chacha20poly1305.KeySize }

// Seal implements Sealer.
func (s *XChaCha20Poly1305) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", perrors.ErrKey, s.Name(), err)
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(data)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	out = aead.Seal(out, out[:chacha20poly1305.NonceSizeX], data, p.AssociatedData)

	split := len(out) - aead.Overhead()
	return out[:split:split], out[split:], nil
}

// Open implements Sealer.
func (s *XChaCha20Poly1305) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", perrors.ErrKey, s.Name(), err)
	}
	if len(payload) < chacha20poly1305.NonceSizeX || len(tag) != aead.Overhead() {
		return nil, integrityViolation(s.Name())
	}

	nonce := payload[:chacha20poly1305.NonceSizeX]
	ct := make([]byte, 0, len(payload)-len(nonce)+len(tag))
	ct = append(append(ct, payload[len(nonce):]...), tag...)
	pt, err := aead.Open(nil, nonce, ct, p.AssociatedData)
	if err != nil {
		return nil, integrityViolation(s.Name())
	}
	return pt, nil
}
