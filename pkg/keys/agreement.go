// Copyright (c) 2025 A Bit of Help, Inc.

package keys

import (
	"crypto/rand"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// AgreementKeyPair is an X25519 key pair used to agree on a seal key with a peer.
type AgreementKeyPair struct {
	Private []byte
	Public  []byte
}

// Close zeroes the private key.
func (kp *AgreementKeyPair) Close() {
	Zero(kp.Private)
}

// GenerateAgreementKey creates a random X25519 key pair.
func GenerateAgreementKey() (*AgreementKeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generating agreement key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		Zero(priv)
		return nil, fmt.Errorf("%w: deriving public key: %w", perrors.ErrKey, err)
	}
	return &AgreementKeyPair{Private: priv, Public: pub}, nil
}

// SharedKey combines a private key with a peer's public key and derives a seal key
// bound to id. Both sides compute the same key.
func SharedKey(private, peerPublic []byte, id string, size int) ([]byte, error) {
	if len(private) != curve25519.ScalarSize || len(peerPublic) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: x25519 keys must be %d bytes", perrors.ErrKey, curve25519.ScalarSize)
	}
	secret, err := curve25519.X25519(private, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519: %w", perrors.ErrKey, err)
	}
	defer Zero(secret)
	return Derive(secret, id, size)
}
