// Copyright (c) 2025 A Bit of Help, Inc.

package seal

import (
	"crypto/ed25519"
	"fmt"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Ed25519 signs the SHA-256 of the header and payload. The key is the 32-byte
// private seed; Open derives the public key from it.
type Ed25519 struct{}

// NewEd25519 returns the Ed25519 signature sealer.
func NewEd25519() *Ed25519 { return &Ed25519{} }

func (*Ed25519) ID() stage.AlgorithmID { return IDEd25519 }
func (*Ed25519) Name() string          { return "ed25519" }
func (*Ed25519) Version() uint16       { return 1 }
func (*Ed25519) Mode() Mode            { return ModeIntegrity }
func (*Ed25519) KeySize() int          { return ed25519.SeedSize }

// Seal implements Sealer.
func (s *Ed25519) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(key)
	defer clear(priv)
	return data, ed25519.Sign(priv, authenticatedDigest(p.AssociatedData, data)), nil
}

// Open implements Sealer.
func (s *Ed25519) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(key)
	pub := priv.Public().(ed25519.PublicKey)
	clear(priv)
	return VerifyEd25519(pub, payload, tag, p.AssociatedData)
}

// VerifyEd25519 checks an ed25519 seal with only the public key, for consumers that
// do not hold the signing seed.
func VerifyEd25519(pub ed25519.PublicKey, payload, tag, ad []byte) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key is %d bytes", perrors.ErrKey, len(pub))
	}
	if !ed25519.Verify(pub, authenticatedDigest(ad, payload), tag) {
		return nil, integrityViolation("ed25519")
	}
	return payload, nil
}

// Dilithium3 signs the SHA3-256 of the header and payload with the post-quantum
// Dilithium mode 3 scheme. The key is a 32-byte seed.
type Dilithium3 struct{}

// NewDilithium3 returns the Dilithium3 signature sealer.
func NewDilithium3() *Dilithium3 { return &Dilithium3{} }

func (*Dilithium3) ID() stage.AlgorithmID { return IDDilithium3 }
func (*Dilithium3) Name() string          { return "dilithium3" }
func (*Dilithium3) Version() uint16       { return 1 }
func (*Dilithium3) Mode() Mode            { return ModeIntegrity }
func (*Dilithium3) KeySize() int          { return mode3.SeedSize }

func (s *Dilithium3) keys(key []byte) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	if err := checkKey(s.Name(), key, s.KeySize()); err != nil {
		return nil, nil, err
	}
	var seed [mode3.SeedSize]byte
	copy(seed[:], key)
	pk, sk := mode3.NewKeyFromSeed(&seed)
	clear(seed[:])
	return pk, sk, nil
}

// wipeDilithium zeroes an expanded private key once it is no longer needed.
func wipeDilithium(sk *mode3.PrivateKey) {
	*sk = mode3.PrivateKey{}
}

func dilithiumDigest(ad, payload []byte) []byte {
	h := sha3.New256()
	writeAuthenticated(h, ad, payload)
	return h.Sum(nil)
}

// Seal implements Sealer.
func (s *Dilithium3) Seal(data, key []byte, p Params) ([]byte, []byte, error) {
	_, sk, err := s.keys(key)
	if err != nil {
		return nil, nil, err
	}
	defer wipeDilithium(sk)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(sk, dilithiumDigest(p.AssociatedData, data), sig)
	return data, sig, nil
}

// Open implements Sealer.
func (s *Dilithium3) Open(payload, tag, key []byte, p Params) ([]byte, error) {
	pk, sk, err := s.keys(key)
	if err != nil {
		return nil, err
	}
	wipeDilithium(sk)
	if len(tag) != mode3.SignatureSize || !mode3.Verify(pk, dilithiumDigest(p.AssociatedData, payload), tag) {
		return nil, integrityViolation(s.Name())
	}
	return payload, nil
}
