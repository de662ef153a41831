// Copyright (c) 2025 A Bit of Help, Inc.

// Package keys supplies seal key material to the pipeline.
//
// Keys are owned by the caller. The pipeline copies a key into a Buffer for the
// duration of one call and closes it on every exit path, which zeroes the copy.
// Nothing in this package logs or persists key bytes except SaveKeyring, which
// writes them age-encrypted.
package keys

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// DefaultKeySize is the length of derived keys.
const DefaultKeySize = 32

// deriveInfo prefixes the HKDF info string so derived keys are bound to this use.
const deriveInfo = "sealed-container-pipeline key v1/"

// Source supplies key material by key id.
type Source interface {
	// Key returns a copy of the key named id. The caller may zero it.
	Key(ctx context.Context, id string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, id string) ([]byte, error)

// Key implements Source.
func (f SourceFunc) Key(ctx context.Context, id string) ([]byte, error) {
	return f(ctx, id)
}

// Static is a fixed map of key id to key bytes.
type Static map[string][]byte

// Key implements Source.
func (s Static) Key(_ context.Context, id string) ([]byte, error) {
	k, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: no key with id %q", perrors.ErrKey, id)
	}
	return append([]byte(nil), k...), nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}

// Derive expands root into a size-byte key bound to id with HKDF-SHA256.
func Derive(root []byte, id string, size int) ([]byte, error) {
	if len(root) == 0 {
		return nil, fmt.Errorf("%w: empty root secret", perrors.ErrKey)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: key size %d", perrors.ErrKey, size)
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(deriveInfo+id)), out); err != nil {
		return nil, fmt.Errorf("%w: deriving key %q: %w", perrors.ErrKey, id, err)
	}
	return out, nil
}
