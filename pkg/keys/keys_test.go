// Copyright (c) 2025 A Bit of Help, Inc.

package keys

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

func TestStatic(t *testing.T) {
	src := Static{"a": []byte("0123456789abcdef0123456789abcdef")}

	k, err := src.Key(context.Background(), "a")
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	Zero(k)
	if src["a"][0] != '0' {
		t.Error("Expected Key to return a copy")
	}

	if _, err := src.Key(context.Background(), "b"); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey, got %v", err)
	}
}

func TestSourceFunc(t *testing.T) {
	var got string
	src := SourceFunc(func(_ context.Context, id string) ([]byte, error) {
		got = id
		return []byte{1}, nil
	})
	if _, err := src.Key(context.Background(), "x"); err != nil || got != "x" {
		t.Errorf("Expected SourceFunc to be called with x, got %q, %v", got, err)
	}
}

func TestBuffer(t *testing.T) {
	src := []byte("secret key bytes")
	b := NewBuffer(src)

	if !bytes.Equal(b.Bytes(), src) {
		t.Fatal("Expected buffer to hold a copy of the key")
	}
	if b.Len() != len(src) {
		t.Errorf("Expected length %d, got %d", len(src), b.Len())
	}

	view := b.Bytes()
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.Bytes() != nil || b.Len() != 0 {
		t.Error("Expected closed buffer to expose nothing")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Expected Close to be idempotent, got %v", err)
	}
	if string(src) != "secret key bytes" {
		t.Error("Expected caller's key to be untouched")
	}
	_ = view
}

func TestBuffer_ZeroedOnClose(t *testing.T) {
	// Heap-backed views remain readable after Close, so zeroing is observable.
	b := &Buffer{data: []byte{1, 2, 3}, release: func() {}}
	view := b.data
	_ = b.Close()
	if !bytes.Equal(view, []byte{0, 0, 0}) {
		t.Errorf("Expected zeroed bytes, got %v", view)
	}
}

func TestBuffer_Empty(t *testing.T) {
	b := NewBuffer(nil)
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", b.Len())
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDerive(t *testing.T) {
	root := []byte("root secret")

	a, err := Derive(root, "logs", 32)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	again, err := Derive(root, "logs", 32)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	other, err := Derive(root, "metrics", 32)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if len(a) != 32 {
		t.Errorf("Expected 32 bytes, got %d", len(a))
	}
	if !bytes.Equal(a, again) {
		t.Error("Expected derivation to be deterministic")
	}
	if bytes.Equal(a, other) {
		t.Error("Expected different ids to give different keys")
	}

	if _, err := Derive(nil, "x", 32); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey for empty root, got %v", err)
	}
	if _, err := Derive(root, "x", 0); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey for zero size, got %v", err)
	}
}

func TestAgreement(t *testing.T) {
	alice, err := GenerateAgreementKey()
	if err != nil {
		t.Fatalf("GenerateAgreementKey failed: %v", err)
	}
	defer alice.Close()
	bob, err := GenerateAgreementKey()
	if err != nil {
		t.Fatalf("GenerateAgreementKey failed: %v", err)
	}
	defer bob.Close()

	k1, err := SharedKey(alice.Private, bob.Public, "session", 32)
	if err != nil {
		t.Fatalf("SharedKey failed: %v", err)
	}
	k2, err := SharedKey(bob.Private, alice.Public, "session", 32)
	if err != nil {
		t.Fatalf("SharedKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("Expected both sides to agree on the key")
	}

	if _, err := SharedKey(alice.Private, bob.Public[:16], "session", 32); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey for short public key, got %v", err)
	}
}

func TestKeyring(t *testing.T) {
	kr, err := NewRandomKeyring()
	if err != nil {
		t.Fatalf("NewRandomKeyring failed: %v", err)
	}
	explicit := bytes.Repeat([]byte{7}, 32)
	kr.Set("pinned", explicit)

	got, err := kr.Key(context.Background(), "pinned")
	if err != nil || !bytes.Equal(got, explicit) {
		t.Errorf("Expected explicit key, got %x, %v", got, err)
	}

	derived, err := kr.Key(context.Background(), "derived")
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if len(derived) != DefaultKeySize {
		t.Errorf("Expected %d-byte derived key, got %d", DefaultKeySize, len(derived))
	}

	if ids := kr.IDs(); len(ids) != 1 || ids[0] != "pinned" {
		t.Errorf("Unexpected ids %v", ids)
	}

	kr.Close()
	if _, err := kr.Key(context.Background(), "derived"); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey after Close, got %v", err)
	}
}

func TestKeyringFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "identity.txt")
	krPath := filepath.Join(dir, "keyring.age")

	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	if err := SaveIdentity(idPath, id); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	kr, err := NewRandomKeyring()
	if err != nil {
		t.Fatalf("NewRandomKeyring failed: %v", err)
	}
	kr.Set("pinned", []byte("pinned-key-material-0123456789ab"))
	if err := SaveKeyring(krPath, kr, id.Recipient()); err != nil {
		t.Fatalf("SaveKeyring failed: %v", err)
	}

	raw, err := os.ReadFile(krPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if bytes.Contains(raw, []byte("pinned-key-material")) {
		t.Error("Expected keyring file to be encrypted")
	}
	info, err := os.Stat(krPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := LoadKeyring(krPath, idPath)
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}
	for _, keyID := range []string{"pinned", "derived"} {
		want, _ := kr.Key(context.Background(), keyID)
		got, err := loaded.Key(context.Background(), keyID)
		if err != nil {
			t.Fatalf("Key(%q) failed: %v", keyID, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Key(%q) differs after reload", keyID)
		}
	}

	other, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	otherPath := filepath.Join(dir, "other.txt")
	if err := SaveIdentity(otherPath, other); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}
	if _, err := LoadKeyring(krPath, otherPath); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey with the wrong identity, got %v", err)
	}
	if _, err := LoadKeyring(filepath.Join(dir, "missing"), idPath); !perrors.IsIOError(err) {
		t.Errorf("Expected I/O error for a missing keyring, got %v", err)
	}
}

func TestKeyringPeers(t *testing.T) {
	ctx := context.Background()
	alice, err := NewRandomKeyring()
	if err != nil {
		t.Fatalf("NewRandomKeyring failed: %v", err)
	}
	defer alice.Close()
	bob, err := NewRandomKeyring()
	if err != nil {
		t.Fatalf("NewRandomKeyring failed: %v", err)
	}
	defer bob.Close()

	alicePub, err := alice.AgreementPublic()
	if err != nil {
		t.Fatalf("AgreementPublic failed: %v", err)
	}
	bobPub, err := bob.AgreementPublic()
	if err != nil {
		t.Fatalf("AgreementPublic failed: %v", err)
	}
	if err := alice.AddPeer("alice-bob", bobPub); err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}
	if err := bob.AddPeer("alice-bob", alicePub); err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}

	k1, err := alice.Key(ctx, "alice-bob")
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	k2, err := bob.Key(ctx, "alice-bob")
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("Expected both keyrings to agree on the peer key")
	}

	// Ids without a peer still derive from each keyring's own root
	d1, _ := alice.Key(ctx, "other")
	d2, _ := bob.Key(ctx, "other")
	if bytes.Equal(d1, d2) {
		t.Error("Expected root-derived keys to differ between keyrings")
	}

	if err := alice.AddPeer("short", bobPub[:16]); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey for short public key, got %v", err)
	}
	if err := NewKeyring(nil).AddPeer("x", bobPub); !errors.Is(err, perrors.ErrKey) {
		t.Errorf("Expected ErrKey without an agreement key, got %v", err)
	}
}

func TestKeyringFile_AgreementSurvives(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	kr, err := NewRandomKeyring()
	if err != nil {
		t.Fatalf("NewRandomKeyring failed: %v", err)
	}
	defer kr.Close()
	want, err := kr.AgreementPublic()
	if err != nil {
		t.Fatalf("AgreementPublic failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteKeyring(&buf, kr, id.Recipient()); err != nil {
		t.Fatalf("WriteKeyring failed: %v", err)
	}
	loaded, err := ReadKeyring(&buf, id)
	if err != nil {
		t.Fatalf("ReadKeyring failed: %v", err)
	}
	defer loaded.Close()
	got, err := loaded.AgreementPublic()
	if err != nil {
		t.Fatalf("AgreementPublic failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Expected the agreement key to survive the keyring file")
	}
}
