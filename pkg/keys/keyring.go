// Copyright (c) 2025 A Bit of Help, Inc.

package keys

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"filippo.io/age"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/utils"
	"golang.org/x/crypto/curve25519"
	"gopkg.in/yaml.v3"
)

// Keyring is a Source holding explicit keys plus an optional root secret. Ids without
// an explicit key get a key agreed with a registered peer, or else a key derived from
// the root.
type Keyring struct {
	mu        sync.RWMutex
	root      []byte
	agreement []byte
	keys      map[string][]byte
	peers     map[string][]byte
	keySize   int
}

// NewKeyring returns a keyring deriving keys from root. root may be nil.
func NewKeyring(root []byte) *Keyring {
	kr := &Keyring{keys: make(map[string][]byte), peers: make(map[string][]byte), keySize: DefaultKeySize}
	if len(root) > 0 {
		kr.root = append([]byte(nil), root...)
	}
	return kr
}

// NewRandomKeyring returns a keyring with a fresh 32-byte root secret and a fresh
// X25519 agreement key.
func NewRandomKeyring() (*Keyring, error) {
	root := make([]byte, 32)
	if _, err := rand.Read(root); err != nil {
		return nil, fmt.Errorf("generating root secret: %w", err)
	}
	defer Zero(root)
	kp, err := GenerateAgreementKey()
	if err != nil {
		return nil, err
	}
	defer kp.Close()

	kr := NewKeyring(root)
	kr.agreement = append([]byte(nil), kp.Private...)
	return kr, nil
}

// AgreementPublic returns the public half of the keyring's agreement key, the value
// a peer registers with AddPeer.
func (kr *Keyring) AgreementPublic() ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	if kr.agreement == nil {
		return nil, fmt.Errorf("%w: keyring has no agreement key", perrors.ErrKey)
	}
	pub, err := curve25519.X25519(kr.agreement, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving public key: %w", perrors.ErrKey, err)
	}
	return pub, nil
}

// AddPeer makes id resolve to the key agreed between this keyring and a peer's X25519
// public key. The peer computes the same key by registering our public key under id.
func (kr *Keyring) AddPeer(id string, public []byte) error {
	if len(public) != curve25519.PointSize {
		return fmt.Errorf("%w: peer %q public key is %d bytes, want %d", perrors.ErrKey, id, len(public), curve25519.PointSize)
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.agreement == nil {
		return fmt.Errorf("%w: keyring has no agreement key", perrors.ErrKey)
	}
	kr.peers[id] = append([]byte(nil), public...)
	return nil
}

// Set stores an explicit key for id, replacing any previous one.
func (kr *Keyring) Set(id string, key []byte) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if old, ok := kr.keys[id]; ok {
		Zero(old)
	}
	kr.keys[id] = append([]byte(nil), key...)
}

// IDs returns the ids with explicit keys, sorted.
func (kr *Keyring) IDs() []string {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	ids := make([]string, 0, len(kr.keys))
	for id := range kr.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Key implements Source.
func (kr *Keyring) Key(_ context.Context, id string) ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	if k, ok := kr.keys[id]; ok {
		return append([]byte(nil), k...), nil
	}
	if peer, ok := kr.peers[id]; ok && kr.agreement != nil {
		return SharedKey(kr.agreement, peer, id, kr.keySize)
	}
	if kr.root == nil {
		return nil, fmt.Errorf("%w: no key with id %q", perrors.ErrKey, id)
	}
	return Derive(kr.root, id, kr.keySize)
}

// Close zeroes every key held by the keyring.
func (kr *Keyring) Close() {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	Zero(kr.root)
	kr.root = nil
	Zero(kr.agreement)
	kr.agreement = nil
	clear(kr.peers)
	for id, k := range kr.keys {
		Zero(k)
		delete(kr.keys, id)
	}
}

// keyringFile is the YAML body of a keyring before age encryption.
type keyringFile struct {
	Root      string            `yaml:"root,omitempty"`
	Agreement string            `yaml:"agreement,omitempty"`
	Keys      map[string]string `yaml:"keys,omitempty"`
}

// GenerateIdentity creates a new age X25519 identity.
func GenerateIdentity() (*age.X25519Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return id, nil
}

// WriteKeyring encrypts the keyring to recipient and writes it to w.
func WriteKeyring(w io.Writer, kr *Keyring, recipient age.Recipient) error {
	kr.mu.RLock()
	f := keyringFile{Keys: make(map[string]string, len(kr.keys))}
	if kr.root != nil {
		f.Root = base64.StdEncoding.EncodeToString(kr.root)
	}
	if kr.agreement != nil {
		f.Agreement = base64.StdEncoding.EncodeToString(kr.agreement)
	}
	for id, k := range kr.keys {
		f.Keys[id] = base64.StdEncoding.EncodeToString(k)
	}
	kr.mu.RUnlock()

	body, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding keyring: %w", err)
	}
	defer Zero(body)

	aw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("encrypting keyring: %w", err)
	}
	if _, err := aw.Write(body); err != nil {
		return fmt.Errorf("encrypting keyring: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("encrypting keyring: %w", err)
	}
	return nil
}

// ReadKeyring decrypts a keyring written by WriteKeyring.
func ReadKeyring(r io.Reader, identities ...age.Identity) (*Keyring, error) {
	dr, err := age.Decrypt(r, identities...)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting keyring: %w", perrors.ErrKey, err)
	}
	body, err := io.ReadAll(dr)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting keyring: %w", perrors.ErrKey, err)
	}
	defer Zero(body)

	var f keyringFile
	if err := yaml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing keyring: %w", perrors.ErrKey, err)
	}

	kr := NewKeyring(nil)
	if f.Root != "" {
		if kr.root, err = base64.StdEncoding.DecodeString(f.Root); err != nil {
			return nil, fmt.Errorf("%w: keyring root: %w", perrors.ErrKey, err)
		}
	}
	if f.Agreement != "" {
		agreement, err := base64.StdEncoding.DecodeString(f.Agreement)
		if err != nil || len(agreement) != curve25519.ScalarSize {
			kr.Close()
			return nil, fmt.Errorf("%w: keyring agreement key is malformed", perrors.ErrKey)
		}
		kr.agreement = agreement
	}
	for id, enc := range f.Keys {
		k, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			kr.Close()
			return nil, fmt.Errorf("%w: keyring key %q: %w", perrors.ErrKey, id, err)
		}
		kr.keys[id] = k
	}
	return kr, nil
}

// SaveKeyring writes an encrypted keyring file atomically with mode 0600.
func SaveKeyring(path string, kr *Keyring, recipient age.Recipient) error {
	var buf bytes.Buffer
	if err := WriteKeyring(&buf, kr, recipient); err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, buf.Bytes(), 0o600)
}

// LoadKeyring reads an encrypted keyring file using the identities in identityPath.
func LoadKeyring(path, identityPath string) (*Keyring, error) {
	ids, err := LoadIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening keyring: %w", perrors.ErrIOFailure, err)
	}
	defer f.Close()
	return ReadKeyring(f, ids...)
}

// LoadIdentities parses an age identity file.
func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening identity file: %w", perrors.ErrIOFailure, err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing identity file: %w", perrors.ErrKey, err)
	}
	return ids, nil
}

// SaveIdentity writes an age identity file with mode 0600.
func SaveIdentity(path string, id *age.X25519Identity) error {
	content := fmt.Sprintf("# public key: %s\n%s\n", id.Recipient(), id)
	return utils.WriteFileAtomic(path, []byte(content), 0o600)
}
