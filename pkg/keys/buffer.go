// Copyright (c) 2025 A Bit of Help, Inc.

package keys

import "sync"

// Buffer holds a private copy of key bytes for the lifetime of one call. Where the
// platform allows it the memory is locked against swapping. Close zeroes it.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	release func()
	closed  bool
}

// NewBuffer copies src into a new Buffer. An empty src gives an empty buffer, which
// is what keyless seal algorithms receive.
func NewBuffer(src []byte) *Buffer {
	if len(src) == 0 {
		return &Buffer{data: []byte{}, release: func() {}}
	}
	data, release := allocLocked(len(src))
	copy(data, src)
	return &Buffer{data: data, release: release}
}

// Bytes returns the key bytes. The slice must not be retained after Close.
// It returns nil once the buffer is closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.data
}

// Len returns the key length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Close zeroes and releases the buffer. It is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)
	b.release()
	b.data = nil
	return nil
}
