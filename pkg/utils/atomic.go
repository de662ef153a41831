// Copyright (c) 2025 A Bit of Help, Inc.

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

// AtomicFile collects output in a temporary file next to its destination. Nothing is
// visible at the destination path until Commit renames the temporary file into place.
type AtomicFile struct {
	mu     sync.Mutex
	tmp    *os.File
	path   string
	mode   os.FileMode
	closed bool
}

// CreateAtomic starts an atomic write of path. The file gets mode once committed.
func CreateAtomic(path string, mode os.FileMode) (*AtomicFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file for %s: %w", perrors.ErrIOFailure, path, err)
	}
	return &AtomicFile{tmp: tmp, path: path, mode: mode}, nil
}

// Write implements io.Writer.
func (f *AtomicFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, fmt.Errorf("%w: write to finished file %s", perrors.ErrIOFailure, f.path)
	}
	n, err := f.tmp.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: writing %s: %w", perrors.ErrIOFailure, f.path, err)
	}
	return n, nil
}

// Commit flushes the temporary file and renames it to the destination.
func (f *AtomicFile) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("%w: %s already finished", perrors.ErrIOFailure, f.path)
	}
	f.closed = true
	name := f.tmp.Name()

	fail := func(op string, err error) error {
		_ = f.tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: %s %s: %w", perrors.ErrIOFailure, op, f.path, err)
	}
	if err := f.tmp.Chmod(f.mode); err != nil {
		return fail("chmod", err)
	}
	if err := f.tmp.Sync(); err != nil {
		return fail("syncing", err)
	}
	if err := f.tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: closing %s: %w", perrors.ErrIOFailure, f.path, err)
	}
	if err := os.Rename(name, f.path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: renaming %s: %w", perrors.ErrIOFailure, f.path, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit or a previous Abort.
func (f *AtomicFile) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	_ = f.tmp.Close()
	_ = os.Remove(f.tmp.Name())
}

// WriteFileAtomic writes data to path through an AtomicFile.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	f, err := CreateAtomic(path, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return err
	}
	return f.Commit()
}
