// Copyright (c) 2025 A Bit of Help, Inc.

//go:build linux || darwin || freebsd || netbsd || openbsd

package keys

import "golang.org/x/sys/unix"

// allocLocked maps anonymous memory outside the Go heap and tries to lock it.
// mlock commonly fails under a low RLIMIT_MEMLOCK; the mapping is still used then,
// since the buffer is zeroed on Close either way. If mmap itself fails the key
// lives on the heap.
func allocLocked(n int) ([]byte, func()) {
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return make([]byte, n), func() {}
	}
	locked := unix.Mlock(data) == nil
	return data, func() {
		if locked {
			_ = unix.Munlock(data)
		}
		_ = unix.Munmap(data)
	}
}
