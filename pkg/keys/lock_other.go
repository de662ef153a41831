// Copyright (c) 2025 A Bit of Help, Inc.

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package keys

func allocLocked(n int) ([]byte, func()) {
	return make([]byte, n), func() {}
}
