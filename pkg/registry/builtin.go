// Copyright (c) 2025 A Bit of Help, Inc.

package registry

import (
	"sync"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Aliases for the compression trade-off names.
const (
	AliasFast = "fast"
	AliasBest = "best"
)

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry holding every builtin algorithm. It is
// built and frozen on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := New()
		if err := RegisterBuiltins(r); err != nil {
			panic("registry: builtin registration failed: " + err.Error())
		}
		r.Freeze()
		defaultReg = r
	})
	return defaultReg
}

// RegisterBuiltins adds every builtin algorithm and alias to r. Callers that need
// extra algorithms build their own registry with this, register the rest, then Freeze.
func RegisterBuiltins(r *Registry) error {
	// Builtin implementations are stateless, so each factory hands out one shared value.
	for _, s := range serialization.Builtins() {
		if err := r.RegisterSerializer(s.ID(), s.Name(), func() serialization.Serializer { return s }); err != nil {
			return err
		}
	}
	for _, c := range compression.Builtins() {
		if err := r.RegisterCompressor(c.ID(), c.Name(), func() compression.Codec { return c }); err != nil {
			return err
		}
	}
	for _, s := range seal.Builtins() {
		if err := r.RegisterSealer(s.ID(), s.Name(), func() seal.Sealer { return s }); err != nil {
			return err
		}
	}
	if err := r.Alias(stage.KindCompress, AliasFast, compression.IDLZ4); err != nil {
		return err
	}
	return r.Alias(stage.KindCompress, AliasBest, compression.IDBrotli)
}
