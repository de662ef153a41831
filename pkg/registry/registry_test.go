// Copyright (c) 2025 A Bit of Help, Inc.

package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	if err := r.RegisterCompressor(compression.IDZstd, "zstd", func() compression.Codec { return compression.NewZstd() }); err != nil {
		t.Fatalf("RegisterCompressor failed: %v", err)
	}

	c, err := r.ResolveCompressor(compression.IDZstd)
	if err != nil {
		t.Fatalf("ResolveCompressor failed: %v", err)
	}
	if c.Name() != "zstd" {
		t.Errorf("Expected zstd, got %s", c.Name())
	}

	if _, err := r.ResolveCompressor(99); !errors.Is(err, perrors.ErrUnknownAlgorithm) {
		t.Errorf("Expected ErrUnknownAlgorithm, got %v", err)
	}
	if _, err := r.ResolveSealer(compression.IDZstd); !errors.Is(err, perrors.ErrUnknownAlgorithm) {
		t.Errorf("Expected ids to be scoped per kind, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	hmac := func() seal.Sealer { return seal.NewHMAC() }
	if err := r.RegisterSealer(seal.IDHMAC, "hmac", hmac); err != nil {
		t.Fatalf("RegisterSealer failed: %v", err)
	}
	if err := r.RegisterSealer(seal.IDHMAC, "hmac", hmac); !errors.Is(err, perrors.ErrDuplicateAlgorithm) {
		t.Errorf("Expected ErrDuplicateAlgorithm, got %v", err)
	}
	if err := r.Alias(stage.KindSeal, "hmac", seal.IDHMAC); !errors.Is(err, perrors.ErrDuplicateAlgorithm) {
		t.Errorf("Expected alias clash to fail, got %v", err)
	}
}

func TestRegisterMismatchedFactory(t *testing.T) {
	r := New()
	err := r.RegisterCompressor(42, "zstd", func() compression.Codec { return compression.NewZstd() })
	if err == nil {
		t.Error("Expected error when factory id differs from registered id")
	}
}

func TestFreeze(t *testing.T) {
	r := New()
	r.Freeze()
	r.Freeze()

	if !r.Frozen() {
		t.Fatal("Expected registry to be frozen")
	}
	err := r.RegisterSerializer(serialization.IDRaw, "raw", func() serialization.Serializer { return serialization.NewRaw() })
	if !errors.Is(err, perrors.ErrRegistryFrozen) {
		t.Errorf("Expected ErrRegistryFrozen, got %v", err)
	}
	if err := r.Alias(stage.KindCompress, "x", 1); !errors.Is(err, perrors.ErrRegistryFrozen) {
		t.Errorf("Expected ErrRegistryFrozen for alias, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	r := Default()
	tests := []struct {
		kind stage.Kind
		name string
		want stage.AlgorithmID
	}{
		{stage.KindCompress, "fast", compression.IDLZ4},
		{stage.KindCompress, "best", compression.IDBrotli},
		{stage.KindCompress, "zstd", compression.IDZstd},
		{stage.KindCompress, "5", compression.IDSnappy},
		{stage.KindSeal, "hmac", seal.IDHMAC},
		{stage.KindSerialize, "msgpack", serialization.IDMsgpack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Lookup(tt.kind, tt.name)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}

	if _, err := r.Lookup(stage.KindCompress, "gzip"); !errors.Is(err, perrors.ErrUnknownAlgorithm) {
		t.Errorf("Expected ErrUnknownAlgorithm, got %v", err)
	}
	if _, err := r.Lookup(stage.KindCompress, "999"); !errors.Is(err, perrors.ErrUnknownAlgorithm) {
		t.Errorf("Expected ErrUnknownAlgorithm for unregistered numeric id, got %v", err)
	}
	if _, err := r.Lookup(stage.Kind(9), "x"); !errors.Is(err, perrors.ErrUnknownAlgorithm) {
		t.Errorf("Expected ErrUnknownAlgorithm for an invalid kind, got %v", err)
	}
}

func TestAlgorithms(t *testing.T) {
	r := Default()

	algs := r.Algorithms(stage.KindCompress)
	if len(algs) != len(compression.Builtins()) {
		t.Fatalf("Expected %d compressors, got %d", len(compression.Builtins()), len(algs))
	}
	for i := 1; i < len(algs); i++ {
		if algs[i-1].ID >= algs[i].ID {
			t.Errorf("Expected algorithms ordered by id, got %v", algs)
		}
	}
	if algs[0].Name != "lz4" || len(algs[0].Aliases) != 1 || algs[0].Aliases[0] != "fast" {
		t.Errorf("Unexpected lz4 entry %+v", algs[0])
	}

	if got := len(r.Algorithms(stage.KindSeal)); got != len(seal.Builtins()) {
		t.Errorf("Expected %d sealers, got %d", len(seal.Builtins()), got)
	}
	if got := r.Name(stage.KindSeal, seal.IDBlake3); got != "blake3" {
		t.Errorf("Expected blake3, got %q", got)
	}
	if got := r.Name(stage.KindSeal, 999); got != "" {
		t.Errorf("Expected empty name, got %q", got)
	}
}

func TestDefaultIsFrozenSingleton(t *testing.T) {
	a, b := Default(), Default()
	if a != b {
		t.Error("Expected Default to return the same registry")
	}
	if !a.Frozen() {
		t.Error("Expected default registry to be frozen")
	}
}

func TestConcurrentResolveAfterFreeze(t *testing.T) {
	r := Default()
	var wg sync.WaitGroup
	errs := make(chan error, 128)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.ResolveCompressor(stage.AlgorithmID(i%5 + 1)); err != nil {
				errs <- err
			}
			if _, err := r.ResolveSealer(stage.AlgorithmID(i%7 + 1)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected resolve error: %v", err)
	}
}
