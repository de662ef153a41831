// Copyright (c) 2025 A Bit of Help, Inc.

// Package registry maps stable algorithm ids to stage implementations.
//
// A Registry is populated during initialization and then frozen. Freeze is the
// completion barrier: registration afterwards fails, and lookups stop taking the
// lock because the tables can no longer change.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
)

// Algorithm describes one registered implementation.
type Algorithm struct {
	Kind    stage.Kind
	ID      stage.AlgorithmID
	Name    string
	Version uint16
	Aliases []string
}

type entry[T any] struct {
	name    string
	version uint16
	factory func() T
}

type table[T any] struct {
	byID   map[stage.AlgorithmID]entry[T]
	byName map[string]stage.AlgorithmID
}

func newTable[T any]() table[T] {
	return table[T]{
		byID:   make(map[stage.AlgorithmID]entry[T]),
		byName: make(map[string]stage.AlgorithmID),
	}
}

func (t *table[T]) add(kind stage.Kind, id stage.AlgorithmID, name string, version uint16, factory func() T) error {
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: %s id %d", perrors.ErrDuplicateAlgorithm, kind, id)
	}
	if _, ok := t.byName[name]; ok {
		return fmt.Errorf("%w: %s name %q", perrors.ErrDuplicateAlgorithm, kind, name)
	}
	t.byID[id] = entry[T]{name: name, version: version, factory: factory}
	t.byName[name] = id
	return nil
}

func (t *table[T]) resolve(kind stage.Kind, id stage.AlgorithmID) (T, error) {
	e, ok := t.byID[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s id %d", perrors.ErrUnknownAlgorithm, kind, id)
	}
	return e.factory(), nil
}

// Registry holds the serializers, compressors and sealers available to the pipeline.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	serializers table[serialization.Serializer]
	compressors table[compression.Codec]
	sealers     table[seal.Sealer]
}

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{
		serializers: newTable[serialization.Serializer](),
		compressors: newTable[compression.Codec](),
		sealers:     newTable[seal.Sealer](),
	}
}

// register runs add under the write lock after checking the freeze barrier and that
// the factory reports the id and name it is registered under.
func (r *Registry) register(kind stage.Kind, id stage.AlgorithmID, name string, reportedID stage.AlgorithmID, reportedName string, add func() error) error {
	if name == "" {
		return fmt.Errorf("%s id %d: empty name", kind, id)
	}
	if reportedID != id || reportedName != name {
		return fmt.Errorf("%s %q: factory reports id %d name %q", kind, name, reportedID, reportedName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %s %q", perrors.ErrRegistryFrozen, kind, name)
	}
	return add()
}

// RegisterSerializer adds a serializer under id and name.
func (r *Registry) RegisterSerializer(id stage.AlgorithmID, name string, factory func() serialization.Serializer) error {
	sample := factory()
	return r.register(stage.KindSerialize, id, name, sample.ID(), sample.Name(), func() error {
		return r.serializers.add(stage.KindSerialize, id, name, sample.Version(), factory)
	})
}

// RegisterCompressor adds a compression codec under id and name.
func (r *Registry) RegisterCompressor(id stage.AlgorithmID, name string, factory func() compression.Codec) error {
	sample := factory()
	return r.register(stage.KindCompress, id, name, sample.ID(), sample.Name(), func() error {
		return r.compressors.add(stage.KindCompress, id, name, sample.Version(), factory)
	})
}

// RegisterSealer adds a seal algorithm under id and name.
func (r *Registry) RegisterSealer(id stage.AlgorithmID, name string, factory func() seal.Sealer) error {
	sample := factory()
	return r.register(stage.KindSeal, id, name, sample.ID(), sample.Name(), func() error {
		return r.sealers.add(stage.KindSeal, id, name, sample.Version(), factory)
	})
}

// Alias adds another name for an already registered algorithm.
func (r *Registry) Alias(kind stage.Kind, alias string, id stage.AlgorithmID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot alias %s %q", perrors.ErrRegistryFrozen, kind, alias)
	}
	names, ids := r.index(kind)
	if names == nil {
		return fmt.Errorf("%w: %s", perrors.ErrUnknownAlgorithm, kind)
	}
	if !ids(id) {
		return fmt.Errorf("%w: %s id %d", perrors.ErrUnknownAlgorithm, kind, id)
	}
	if _, ok := names[alias]; ok {
		return fmt.Errorf("%w: %s name %q", perrors.ErrDuplicateAlgorithm, kind, alias)
	}
	names[alias] = id
	return nil
}

// index returns the name map of a kind and a membership test for its ids.
func (r *Registry) index(kind stage.Kind) (map[string]stage.AlgorithmID, func(stage.AlgorithmID) bool) {
	switch kind {
	case stage.KindSerialize:
		return r.serializers.byName, func(id stage.AlgorithmID) bool { _, ok := r.serializers.byID[id]; return ok }
	case stage.KindCompress:
		return r.compressors.byName, func(id stage.AlgorithmID) bool { _, ok := r.compressors.byID[id]; return ok }
	case stage.KindSeal:
		return r.sealers.byName, func(id stage.AlgorithmID) bool { _, ok := r.sealers.byID[id]; return ok }
	}
	return nil, nil
}

// Freeze closes registration. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// read runs fn under the read lock until the registry is frozen, and lock-free after.
func (r *Registry) read(fn func()) {
	if r.frozen.Load() {
		fn()
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}

// ResolveSerializer returns the serializer registered under id.
func (r *Registry) ResolveSerializer(id stage.AlgorithmID) (s serialization.Serializer, err error) {
	r.read(func() { s, err = r.serializers.resolve(stage.KindSerialize, id) })
	return s, err
}

// ResolveCompressor returns the codec registered under id.
func (r *Registry) ResolveCompressor(id stage.AlgorithmID) (c compression.Codec, err error) {
	r.read(func() { c, err = r.compressors.resolve(stage.KindCompress, id) })
	return c, err
}

// ResolveSealer returns the sealer registered under id.
func (r *Registry) ResolveSealer(id stage.AlgorithmID) (s seal.Sealer, err error) {
	r.read(func() { s, err = r.sealers.resolve(stage.KindSeal, id) })
	return s, err
}

// Lookup maps a name, alias or decimal id to the algorithm id of kind.
func (r *Registry) Lookup(kind stage.Kind, name string) (id stage.AlgorithmID, err error) {
	r.read(func() {
		names, has := r.index(kind)
		if names == nil {
			err = fmt.Errorf("%w: %s", perrors.ErrUnknownAlgorithm, kind)
			return
		}
		if v, ok := names[name]; ok {
			id = v
			return
		}
		if n, perr := strconv.ParseUint(name, 10, 16); perr == nil && has(stage.AlgorithmID(n)) {
			id = stage.AlgorithmID(n)
			return
		}
		err = fmt.Errorf("%w: %s %q", perrors.ErrUnknownAlgorithm, kind, name)
	})
	return id, err
}

// Algorithms lists the registered algorithms of kind ordered by id.
func (r *Registry) Algorithms(kind stage.Kind) []Algorithm {
	var out []Algorithm
	r.read(func() {
		names, _ := r.index(kind)
		aliases := make(map[stage.AlgorithmID][]string)
		canonical := make(map[stage.AlgorithmID]string)
		collect := func(id stage.AlgorithmID, name string, version uint16) {
			canonical[id] = name
			out = append(out, Algorithm{Kind: kind, ID: id, Name: name, Version: version})
		}
		switch kind {
		case stage.KindSerialize:
			for id, e := range r.serializers.byID {
				collect(id, e.name, e.version)
			}
		case stage.KindCompress:
			for id, e := range r.compressors.byID {
				collect(id, e.name, e.version)
			}
		case stage.KindSeal:
			for id, e := range r.sealers.byID {
				collect(id, e.name, e.version)
			}
		}
		for name, id := range names {
			if canonical[id] != name {
				aliases[id] = append(aliases[id], name)
			}
		}
		for i := range out {
			a := aliases[out[i].ID]
			sort.Strings(a)
			out[i].Aliases = a
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Name returns the registered name of an algorithm, or "" if unknown.
func (r *Registry) Name(kind stage.Kind, id stage.AlgorithmID) string {
	var name string
	r.read(func() {
		switch kind {
		case stage.KindSerialize:
			name = r.serializers.byID[id].name
		case stage.KindCompress:
			name = r.compressors.byID[id].name
		case stage.KindSeal:
			name = r.sealers.byID[id].name
		}
	})
	return name
}
