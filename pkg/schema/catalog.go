// Copyright (c) 2025 A Bit of Help, Inc.

package schema

import (
	"fmt"
	"os"
	"sort"
	"sync"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source supplies schema definitions by id.
type Source interface {
	Schema(id string) (*Schema, error)
}

// Catalog is an in-memory Source.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewCatalog returns a catalog holding the given schemas.
func NewCatalog(schemas ...*Schema) (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]*Schema)}
	for _, s := range schemas {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add validates and stores a schema. A schema id can only be defined once.
func (c *Catalog) Add(s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schemas[s.ID]; ok {
		return fmt.Errorf("schema %q already defined", s.ID)
	}
	c.schemas[s.ID] = s
	return nil
}

// Schema implements Source.
func (c *Catalog) Schema(id string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", perrors.ErrUnknownSchema, id)
	}
	return s, nil
}

// IDs returns the sorted schema ids in the catalog.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.schemas))
	for id := range c.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// schemaFile is the on-disk form of a set of schema definitions.
type schemaFile struct {
	Schemas []*Schema `yaml:"schemas"`
}

// ParseYAML decodes schema definitions from YAML.
func ParseYAML(data []byte) ([]*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing schema file: %w", err)
	}
	return f.Schemas, nil
}

// LoadFiles reads YAML schema files and adds every definition to the catalog.
func (c *Catalog) LoadFiles(paths ...string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: reading schema file: %w", perrors.ErrIOFailure, err)
		}
		schemas, err := ParseYAML(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, s := range schemas {
			if err := c.Add(s); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	return nil
}
