// Copyright (c) 2025 A Bit of Help, Inc.

package schema

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
)

func TestBuiltinsValidate(t *testing.T) {
	for _, s := range Builtins() {
		if err := s.Validate(); err != nil {
			t.Errorf("Builtin schema %q failed validation: %v", s.ID, err)
		}
	}
}

func TestLayout(t *testing.T) {
	s := LogEntry()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	v1, err := s.Layout(1)
	if err != nil {
		t.Fatalf("Layout(1) failed: %v", err)
	}
	v2, err := s.Layout(2)
	if err != nil {
		t.Fatalf("Layout(2) failed: %v", err)
	}
	if len(v2) != len(v1)+1 {
		t.Errorf("Expected v2 to have one more field than v1, got %d and %d", len(v2), len(v1))
	}
	if v2[len(v2)-1].Name != "hostname" {
		t.Errorf("Expected hostname to be the last v2 field, got %s", v2[len(v2)-1].Name)
	}

	if _, err := s.Layout(3); !errors.Is(err, perrors.ErrSchemaVersion) {
		t.Errorf("Expected ErrSchemaVersion for a future version, got %v", err)
	}
	if _, err := s.Layout(0); !errors.Is(err, perrors.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord for version 0, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"missing id", Schema{Version: 1, Fields: []Field{{Name: "a", Type: TypeInt}}}},
		{"version zero", Schema{ID: "x", Fields: []Field{{Name: "a", Type: TypeInt}}}},
		{"no fields", Schema{ID: "x", Version: 1}},
		{"duplicate field", Schema{ID: "x", Version: 1, Fields: []Field{{Name: "a", Type: TypeInt}, {Name: "a", Type: TypeBool}}}},
		{"bad type", Schema{ID: "x", Version: 1, Fields: []Field{{Name: "a"}}}},
		{"future field", Schema{ID: "x", Version: 1, Fields: []Field{{Name: "a", Type: TypeInt, Since: 2, Default: 1}}}},
		{"added without default", Schema{ID: "x", Version: 2, Fields: []Field{{Name: "a", Type: TypeInt}, {Name: "b", Type: TypeInt, Since: 2}}}},
		{"mistyped default", Schema{ID: "x", Version: 1, Fields: []Field{{Name: "a", Type: TypeBool, Default: "yes"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.schema.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		in      any
		want    any
		wantErr bool
	}{
		{"int from int", TypeInt, 7, int64(7), false},
		{"int from int8", TypeInt, int8(-3), int64(-3), false},
		{"int from uint64", TypeInt, uint64(9), int64(9), false},
		{"int overflow", TypeInt, uint64(math.MaxUint64), nil, true},
		{"uint from uint16", TypeUint, uint16(5), uint64(5), false},
		{"uint from positive int", TypeUint, 12, uint64(12), false},
		{"uint negative", TypeUint, -1, nil, true},
		{"float from float32", TypeFloat, float32(1.5), float64(1.5), false},
		{"float from int", TypeFloat, 2, float64(2), false},
		{"string", TypeString, "hi", "hi", false},
		{"string from int", TypeString, 1, nil, true},
		{"bool", TypeBool, true, true, false},
		{"bool from string", TypeBool, "true", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.typ, tt.in)
			if tt.wantErr {
				if !errors.Is(err, perrors.ErrInvalidRecord) {
					t.Errorf("Expected ErrInvalidRecord, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}

	b, err := Normalize(TypeBytes, "raw")
	if err != nil || string(b.([]byte)) != "raw" {
		t.Errorf("Expected string to normalize to bytes, got %v, %v", b, err)
	}
}

func TestFieldTypeNames(t *testing.T) {
	for typ, name := range fieldTypeNames {
		got, err := ParseFieldType(name)
		if err != nil || got != typ {
			t.Errorf("ParseFieldType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseFieldType("decimal"); err == nil {
		t.Error("Expected error for unknown type name")
	}
}

func TestCatalog(t *testing.T) {
	c := NewBuiltinCatalog()

	s, err := c.Schema(LogEntryID)
	if err != nil {
		t.Fatalf("Schema(%q) failed: %v", LogEntryID, err)
	}
	if s.Version != 2 {
		t.Errorf("Expected version 2, got %d", s.Version)
	}

	if _, err := c.Schema("missing"); !errors.Is(err, perrors.ErrUnknownSchema) {
		t.Errorf("Expected ErrUnknownSchema, got %v", err)
	}
	if err := c.Add(Blob()); err == nil {
		t.Error("Expected error adding a duplicate schema id")
	}

	ids := c.IDs()
	if len(ids) != 2 || ids[0] != BlobID || ids[1] != LogEntryID {
		t.Errorf("Unexpected ids: %v", ids)
	}
}

func TestCatalogLoadFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemas.yaml")
	content := `schemas:
  - id: user
    version: 2
    fields:
      - name: id
        type: uint
      - name: name
        type: string
      - name: active
        type: bool
        since: 2
        default: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write schema file: %v", err)
	}

	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if err := c.LoadFiles(path); err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}

	s, err := c.Schema("user")
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	f, ok := s.Field("active")
	if !ok {
		t.Fatal("Expected field active")
	}
	if f.Type != TypeBool || f.Since != 2 || f.Default != true {
		t.Errorf("Unexpected field: %+v", f)
	}

	if err := c.LoadFiles(filepath.Join(dir, "missing.yaml")); !perrors.IsIOError(err) {
		t.Errorf("Expected I/O error for a missing file, got %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("schemas:\n  - id: x\n    version: 1\n    fields:\n      - name: a\n        type: decimal\n"), 0o600); err != nil {
		t.Fatalf("Failed to write schema file: %v", err)
	}
	if err := c.LoadFiles(bad); err == nil {
		t.Error("Expected error for unknown field type")
	}
}
