// Copyright (c) 2025 A Bit of Help, Inc.

// Package schema describes the versioned field layouts that records are serialized with.
//
// A Schema lists every field it has ever had, each tagged with the version that
// introduced it. The layout of version N is the ordered subset of fields with
// Since <= N, so a payload written at an older version can be read by filling the
// newer fields from their declared defaults.
package schema

import (
	"fmt"
	"math"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FieldType is the wire type of a field.
type FieldType uint8

const (
	TypeInt FieldType = iota + 1
	TypeUint
	TypeFloat
	TypeString
	TypeBytes
	TypeBool
)

var fieldTypeNames = map[FieldType]string{
	TypeInt:    "int",
	TypeUint:   "uint",
	TypeFloat:  "float",
	TypeString: "string",
	TypeBytes:  "bytes",
	TypeBool:   "bool",
}

// String returns the type name used in schema files.
func (t FieldType) String() string {
	if n, ok := fieldTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseFieldType maps a schema file type name to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *FieldType) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseFieldType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t FieldType) MarshalYAML() (any, error) {
	return t.String(), nil
}

// Field is one named, typed value in a record.
type Field struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`

	// Since is the schema version that introduced the field. Zero is read as 1.
	Since uint16 `yaml:"since,omitempty"`

	// Default fills the field when a record or payload omits it. Nil means the
	// field is required.
	Default any `yaml:"default,omitempty"`
}

func (f Field) since() uint16 {
	if f.Since == 0 {
		return 1
	}
	return f.Since
}

// HasDefault reports whether the field may be omitted.
func (f Field) HasDefault() bool {
	return f.Default != nil
}

// Schema is the complete, versioned definition of one record type.
type Schema struct {
	ID      string  `yaml:"id"`
	Version uint16  `yaml:"version"`
	Fields  []Field `yaml:"fields"`
}

// Validate checks the definition and normalizes declared defaults.
func (s *Schema) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schema: missing id")
	}
	if s.Version == 0 {
		return fmt.Errorf("schema %q: version must be at least 1", s.ID)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: no fields", s.ID)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("schema %q: field %d has no name", s.ID, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.ID, f.Name)
		}
		seen[f.Name] = true

		if _, ok := fieldTypeNames[f.Type]; !ok {
			return fmt.Errorf("schema %q: field %q has invalid type %v", s.ID, f.Name, f.Type)
		}
		if f.since() > s.Version {
			return fmt.Errorf("schema %q: field %q introduced in v%d after current v%d", s.ID, f.Name, f.since(), s.Version)
		}
		if f.since() > 1 && !f.HasDefault() {
			return fmt.Errorf("schema %q: field %q added in v%d needs a default", s.ID, f.Name, f.since())
		}
		if f.HasDefault() {
			v, err := Normalize(f.Type, f.Default)
			if err != nil {
				return fmt.Errorf("schema %q: default of %q: %w", s.ID, f.Name, err)
			}
			f.Default = v
		}
	}
	return nil
}

// Layout returns the ordered fields present at version.
func (s *Schema) Layout(version uint16) ([]Field, error) {
	if version == 0 {
		return nil, fmt.Errorf("%w: schema %q version 0", perrors.ErrInvalidRecord, s.ID)
	}
	if version > s.Version {
		return nil, fmt.Errorf("%w: schema %q v%d is newer than known v%d", perrors.ErrSchemaVersion, s.ID, version, s.Version)
	}
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.since() <= version {
			out = append(out, f)
		}
	}
	return out, nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Normalize converts v to the canonical Go type of t: int64, uint64, float64, string,
// []byte or bool. Integer conversions are range checked.
func Normalize(t FieldType, v any) (any, error) {
	switch t {
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
		if u, ok := asUint(v); ok {
			if u > math.MaxInt64 {
				return nil, fmt.Errorf("%w: %d overflows int", perrors.ErrInvalidRecord, u)
			}
			return int64(u), nil
		}
	case TypeUint:
		if u, ok := asUint(v); ok {
			return u, nil
		}
		if i, ok := asInt(v); ok {
			if i < 0 {
				return nil, fmt.Errorf("%w: %d is negative", perrors.ErrInvalidRecord, i)
			}
			return uint64(i), nil
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		}
		if i, ok := asInt(v); ok {
			return float64(i), nil
		}
		if u, ok := asUint(v); ok {
			return float64(u), nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a valid %s", perrors.ErrInvalidRecord, v, t)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	return 0, false
}
