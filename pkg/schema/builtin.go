// Copyright (c) 2025 A Bit of Help, Inc.

package schema

// Builtin schema ids.
const (
	LogEntryID = "log.entry"
	BlobID     = "blob"
)

// LogEntry is a structured log message. Version 2 added the emitting host.
func LogEntry() *Schema {
	return &Schema{
		ID:      LogEntryID,
		Version: 2,
		Fields: []Field{
			{Name: "level", Type: TypeUint},
			{Name: "timestamp", Type: TypeInt},
			{Name: "pid", Type: TypeInt},
			{Name: "tid", Type: TypeInt},
			{Name: "line", Type: TypeUint},
			{Name: "file_name", Type: TypeString},
			{Name: "func_name", Type: TypeString},
			{Name: "message", Type: TypeString},
			{Name: "hostname", Type: TypeString, Since: 2, Default: ""},
		},
	}
}

// Blob wraps an opaque byte payload.
func Blob() *Schema {
	return &Schema{
		ID:      BlobID,
		Version: 1,
		Fields:  []Field{{Name: "data", Type: TypeBytes}},
	}
}

// Builtins returns fresh copies of the schemas shipped with the module.
func Builtins() []*Schema {
	return []*Schema{LogEntry(), Blob()}
}

// NewBuiltinCatalog returns a catalog with the builtin schemas.
func NewBuiltinCatalog() *Catalog {
	c, err := NewCatalog(Builtins()...)
	if err != nil {
		panic("schema: invalid builtin schema: " + err.Error())
	}
	return c
}
