// Package format defines the colblob columnar file format.
//
// A blob is laid out as:
//
//	[column data region][footer][trailer]
//
// The data region holds one contiguous run per column, in schema order.
// The footer records the row count and, for each column, its name, type tag
// and the (offset, length) of its run. The trailer is a fixed 8-byte
// little-endian offset of the footer's first byte, so a reader can seek from
// the end of the blob straight to the footer.
package format

import (
	"fmt"
	"strings"
)

// ColumnType is the declared type of a column. Its numeric value is the
// type tag stored in the footer.
type ColumnType uint8

const (
	// Int32 columns hold little-endian two's complement 32-bit integers.
	Int32 ColumnType = 0
	// UTF8 columns hold length-prefixed UTF-8 strings.
	UTF8 ColumnType = 1
)

const (
	// TrailerSize is the size of the footer offset at the end of a blob.
	TrailerSize = 8

	int32Width = 4
	lenPrefix  = 4
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	return t == Int32 || t == UTF8
}

func (t ColumnType) String() string {
	switch t {
	case Int32:
		return "INT32"
	case UTF8:
		return "UTF8"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

// ParseColumnType maps a type name ("INT32", "UTF8", case-insensitive) to a ColumnType.
func ParseColumnType(name string) (ColumnType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INT32":
		return Int32, nil
	case "UTF8":
		return UTF8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
	}
}

// Column is a named, typed column of a schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered, immutable list of uniquely named columns.
// Use NewSchema to build one.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema validates columns and returns a schema holding a copy of them.
func NewSchema(columns ...Column) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}

	s := &Schema{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: column %d has an empty name", ErrInvalidSchema, i)
		}
		if !c.Type.Valid() {
			return nil, &ColumnError{Column: c.Name, Row: -1, Err: ErrUnsupportedType,
				Detail: fmt.Sprintf("type tag %d", uint8(c.Type))}
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, c.Name)
		}
		s.index[c.Name] = i
		s.columns[i] = c
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for fixed,
// compile-time schemas.
func MustSchema(columns ...Column) *Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Column returns the i-th column.
func (s *Schema) Column(i int) Column {
	return s.columns[i]
}

// Columns returns a copy of the columns in schema order.
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Lookup returns the position of the named column.
func (s *Schema) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether two schemas have the same columns in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.columns) != len(other.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i] != other.columns[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.columns))
	for i, c := range s.columns {
		parts[i] = c.Name + ":" + c.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Row maps column names to values. INT32 columns hold int32 values and
// UTF8 columns hold string values.
type Row map[string]any

// ColumnMeta locates one column's run inside a blob.
type ColumnMeta struct {
	Name   string
	Type   ColumnType
	Offset uint64
	Length uint64
}

// Footer is the decoded metadata section of a blob.
type Footer struct {
	RowCount uint32
	Columns  []ColumnMeta
	// Offset is the position of the footer's first byte in the blob.
	Offset uint64
}

// Schema rebuilds the schema described by the footer.
func (f Footer) Schema() (*Schema, error) {
	cols := make([]Column, len(f.Columns))
	for i, c := range f.Columns {
		cols[i] = Column{Name: c.Name, Type: c.Type}
	}
	return NewSchema(cols...)
}
