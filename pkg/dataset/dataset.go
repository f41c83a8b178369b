// Package dataset builds datasets for encoding: the built-in sample served by
// the download endpoint, and datasets described by a JSON document.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/eunmann/colblob/pkg/format"
)

var sampleSchema = format.MustSchema(
	format.Column{Name: "name", Type: format.UTF8},
	format.Column{Name: "age", Type: format.Int32},
	format.Column{Name: "city", Type: format.UTF8},
)

// Sample returns the three-row people dataset.
func Sample() (*format.Schema, []format.Row) {
	return sampleSchema, []format.Row{
		{"name": "Alice", "age": int32(25), "city": "New York"},
		{"name": "Bob", "age": int32(30), "city": "San Francisco"},
		{"name": "Charlie", "age": int32(35), "city": "Seattle"},
	}
}

// Document is the JSON shape of a dataset.
//
//	{"columns":[{"name":"age","type":"INT32"}],"rows":[{"age":25}]}
type Document struct {
	Columns []DocumentColumn `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// DocumentColumn is one column declaration of a Document.
type DocumentColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ParseJSON reads a Document from r and converts it to a schema and rows
// that validate against it.
func ParseJSON(r io.Reader) (*format.Schema, []format.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode dataset JSON: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument converts a parsed Document.
func FromDocument(doc Document) (*format.Schema, []format.Row, error) {
	cols := make([]format.Column, len(doc.Columns))
	for i, c := range doc.Columns {
		typ, err := format.ParseColumnType(c.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		cols[i] = format.Column{Name: c.Name, Type: typ}
	}
	schema, err := format.NewSchema(cols...)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]format.Row, len(doc.Rows))
	for i, raw := range doc.Rows {
		row := make(format.Row, len(raw))
		for name, v := range raw {
			idx, ok := schema.Lookup(name)
			if !ok {
				// Left for ValidateRows to report with the standard error.
				row[name] = v
				continue
			}
			conv, err := convertValue(schema.Column(idx), v, i)
			if err != nil {
				return nil, nil, err
			}
			row[name] = conv
		}
		rows[i] = row
	}
	if err := format.ValidateRows(schema, rows); err != nil {
		return nil, nil, err
	}
	return schema, rows, nil
}

func convertValue(c format.Column, v any, row int) (any, error) {
	mismatch := func(detail string) error {
		return &format.ColumnError{Column: c.Name, Row: row, Err: format.ErrSchemaMismatch, Detail: detail}
	}

	switch c.Type {
	case format.Int32:
		var n int64
		switch x := v.(type) {
		case json.Number:
			parsed, err := x.Int64()
			if err != nil {
				return nil, mismatch(fmt.Sprintf("%s is not an integer", x))
			}
			n = parsed
		case float64:
			if x != math.Trunc(x) {
				return nil, mismatch(fmt.Sprintf("%v is not an integer", x))
			}
			n = int64(x)
		default:
			return nil, mismatch(fmt.Sprintf("want number, got %T", v))
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, mismatch(fmt.Sprintf("%d overflows INT32", n))
		}
		return int32(n), nil
	case format.UTF8:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(fmt.Sprintf("want string, got %T", v))
		}
		return s, nil
	default:
		return nil, &format.ColumnError{Column: c.Name, Row: -1, Err: format.ErrUnsupportedType}
	}
}

// ToDocument converts a schema and rows into their JSON document form.
func ToDocument(schema *format.Schema, rows []format.Row) Document {
	doc := Document{
		Columns: make([]DocumentColumn, schema.Len()),
		Rows:    make([]map[string]any, len(rows)),
	}
	for i, c := range schema.Columns() {
		doc.Columns[i] = DocumentColumn{Name: c.Name, Type: c.Type.String()}
	}
	for i, row := range rows {
		doc.Rows[i] = map[string]any(row)
	}
	return doc
}

// MarshalJSON renders schema and rows as an indented Document.
func MarshalJSON(schema *format.Schema, rows []format.Row) ([]byte, error) {
	if schema == nil {
		return nil, errors.New("nil schema")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToDocument(schema, rows)); err != nil {
		return nil, fmt.Errorf("encode dataset JSON: %w", err)
	}
	return buf.Bytes(), nil
}
