// Package parquetio writes and reads colblob datasets as Apache Parquet files.
package parquetio

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/colblob/pkg/format"
)

// ColumnOrderKey is the key-value metadata entry holding the comma-separated
// column order. Parquet groups sort their fields by name, so the declared
// order would otherwise be lost.
const ColumnOrderKey = "colblob.columns"

// rowBufferSize is the number of rows read per ReadRows call.
const rowBufferSize = 1024

// maxRowsHint caps the initial row slice; the row count in file metadata is
// not trusted.
const maxRowsHint = 64 * rowBufferSize

func rowCapacity(numRows int64) int {
	if numRows <= 0 {
		return 0
	}
	return int(min(numRows, maxRowsHint))
}

// ParquetSchema maps a colblob schema to a flat parquet schema of required columns.
func ParquetSchema(s *format.Schema) (*parquet.Schema, error) {
	group := make(parquet.Group, s.Len())
	for _, c := range s.Columns() {
		switch c.Type {
		case format.UTF8:
			group[c.Name] = parquet.String()
		case format.Int32:
			group[c.Name] = parquet.Int(32)
		default:
			return nil, &format.ColumnError{Column: c.Name, Row: -1, Err: format.ErrUnsupportedType}
		}
	}
	return parquet.NewSchema("colblob", group), nil
}

// Write validates rows against s and writes them to w as a single row group.
// w is not closed.
func Write(w io.Writer, s *format.Schema, rows []format.Row) error {
	if err := format.ValidateRows(s, rows); err != nil {
		return err
	}
	for _, c := range s.Columns() {
		if strings.Contains(c.Name, ",") {
			return fmt.Errorf("%w: column %q contains a comma", format.ErrInvalidSchema, c.Name)
		}
	}

	schema, err := ParquetSchema(s)
	if err != nil {
		return err
	}

	// Column index of each schema column within the parquet leaf order.
	leaf := make([]int, s.Len())
	for i, c := range s.Columns() {
		lc, ok := schema.Lookup(c.Name)
		if !ok {
			return fmt.Errorf("parquet schema lost column %q", c.Name)
		}
		leaf[i] = lc.ColumnIndex
	}

	names := make([]string, s.Len())
	for i, c := range s.Columns() {
		names[i] = c.Name
	}

	pw := parquet.NewWriter(w, schema, parquet.KeyValueMetadata(ColumnOrderKey, strings.Join(names, ",")))

	buf := make([]parquet.Row, len(rows))
	for r, row := range rows {
		values := make(parquet.Row, s.Len())
		for i, c := range s.Columns() {
			var v parquet.Value
			switch c.Type {
			case format.Int32:
				v = parquet.Int32Value(row[c.Name].(int32))
			case format.UTF8:
				v = parquet.ByteArrayValue([]byte(row[c.Name].(string)))
			}
			values[leaf[i]] = v.Level(0, 0, leaf[i])
		}
		buf[r] = values
	}

	if len(buf) > 0 {
		if _, err := pw.WriteRows(buf); err != nil {
			pw.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// Read decodes a parquet file written by Write, or any flat parquet file
// whose columns are required INT32 or string values.
func Read(r io.ReaderAt, size int64) (*format.Schema, []format.Row, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("open parquet file: %w", err)
	}

	schema, leaf, err := detectSchema(file)
	if err != nil {
		return nil, nil, err
	}

	// Schema column position for each parquet leaf index.
	byLeaf := make(map[int]format.Column, len(leaf))
	for i, idx := range leaf {
		byLeaf[idx] = schema.Column(i)
	}

	rows := make([]format.Row, 0, rowCapacity(file.NumRows()))
	rowBuf := make([]parquet.Row, rowBufferSize)
	for _, rg := range file.RowGroups() {
		rgRows := rg.Rows()
		for {
			n, err := rgRows.ReadRows(rowBuf)
			for _, pr := range rowBuf[:n] {
				row, convErr := toRow(pr, byLeaf, len(rows))
				if convErr != nil {
					rgRows.Close()
					return nil, nil, convErr
				}
				rows = append(rows, row)
			}
			if err != nil {
				rgRows.Close()
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
	}

	if err := format.ValidateRows(schema, rows); err != nil {
		return nil, nil, err
	}
	return schema, rows, nil
}

// detectSchema recovers the colblob schema and the parquet leaf index of each column.
func detectSchema(file *parquet.File) (*format.Schema, []int, error) {
	ps := file.Schema()

	var names []string
	if order, ok := file.Lookup(ColumnOrderKey); ok && order != "" {
		names = strings.Split(order, ",")
	} else {
		for _, f := range ps.Fields() {
			names = append(names, f.Name())
		}
	}

	cols := make([]format.Column, len(names))
	leaf := make([]int, len(names))
	for i, name := range names {
		lc, ok := ps.Lookup(name)
		if !ok {
			return nil, nil, &format.ColumnError{Column: name, Row: -1, Err: format.ErrMissingColumn,
				Detail: "listed in column order metadata but absent from parquet schema"}
		}
		var typ format.ColumnType
		switch lc.Node.Type().Kind() {
		case parquet.Int32:
			typ = format.Int32
		case parquet.ByteArray:
			typ = format.UTF8
		default:
			return nil, nil, &format.ColumnError{Column: name, Row: -1, Err: format.ErrUnsupportedType,
				Detail: fmt.Sprintf("parquet kind %s", lc.Node.Type().Kind())}
		}
		cols[i] = format.Column{Name: name, Type: typ}
		leaf[i] = lc.ColumnIndex
	}

	schema, err := format.NewSchema(cols...)
	if err != nil {
		return nil, nil, err
	}
	return schema, leaf, nil
}

func toRow(pr parquet.Row, byLeaf map[int]format.Column, idx int) (format.Row, error) {
	row := make(format.Row, len(byLeaf))
	for _, v := range pr {
		c, ok := byLeaf[v.Column()]
		if !ok {
			continue
		}
		if v.IsNull() {
			return nil, &format.ColumnError{Column: c.Name, Row: idx, Err: format.ErrMissingColumn, Detail: "null value"}
		}
		switch c.Type {
		case format.Int32:
			row[c.Name] = v.Int32()
		case format.UTF8:
			row[c.Name] = string(v.ByteArray())
		}
	}
	return row, nil
}
