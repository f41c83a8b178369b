package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// ValidateRow checks a single row against the schema. idx is the row's
// position in its dataset and is only used for error reporting.
func ValidateRow(s *Schema, row Row, idx int) error {
	for _, c := range s.columns {
		v, ok := row[c.Name]
		if !ok {
			return &ColumnError{Column: c.Name, Row: idx, Err: ErrMissingColumn}
		}
		switch c.Type {
		case Int32:
			if _, ok := v.(int32); !ok {
				return &ColumnError{Column: c.Name, Row: idx, Err: ErrSchemaMismatch,
					Detail: fmt.Sprintf("want int32, got %T", v)}
			}
		case UTF8:
			str, ok := v.(string)
			if !ok {
				return &ColumnError{Column: c.Name, Row: idx, Err: ErrSchemaMismatch,
					Detail: fmt.Sprintf("want string, got %T", v)}
			}
			if !utf8.ValidString(str) {
				return &ColumnError{Column: c.Name, Row: idx, Err: ErrSchemaMismatch,
					Detail: "string is not valid UTF-8"}
			}
		default:
			return &ColumnError{Column: c.Name, Row: -1, Err: ErrUnsupportedType,
				Detail: fmt.Sprintf("type tag %d", uint8(c.Type))}
		}
	}
	if len(row) != len(s.columns) {
		for name := range row {
			if _, ok := s.index[name]; !ok {
				return &ColumnError{Column: name, Row: idx, Err: ErrSchemaMismatch,
					Detail: "column not in schema"}
			}
		}
	}
	return nil
}

// ValidateRows checks every row against the schema, stopping at the first failure.
func ValidateRows(s *Schema, rows []Row) error {
	for i, row := range rows {
		if err := ValidateRow(s, row, i); err != nil {
			return err
		}
	}
	return nil
}

// blobWriter accumulates a blob in memory.
type blobWriter struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (w *blobWriter) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *blobWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *blobWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.buf.Write(w.scratch[:8])
}

func (w *blobWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *blobWriter) offset() uint64 {
	return uint64(w.buf.Len())
}

// EncodeBytes encodes rows under schema s and returns the blob.
func EncodeBytes(s *Schema, rows []Row) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}
	if uint64(len(rows)) > math.MaxUint32 {
		return nil, fmt.Errorf("too many rows: %d", len(rows))
	}
	if err := ValidateRows(s, rows); err != nil {
		return nil, err
	}

	w := &blobWriter{}
	metas := make([]ColumnMeta, len(s.columns))
	for i, c := range s.columns {
		start := w.offset()
		if err := w.writeColumn(c, rows); err != nil {
			return nil, err
		}
		metas[i] = ColumnMeta{
			Name:   c.Name,
			Type:   c.Type,
			Offset: start,
			Length: w.offset() - start,
		}
	}

	footerOffset := w.offset()
	w.u32(uint32(len(rows)))
	w.u32(uint32(len(metas)))
	for _, m := range metas {
		if uint64(len(m.Name)) > math.MaxUint32 {
			return nil, &ColumnError{Column: m.Name, Row: -1, Err: ErrInvalidSchema, Detail: "name too long"}
		}
		w.str(m.Name)
		w.u8(uint8(m.Type))
		w.u64(m.Offset)
		w.u64(m.Length)
	}
	w.u64(footerOffset)

	return w.buf.Bytes(), nil
}

func (w *blobWriter) writeColumn(c Column, rows []Row) error {
	switch c.Type {
	case Int32:
		for _, row := range rows {
			w.u32(uint32(row[c.Name].(int32)))
		}
	case UTF8:
		for i, row := range rows {
			v := row[c.Name].(string)
			if uint64(len(v)) > math.MaxUint32 {
				return &ColumnError{Column: c.Name, Row: i, Err: ErrSchemaMismatch, Detail: "string too long"}
			}
			w.str(v)
		}
	default:
		return &ColumnError{Column: c.Name, Row: -1, Err: ErrUnsupportedType,
			Detail: fmt.Sprintf("type tag %d", uint8(c.Type))}
	}
	return nil
}

// Encode encodes rows under schema s and writes the complete blob to w.
// Nothing is written if validation fails. w is not closed.
func Encode(w io.Writer, s *Schema, rows []Row) error {
	blob, err := EncodeBytes(s, rows)
	if err != nil {
		return err
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}
