package format

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch indicates a row value whose type disagrees with its column.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrMissingColumn indicates a row that omits a column of the schema.
	ErrMissingColumn = errors.New("missing column")
	// ErrUnsupportedType indicates a column type outside {INT32, UTF8}.
	ErrUnsupportedType = errors.New("unsupported column type")
	// ErrCorruptBlob indicates a blob that cannot be decoded.
	ErrCorruptBlob = errors.New("corrupt blob")
	// ErrInvalidSchema indicates an empty schema, empty column name or duplicate column.
	ErrInvalidSchema = errors.New("invalid schema")
)

// ColumnError reports a failure tied to a column and, when known, a row.
type ColumnError struct {
	Column string
	Row    int // -1 when the failure is not tied to a row
	Err    error
	Detail string
}

func (e *ColumnError) Error() string {
	msg := fmt.Sprintf("%v: column %q", e.Err, e.Column)
	if e.Row >= 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ColumnError) Unwrap() error {
	return e.Err
}

// CorruptError reports a decode failure at a byte offset of the blob.
type CorruptError struct {
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", ErrCorruptBlob, e.Offset, e.Reason)
}

func (e *CorruptError) Unwrap() error {
	return ErrCorruptBlob
}

func corruptf(offset int64, format string, args ...any) error {
	return &CorruptError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
