// Package export encodes datasets in one of the supported file formats.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/colblob/pkg/format"
	"github.com/eunmann/colblob/pkg/metrics"
	"github.com/eunmann/colblob/pkg/parquetio"
)

// Format names an output file format.
type Format string

const (
	// Colblob is the native columnar blob format.
	Colblob Format = "colblob"
	// Parquet is Apache Parquet.
	Parquet Format = "parquet"
)

// ParseFormat parses a format name. An empty name selects def.
func ParseFormat(name string, def Format) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return def, nil
	case "colblob", "colb":
		return Colblob, nil
	case "parquet":
		return Parquet, nil
	default:
		return "", fmt.Errorf("unknown format %q (want colblob or parquet)", name)
	}
}

// FormatForPath guesses the format from a file extension, falling back to def.
func FormatForPath(path string, def Format) Format {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return Parquet
	case strings.HasSuffix(path, ".colb"):
		return Colblob
	default:
		return def
	}
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	if f == Parquet {
		return ".parquet"
	}
	return ".colb"
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == Parquet {
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}

// Encode renders schema and rows in format f.
func Encode(f Format, schema *format.Schema, rows []format.Row) ([]byte, error) {
	start := time.Now()

	var data []byte
	switch f {
	case Colblob:
		blob, err := format.EncodeBytes(schema, rows)
		if err != nil {
			return nil, err
		}
		data = blob
	case Parquet:
		var buf bytes.Buffer
		if err := parquetio.Write(&buf, schema, rows); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}

	metrics.ObserveEncode(string(f), len(data), time.Since(start))
	return data, nil
}

// Decode parses data previously produced in format f.
func Decode(f Format, data []byte) (*format.Schema, []format.Row, error) {
	switch f {
	case Colblob:
		return format.Decode(data)
	case Parquet:
		return parquetio.Read(bytes.NewReader(data), int64(len(data)))
	default:
		return nil, nil, fmt.Errorf("unknown format %q", f)
	}
}
