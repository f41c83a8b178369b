package export

import (
	"errors"
	"reflect"
	"testing"

	"github.com/eunmann/colblob/pkg/dataset"
	"github.com/eunmann/colblob/pkg/format"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: Parquet},
		{in: "colblob", want: Colblob},
		{in: "COLB", want: Colblob},
		{in: "Parquet", want: Parquet},
		{in: "csv", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in, Parquet)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestFormatForPath(t *testing.T) {
	if got := FormatForPath("data/example.parquet", Colblob); got != Parquet {
		t.Errorf("FormatForPath(.parquet) = %s", got)
	}
	if got := FormatForPath("s3://b/example.colb", Parquet); got != Colblob {
		t.Errorf("FormatForPath(.colb) = %s", got)
	}
	if got := FormatForPath("out.bin", Parquet); got != Parquet {
		t.Errorf("FormatForPath(.bin) = %s", got)
	}
}

func TestExtAndContentType(t *testing.T) {
	if Colblob.Ext() != ".colb" || Parquet.Ext() != ".parquet" {
		t.Errorf("Ext() = %s, %s", Colblob.Ext(), Parquet.Ext())
	}
	if Parquet.ContentType() == Colblob.ContentType() {
		t.Error("formats share a content type")
	}
}

func TestEncodeDecodeBothFormats(t *testing.T) {
	schema, rows := dataset.Sample()
	for _, f := range []Format{Colblob, Parquet} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Encode(f, schema, rows)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			gotSchema, gotRows, err := Decode(f, data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !gotSchema.Equal(schema) {
				t.Errorf("schema = %s, want %s", gotSchema, schema)
			}
			if !reflect.DeepEqual(gotRows, rows) {
				t.Errorf("rows = %v, want %v", gotRows, rows)
			}
		})
	}
}

func TestEncodePropagatesValidation(t *testing.T) {
	schema, rows := dataset.Sample()
	delete(rows[0], "name")
	for _, f := range []Format{Colblob, Parquet} {
		if _, err := Encode(f, schema, rows); !errors.Is(err, format.ErrMissingColumn) {
			t.Errorf("%s: err = %v, want ErrMissingColumn", f, err)
		}
	}
}

func TestUnknownFormat(t *testing.T) {
	schema, rows := dataset.Sample()
	if _, err := Encode(Format("csv"), schema, rows); err == nil {
		t.Error("Encode with unknown format succeeded")
	}
	if _, _, err := Decode(Format("csv"), nil); err == nil {
		t.Error("Decode with unknown format succeeded")
	}
}
