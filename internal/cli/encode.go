package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/colblob/pkg/dataset"
	"github.com/eunmann/colblob/pkg/export"
	"github.com/eunmann/colblob/pkg/fileutil"
	"github.com/eunmann/colblob/pkg/format"
	"github.com/eunmann/colblob/pkg/humanfmt"
	"github.com/eunmann/colblob/pkg/logging"
	"github.com/eunmann/colblob/pkg/s3store"
)

func runEncode(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("encode")
	out := fs.String("out", "", "output file path or s3://bucket/key")
	in := fs.String("in", "", "JSON dataset document (default: built-in sample)")
	formatName := fs.String("format", "", "output format: colblob or parquet (default: from --out extension, else colblob)")
	lf := addLogFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}
	lf.init()

	f, err := export.ParseFormat(*formatName, export.FormatForPath(*out, export.Colblob))
	if err != nil {
		return err
	}

	schema, rows, err := loadDataset(*in)
	if err != nil {
		return err
	}

	start := time.Now()
	data, err := export.Encode(f, schema, rows)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := writeOutput(ctx, *out, f, data); err != nil {
		return err
	}

	logging.L().Info().
		Str("out", *out).
		Str("format", string(f)).
		Int("rows", len(rows)).
		Int("bytes", len(data)).
		Str("elapsed", humanfmt.Duration(time.Since(start))).
		Msg("encoded dataset")
	fmt.Fprintf(stdout, "wrote %d rows (%s) to %s\n", len(rows), humanfmt.Bytes(int64(len(data))), *out)
	return nil
}

func loadDataset(path string) (*format.Schema, []format.Row, error) {
	if path == "" {
		schema, rows := dataset.Sample()
		return schema, rows, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	schema, rows, err := dataset.ParseJSON(file)
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return schema, rows, nil
}

func writeOutput(ctx context.Context, out string, f export.Format, data []byte) error {
	if s3store.IsS3URI(out) {
		bucket, key, err := s3store.ParseS3URI(out)
		if err != nil {
			return err
		}
		client, err := s3store.NewClient(ctx)
		if err != nil {
			return err
		}
		return client.Put(ctx, bucket, key, f.ContentType(), data)
	}

	return fileutil.WriteTmpThenMove(filepath.Dir(out), out, func(tmpPath string) error {
		return os.WriteFile(tmpPath, data, 0644)
	})
}
