package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/eunmann/colblob/pkg/dataset"
	"github.com/eunmann/colblob/pkg/export"
	"github.com/eunmann/colblob/pkg/format"
	"github.com/eunmann/colblob/pkg/s3store"
)

func runInspect(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("inspect")
	asJSON := fs.Bool("json", false, "print the dataset as a JSON document")
	formatName := fs.String("format", "", "input format: colblob or parquet (default: from extension, else colblob)")
	lf := addLogFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect takes exactly one file, got %d", fs.NArg())
	}
	lf.init()

	path := fs.Arg(0)
	f, err := export.ParseFormat(*formatName, export.FormatForPath(path, export.Colblob))
	if err != nil {
		return err
	}

	if *asJSON {
		schema, rows, err := loadRows(ctx, path, f)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		out, err := dataset.MarshalJSON(schema, rows)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	schema, rows, footer, size, err := load(ctx, path, f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if footer != nil {
		printFooter(stdout, *footer, size)
	} else {
		fmt.Fprintf(stdout, "parquet file, %d bytes, %d rows\n", size, len(rows))
	}
	fmt.Fprintln(stdout)
	return printRows(stdout, schema, rows)
}

// load decodes path in format f. The footer is only returned for colblob files.
func load(ctx context.Context, path string, f export.Format) (*format.Schema, []format.Row, *format.Footer, int64, error) {
	if f == export.Colblob && !s3store.IsS3URI(path) {
		mf, err := format.OpenFile(path)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		defer mf.Close()
		footer := mf.Footer()
		schema, rows, err := mf.Decode()
		if err != nil {
			return nil, nil, nil, 0, err
		}
		return schema, rows, &footer, mf.Size(), nil
	}

	data, err := readInput(ctx, path)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	schema, rows, err := export.Decode(f, data)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	if f != export.Colblob {
		return schema, rows, nil, int64(len(data)), nil
	}
	footer, err := format.ReadFooter(data)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	return schema, rows, &footer, int64(len(data)), nil
}

// loadRows decodes path in format f without keeping the footer.
func loadRows(ctx context.Context, path string, f export.Format) (*format.Schema, []format.Row, error) {
	if f == export.Colblob && !s3store.IsS3URI(path) {
		return format.ReadFile(path)
	}
	data, err := readInput(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return export.Decode(f, data)
}

func readInput(ctx context.Context, path string) ([]byte, error) {
	if s3store.IsS3URI(path) {
		bucket, key, err := s3store.ParseS3URI(path)
		if err != nil {
			return nil, err
		}
		client, err := s3store.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.Get(ctx, bucket, key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printFooter(w io.Writer, footer format.Footer, size int64) {
	fmt.Fprintf(w, "colblob file, %d bytes, %d rows, footer at %d\n\n", size, footer.RowCount, footer.Offset)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tOFFSET\tLENGTH")
	for _, c := range footer.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.Name, c.Type, c.Offset, c.Length)
	}
	tw.Flush()
}

func printRows(w io.Writer, schema *format.Schema, rows []format.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	cols := schema.Columns()
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c.Name)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, row[c.Name])
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
