// Package cli implements the command-line interface for colblob.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/eunmann/colblob/pkg/logging"
)

const usage = `usage: colblob <command> [options]
commands:
  serve    serve generated files over HTTP
  encode   write a dataset as a colblob or parquet file
  inspect  print the layout and rows of a file`

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "encode":
		return runEncode(ctx, args[1:], stdout)
	case "inspect":
		return runInspect(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// logFlags registers the logging flags shared by every command.
type logFlags struct {
	debug *bool
	human *bool
}

func addLogFlags(fs *flag.FlagSet) logFlags {
	return logFlags{
		debug: fs.Bool("debug", false, "enable debug logging"),
		human: fs.Bool("human", false, "human-friendly console logs instead of JSON"),
	}
}

func (l logFlags) init() {
	logging.Init(*l.debug, *l.human)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
