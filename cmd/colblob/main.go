// Command colblob encodes datasets into columnar files and serves them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/colblob/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
