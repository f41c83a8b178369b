package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eunmann/colblob/internal/server"
	"github.com/eunmann/colblob/pkg/fileutil"
	"github.com/eunmann/colblob/pkg/logging"
)

const (
	defaultAddr     = ":3000"
	addrEnvVar      = "COLBLOB_ADDR"
	shutdownTimeout = 10 * time.Second
)

// AddrSource indicates where the listen address came from.
type AddrSource string

const (
	// AddrSourceCLI indicates the address was set via the --addr flag.
	AddrSourceCLI AddrSource = "cli"
	// AddrSourceEnv indicates the address was set via COLBLOB_ADDR.
	AddrSourceEnv AddrSource = "env"
	// AddrSourceDefault indicates the built-in default address.
	AddrSourceDefault AddrSource = "default"
)

// determineAddr picks the listen address: CLI flag, then environment, then default.
func determineAddr(cliAddr string) (string, AddrSource) {
	if cliAddr != "" {
		return cliAddr, AddrSourceCLI
	}
	if env := os.Getenv(addrEnvVar); env != "" {
		return env, AddrSourceEnv
	}
	return defaultAddr, AddrSourceDefault
}

// newHTTPServer builds the listener-side server. Request contexts are not tied
// to the process signal context; Shutdown drains in-flight requests.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	addrFlag := fs.String("addr", "", "listen address (default "+defaultAddr+", env "+addrEnvVar+")")
	dataDir := fs.String("data-dir", "data", "directory for generated files")
	maxBody := fs.Int64("max-body", server.DefaultMaxBodyBytes, "max request body size in bytes")
	lf := addLogFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}
	lf.init()

	addr, source := determineAddr(*addrFlag)
	log := logging.WithComponent("server")

	if err := fileutil.EnsureDir(*dataDir); err != nil {
		return err
	}
	if err := fileutil.CleanupTmpFiles(*dataDir); err != nil {
		log.Warn().Err(err).Str("dir", *dataDir).Msg("tmp cleanup failed")
	}

	srv := newHTTPServer(addr, server.New(server.Config{DataDir: *dataDir, MaxBodyBytes: *maxBody}).Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", addr).
			Str("addr_source", string(source)).
			Str("data_dir", absOrSelf(*dataDir)).
			Msg("server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
