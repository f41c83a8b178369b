// Package server serves generated dataset files over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/eunmann/colblob/internal/logctx"
	"github.com/eunmann/colblob/pkg/metrics"
)

// DefaultMaxBodyBytes caps request bodies of the encode and decode endpoints.
const DefaultMaxBodyBytes int64 = 32 << 20

// Config configures the HTTP server.
type Config struct {
	// DataDir is where downloadable files are materialized.
	DataDir string
	// MaxBodyBytes limits upload sizes (default: DefaultMaxBodyBytes).
	MaxBodyBytes int64
}

// Server routes requests to file generation handlers.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /download", s.handleDownload)
	s.mux.HandleFunc("POST /encode", s.handleEncode)
	s.mux.HandleFunc("POST /decode", s.handleDecode)
	s.mux.HandleFunc("GET /healthz", handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return withRequestLog(s.mux)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// withRequestLog attaches a request-scoped logger and logs each request on completion.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, id := logctx.WithRequestID(r.Context())
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		log := logctx.FromContext(ctx)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
