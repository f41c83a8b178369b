package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/eunmann/colblob/internal/logctx"
	"github.com/eunmann/colblob/pkg/dataset"
	"github.com/eunmann/colblob/pkg/export"
	"github.com/eunmann/colblob/pkg/fileutil"
	"github.com/eunmann/colblob/pkg/format"
	"github.com/eunmann/colblob/pkg/metrics"
)

const (
	downloadBaseName = "example"
	generateFailed   = "Error generating or sending file"
)

// handleDownload materializes the sample dataset into the data directory and
// serves it as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := export.ParseFormat(r.URL.Query().Get("format"), export.Parquet)
	if err != nil {
		metrics.Requests.WithLabelValues("download", "unknown", "client_error").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = logctx.WithStr(ctx, "format", string(f))
	log := logctx.FromContext(ctx)

	name := downloadBaseName + f.Ext()
	outPath := filepath.Join(s.cfg.DataDir, name)

	if err := s.generate(f, outPath); err != nil {
		log.Error().Err(err).Str("path", outPath).Msg("generate file failed")
		metrics.Requests.WithLabelValues("download", string(f), "error").Inc()
		http.Error(w, generateFailed, http.StatusInternalServerError)
		return
	}

	file, err := os.Open(outPath)
	if err != nil {
		log.Error().Err(err).Str("path", outPath).Msg("open generated file failed")
		metrics.Requests.WithLabelValues("download", string(f), "error").Inc()
		http.Error(w, generateFailed, http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		log.Error().Err(err).Str("path", outPath).Msg("stat generated file failed")
		metrics.Requests.WithLabelValues("download", string(f), "error").Inc()
		http.Error(w, generateFailed, http.StatusInternalServerError)
		return
	}

	log.Debug().Str("path", outPath).Int64("size", info.Size()).Msg("serving file")
	metrics.Requests.WithLabelValues("download", string(f), "ok").Inc()

	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

// generate encodes the sample dataset and publishes it at outPath.
func (s *Server) generate(f export.Format, outPath string) error {
	if err := fileutil.EnsureDir(s.cfg.DataDir); err != nil {
		return err
	}

	schema, rows := dataset.Sample()
	data, err := export.Encode(f, schema, rows)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	return fileutil.WriteTmpThenMove(s.cfg.DataDir, outPath, func(tmpPath string) error {
		if err := os.WriteFile(tmpPath, data, 0644); err != nil {
			return err
		}
		return verifyGenerated(f, tmpPath)
	})
}

// verifyGenerated checks a freshly written file before it replaces the published one.
func verifyGenerated(f export.Format, path string) error {
	switch f {
	case export.Colblob:
		if !fileutil.BlobFileValid(path) {
			return fmt.Errorf("generated file %s is not a valid blob", path)
		}
	default:
		if !fileutil.IsNonEmpty(path) {
			return fmt.Errorf("generated file %s is empty", path)
		}
	}
	return nil
}

// handleEncode encodes a JSON dataset document from the request body.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	log := logctx.FromContext(r.Context())
	f, err := export.ParseFormat(r.URL.Query().Get("format"), export.Parquet)
	if err != nil {
		metrics.Requests.WithLabelValues("encode", "unknown", "client_error").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	schema, rows, err := dataset.ParseJSON(body)
	if err != nil {
		metrics.Requests.WithLabelValues("encode", string(f), "client_error").Inc()
		http.Error(w, err.Error(), requestStatus(err))
		return
	}

	data, err := export.Encode(f, schema, rows)
	if err != nil {
		status := encodeStatus(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("format", string(f)).Msg("encode failed")
			metrics.Requests.WithLabelValues("encode", string(f), "error").Inc()
			http.Error(w, generateFailed, status)
			return
		}
		metrics.Requests.WithLabelValues("encode", string(f), "client_error").Inc()
		http.Error(w, err.Error(), status)
		return
	}

	metrics.Requests.WithLabelValues("encode", string(f), "ok").Inc()
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadBaseName+f.Ext()))
	w.Write(data)
}

// handleDecode decodes an uploaded file and responds with its JSON document.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	f, err := export.ParseFormat(r.URL.Query().Get("format"), export.Colblob)
	if err != nil {
		metrics.Requests.WithLabelValues("decode", "unknown", "client_error").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var (
		schema *format.Schema
		rows   []format.Row
	)
	if f == export.Colblob {
		schema, rows, err = format.DecodeReader(body)
	} else {
		var data []byte
		if data, err = io.ReadAll(body); err == nil {
			schema, rows, err = export.Decode(f, data)
		}
	}
	if err != nil {
		metrics.Requests.WithLabelValues("decode", string(f), "client_error").Inc()
		http.Error(w, err.Error(), decodeStatus(err))
		return
	}

	out, err := dataset.MarshalJSON(schema, rows)
	if err != nil {
		logctx.FromContext(r.Context()).Error().Err(err).Msg("marshal decoded dataset failed")
		metrics.Requests.WithLabelValues("decode", string(f), "error").Inc()
		http.Error(w, generateFailed, http.StatusInternalServerError)
		return
	}

	metrics.Requests.WithLabelValues("decode", string(f), "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// encodeStatus maps encoder errors to HTTP status codes.
func encodeStatus(err error) int {
	switch {
	case errors.Is(err, format.ErrSchemaMismatch),
		errors.Is(err, format.ErrMissingColumn),
		errors.Is(err, format.ErrUnsupportedType),
		errors.Is(err, format.ErrInvalidSchema):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeStatus maps upload and decode failures to HTTP status codes.
func decodeStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusUnprocessableEntity
}

// requestStatus maps request body failures to HTTP status codes.
func requestStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
