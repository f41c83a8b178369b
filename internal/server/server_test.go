package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eunmann/colblob/pkg/dataset"
	"github.com/eunmann/colblob/pkg/export"
	"github.com/eunmann/colblob/pkg/format"
	"github.com/eunmann/colblob/pkg/logging"
	"github.com/eunmann/colblob/pkg/parquetio"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	srv := httptest.NewServer(New(Config{DataDir: dataDir}).Handler())
	t.Cleanup(srv.Close)
	return srv, dataDir
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestDownloadColblob(t *testing.T) {
	srv, dataDir := newTestServer(t)

	resp, body := get(t, srv.URL+"/download?format=colblob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="example.colb"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}

	schema, rows, err := format.Decode(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	wantSchema, wantRows := dataset.Sample()
	if !schema.Equal(wantSchema) {
		t.Errorf("schema = %s, want %s", schema, wantSchema)
	}
	if !reflect.DeepEqual(rows, wantRows) {
		t.Errorf("rows = %v, want %v", rows, wantRows)
	}

	onDisk, err := os.ReadFile(filepath.Join(dataDir, "example.colb"))
	if err != nil {
		t.Fatalf("generated file missing: %v", err)
	}
	if !bytes.Equal(onDisk, body) {
		t.Error("served bytes differ from the generated file")
	}
}

func TestDownloadDefaultsToParquet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv.URL+"/download")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "example.parquet") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	_, rows, err := parquetio.Read(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("parquet Read failed: %v", err)
	}
	if len(rows) != 3 || rows[0]["name"] != "Alice" {
		t.Errorf("rows = %v", rows)
	}
}

func TestDownloadUnknownFormat(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := get(t, srv.URL+"/download?format=xlsx")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDownloadDataDirUnwritable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// A regular file where the data directory should be.
	srv := httptest.NewServer(New(Config{DataDir: filepath.Join(blocker, "data")}).Handler())
	defer srv.Close()

	resp, body := get(t, srv.URL+"/download?format=colblob")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(string(body), generateFailed) {
		t.Errorf("body = %q", body)
	}
}

func TestDownloadConcurrent(t *testing.T) {
	srv, _ := newTestServer(t)

	var wg sync.WaitGroup
	failures := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/download?format=colblob")
			if err != nil {
				failures <- err.Error()
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if _, _, err := format.Decode(body); err != nil {
				failures <- err.Error()
			}
		}()
	}
	wg.Wait()
	close(failures)
	for f := range failures {
		t.Errorf("concurrent download failed: %s", f)
	}
}

func post(t *testing.T, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out
}

func TestEncodeAndDecodeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	doc := `{"columns":[{"name":"id","type":"INT32"},{"name":"tag","type":"UTF8"}],
		"rows":[{"id":1,"tag":"a"},{"id":2,"tag":"b"}]}`
	resp, blob := post(t, srv.URL+"/encode?format=colblob", "application/json", []byte(doc))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("encode status = %d, body = %s", resp.StatusCode, blob)
	}

	resp, out := post(t, srv.URL+"/decode", "application/octet-stream", blob)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decode status = %d, body = %s", resp.StatusCode, out)
	}

	var got dataset.Document
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal decode response: %v", err)
	}
	if len(got.Columns) != 2 || got.Columns[0].Name != "id" || got.Columns[0].Type != "INT32" {
		t.Errorf("columns = %+v", got.Columns)
	}
	if len(got.Rows) != 2 || got.Rows[1]["tag"] != "b" {
		t.Errorf("rows = %+v", got.Rows)
	}
}

func TestEncodeValidationError(t *testing.T) {
	srv, _ := newTestServer(t)

	doc := `{"columns":[{"name":"age","type":"INT32"}],"rows":[{"age":"old"}]}`
	resp, body := post(t, srv.URL+"/encode?format=colblob", "application/json", []byte(doc))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(body), "schema mismatch") {
		t.Errorf("body = %q", body)
	}
}

func TestEncodeBodyTooLarge(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	srv := httptest.NewServer(New(Config{DataDir: dataDir, MaxBodyBytes: 16}).Handler())
	defer srv.Close()

	doc := `{"columns":[{"name":"a","type":"UTF8"}],"rows":[{"a":"xxxxxxxxxxxxxxxxxxxxxxxx"}]}`
	resp, _ := post(t, srv.URL+"/encode", "application/json", []byte(doc))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	srv, _ := newTestServer(t)

	blob, err := format.EncodeBytes(dataset.Sample())
	if err != nil {
		t.Fatal(err)
	}
	resp, body := post(t, srv.URL+"/decode?format=colblob", "application/octet-stream", blob[:len(blob)/2])
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	if !strings.Contains(string(body), "corrupt blob") {
		t.Errorf("body = %q", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	get(t, srv.URL+"/download?format=colblob")
	resp, body = get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `colblob_requests_total{format="colblob",route="download",status="ok"}`) {
		t.Errorf("metrics missing download counter")
	}
}

func TestRequestLog(t *testing.T) {
	var buf syncBuffer
	logging.SetLogger(zerolog.New(&buf))
	defer logging.Init(false, false)

	srv, _ := newTestServer(t)
	get(t, srv.URL+"/healthz")
	srv.Close()

	out := buf.String()
	if !strings.Contains(out, `"path":"/healthz"`) || !strings.Contains(out, `"status":200`) {
		t.Errorf("unexpected request log: %s", out)
	}
	if !strings.Contains(out, `"request_id":"`) {
		t.Errorf("request log missing request_id: %s", out)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDecodeBodyTooLarge(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	srv := httptest.NewServer(New(Config{DataDir: dataDir, MaxBodyBytes: 64}).Handler())
	defer srv.Close()

	blob, err := format.EncodeBytes(dataset.Sample())
	if err != nil {
		t.Fatal(err)
	}
	resp, _ := post(t, srv.URL+"/decode", "application/octet-stream", blob)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestDownloadReplacesStaleFile(t *testing.T) {
	srv, dataDir := newTestServer(t)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dataDir, "example.colb")
	if err := os.WriteFile(outPath, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	resp, body := get(t, srv.URL+"/download?format=colblob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if _, _, err := format.ReadFile(outPath); err != nil {
		t.Errorf("published file does not decode: %v", err)
	}
}

func TestVerifyGenerated(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.parquet")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := verifyGenerated(export.Parquet, empty); err == nil {
		t.Error("empty parquet file accepted")
	}

	bad := filepath.Join(dir, "bad.colb")
	if err := os.WriteFile(bad, []byte("not a blob"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := verifyGenerated(export.Colblob, bad); err == nil {
		t.Error("invalid blob accepted")
	}

	blob, err := format.EncodeBytes(dataset.Sample())
	if err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "good.colb")
	if err := os.WriteFile(good, blob, 0644); err != nil {
		t.Fatal(err)
	}
	if err := verifyGenerated(export.Colblob, good); err != nil {
		t.Errorf("valid blob rejected: %v", err)
	}
}
