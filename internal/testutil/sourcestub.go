// Package testutil provides helpers for deterministic pipeline tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ulikunitz/xz"
)

// Response defines a fixed HTTP reply for a path.
type Response struct {
	Body   []byte
	Status int
}

// SourceStub hosts fixed blocklist sources on a local HTTP server.
type SourceStub struct {
	URL    string
	server *httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// StartSourceStub serves responses keyed by request path. Unknown paths return 404.
func StartSourceStub(t *testing.T, responses map[string]Response) *SourceStub {
	t.Helper()

	stub := &SourceStub{hits: make(map[string]int)}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		stub.mu.Unlock()

		resp, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if resp.Status != 0 {
			w.WriteHeader(resp.Status)
		}
		_, _ = w.Write(resp.Body)
	}))
	stub.URL = stub.server.URL

	t.Cleanup(stub.Close)
	return stub
}

// Close shuts down the stub server.
func (s *SourceStub) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// Hits returns how often path was requested.
func (s *SourceStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Text returns a 200 response with lines joined by newlines.
func Text(lines ...string) Response {
	return Response{Body: []byte(strings.Join(lines, "\n") + "\n")}
}

// Status returns an empty response with the given status code.
func Status(code int) Response {
	return Response{Status: code}
}

// ZipBytes builds a ZIP archive holding files, written in name order.
func ZipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// XzBytes compresses content into a single XZ stream.
func XzBytes(t *testing.T, content string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}
