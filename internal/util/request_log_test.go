package util

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger(&buf, "debug")
	h := WithRequestLog("storefront", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}), "/healthz")

	serve := func(path string) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(ContextWithLogger(context.Background(), logger))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	serve("/healthz")
	serve("/api/books")
	serve("/missing")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), buf.String())
	}
	var ok, missing map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &missing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok["level"] != "INFO" || ok["status"] != float64(200) || ok["bytes"] != float64(5) {
		t.Fatalf("unexpected record: %v", ok)
	}
	if missing["level"] != "WARN" || missing["status"] != float64(404) {
		t.Fatalf("unexpected record: %v", missing)
	}
}
