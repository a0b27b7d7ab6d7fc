package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	collector "github.com/hanpama/querymux/internal/collector"
	language "github.com/hanpama/querymux/internal/language"
)

// stubDispatcher resolves every merged alias to its field name and
// counts upstream trips.
type stubDispatcher struct {
	calls atomic.Int64
	err   error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, req *batch.MergedRequest) (*batch.MergedResult, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	data := map[string]any{}
	for _, sel := range req.Document.Operations[0].SelectionSet {
		f := sel.(*language.Field)
		data[f.Alias] = f.Name
	}
	return &batch.MergedResult{Data: data}, nil
}

func newTestHandler(t *testing.T, d batch.Dispatcher, copt collector.Options, opts ...Option) *Handler {
	t.Helper()
	col := collector.New(d, zerolog.Nop(), copt)
	t.Cleanup(col.Close)
	h, err := New(col, opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func postJSON(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSingleRequest(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1})

	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"data\":{\"hello\":\"hello\"}}\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestArrayBatchSharesOneUpstreamTrip(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 2, MaxWait: time.Hour})

	w := postJSON(t, h, `[{"query":"{ a b }"},{"query":"{ c }"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var out []struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v body %s", err, w.Body.String())
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Data["a"] != "a" || out[0].Data["b"] != "b" || out[1].Data["c"] != "c" {
		t.Fatalf("unexpected payloads: %s", w.Body.String())
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream trip for the array batch, got %d", got)
	}
}

func TestParseErrorDoesNotReachUpstream(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1})

	w := postJSON(t, h, `{"query":"{ hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		Data   any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Data != nil || len(out.Errors) == 0 {
		t.Fatalf("expected error-only response, got %s", w.Body.String())
	}
	if d.calls.Load() != 0 {
		t.Fatal("malformed query must not be dispatched")
	}
}

func TestDispatchFailureSurfacesToCaller(t *testing.T) {
	d := &stubDispatcher{err: context.DeadlineExceeded}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1})

	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected one error, got %s", w.Body.String())
	}
}

func TestGetRequest(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1})

	req := httptest.NewRequest("GET", "/?query="+url.QueryEscape("{ hello }"), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"data\":{\"hello\":\"hello\"}}\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1}, WithCORS("*"))

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}

	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatal("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	d := &stubDispatcher{}
	h := newTestHandler(t, d, collector.Options{MaxBatch: 1}, WithMaxBodyBytes(10))

	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestQueryCacheReusesDocuments(t *testing.T) {
	cache, err := newQueryCache(8)
	if err != nil {
		t.Fatal(err)
	}
	d1, err := cache.parse("{ hello }")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := cache.parse("{ hello }")
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatal("expected the cached document to be reused")
	}
	if _, err := cache.parse("{ broken"); err == nil {
		t.Fatal("expected parse error")
	}
}
