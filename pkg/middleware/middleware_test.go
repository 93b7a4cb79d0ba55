package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTracingPassesThrough(t *testing.T) {
	handler := Tracing("weft/test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/document", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if got := rec.Body.String(); got != "short and stout" {
		t.Fatalf("body = %q", got)
	}
}

func TestTracingDefaultsStatusOK(t *testing.T) {
	handler := Tracing("weft/test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHTTPMetricsCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(WithRegistry(reg))

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	srv := httptest.NewServer(handler)
	defer srv.Close()
	for _, path := range []string{"/document", "/document", "/missing"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/document", "200")); got != 2 {
		t.Fatalf("requests{/document,200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/missing", "404")); got != 1 {
		t.Fatalf("requests{/missing,404} = %v, want 1", got)
	}
}

func TestHTTPMetricsNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(WithRegistry(reg), WithNamespace("editor"))

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	n, err := testutil.GatherAndCount(reg, "editor_http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("editor_http_requests_total series = %d, want 1", n)
	}
}
