package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"oasis/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	})

	handler := requestIDMiddlewareWithGenerator(nil, func() string { return "generated-id" }, next)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen != "generated-id" {
		t.Fatalf("context request id = %q", seen)
	}
	if got := recorder.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("header request id = %q", got)
	}
}

func TestRequestIDMiddlewarePreservesInbound(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	})

	handler := requestIDMiddleware(nil, next)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if seen != "caller-id" {
		t.Fatalf("context request id = %q, want caller-id", seen)
	}
	if got := recorder.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Fatalf("header request id = %q", got)
	}
}
