package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sarichat/chat-relay/internal/config"
)

func testServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := testServer(t, config.Config{})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestReadyz_FollowsServeState(t *testing.T) {
	s := testServer(t, config.Config{})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before serve = %d", rec.Code)
	}

	s.ready.Store(true)
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after serve = %d", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s := testServer(t, config.Config{})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var build BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &build); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if build.Commit != "abc123" {
		t.Fatalf("commit = %q", build.Commit)
	}
}

func TestRequestID_Passthrough(t *testing.T) {
	s := testServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := do(t, s, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("request id = %q", got)
	}
}

func TestOriginPolicy(t *testing.T) {
	s := testServer(t, config.Config{AllowedOrigins: []string{"https://chat.example.com"}})

	handler := s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// No Origin header: allowed, no CORS headers.
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("no-origin status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS headers on same-origin request")
	}

	// Allowlisted origin: allowed, CORS headers set.
	req := httptest.NewRequest(http.MethodGet, "/preview", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("allowlisted status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}

	// Cross origin: rejected.
	req = httptest.NewRequest(http.MethodGet, "/preview", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-origin status = %d", rec.Code)
	}

	// Preflight short-circuits.
	req = httptest.NewRequest(http.MethodOptions, "/preview", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight missing allow-methods")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := testServer(t, config.Config{})
	s.mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
