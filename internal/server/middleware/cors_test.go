package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(origins []string, hit *bool) http.Handler {
	return CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSAllowedOrigin(t *testing.T) {
	var hit bool
	h := corsHandler([]string{"https://ui.example.com"}, &hit)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://UI.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !hit {
		t.Fatal("handler not reached")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://UI.example.com" {
		t.Fatalf("allow-origin=%q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Fatal("Vary header missing")
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	var hit bool
	h := corsHandler([]string{"https://ui.example.com"}, &hit)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !hit {
		t.Fatal("same-protocol request must still be served")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin granted CORS headers")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	var hit bool
	h := corsHandler(nil, &hit)

	req := httptest.NewRequest(http.MethodOptions, "/api/control/start", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if hit {
		t.Fatal("preflight reached the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("empty allow-list must admit any origin")
	}
}

func TestCORSWildcardEntry(t *testing.T) {
	var hit bool
	h := corsHandler([]string{"*"}, &hit)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://anywhere.example.com" {
		t.Fatal("wildcard entry must admit any origin")
	}
}
