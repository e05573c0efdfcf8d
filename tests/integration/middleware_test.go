//go:build integration

package integration

import (
	"net/http"
	"strconv"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		resp := doGet(t, "/livez")
		defer resp.Body.Close()

		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatal("X-Request-ID header not present")
		}
	})

	t.Run("echoed", func(t *testing.T) {
		resp := do(t, http.MethodGet, "/api/programs", nil, map[string]string{"X-Request-ID": "custom-request-id-12345"})
		defer resp.Body.Close()

		if got := resp.Header.Get("X-Request-ID"); got != "custom-request-id-12345" {
			t.Errorf("X-Request-ID: got %q, want %q", got, "custom-request-id-12345")
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		resp := do(t, http.MethodOptions, "/api/sessions/cors-check/coupon", nil, map[string]string{
			"Origin":                         "http://shop.example.com",
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "Content-Type, Idempotency-Key",
		})
		defer resp.Body.Close()

		expectStatus(t, resp, http.StatusNoContent)
		if resp.Header.Get("Access-Control-Allow-Origin") == "" {
			t.Error("Access-Control-Allow-Origin header not present")
		}
		if resp.Header.Get("Access-Control-Allow-Methods") == "" {
			t.Error("Access-Control-Allow-Methods header not present")
		}
	})

	t.Run("simple", func(t *testing.T) {
		resp := do(t, http.MethodGet, "/api/programs", nil, map[string]string{"Origin": "http://shop.example.com"})
		defer resp.Body.Close()

		if resp.Header.Get("Access-Control-Allow-Origin") == "" {
			t.Error("Access-Control-Allow-Origin header not present")
		}
	})
}

func TestRateLimitHeaders(t *testing.T) {
	resp := doGet(t, "/api/programs")
	defer resp.Body.Close()

	limit, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	if err != nil || limit <= 0 {
		t.Errorf("X-RateLimit-Limit: got %q", resp.Header.Get("X-RateLimit-Limit"))
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining header not present")
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := doGet(t, "/api/blogs")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusNotFound)
	if body := decodeJSON[envelope](t, resp); body.Success {
		t.Error("expected success=false")
	}
}
