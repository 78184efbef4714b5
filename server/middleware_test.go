package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/onnwee/solarbot/telemetry"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{
			name:           "no auth configured - allows request",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid basic auth",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth username",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "wrong",
			reqPassword:    "secret123",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid basic auth password",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing credentials",
			username:       "admin",
			password:       "secret123",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token auth",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token auth",
			token:          "test-token-12345",
			reqToken:       "wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth takes precedence over basic auth",
			username:       "admin",
			password:       "secret123",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			reqUsername:    "wrong",
			reqPassword:    "wrong",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				adminUsername: tt.username,
				adminPassword: tt.password,
				adminToken:    tt.token,
				enabled:       (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := requireAdmin(cfg)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), true, 3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1", now) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1", now) {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	// the window slides
	if !limiter.allow("192.168.1.1", now.Add(time.Minute+time.Second)) {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), true, 2, time.Second)
	now := time.Now()

	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		for i := 0; i < 2; i++ {
			if !limiter.allow(ip, now) {
				t.Errorf("%s request %d should be allowed", ip, i+1)
			}
		}
	}
	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		if limiter.allow(ip, now) {
			t.Errorf("%s request 3 should be denied", ip)
		}
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), false, 1, time.Second)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1", now) {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), true, 5, time.Second)
	now := time.Now()
	limiter.allow("10.0.0.1", now)
	limiter.allow("10.0.0.2", now.Add(3*time.Second))

	limiter.cleanup(now.Add(3 * time.Second))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor should have been removed")
	}
	if _, ok := limiter.visitors["10.0.0.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
	}{
		{name: "ipv4 with port", remoteAddr: "192.168.1.1:12345"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:12345"},
		{name: "x-forwarded-for ipv4", remoteAddr: "10.0.0.1:8080", forwarded: "203.0.113.1, 10.0.0.2"},
		{name: "x-forwarded-for ipv6", remoteAddr: "10.0.0.1:8080", forwarded: "2001:db8::42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := newIPRateLimiter(t.Context(), true, 2, time.Minute)
			handler := chiMiddleware.RealIP(rateLimit(limiter)(okHandler()))

			do := func() *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
				req.RemoteAddr = tt.remoteAddr
				if tt.forwarded != "" {
					req.Header.Set("X-Forwarded-For", tt.forwarded)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				return rr
			}
			for i := 0; i < 2; i++ {
				if rr := do(); rr.Code != http.StatusOK {
					t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
				}
			}
			rr := do()
			if rr.Code != http.StatusTooManyRequests {
				t.Fatalf("request 3: expected 429, got %d", rr.Code)
			}
			if rr.Header().Get("Retry-After") != "60" {
				t.Errorf("Retry-After = %q, want 60", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestTraceRequestsCorrelationID(t *testing.T) {
	var seen string
	handler := traceRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = telemetry.GetCorrelation(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "corr-123" {
		t.Errorf("correlation in context = %q, want corr-123", seen)
	}
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("response correlation header = %q", got)
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Header().Get("X-Correlation-ID") == "" || seen == "" {
		t.Error("expected a generated correlation id")
	}
}

func TestRateLimiterStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	limiter := newIPRateLimiter(ctx, true, 1, time.Second)
	cancel()
	if !limiter.allow("10.0.0.9", time.Now()) {
		t.Error("first request should be allowed")
	}
}
