package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	apiContext "hookgate/internal/api/context"
	"hookgate/internal/platform/auth"
	"hookgate/internal/platform/config"
)

func TestClientIPMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		trust  bool
		remote string
		header map[string]string
		want   string
	}{
		{"remote addr", false, "203.0.113.7:5123", nil, "203.0.113.7"},
		{"ignores forwarded when untrusted", false, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.2"}, "10.0.0.1"},
		{"first forwarded hop", true, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.9"}, "198.51.100.2"},
		{"real ip fallback", true, "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.3"}, "198.51.100.3"},
		{"garbage forwarded", true, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			var got string
			h := NewClientIPMiddleware(tt.trust).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = apiContext.ClientIPFrom(r.Context())
			}))
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	svc := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	token, err := svc.GenerateAccessToken("ops", "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	mw := NewAuthMiddleware(svc)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			mw.Handle(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := apiContext.ClaimsFrom(r.Context())
				if !ok || claims.Username != "ops" {
					t.Errorf("claims not injected: %+v", claims)
				}
				w.WriteHeader(http.StatusOK)
			})(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("keys are independent")
	}

	now = now.Add(30 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill one token after half the period")
	}
}

func TestRateLimiter_Handle(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := NewClientIPMiddleware(false).Wrap(http.HandlerFunc(rl.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/token", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestRequestLogger(t *testing.T) {
	h := RequestLogger(zerolog.New(io.Discard))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(apiContext.RequestID) == nil {
			t.Error("request id missing from context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}
