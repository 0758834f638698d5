package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestIdentity(t *testing.T) {
	var seen string
	h := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerID(r.Context())
	}))

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/users/x/water", nil)
	req.Header.Set(CallerHeader, " "+strings.ToUpper(id)+" ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, seen, "caller id is normalized")

	for _, header := range []string{"", "bob"} {
		req := httptest.NewRequest(http.MethodGet, "/users/x/water", nil)
		req.Header.Set(CallerHeader, header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/conversations/abc/messages":      "/conversations/:id/messages",
		"/conversations/abc/typing/events": "/conversations/:id/typing/events",
		"/users/42/water/updates":          "/users/:id/water/updates",
		"/users/42":                        "/users/:id",
		"/health":                          "/health",
		"/metrics":                         "/metrics",
		"/":                                "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limits := map[string]RateLimit{
		"POST /users/:id/water": {2, time.Minute, callerKey},
	}
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{}, limits)
	h := rl.Middleware(http.HandlerFunc(okHandler))

	send := func(caller, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(CallerHeader, caller)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	a, b := uuid.NewString(), uuid.NewString()

	assert.Equal(t, http.StatusOK, send(a, "/users/1/water").Code)
	assert.Equal(t, http.StatusOK, send(a, "/users/2/water").Code)

	rec := send(a, "/users/1/water")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Separate budget per caller; unlisted routes are not limited
	assert.Equal(t, http.StatusOK, send(b, "/users/1/water").Code)
	assert.Equal(t, http.StatusOK, send(a, "/users/1/workouts").Code)
}

func TestRateLimiterIgnoresMalformedCallerIDs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limits := map[string]RateLimit{
		"POST /users/:id/water": {2, time.Minute, callerKey},
	}
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{}, limits)
	h := rl.Middleware(http.HandlerFunc(okHandler))

	send := func(caller string) int {
		req := httptest.NewRequest(http.MethodPost, "/users/1/water", nil)
		req.RemoteAddr = "198.51.100.7:4321"
		req.Header.Set(CallerHeader, caller)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Junk ids share the client's IP budget
	assert.Equal(t, http.StatusOK, send("junk-1"))
	assert.Equal(t, http.StatusOK, send("junk-2"))
	assert.Equal(t, http.StatusTooManyRequests, send("junk-3"))
	assert.Equal(t, http.StatusTooManyRequests, send(""))

	// Spelling variants of one id share its budget
	id := uuid.New()
	assert.Equal(t, http.StatusOK, send(id.String()))
	assert.Equal(t, http.StatusOK, send(strings.ToUpper(id.String())))
	assert.Equal(t, http.StatusTooManyRequests, send(" "+id.String()))
}

func TestRateLimiterWhitelistAndBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limits := map[string]RateLimit{"GET /health": {1, time.Minute, ipKey}}
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.0.0.0/8", "192.168.1.5"}}, limits)
	h := rl.Middleware(http.HandlerFunc(okHandler))

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get("10.1.2.3"))
		assert.Equal(t, http.StatusOK, get("192.168.1.5"))
	}

	rl.blocker.Block(context.Background(), "203.0.113.9", time.Hour, "test")
	assert.Equal(t, http.StatusForbidden, get("203.0.113.9"))
	rl.blocker.Unblock(context.Background(), "203.0.113.9")
	assert.Equal(t, http.StatusOK, get("203.0.113.9"))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(okHandler))

	cases := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"json post", http.MethodPost, "/users/1/water", "application/json", "{}", http.StatusOK},
		{"form post", http.MethodPost, "/users/1/water", "text/plain", "x", http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/users/../etc", "", "", http.StatusBadRequest},
		{"script query", http.MethodGet, "/users/1/water?q=%3Cscript%3E", "", "", http.StatusBadRequest},
		{"plain get", http.MethodGet, "/users/1/water?limit=5", "", "", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "http://example.com", strings.NewReader(tc.body))
			req.URL.Path = strings.SplitN(tc.target, "?", 2)[0]
			if i := strings.Index(tc.target, "?"); i >= 0 {
				req.URL.RawQuery = tc.target[i+1:]
			}
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 16)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
