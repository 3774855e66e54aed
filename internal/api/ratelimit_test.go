package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DARPAI/portal-backend/internal/log"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := newRateLimiter(0, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("10.0.0.1"), "request %d should pass", i)
	}
	assert.False(t, rl.allow("10.0.0.1"), "burst exhausted")
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := newRateLimiter(0, 1)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "different IP has its own bucket")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newRateLimiter(0, 1)
	handler := rateLimitMiddleware(rl, false, log.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/chats", nil)
	r.RemoteAddr = "10.0.0.1:55555"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.5:41000",
			want:       "192.168.1.5",
		},
		{
			name:       "proxy headers ignored when untrusted",
			remoteAddr: "192.168.1.5:41000",
			headers:    map[string]string{"X-Real-IP": "1.2.3.4"},
			want:       "192.168.1.5",
		},
		{
			name:       "x-real-ip when trusted",
			remoteAddr: "192.168.1.5:41000",
			headers:    map[string]string{"X-Real-IP": "1.2.3.4"},
			trustProxy: true,
			want:       "1.2.3.4",
		},
		{
			name:       "x-forwarded-for first ip",
			remoteAddr: "192.168.1.5:41000",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"},
			trustProxy: true,
			want:       "1.2.3.4",
		},
		{
			name:       "invalid header falls back",
			remoteAddr: "192.168.1.5:41000",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			trustProxy: true,
			want:       "192.168.1.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r, tt.trustProxy))
		})
	}
}
