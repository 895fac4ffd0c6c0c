package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit_PerIP(t *testing.T) {
	rl := NewIPRateLimiter(0.001, 2)
	defer rl.Close()
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/proxy", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:1234"); code != http.StatusNoContent {
			t.Fatalf("request %d: status=%d", i, code)
		}
	}
	if code := call("10.0.0.1:9999"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := call("10.0.0.2:1234"); code != http.StatusNoContent {
		t.Fatalf("other ips must have their own bucket, got %d", code)
	}
}

func TestIPRateLimiter_EvictsIdle(t *testing.T) {
	rl := NewIPRateLimiter(1, 1)
	defer rl.Close()
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("10.0.0.1")

	now = now.Add(limiterIdleTTL + time.Second)
	rl.evictIdle()
	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected idle limiter to be evicted, %d left", n)
	}
}
