package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	l := newTokenLimiter(60, 2)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if l.allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !l.allow("b") {
		t.Fatalf("expected separate key to have its own bucket")
	}
	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Fatalf("expected one token after a second at 60/min")
	}
}

func TestTokenLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	l := newTokenLimiter(60, 2)
	l.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		l.allow(ip)
	}
	if l.size() != 3 {
		t.Fatalf("expected 3 tracked keys, got %d", l.size())
	}

	now = now.Add(time.Second)
	l.allow("10.0.0.1")
	l.allow("10.0.0.1")
	if l.allow("10.0.0.1") {
		t.Fatalf("expected active key to stay limited")
	}

	now = now.Add(1500 * time.Millisecond)
	l.allow("10.0.0.4")
	if l.size() != 2 {
		t.Fatalf("expected idle keys to be evicted, got %d", l.size())
	}
}

func TestRateLimiterPerCounter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 600, IPBurst: 100, CounterPerMinute: 1, CounterBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := limiter.Middleware(next)

	send := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := send(http.MethodPost, "/api/counters/1/actions/call-next"); code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", code)
	}
	if code := send(http.MethodPost, "/api/counters/1/actions/call-next"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second call to be limited, got %d", code)
	}
	if code := send(http.MethodPost, "/api/counters/2/actions/call-next"); code != http.StatusOK {
		t.Fatalf("expected other counter to pass, got %d", code)
	}
	if code := send(http.MethodGet, "/api/counters/1"); code != http.StatusOK {
		t.Fatalf("expected reads to skip the counter bucket, got %d", code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.Code)
		}
	}
}

func TestCounterFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/counters/3/actions/call-next":         "3",
		"/api/counters/12":                          "12",
		"/api/counters/2/categories/general/toggle": "2",
		"/api/counters/reload":                      "",
		"/api/counters":                             "",
		"/api/tickets/abc":                          "",
	}
	for path, want := range cases {
		if got := counterFromPath(path); got != want {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}
}
