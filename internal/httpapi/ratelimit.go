package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute      int
	IPBurst          int
	CounterPerMinute int
	CounterBurst     int
}

// RateLimiter applies a token bucket per client IP and a second one per
// counter for counter commands, so one stuck button cannot flood the queue.
type RateLimiter struct {
	ipLimiter      *tokenLimiter
	counterLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:      newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		counterLimiter: newTokenLimiter(cfg.CounterPerMinute, cfg.CounterBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		if r.Method == http.MethodPost {
			if counterID := counterFromPath(r.URL.Path); counterID != "" && !l.counterLimiter.allow(counterID) {
				writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// tokenLimiter keeps one rate.Limiter per key. A key left alone long enough
// to refill its whole burst is indistinguishable from a new one, so it is
// dropped on the next sweep.
type tokenLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	keys      map[string]*keyLimiter
	lastSweep time.Time
	now       func() time.Time
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	limit := rate.Limit(float64(perMinute) / 60.0)
	return &tokenLimiter{
		limit: limit,
		burst: burst,
		idle:  time.Duration(float64(burst) / float64(limit) * float64(time.Second)),
		keys:  make(map[string]*keyLimiter),
		now:   time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	k, ok := l.keys[key]
	if !ok {
		k = &keyLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.keys[key] = k
	}
	k.lastSeen = now
	return k.limiter.AllowN(now, 1)
}

func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, k := range l.keys {
		if now.Sub(k.lastSeen) >= l.idle {
			delete(l.keys, key)
		}
	}
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// counterFromPath extracts {id} from /api/counters/{id}/..., or "" for
// any other path.
func counterFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/counters/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" || id == "reload" {
		return ""
	}
	return id
}
