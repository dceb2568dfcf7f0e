// Package middlewares upgrades the teacher's hand-rolled token-bucket rate limiter
// to golang.org/x/time/rate, the ecosystem-idiomatic limiter: same per-IP token
// bucket shape, same periodic cleanup of stale entries, but the bucket math itself
// is the library's rather than reimplemented.
package middlewares

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/frontierwars/session-engine/pkg/infra/metrics"
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware enforces a per-IP request budget ahead of every session
// control and ranked endpoint -- intents themselves are unthrottled (§1), this is
// only the outer HTTP layer's generic per-IP cap.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	entries  map[string]*rateLimitEntry
	rps      rate.Limit
	burst    int
	maxIdle  time.Duration
}

// NewRateLimitMiddleware builds a limiter allowing ratePerMinute requests per minute
// per client IP, with bursts up to burst.
func NewRateLimitMiddleware(ratePerMinute, burst int) *RateLimitMiddleware {
	rlm := &RateLimitMiddleware{
		entries: make(map[string]*rateLimitEntry),
		rps:     rate.Limit(float64(ratePerMinute) / 60),
		burst:   burst,
		maxIdle: 5 * time.Minute,
	}
	go rlm.cleanupLoop()
	return rlm
}

func (rlm *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(rlm.maxIdle)
	defer ticker.Stop()
	for range ticker.C {
		rlm.mu.Lock()
		threshold := time.Now().Add(-rlm.maxIdle)
		for ip, e := range rlm.entries {
			if e.lastSeen.Before(threshold) {
				delete(rlm.entries, ip)
			}
		}
		rlm.mu.Unlock()
	}
}

func (rlm *RateLimitMiddleware) limiterFor(ip string) *rate.Limiter {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()

	e, ok := rlm.entries[ip]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(rlm.rps, rlm.burst)}
		rlm.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Handler rejects a request with 429 once the caller's IP has exhausted its budget.
func (rlm *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !rlm.limiterFor(ip).Allow() {
			metrics.RateLimitRejectionsTotal.Inc()
			slog.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":  "RATE_LIMIT_EXCEEDED",
				"error": "too many requests, please slow down",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
