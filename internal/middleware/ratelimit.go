package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/technosupport/ts-guardian/internal/ratelimit"
)

// RateLimitMiddleware throttles panic-button creation per identity so a
// stuck or malicious client cannot flood the notified set with alerts.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	config ratelimit.LimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c ratelimit.LimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c}
}

// SetConfig swaps the limit at runtime (config hot-reload).
func (m *RateLimitMiddleware) SetConfig(c ratelimit.LimitConfig) {
	m.mu.Lock()
	m.config = c
	m.mu.Unlock()
}

func (m *RateLimitMiddleware) PerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := GetAuthContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		m.mu.RLock()
		cfg := m.config
		m.mu.RUnlock()

		key := fmt.Sprintf("rl:create:%s", ac.UserID)
		decision, err := m.limiter.CheckRateLimit(r.Context(), key, cfg)
		if err != nil {
			// Fail open: losing redis must not block a panic button.
			log.Printf("RateLimit: check failed, allowing: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
