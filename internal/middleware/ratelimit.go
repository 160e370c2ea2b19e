package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Allower is a shared limiter, the Redis token bucket in production
type Allower interface {
	AllowAction(ctx context.Context, subject, action string, rate, burst int) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rps      int
	burst    int
	shared   Allower
	log      *zap.Logger
}

// NewRateLimiter builds a per-key limiter. shared may be nil; when set it is
// consulted first and the local limiter only serves while it errors.
func NewRateLimiter(rps int, shared Allower, log *zap.Logger) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rps,
		burst:    rps * 2,
		shared:   shared,
		log:      log,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter
}

// Allow reports whether key may perform action now
func (rl *RateLimiter) Allow(ctx context.Context, key, action string) bool {
	if rl.shared != nil {
		ok, err := rl.shared.AllowAction(ctx, key, action, rl.rps, rl.burst)
		if err == nil {
			return ok
		}
		rl.log.Warn("shared rate limiter unavailable, using local", zap.Error(err))
	}
	return rl.getLimiter(key).Allow()
}

// prune drops limiters idle for longer than idle
func (rl *RateLimiter) prune(idle time.Duration) {
	cutoff := time.Now().Add(-idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Cleanup removes idle limiters every few minutes until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.prune(10 * time.Minute)
			}
		}
	}()
}

// rateLimitKey prefers the authenticated user and falls back to the client address
func rateLimitKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
		return "user:" + claims.UserID
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware limits requests per caller
func RateLimitMiddleware(rl *RateLimiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.Request.Context(), rateLimitKey(c), action) {
			abortWithError(c, apperrors.RateLimited())
			return
		}

		c.Next()
	}
}
