package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
)

// Counter increments a fixed-window counter. *database.Redis implements it.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	// Scope separates the counters of different limiters.
	Scope             string
	RequestsPerMinute int
	BurstSize         int
}

// KeyFunc returns the identity a request is counted against.
type KeyFunc func(r *http.Request) string

// RateLimit returns a fixed-window limiter. When the counter is unavailable
// requests are let through.
func RateLimit(counter Counter, cfg RateLimitConfig, keyFunc KeyFunc, logger *slog.Logger) func(next http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	const window = time.Minute

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Scope, keyFunc(r))

			count, err := counter.IncrWithExpire(r.Context(), key, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

			if int(count) > limit+cfg.BurstSize {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey counts authenticated callers by user and everyone else by IP.
// An API key header is counted by its digest so the secret never reaches
// Redis.
func ClientKey(r *http.Request) string {
	if p, ok := access.FromContext(r.Context()); ok {
		return "user:" + p.UserID().String()
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "apikey:" + hex.EncodeToString(sum[:8])
	}
	return IPKey(r)
}

// IPKey counts requests by client address.
func IPKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}
