package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds overall request throughput and, per client IP, the
// number of writes (catalog mutations and sign-ups or sign-ins) allowed in a
// window. When RedisAddr is set the per-IP write budget is shared across
// instances.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	WriteLimit    int
	WriteWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global      *rate.Limiter
	writeLimit  int
	writeWindow time.Duration
	writeMu     sync.Mutex
	writers     map[string]*ipLimiter
	store       tokenStore
	now         func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		writeLimit:  cfg.WriteLimit,
		writeWindow: cfg.WriteWindow,
		writers:     make(map[string]*ipLimiter),
		now:         time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.writeLimit < 0 {
		rl.writeLimit = 0
	}
	if rl.writeWindow <= 0 {
		rl.writeWindow = time.Minute
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" && rl.writeLimit > 0 {
		store, err := newRedisStore(redisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Timeout:  cfg.RedisTimeout,
		})
		if err != nil {
			return nil, err
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowWrite charges one write against key and reports how long to wait when
// the budget is spent.
func (r *rateLimiter) AllowWrite(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.writeLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, fmt.Sprintf("song-catalog:writes:%s", key), r.writeLimit, r.writeWindow)
	}

	now := r.now()
	r.writeMu.Lock()
	entry, exists := r.writers[key]
	if !exists {
		every := rate.Every(r.writeWindow / time.Duration(r.writeLimit))
		entry = &ipLimiter{limiter: rate.NewLimiter(every, r.writeLimit)}
		r.writers[key] = entry
	}
	entry.lastSeen = now
	r.cleanupLocked(now)
	r.writeMu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-2 * r.writeWindow)
	for key, entry := range r.writers {
		if entry.lastSeen.Before(cutoff) {
			delete(r.writers, key)
		}
	}
}

// Ping reports whether the shared limiter backend is reachable.
func (r *rateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

func isRateLimitedWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	path := r.URL.Path
	return path == "/songs" || strings.HasPrefix(path, "/songs/") ||
		path == "/user/signin" || path == "/user/signup"
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		if isRateLimitedWrite(r) {
			allowed, retryAfter, err := rl.AllowWrite(r.Context(), extractClientIP(r))
			if err != nil {
				loggingWithRequest(logger, r).Error("rate limiter failure", "error", err)
				writeMiddlewareError(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
				return
			}
			if !allowed {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				writeMiddlewareError(w, http.StatusTooManyRequests, "Too many write requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
