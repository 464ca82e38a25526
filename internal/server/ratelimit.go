package server

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const uploadKeyPrefix = "videovault:upload:"

// RateLimitConfig bounds request throughput. GlobalRPS caps every request
// through a token bucket; UploadLimit caps uploads per client IP within
// UploadWindow. Zero disables the respective limit. When Redis is set the
// upload window is shared through Redis instead of held in memory.
type RateLimitConfig struct {
	GlobalRPS    float64
	GlobalBurst  int
	UploadLimit  int
	UploadWindow time.Duration
	Redis        *RedisStoreConfig
}

type rateLimiter struct {
	global        *tokenBucket
	uploadLimit   int
	uploadWindow  time.Duration
	uploadMu      sync.Mutex
	uploadWindows map[string]*fixedWindow
	store         windowStore
}

type fixedWindow struct {
	count int
	reset time.Time
}

// windowStore counts hits for key within a fixed window and reports whether
// the hit is allowed plus how long until the window resets.
type windowStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Close() error
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		uploadLimit:   cfg.UploadLimit,
		uploadWindow:  cfg.UploadWindow,
		uploadWindows: make(map[string]*fixedWindow),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.uploadLimit < 0 {
		rl.uploadLimit = 0
	}
	if rl.uploadWindow <= 0 {
		rl.uploadWindow = time.Minute
	}
	if cfg.Redis != nil && rl.uploadLimit > 0 {
		store, err := newRedisStore(*cfg.Redis)
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

// AllowUpload counts one upload attempt from key.
func (r *rateLimiter) AllowUpload(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.uploadLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, uploadKeyPrefix+key, r.uploadLimit, r.uploadWindow)
	}

	now := time.Now()
	r.uploadMu.Lock()
	defer r.uploadMu.Unlock()
	r.cleanupLocked(now)
	window, ok := r.uploadWindows[key]
	if !ok || !now.Before(window.reset) {
		window = &fixedWindow{reset: now.Add(r.uploadWindow)}
		r.uploadWindows[key] = window
	}
	window.count++
	if window.count <= r.uploadLimit {
		return true, 0, nil
	}
	return false, window.reset.Sub(now), nil
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	for key, window := range r.uploadWindows {
		if !now.Before(window.reset) {
			delete(r.uploadWindows, key)
		}
	}
}

func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// retryAfterSeconds renders d for the Retry-After header, rounding up.
func retryAfterSeconds(d time.Duration) string {
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
