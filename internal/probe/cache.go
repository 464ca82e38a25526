package probe

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// Entry is a cached probe result. Size and ModTime identify the file version
// the duration was measured on.
type Entry struct {
	Seconds float64 `json:"seconds"`
	Size    int64   `json:"size"`
	ModTime int64   `json:"mtime"`
}

func (e Entry) matches(info os.FileInfo) bool {
	return e.Size == info.Size() && e.ModTime == info.ModTime().UnixNano()
}

// Cache stores probe results by key.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// Key derives the cache key for path.
func Key(path string) string {
	sum := blake2b.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}

// Cached memoizes a SecondsProber. Entries are invalidated when the file's
// size or modification time changes; only successful probes are stored.
type Cached struct {
	inner  SecondsProber
	cache  Cache
	logger *slog.Logger
}

// NewCached wraps inner with cache.
func NewCached(inner SecondsProber, cache Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: cache, logger: logger}
}

// Seconds implements SecondsProber.
func (c *Cached) Seconds(ctx context.Context, path string) (float64, error) {
	seconds, _, err := c.lookup(ctx, path)
	return seconds, err
}

// lookup is Seconds that also reports whether the result came from the cache.
func (c *Cached) lookup(ctx context.Context, path string) (float64, bool, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		seconds, err := c.inner.Seconds(ctx, path)
		return seconds, false, err
	}
	key := Key(path)
	entry, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("probe cache read failed", "path", path, "error", err)
	} else if ok && entry.matches(info) {
		return entry.Seconds, true, nil
	}

	seconds, err := c.inner.Seconds(ctx, path)
	if err != nil {
		return 0, false, err
	}
	fresh := Entry{Seconds: seconds, Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	if err := c.cache.Set(ctx, key, fresh); err != nil {
		c.logger.Warn("probe cache write failed", "path", path, "error", err)
	}
	return seconds, false, nil
}

// Forget drops any cached result for path.
func (c *Cached) Forget(ctx context.Context, path string) {
	if err := c.cache.Delete(ctx, Key(path)); err != nil {
		c.logger.Warn("probe cache eviction failed", "path", path, "error", err)
	}
}

// MemoryCache is a process-local Cache with a fixed TTL.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl keeps entries until
// they are evicted or invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		delete(m.entries, key)
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, entry Entry) error {
	item := memoryEntry{entry: entry}
	if m.ttl > 0 {
		item.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisCacheConfig configures a Redis-backed probe cache.
type RedisCacheConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache shares probe results between service instances through Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("probe: redis cache address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("probe: redis cache ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "videovault:probe:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
