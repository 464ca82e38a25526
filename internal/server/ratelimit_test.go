package server

import (
	"context"
	"testing"
	"time"

	"videovault/internal/testsupport/redisstub"
)

func TestTokenBucketBurst(t *testing.T) {
	bucket := newTokenBucket(0.001, 2)
	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("expected burst to be available")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be drained")
	}
}

func TestRateLimiterUploadWindowInMemory(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{UploadLimit: 2, UploadWindow: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if allowed, _, err := rl.AllowUpload(ctx, "198.51.100.1"); err != nil || !allowed {
			t.Fatalf("attempt %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, retry, err := rl.AllowUpload(ctx, "198.51.100.1")
	if err != nil || allowed {
		t.Fatalf("expected third attempt to be throttled, allowed=%v err=%v", allowed, err)
	}
	if retry <= 0 || retry > 50*time.Millisecond {
		t.Fatalf("unexpected retry after %v", retry)
	}
	if allowed, _, _ := rl.AllowUpload(ctx, "198.51.100.2"); !allowed {
		t.Fatal("limits must be tracked per client")
	}

	time.Sleep(60 * time.Millisecond)
	if allowed, _, _ := rl.AllowUpload(ctx, "198.51.100.1"); !allowed {
		t.Fatal("expected window to reset")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatal("global limit should be disabled")
		}
		if allowed, _, _ := rl.AllowUpload(context.Background(), "x"); !allowed {
			t.Fatal("upload limit should be disabled")
		}
	}
	if err := rl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		200 * time.Millisecond:  "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		time.Minute:             "60",
	}
	for input, want := range cases {
		if got := retryAfterSeconds(input); got != want {
			t.Errorf("retryAfterSeconds(%v) = %s, want %s", input, got, want)
		}
	}
}

func TestRedisStoreAllow(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	rl, err := newRateLimiter(RateLimitConfig{
		UploadLimit:  2,
		UploadWindow: time.Minute,
		Redis:        &RedisStoreConfig{Addr: srv.Addr(), Password: "secret", Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}
	t.Cleanup(func() {
		_ = rl.Close()
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, retry, err := rl.AllowUpload(ctx, "198.51.100.1")
		if err != nil || !allowed || retry != 0 {
			t.Fatalf("attempt %d unexpected: allowed=%v retry=%v err=%v", i, allowed, retry, err)
		}
	}
	allowed, retry, err := rl.AllowUpload(ctx, "198.51.100.1")
	if err != nil {
		t.Fatalf("third attempt err: %v", err)
	}
	if allowed {
		t.Fatal("expected throttle on third attempt")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("expected retry within the window, got %v", retry)
	}
	if srv.CommandCount("EXPIRE") != 1 {
		t.Fatalf("expected expiry to be set once, got %d", srv.CommandCount("EXPIRE"))
	}
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	if _, err := newRateLimiter(RateLimitConfig{UploadLimit: 1, Redis: &RedisStoreConfig{}}); err == nil {
		t.Fatal("expected missing address to be rejected")
	}
}

func TestRedisStoreReportsConnectionFailure(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{
		UploadLimit: 1,
		Redis:       &RedisStoreConfig{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}
	defer rl.Close()
	if _, _, err := rl.AllowUpload(context.Background(), "x"); err == nil {
		t.Fatal("expected unreachable redis to surface an error")
	}
}
