package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := New(client, 2, 1, time.Minute)

	allowed, err := bucket.Allow(ctx, "10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("expected first login allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = bucket.Allow(ctx, "10.0.0.1")
	if !allowed {
		t.Fatalf("expected second login allowed")
	}
	allowed, _ = bucket.Allow(ctx, "10.0.0.1")
	if allowed {
		t.Fatalf("expected third login to be rejected")
	}

	// A different caller gets its own bucket.
	allowed, _ = bucket.Allow(ctx, "10.0.0.2")
	if !allowed {
		t.Fatalf("expected fresh caller to be allowed")
	}

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script receives time from Go's time.Now(), not Redis's clock.
}
