package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowBlocksOverQuota(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	scope := "10.0.0.1:course_1:/sync/discussions"
	if !limiter.Allow(scope) {
		t.Fatal("first forced refresh should pass")
	}
	if !limiter.Allow(scope) {
		t.Fatal("second forced refresh should pass")
	}
	if limiter.Allow(scope) {
		t.Fatal("third forced refresh in the window should be blocked")
	}
	if !limiter.Allow("10.0.0.2:course_1:/sync/discussions") {
		t.Fatal("a different caller has its own quota")
	}
}

func TestFixedWindowFailsClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv.Close()
	if limiter.Allow("scope") {
		t.Fatal("an unreachable counter must block, not wave everyone through")
	}
}

func TestFixedWindowConstructorValidation(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Second); err == nil {
		t.Fatal("expected error for empty redis addr")
	}
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "p", 0, time.Second); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
