package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	return NewGate(srv.Addr(), ""), srv
}

func TestGateFreshAfterTouch(t *testing.T) {
	gate, srv := newTestGate(t)
	ctx := context.Background()

	if gate.Fresh(ctx, "courses/7") {
		t.Fatal("untouched key must be stale")
	}
	if err := gate.Touch(ctx, "courses/7", time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !gate.Fresh(ctx, "courses/7") {
		t.Fatal("touched key must be fresh")
	}

	srv.FastForward(2 * time.Minute)
	if gate.Fresh(ctx, "courses/7") {
		t.Fatal("key must expire with its window")
	}
}

func TestGateInvalidateDropsFreshness(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	if err := gate.Touch(ctx, "courses/7", time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := gate.Invalidate(ctx, "courses/7"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if gate.Fresh(ctx, "courses/7") {
		t.Fatal("invalidated key must be stale")
	}
	// Invalidating a missing key is not an error.
	if err := gate.Invalidate(ctx, "courses/8"); err != nil {
		t.Fatalf("invalidate missing: %v", err)
	}
}

func TestGateFailsOpenWhenRedisIsDown(t *testing.T) {
	gate, srv := newTestGate(t)
	ctx := context.Background()

	if err := gate.Touch(ctx, "courses/7", time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}
	srv.Close()
	if gate.Fresh(ctx, "courses/7") {
		t.Fatal("an unreachable gate must report stale, never block the fetch")
	}
}

func TestGateIgnoresEmptyKeys(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	if err := gate.Touch(ctx, "", time.Minute); err != nil {
		t.Fatalf("touch empty: %v", err)
	}
	if gate.Fresh(ctx, "") {
		t.Fatal("empty key is never fresh")
	}
}
