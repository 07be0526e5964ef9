// Package cache implements the freshness gate for detail-style resources:
// a repeated fetch inside the TTL window is served from the local store
// without a network round-trip unless the caller forces a refresh.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL matches the server cache policy for detail singletons.
const DefaultTTL = 2 * time.Hour

// Gate keeps per-cache-key refresh timestamps in Redis with TTL, so the
// freshness window survives process restarts and is shared between workers.
type Gate struct {
	client *redis.Client
	prefix string
}

// NewGate builds a Redis-backed TTL gate.
func NewGate(addr, password string) *Gate {
	return &Gate{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: "ttl:",
	}
}

func (g *Gate) key(cacheKey string) string {
	return g.prefix + strings.TrimSpace(cacheKey)
}

// Fresh reports whether cacheKey was refreshed within its TTL window. Errors
// fail open: an unreachable gate means "stale", never a blocked fetch.
func (g *Gate) Fresh(ctx context.Context, cacheKey string) bool {
	if cacheKey == "" {
		return false
	}
	n, err := g.client.Exists(ctx, g.key(cacheKey)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Touch records a successful refresh of cacheKey for the given window.
func (g *Gate) Touch(ctx context.Context, cacheKey string, ttl time.Duration) error {
	if cacheKey == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return g.client.Set(ctx, g.key(cacheKey), time.Now().UTC().Format(time.RFC3339Nano), ttl).Err()
}

// Invalidate drops the freshness record so the next fetch hits the network.
func (g *Gate) Invalidate(ctx context.Context, cacheKey string) error {
	if cacheKey == "" {
		return nil
	}
	if err := g.client.Del(ctx, g.key(cacheKey)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
