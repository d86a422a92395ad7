// Package dedup remembers recently seen inbound deliveries so the webhook
// can drop provider retries before they reach the queue. The response
// matcher stays the authoritative idempotency check; this guard only saves
// work.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Guard interface {
	// FirstSeen records key and reports whether it was not seen within the TTL.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget drops key so a later redelivery is processed.
	Forget(ctx context.Context, key string) error
}

// RedisGuard stores keys with SETNX and a TTL.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(url string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}, nil
}

func inboundKey(key string) string {
	return fmt.Sprintf("inbound_seen:%s", key)
}

func (g *RedisGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, inboundKey(key), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Forget(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, inboundKey(key)).Err()
}

func (g *RedisGuard) Close() error {
	return g.rdb.Close()
}

// MemoryGuard is the single-process fallback when Redis is not configured.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) FirstSeen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.ttl {
		return false, nil
	}
	g.seen[key] = now
	if len(g.seen) > 10000 {
		for k, at := range g.seen {
			if now.Sub(at) >= g.ttl {
				delete(g.seen, k)
			}
		}
	}
	return true, nil
}

func (g *MemoryGuard) Forget(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}
