package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard grants a key at most once within its TTL.
// Implementations must be safe for concurrent use.
type Guard interface {
	// Acquire returns true only for the first caller with key.
	Acquire(ctx context.Context, key string) (bool, error)
}

// DeliveryKey names one notification: a job attempt.
func DeliveryKey(jobID uuid.UUID, attempt int) string {
	return fmt.Sprintf("notify:%s:%d", jobID, attempt)
}

// RedisGuard implements Guard with SETNX, shared across worker processes.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a RedisGuard from a Redis URL.
func NewRedisGuard(redisURL string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisGuard{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping checks connectivity.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Acquire implements Guard.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Close releases the Redis connection pool.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard implements Guard for a single process.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryGuard creates a MemoryGuard. A zero ttl keeps keys forever.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// Acquire implements Guard.
func (g *MemoryGuard) Acquire(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.seen[key]; ok && (g.ttl == 0 || now.Before(exp)) {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)

	if len(g.seen) > 1024 && g.ttl > 0 {
		for k, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, k)
			}
		}
	}
	return true, nil
}
