package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Revoker tracks session token ids invalidated by logout.
type Revoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevoker stores revoked ids as keys that expire with the token.
type RedisRevoker struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRevoker builds a Redis backed revoker.
func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "auth:revoked:", now: time.Now}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevoker keeps revoked ids in process for single-node runs. Entries
// live for the session TTL, which bounds every token's remaining lifetime.
type MemoryRevoker struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryRevoker builds an in-process revoker.
func NewMemoryRevoker(size int, ttl time.Duration) *MemoryRevoker {
	if size <= 0 {
		size = 4096
	}
	return &MemoryRevoker{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (r *MemoryRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	if !until.After(time.Now()) {
		return nil
	}
	r.cache.Add(jti, struct{}{})
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	return r.cache.Contains(jti), nil
}
