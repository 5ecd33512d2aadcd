package paywall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records authorization nonces the verifier has accepted.
type NonceStore interface {
	// Reserve marks key as used until ttl elapses. It returns false when key
	// was already reserved.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is an in-process NonceStore.
type MemoryNonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryNonceStore creates an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Reserve implements NonceStore.
func (s *MemoryNonceStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}

	if _, seen := s.expires[key]; seen {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares replay protection across verifier instances.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore creates a store on an existing client.
func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "x402:nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

// Reserve implements NonceStore using SET NX.
func (s *RedisNonceStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis nonce reserve: %w", err)
	}
	return ok, nil
}
