package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache stores fallback rate maps by base currency. Entries must never be
// served after their TTL.
type Cache interface {
	Get(ctx context.Context, base string) (map[string]decimal.Decimal, bool, error)
	Set(ctx context.Context, base string, rates map[string]decimal.Decimal, ttl time.Duration) error
}

type memoryEntry struct {
	rates     map[string]decimal.Decimal
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, base string) (map[string]decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[base]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, base)
		return nil, false, nil
	}
	return entry.rates, true, nil
}

func (m *MemoryCache) Set(_ context.Context, base string, rates map[string]decimal.Decimal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[base] = memoryEntry{rates: rates, expiresAt: m.now().Add(ttl)}
	return nil
}

// RedisCache shares fallback rates between instances; expiry is delegated to Redis.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, prefix: "rates:fallback:"}
}

func (r *RedisCache) Get(ctx context.Context, base string) (map[string]decimal.Decimal, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+base).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rates map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &rates); err != nil {
		return nil, false, fmt.Errorf("decode cached rates: %w", err)
	}
	return rates, true, nil
}

func (r *RedisCache) Set(ctx context.Context, base string, rates map[string]decimal.Decimal, ttl time.Duration) error {
	raw, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+base, raw, ttl).Err()
}
