package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CartKey is the storage key of a site's cart.
func CartKey(siteID string) string { return "shop_cart_" + siteID }

// CartStorage persists carts by key.
type CartStorage interface {
	// Load returns the saved cart, or nil when none is saved.
	Load(ctx context.Context, key string) ([]Item, error)
	Save(ctx context.Context, key string, items []Item) error
}

// MemoryStorage keeps carts in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	carts map[string][]Item
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{carts: make(map[string][]Item)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.carts[key]), nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[key] = slices.Clone(items)
	return nil
}

// RedisStorage keeps carts in Redis as JSON strings.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage creates a RedisStorage. A zero ttl keeps carts forever.
func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func (r *RedisStorage) Load(ctx context.Context, key string) ([]Item, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", key, err)
	}
	return items, nil
}

func (r *RedisStorage) Save(ctx context.Context, key string, items []Item) error {
	if len(items) == 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", key, err)
		}
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Prefixed stores carts under prefix+":"+key, giving each shopper of a
// hosted cart its own namespace in a shared storage.
func Prefixed(next CartStorage, prefix string) CartStorage {
	return prefixedStorage{next: next, prefix: prefix + ":"}
}

type prefixedStorage struct {
	next   CartStorage
	prefix string
}

func (p prefixedStorage) Load(ctx context.Context, key string) ([]Item, error) {
	return p.next.Load(ctx, p.prefix+key)
}

func (p prefixedStorage) Save(ctx context.Context, key string, items []Item) error {
	return p.next.Save(ctx, p.prefix+key, items)
}
