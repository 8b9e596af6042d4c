package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 15 * time.Minute

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var selections []domain.DeliverySelection
	if err := json.Unmarshal(data, &selections); err != nil {
		return nil, fmt.Errorf("unmarshal selections failed: %w", err)
	}
	return selections, nil
}

// Set stores selections with the base TTL plus up to a fifth of it as
// jitter, so entries written together do not expire together.
func (r *RedisCache) Set(ctx context.Context, userID string, selections []domain.DeliverySelection) error {
	if selections == nil {
		selections = []domain.DeliverySelection{}
	}
	data, err := json.Marshal(selections)
	if err != nil {
		return fmt.Errorf("marshal selections failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(r.baseTTL/5)+1))
	if err := r.client.Set(ctx, cacheKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:selections:%s", userID)
}

var _ SelectionCache = (*RedisCache)(nil)
