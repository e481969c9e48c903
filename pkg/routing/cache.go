package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache keeps provider responses in redis. A nil *Cache is a permanent miss.
type Cache struct {
	store *cache.Cache[string]
}

func NewCache(client *redis.Client, expiration time.Duration) *Cache {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(expiration))

	return &Cache{
		store: cache.New[string](redisStore),
	}
}

func (c *Cache) get(ctx context.Context, key string, target interface{}) bool {
	if c == nil {
		return false
	}

	value, err := c.store.Get(ctx, key)
	if err != nil || value == "" {
		return false
	}

	if err := json.Unmarshal([]byte(value), target); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable routing cache entry")
		return false
	}

	return true
}

func (c *Cache) set(ctx context.Context, key string, value interface{}) {
	if c == nil {
		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}

	if err := c.store.Set(ctx, key, string(encoded)); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to write routing cache entry")
	}
}

func (c *Cache) GetRoute(ctx context.Context, key string) (*model.Route, bool) {
	var route model.Route
	if !c.get(ctx, key, &route) {
		return nil, false
	}

	return &route, true
}

func (c *Cache) SetRoute(ctx context.Context, key string, route *model.Route) {
	c.set(ctx, key, route)
}

func (c *Cache) GetCoordinates(ctx context.Context, key string) ([]float64, bool) {
	var coordinates []float64
	if !c.get(ctx, key, &coordinates) || len(coordinates) != 2 {
		return nil, false
	}

	return coordinates, true
}

func (c *Cache) SetCoordinates(ctx context.Context, key string, coordinates []float64) {
	c.set(ctx, key, coordinates)
}
