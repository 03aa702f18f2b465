// Package cache serves depot configuration from Redis for read-only views.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"golang.org/x/sync/singleflight"
)

// DefaultDepotTTL bounds how stale a cached depot may be.
const DefaultDepotTTL = 5 * time.Minute

const depotCachePrefix = "cache:depot:"

// noDepot marks an organization without a depot, so repeated misses stay cheap.
const noDepot = "null"

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ depot.ConfigProvider = (*DepotCache)(nil)

// DepotCache is a read-through cache in front of the depot store.
// Redis failures fall back to the source; they never fail a lookup.
type DepotCache struct {
	client Client
	source depot.ConfigProvider
	ttl    time.Duration
	group  singleflight.Group
}

// NewDepotCache creates a cache over source with the given TTL (DefaultDepotTTL when zero).
func NewDepotCache(client Client, source depot.ConfigProvider, ttl time.Duration) *DepotCache {
	if ttl <= 0 {
		ttl = DefaultDepotTTL
	}
	return &DepotCache{client: client, source: source, ttl: ttl}
}

// GetDepot returns the cached depot, loading it from the source on a miss.
func (c *DepotCache) GetDepot(ctx context.Context, orgID string) (*models.DepotConfig, error) {
	key := depotCachePrefix + orgID

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if cfg, ok := decode(data); ok {
			return cfg, nil
		}
		log.WithField("org_id", orgID).Warn("Discarding unreadable cached depot")
	case errors.Is(err, redis.Nil):
		// Cache miss
	default:
		log.WithError(err).WithField("org_id", orgID).Warn("Depot cache read failed")
	}

	v, err, _ := c.group.Do(orgID, func() (interface{}, error) {
		cfg, err := c.source.GetDepot(ctx, orgID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.DepotConfig), nil
}

// Invalidate drops the cached depot of orgID.
func (c *DepotCache) Invalidate(ctx context.Context, orgID string) error {
	return c.client.Del(ctx, depotCachePrefix+orgID).Err()
}

func (c *DepotCache) store(ctx context.Context, key string, cfg *models.DepotConfig) {
	data := []byte(noDepot)
	if cfg != nil {
		var err error
		if data, err = json.Marshal(cfg); err != nil {
			return
		}
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("Depot cache write failed")
	}
}

func decode(data []byte) (*models.DepotConfig, bool) {
	if string(data) == noDepot {
		return nil, true
	}
	var cfg models.DepotConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}
