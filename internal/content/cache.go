package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "content:version"

// Source is the authoritative catalogue.
type Source interface {
	Get(ctx context.Context, id int64) (Content, error)
	Upsert(ctx context.Context, c Content) error
}

// CachedCatalog serves catalogue reads from Redis. Writes bump a version
// counter that is part of every key, so stale entries simply expire.
type CachedCatalog struct {
	source Source
	client *redis.Client
	ttl    time.Duration
}

// NewCachedCatalog wraps source. A nil client disables caching.
func NewCachedCatalog(source Source, client *redis.Client, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{source: source, client: client, ttl: ttl}
}

// Get returns the entry, loading it from the source on a miss.
func (c *CachedCatalog) Get(ctx context.Context, id int64) (Content, error) {
	if c.client == nil {
		return c.source.Get(ctx, id)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return Content{}, err
	}
	key := fmt.Sprintf("content:item:%d:%d", id, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Content
		if err := json.Unmarshal(payload, &cached); err != nil {
			return Content{}, err
		}
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Content{}, err
	}
	item, err := c.source.Get(ctx, id)
	if err != nil {
		return Content{}, err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return Content{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Content{}, err
	}
	return item, nil
}

// Upsert writes through to the source and invalidates cached entries.
func (c *CachedCatalog) Upsert(ctx context.Context, item Content) error {
	if item.ID <= 0 || item.Period.IsZero() {
		return fmt.Errorf("%w: id and period required", ErrInvalidInput)
	}
	if err := c.source.Upsert(ctx, item); err != nil {
		return err
	}
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *CachedCatalog) version(ctx context.Context) (int64, error) {
	raw, err := c.client.Get(ctx, cacheVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent bump from being overwritten.
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.version(ctx)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
