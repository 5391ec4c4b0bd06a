// Package cache holds the Redis-backed location resolution cache. Free-text
// queries resolve to stable region lists, so caching them saves a supplier
// round trip per run without changing which candidate wins: the cached value
// is the full candidate list from a prior authoritative response, in its
// original order.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LockTrip/b2b-integration/internal/domain"
)

const locationKeyPrefix = "b2b:location:"

// LocationCache caches region resolution results keyed by normalized query.
type LocationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocationCache creates a location cache with the given TTL.
func NewLocationCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LocationCache {
	return &LocationCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func locationKey(query string) string {
	return locationKeyPrefix + strings.ToLower(strings.TrimSpace(query))
}

// Get returns the cached region list for a query, or (nil, false) on a miss.
// Cache failures degrade to a miss; the caller falls through to the supplier.
func (c *LocationCache) Get(ctx context.Context, query string) ([]domain.Region, bool) {
	raw, err := c.client.Get(ctx, locationKey(query)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("location cache read failed",
				slog.String("query", query),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var regions []domain.Region
	if err := json.Unmarshal(raw, &regions); err != nil {
		c.logger.Warn("location cache entry corrupt, dropping",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		c.client.Del(ctx, locationKey(query))
		return nil, false
	}
	if len(regions) == 0 {
		return nil, false
	}
	return regions, true
}

// Set stores the region list for a query. Failures are logged and swallowed;
// the cache is an optimization, never a dependency.
func (c *LocationCache) Set(ctx context.Context, query string, regions []domain.Region) {
	raw, err := json.Marshal(regions)
	if err != nil {
		c.logger.Warn("location cache marshal failed", slog.String("error", err.Error()))
		return
	}

	if err := c.client.Set(ctx, locationKey(query), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("location cache write failed",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate removes the cached entry for a query.
func (c *LocationCache) Invalidate(ctx context.Context, query string) error {
	if err := c.client.Del(ctx, locationKey(query)).Err(); err != nil {
		return fmt.Errorf("invalidate location cache: %w", err)
	}
	return nil
}
