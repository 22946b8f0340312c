package footprint

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
)

// CachedFetcher wraps a TileFetcher with an in-memory LRU cache, so repeated
// runs over overlapping areas do not refetch tiles. Only successful fetches
// are cached; failures stay retryable.
type CachedFetcher struct {
	inner   TileFetcher
	cache   *lru.Cache[string, domain.Tile]
	metrics *observability.Metrics
}

// NewCachedFetcher creates a cache decorator around a fetcher.
func NewCachedFetcher(inner TileFetcher, maxTiles int, metrics *observability.Metrics) (*CachedFetcher, error) {
	cache, err := lru.New[string, domain.Tile](maxTiles)
	if err != nil {
		return nil, err
	}
	return &CachedFetcher{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedFetcher) FetchTile(ctx context.Context, quadkey string) (domain.Tile, error) {
	if tile, ok := c.cache.Get(quadkey); ok {
		c.metrics.TileFetches.WithLabelValues("cache_hit").Inc()
		return tile, nil
	}
	tile, err := c.inner.FetchTile(ctx, quadkey)
	if err != nil {
		return domain.Tile{}, err
	}
	c.cache.Add(quadkey, tile)
	return tile, nil
}
