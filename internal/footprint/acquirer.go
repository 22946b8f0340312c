package footprint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
)

// TileFetcher retrieves one tile's building geometries from a remote source.
// A tile with no coverage returns an empty payload, not an error.
type TileFetcher interface {
	FetchTile(ctx context.Context, quadkey string) (domain.Tile, error)
}

// Acquirer resolves a bounding area into tiles, fetches them under a bounded
// worker pool, and merges the payloads into one building layer. A tile that
// still fails after retries is dropped with a warning; the merge proceeds
// with the remaining tiles and the result is labeled partial.
type Acquirer struct {
	fetcher TileFetcher
	retry   RetryPolicy
	clock   clockwork.Clock
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAcquirer creates an acquirer. Pass a nil clock to use real time.
func NewAcquirer(fetcher TileFetcher, workers int, retry RetryPolicy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Acquirer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if workers < 1 {
		workers = 1
	}
	return &Acquirer{
		fetcher: fetcher,
		retry:   retry,
		clock:   clock,
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

// Acquire fetches every tile covering the bound and merges the building
// geometries into a new VectorLayer owned by the caller.
func (a *Acquirer) Acquire(ctx context.Context, bound orb.Bound, zoom maptile.Zoom) (*domain.VectorLayer, error) {
	quadkeys := CoverTiles(bound, zoom)
	a.logger.Info("acquiring building footprints",
		"tiles", len(quadkeys),
		"zoom", uint32(zoom),
	)

	var (
		mu     sync.Mutex
		tiles  []domain.Tile
		failed []string
		wg     sync.WaitGroup
		sem    = make(chan struct{}, a.workers)
	)

	for _, quadkey := range quadkeys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(quadkey string) {
			defer wg.Done()
			defer func() { <-sem }()

			tile, err := a.fetchWithRetry(ctx, quadkey)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Warn("tile fetch failed, continuing without it",
					"quadkey", quadkey,
					"error", err,
				)
				a.metrics.TileFetches.WithLabelValues("error").Inc()
				failed = append(failed, quadkey)
				return
			}
			if len(tile.Buildings) == 0 {
				a.metrics.TileFetches.WithLabelValues("empty").Inc()
			} else {
				a.metrics.TileFetches.WithLabelValues("success").Inc()
			}
			tiles = append(tiles, tile)
		}(quadkey)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	layer, duplicates := MergeTiles(tiles, bound)
	a.metrics.BuildingsMerged.Add(float64(len(layer.Features)))
	a.metrics.BuildingsDeduped.Add(float64(duplicates))

	for _, quadkey := range failed {
		layer.Partial = true
		layer.Warnings = append(layer.Warnings, fmt.Sprintf("missing coverage: tile %s could not be fetched", quadkey))
	}
	if layer.Partial {
		a.metrics.PartialResults.Inc()
	}

	a.logger.Info("footprint acquisition complete",
		"buildings", len(layer.Features),
		"duplicates_dropped", duplicates,
		"failed_tiles", len(failed),
	)
	return layer, nil
}

func (a *Acquirer) fetchWithRetry(ctx context.Context, quadkey string) (domain.Tile, error) {
	var (
		tile     domain.Tile
		attempts int
	)

	start := time.Now()
	err := a.retry.Do(ctx, a.clock, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			a.metrics.TileFetchRetries.Inc()
		}
		t, err := a.fetcher.FetchTile(ctx, quadkey)
		if err != nil {
			return err
		}
		tile = t
		return nil
	})
	a.metrics.TileFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return domain.Tile{}, &domain.TileFetchError{Quadkey: quadkey, Attempts: attempts, Err: err}
	}
	return tile, nil
}
