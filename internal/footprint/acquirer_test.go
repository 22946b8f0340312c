package footprint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
)

// worldBound covers all four zoom-1 tiles.
var worldBound = orb.Bound{Min: orb.Point{-170, -80}, Max: orb.Point{170, 80}}

// stubFetcher serves canned tiles and permanently fails listed quadkeys.
type stubFetcher struct {
	mu        sync.Mutex
	buildings map[string][]domain.Building
	failing   map[string]bool
	calls     map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		buildings: make(map[string][]domain.Building),
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func (s *stubFetcher) FetchTile(_ context.Context, quadkey string) (domain.Tile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[quadkey]++
	if s.failing[quadkey] {
		return domain.Tile{}, errors.New("boom")
	}
	bound, err := TileBound(quadkey)
	if err != nil {
		return domain.Tile{}, err
	}
	return domain.Tile{Quadkey: quadkey, Bound: bound, Buildings: s.buildings[quadkey]}, nil
}

func testAcquirer(fetcher TileFetcher) *Acquirer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return NewAcquirer(fetcher, 2, policy, nil, logger, observability.NewMetricsForTesting())
}

func TestAcquire_MergesAllTiles(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.buildings["0"] = []domain.Building{{Geometry: square(-93.5, 44.5, 0.001)}}
	fetcher.buildings["1"] = []domain.Building{{Geometry: square(93.5, 44.5, 0.001)}}

	layer, err := testAcquirer(fetcher).Acquire(context.Background(), worldBound, 1)
	require.NoError(t, err)

	assert.Len(t, layer.Features, 2)
	assert.False(t, layer.Partial)
	assert.Empty(t, layer.Warnings)

	// All four zoom-1 tiles were fetched exactly once.
	for _, quadkey := range []string{"0", "1", "2", "3"} {
		assert.Equal(t, 1, fetcher.calls[quadkey], "tile %s", quadkey)
	}
}

func TestAcquire_FailedTileYieldsPartialLayer(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.buildings["0"] = []domain.Building{{Geometry: square(-93.5, 44.5, 0.001)}}
	fetcher.failing["3"] = true

	layer, err := testAcquirer(fetcher).Acquire(context.Background(), worldBound, 1)
	require.NoError(t, err)

	assert.Len(t, layer.Features, 1)
	assert.True(t, layer.Partial)
	require.Len(t, layer.Warnings, 1)
	assert.Contains(t, layer.Warnings[0], "tile 3")

	// The failing tile was retried before being given up on.
	assert.Equal(t, 2, fetcher.calls["3"])
}

func TestAcquire_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testAcquirer(newStubFetcher()).Acquire(ctx, worldBound, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCachedFetcher_ServesSecondFetchFromCache(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.buildings["0"] = []domain.Building{{Geometry: square(-93.5, 44.5, 0.001)}}

	cached, err := NewCachedFetcher(fetcher, 8, observability.NewMetricsForTesting())
	require.NoError(t, err)

	first, err := cached.FetchTile(context.Background(), "0")
	require.NoError(t, err)
	second, err := cached.FetchTile(context.Background(), "0")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.calls["0"])
}

func TestCachedFetcher_DoesNotCacheFailures(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.failing["0"] = true

	cached, err := NewCachedFetcher(fetcher, 8, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, err = cached.FetchTile(context.Background(), "0")
	require.Error(t, err)

	fetcher.mu.Lock()
	fetcher.failing["0"] = false
	fetcher.mu.Unlock()

	tile, err := cached.FetchTile(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, "0", tile.Quadkey)
	assert.Equal(t, 2, fetcher.calls["0"])
}
