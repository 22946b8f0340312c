package profile

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

func constantRaster(role domain.RasterRole, value float64) *domain.RasterLayer {
	data := make([]float64, 200*200)
	for i := range data {
		data[i] = value
	}
	grid := domain.Grid{Width: 200, Height: 200, OriginX: 0, OriginY: 200, PixelWidth: 1, PixelHeight: 1}
	return domain.NewRasterLayer(role.String(), role, domain.CRS4326, grid, nil, domain.NewSliceSource(200, 200, data))
}

func TestLength(t *testing.T) {
	line := orb.LineString{{0, 0}, {3, 4}, {3, 14}}
	assert.InDelta(t, 15, Length(line), 1e-12)
	assert.InDelta(t, 0, Length(orb.LineString{{5, 5}}), 1e-12)
}

func TestStations_EvenInterval(t *testing.T) {
	line := orb.LineString{{0, 100}, {100, 100}}

	stations, err := Stations(line, 10)
	require.NoError(t, err)

	// Length 100 at interval 10: 0,10,...,100 — eleven stations with the
	// exact length as the final one.
	require.Len(t, stations, 11)
	for i, d := range stations {
		assert.InDelta(t, float64(i)*10, d, 1e-9)
	}
	assert.Equal(t, 100.0, stations[len(stations)-1])
	assert.IsIncreasing(t, stations)
}

func TestStations_UnevenFinalStation(t *testing.T) {
	line := orb.LineString{{0, 100}, {25, 100}}

	stations, err := Stations(line, 10)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 10, 20, 25}, stations)
}

func TestStations_IntervalLargerThanLine(t *testing.T) {
	line := orb.LineString{{0, 100}, {4, 100}}

	stations, err := Stations(line, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4}, stations)
}

func TestStations_ZeroLengthLine(t *testing.T) {
	stations, err := Stations(orb.LineString{{5, 5}, {5, 5}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, stations)
}

func TestStations_InvalidInterval(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}}
	_, err := Stations(line, 0)
	require.Error(t, err)
	_, err = Stations(line, -1)
	require.Error(t, err)
}

func TestPointAt_InterpolatesBetweenVertices(t *testing.T) {
	line := orb.LineString{{0, 0}, {10, 0}, {10, 10}}

	assert.Equal(t, orb.Point{0, 0}, PointAt(line, 0))
	assert.Equal(t, orb.Point{5, 0}, PointAt(line, 5))
	assert.Equal(t, orb.Point{10, 5}, PointAt(line, 15))
	assert.Equal(t, orb.Point{10, 10}, PointAt(line, 20))

	// Beyond either end clamps to the endpoints.
	assert.Equal(t, orb.Point{0, 0}, PointAt(line, -3))
	assert.Equal(t, orb.Point{10, 10}, PointAt(line, 99))
}

func TestSampleAtStations_OutsideExtentUndefined(t *testing.T) {
	raster := constantRaster(domain.RoleDEM, 50)
	// The line starts inside the raster and leaves it heading west.
	line := orb.LineString{{-50, 100.5}, {50, 100.5}}

	samples, err := SampleAtStations(line, []float64{0, 60, 100}, raster)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.False(t, samples[0].Value.Defined)
	assert.True(t, samples[1].Value.Defined)
	assert.InDelta(t, 50, samples[1].Value.Value, 1e-12)
	assert.True(t, samples[2].Value.Defined)
}

func TestBuildProfile(t *testing.T) {
	dem := constantRaster(domain.RoleDEM, 10)
	wse := constantRaster(domain.RoleWSE, 12)
	line := orb.LineString{{10, 100.5}, {110, 100.5}}

	points, err := BuildProfile(line, dem, wse, 10)
	require.NoError(t, err)
	require.Len(t, points, 11)

	for i, pt := range points {
		assert.InDelta(t, float64(i)*10, pt.Distance, 1e-9)
		if i > 0 {
			assert.Greater(t, pt.Distance, points[i-1].Distance)
		}
	}
	last := points[len(points)-1]
	assert.InDelta(t, Length(line), last.Distance, 1e-12)
	assert.InDelta(t, 10, last.Ground.Value, 1e-12)
	assert.InDelta(t, 12, last.Water.Value, 1e-12)
}
