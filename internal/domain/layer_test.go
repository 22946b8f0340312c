package domain

import (
	"math"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grid() Grid {
	return Grid{Width: 10, Height: 8, OriginX: -93.5, OriginY: 45.0, PixelWidth: 0.1, PixelHeight: 0.1}
}

func TestGrid_Bound(t *testing.T) {
	b := grid().Bound()
	assert.InDelta(t, -93.5, b.Min[0], 1e-12)
	assert.InDelta(t, 44.2, b.Min[1], 1e-12)
	assert.InDelta(t, -92.5, b.Max[0], 1e-12)
	assert.InDelta(t, 45.0, b.Max[1], 1e-12)
}

func TestGrid_CellRoundTrip(t *testing.T) {
	g := grid()
	for _, tc := range []struct{ col, row int }{
		{0, 0}, {9, 7}, {4, 3},
	} {
		col, row, ok := g.CellAt(g.CellCenter(tc.col, tc.row))
		require.True(t, ok)
		assert.Equal(t, tc.col, col)
		assert.Equal(t, tc.row, row)
	}
}

func TestGrid_CellAtOutside(t *testing.T) {
	g := grid()
	_, _, ok := g.CellAt(orb.Point{-94.0, 44.5})
	assert.False(t, ok)
	_, _, ok = g.CellAt(orb.Point{-93.0, 46.0})
	assert.False(t, ok)
}

func TestGrid_WindowFor(t *testing.T) {
	g := grid()

	// A bound matching the upper-left quarter cell block.
	win, ok := g.WindowFor(orb.Bound{Min: orb.Point{-93.5, 44.8}, Max: orb.Point{-93.3, 45.0}})
	require.True(t, ok)
	assert.Equal(t, Window{Col: 0, Row: 0, Width: 2, Height: 2}, win)

	// Bounds past the grid edge clamp.
	win, ok = g.WindowFor(orb.Bound{Min: orb.Point{-93.0, 44.0}, Max: orb.Point{-92.0, 44.5}})
	require.True(t, ok)
	assert.Equal(t, g.Width, win.Col+win.Width)
	assert.Equal(t, g.Height, win.Row+win.Height)

	// A bound entirely off-grid yields no window.
	_, ok = g.WindowFor(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{11, 11}})
	assert.False(t, ok)
}

func TestRasterLayer_IsNoData(t *testing.T) {
	nodata := -9999.0
	layer := NewRasterLayer("dem", RoleDEM, CRS4326, grid(), &nodata, nil)

	assert.True(t, layer.IsNoData(-9999))
	assert.True(t, layer.IsNoData(math.NaN()))
	assert.False(t, layer.IsNoData(0))

	bare := NewRasterLayer("dem", RoleDEM, CRS4326, grid(), nil, nil)
	assert.True(t, bare.IsNoData(math.NaN()))
	assert.False(t, bare.IsNoData(-9999))
}

func TestResultSet_OrderAndDefaults(t *testing.T) {
	rs := NewResultSet([]string{"a", "b"})
	rs.Set("second", "a", DefinedStat(1))
	rs.Set("first", "a", DefinedStat(2))
	rs.Set("second", "b", DefinedStat(3))

	assert.Equal(t, []string{"second", "first"}, rs.Order)
	assert.False(t, rs.Get("first", "b").Defined)
	assert.False(t, rs.Get("missing", "a").Defined)
	assert.InDelta(t, 3, rs.Get("second", "b").Value, 1e-12)
	assert.False(t, rs.GeneratedAt.IsZero())
}

func TestResultSet_GeneratedAtUsesClock(t *testing.T) {
	fake := clockwork.NewFakeClock()
	SetClock(fake)
	defer SetClock(nil)

	rs := NewResultSet(nil)
	assert.Equal(t, fake.Now(), rs.GeneratedAt)
}

func TestVectorLayer_Bound(t *testing.T) {
	layer := &VectorLayer{
		Features: []Feature{
			{ID: "a", Geometry: orb.Point{-93.3, 44.9}},
			{ID: "b", Geometry: nil},
			{ID: "c", Geometry: orb.Point{-93.1, 45.1}},
		},
	}

	b := layer.Bound()
	assert.InDelta(t, -93.3, b.Min[0], 1e-12)
	assert.InDelta(t, 44.9, b.Min[1], 1e-12)
	assert.InDelta(t, -93.1, b.Max[0], 1e-12)
	assert.InDelta(t, 45.1, b.Max[1], 1e-12)
}
