// Package sampling computes zonal and point statistics from raster layers
// aligned to vector geometries. All entry points require every layer to be
// in the canonical CRS and reject mismatches outright.
package sampling

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/flood-metrics-service/internal/crs"
	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// Zonal aggregates the non-nodata pixels whose centers fall inside a
// polygon. Count is the number of pixels used; when it is zero the region
// held no data and every other field is undefined. That is a result state,
// not a failure.
type Zonal struct {
	Mean, Min, Max, Std domain.Stat
	Count               int
}

// NoDataInRegion reports whether the polygon covered no valid pixels.
func (z Zonal) NoDataInRegion() bool {
	return z.Count == 0
}

// ZonalPolygon computes zonal statistics for a polygon or multipolygon.
// A geometry entirely outside the raster extent yields Count == 0.
func ZonalPolygon(r *domain.RasterLayer, g orb.Geometry) (Zonal, error) {
	contains, err := containsFunc(g)
	if err != nil {
		return Zonal{}, err
	}

	win, ok := r.Grid.WindowFor(g.Bound())
	if !ok {
		return Zonal{}, nil
	}

	data, err := r.Read(win)
	if err != nil {
		return Zonal{}, err
	}

	var (
		count    int
		mean, m2 float64
		min      = math.Inf(1)
		max      = math.Inf(-1)
	)
	for row := 0; row < win.Height; row++ {
		for col := 0; col < win.Width; col++ {
			v := data[row*win.Width+col]
			if r.IsNoData(v) {
				continue
			}
			center := r.Grid.CellCenter(win.Col+col, win.Row+row)
			if !contains(center) {
				continue
			}
			// Welford's running mean/variance.
			count++
			delta := v - mean
			mean += delta / float64(count)
			m2 += delta * (v - mean)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}

	if count == 0 {
		return Zonal{}, nil
	}
	return Zonal{
		Mean:  domain.DefinedStat(mean),
		Min:   domain.DefinedStat(min),
		Max:   domain.DefinedStat(max),
		Std:   domain.DefinedStat(math.Sqrt(m2 / float64(count))),
		Count: count,
	}, nil
}

func containsFunc(g orb.Geometry) (func(orb.Point) bool, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return func(pt orb.Point) bool { return planar.PolygonContains(v, pt) }, nil
	case orb.MultiPolygon:
		return func(pt orb.Point) bool { return planar.MultiPolygonContains(v, pt) }, nil
	case orb.Ring:
		return func(pt orb.Point) bool { return planar.RingContains(v, pt) }, nil
	default:
		return nil, fmt.Errorf("zonal statistics require a polygonal geometry, got %T", g)
	}
}

// PointValue samples a raster at a point by nearest-pixel lookup. Points
// outside the raster extent are undefined, not an error.
func PointValue(r *domain.RasterLayer, pt orb.Point) (domain.Stat, error) {
	return r.ValueAt(pt)
}

// DepthAboveGround derives WSE minus DEM. Undefined when either input is
// undefined. Negative depths are valid (a dry point) and are preserved.
func DepthAboveGround(wse, dem domain.Stat) domain.Stat {
	if !wse.Defined || !dem.Defined {
		return domain.Undefined
	}
	return domain.DefinedStat(wse.Value - dem.Value)
}

// ensureCanonical rejects any layer outside the canonical CRS. Sampling
// across mismatched CRSs is forbidden, never silently corrected.
func ensureCanonical(name string, c domain.CRS) error {
	if c == domain.CRSUndefined {
		return domain.ErrCRSUndefined
	}
	if !crs.IsCanonical(c) {
		return &domain.CRSMismatchError{Want: crs.Canonical, Got: c, Layer: name}
	}
	return nil
}
