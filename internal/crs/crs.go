// Package crs validates and normalizes coordinate reference systems across
// all loaded layers. Every layer entering the sampling stages must be in the
// canonical CRS; reprojection always produces a new layer and is idempotent.
package crs

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// Canonical is the target CRS for every analysis run.
const Canonical = domain.CRS4326

// InspectRaster returns a raster layer's declared CRS, or ErrCRSUndefined.
func InspectRaster(l *domain.RasterLayer) (domain.CRS, error) {
	if l.CRS == domain.CRSUndefined {
		return domain.CRSUndefined, domain.ErrCRSUndefined
	}
	return l.CRS, nil
}

// InspectVector returns a vector layer's declared CRS, or ErrCRSUndefined.
func InspectVector(l *domain.VectorLayer) (domain.CRS, error) {
	if l.CRS == domain.CRSUndefined {
		return domain.CRSUndefined, domain.ErrCRSUndefined
	}
	return l.CRS, nil
}

// IsCanonical reports whether a CRS already matches the canonical target.
func IsCanonical(c domain.CRS) bool {
	return c == Canonical
}

// projection returns the point transform between two supported CRSs, or nil
// when no transform is needed.
func projection(from, to domain.CRS) (orb.Projection, error) {
	if from == to {
		return nil, nil
	}
	switch {
	case from == domain.CRS3857 && to == domain.CRS4326:
		return project.Mercator.ToWGS84, nil
	case from == domain.CRS4326 && to == domain.CRS3857:
		return project.WGS84.ToMercator, nil
	case from == domain.CRSUndefined:
		return nil, domain.ErrCRSUndefined
	default:
		return nil, &domain.UnsupportedCRSError{Code: int(from)}
	}
}

// ReprojectVector returns a new vector layer with all geometries transformed
// to the target CRS. Feature identities, attribute values and field order are
// preserved exactly; the source layer is never mutated. Reprojecting a layer
// already in the target CRS returns an equivalent copy.
func ReprojectVector(l *domain.VectorLayer, target domain.CRS) (*domain.VectorLayer, error) {
	if _, err := InspectVector(l); err != nil {
		return nil, err
	}

	proj, err := projection(l.CRS, target)
	if err != nil {
		return nil, err
	}

	out := &domain.VectorLayer{
		Name:     l.Name,
		Role:     l.Role,
		CRS:      target,
		Fields:   append([]string(nil), l.Fields...),
		Features: make([]domain.Feature, 0, len(l.Features)),
		Partial:  l.Partial,
		Warnings: append([]string(nil), l.Warnings...),
	}

	for _, f := range l.Features {
		g := f.Geometry
		if g != nil {
			// orb's project.Geometry transforms in place, so work on a clone
			// to keep the source layer untouched.
			g = orb.Clone(g)
			if proj != nil {
				g = project.Geometry(g, proj)
			}
		}
		out.Features = append(out.Features, domain.Feature{ID: f.ID, Geometry: g, Attrs: f.Attrs})
	}
	return out, nil
}

// ReprojectRaster returns a new raster layer resampled onto a grid in the
// target CRS using nearest-neighbour lookup. The output keeps the source
// pixel counts; cells that fall outside the source extent become nodata.
// A layer already in the target CRS is returned as an equivalent copy
// sharing the same pixel source.
func ReprojectRaster(l *domain.RasterLayer, target domain.CRS) (*domain.RasterLayer, error) {
	if _, err := InspectRaster(l); err != nil {
		return nil, err
	}

	proj, err := projection(l.CRS, target)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		out := *l
		return &out, nil
	}
	inverse, err := projection(target, l.CRS)
	if err != nil {
		return nil, err
	}

	src := l.Grid
	b := src.Bound()
	min := proj(b.Min)
	max := proj(b.Max)

	dst := domain.Grid{
		Width:       src.Width,
		Height:      src.Height,
		OriginX:     min[0],
		OriginY:     max[1],
		PixelWidth:  (max[0] - min[0]) / float64(src.Width),
		PixelHeight: (max[1] - min[1]) / float64(src.Height),
	}

	full, err := l.Read(domain.Window{Width: src.Width, Height: src.Height})
	if err != nil {
		return nil, err
	}

	fill := math.NaN()
	if l.NoData != nil {
		fill = *l.NoData
	}

	data := make([]float64, dst.Width*dst.Height)
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			srcPt := inverse(dst.CellCenter(col, row))
			sc, sr, ok := src.CellAt(srcPt)
			if !ok {
				data[row*dst.Width+col] = fill
				continue
			}
			data[row*dst.Width+col] = full[sr*src.Width+sc]
		}
	}

	var nodata *float64
	if l.NoData != nil {
		v := *l.NoData
		nodata = &v
	}
	return domain.NewRasterLayer(l.Name, l.Role, target, dst, nodata, domain.NewSliceSource(dst.Width, dst.Height, data)), nil
}
