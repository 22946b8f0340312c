// Package shapefile loads ESRI shapefiles into vector layers and writes
// result layers back out for the zipped geometry bundle.
package shapefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// Load reads a shapefile into a vector layer. The CRS comes from the
// sidecar .prj file; a missing .prj fails with ErrCRSUndefined because the
// layer could not be normalized later. Features whose geometry cannot be
// represented are skipped with a warning and mark the layer partial.
//
// idColumn names the attribute used as the feature ID. When the column is
// absent the one-based record number is used instead. Duplicate IDs get a
// numeric suffix so downstream result sets stay keyed uniquely.
func Load(path string, role domain.VectorRole, idColumn string) (*domain.VectorLayer, error) {
	crs, err := readPrj(path)
	if err != nil {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	fields := r.Fields()
	names := make([]string, len(fields))
	idIdx := -1
	for i, fld := range fields {
		names[i] = fld.String()
		if strings.EqualFold(names[i], idColumn) {
			idIdx = i
		}
	}

	layer := &domain.VectorLayer{
		Name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Role:   role,
		CRS:    crs,
		Fields: names,
	}

	seen := make(map[string]int)
	row := 0
	for r.Next() {
		_, shape := r.Shape()
		row++

		geom := toOrb(shape)
		if geom == nil {
			layer.Partial = true
			layer.Warnings = append(layer.Warnings,
				fmt.Sprintf("record %d: unsupported or empty shape, skipped", row))
			continue
		}

		attrs := make(map[string]string, len(fields))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(r.ReadAttribute(row-1, i))
		}

		id := fmt.Sprintf("%d", row)
		if idIdx >= 0 && attrs[names[idIdx]] != "" {
			id = attrs[names[idIdx]]
		}
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s_%d", id, n+1)
		}
		seen[id]++

		layer.Features = append(layer.Features, domain.Feature{
			ID:       id,
			Geometry: geom,
			Attrs:    attrs,
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return layer, nil
}

// readPrj resolves the layer CRS from the sidecar .prj WKT. Only geographic
// WGS 84 and Web Mercator projections are recognized.
func readPrj(path string) (domain.CRS, error) {
	prjPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	data, err := os.ReadFile(prjPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CRSUndefined, fmt.Errorf("%s: %w", filepath.Base(path), domain.ErrCRSUndefined)
		}
		return domain.CRSUndefined, err
	}

	wkt := string(data)
	switch {
	case strings.Contains(wkt, "3857"),
		strings.Contains(wkt, "Pseudo-Mercator"),
		strings.Contains(wkt, "Mercator_Auxiliary_Sphere"):
		return domain.CRS3857, nil
	case strings.Contains(wkt, "WGS_1984"), strings.Contains(wkt, "WGS 84"):
		return domain.CRS4326, nil
	}
	return domain.CRSUndefined, fmt.Errorf("%s: unrecognized projection %q",
		filepath.Base(prjPath), truncate(wkt, 60))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// toOrb converts a go-shp shape to an orb geometry. Polygon parts are split
// into outer rings and holes by winding order, matching the shapefile
// convention of clockwise outers.
func toOrb(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PolyLine:
		return polylineToOrb(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return polylineToOrb(s.Parts, s.Points)
	case *shp.Polygon:
		return polygonToOrb(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonToOrb(s.Parts, s.Points)
	default:
		return nil
	}
}

func partRings(parts []int32, points []shp.Point) []orb.Ring {
	rings := make([]orb.Ring, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end {
			continue
		}
		ring := make(orb.Ring, 0, end-int(start))
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		rings = append(rings, ring)
	}
	return rings
}

func polylineToOrb(parts []int32, points []shp.Point) orb.Geometry {
	rings := partRings(parts, points)
	switch len(rings) {
	case 0:
		return nil
	case 1:
		return orb.LineString(rings[0])
	}
	mls := make(orb.MultiLineString, len(rings))
	for i, r := range rings {
		mls[i] = orb.LineString(r)
	}
	return mls
}

func polygonToOrb(parts []int32, points []shp.Point) orb.Geometry {
	rings := partRings(parts, points)
	if len(rings) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for _, ring := range rings {
		if signedArea(ring) <= 0 || len(mp) == 0 {
			// Clockwise: a new outer ring. A leading hole is promoted so
			// malformed files still produce a usable polygon.
			mp = append(mp, orb.Polygon{ring})
		} else {
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(r orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}
