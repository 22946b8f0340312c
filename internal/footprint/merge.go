package footprint

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// coordQuantum quantizes coordinates to ~1cm in degrees before hashing, so
// the identity of a building is stable across tiles that serialize the same
// footprint with float noise.
const coordQuantum = 1e-7

// MergeTiles unions the buildings of all fetched tiles into one vector
// layer, keeping only geometries that intersect the query bound and
// deduplicating buildings returned by more than one tile. It returns the
// merged layer and the number of duplicates dropped.
//
// Identity is a 64-bit hash over the building's quantized coordinate
// sequence. Tile boundaries duplicate whole geometries rather than clipping
// them, so an exact geometry hash collapses each physical building to a
// single feature.
func MergeTiles(tiles []domain.Tile, bound orb.Bound) (*domain.VectorLayer, int) {
	ordered := append([]domain.Tile(nil), tiles...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Quadkey < ordered[j].Quadkey })

	layer := &domain.VectorLayer{
		Name: "buildings",
		Role: domain.RoleBuilding,
		CRS:  domain.CRS4326,
	}

	seen := make(map[uint64]struct{})
	fields := make(map[string]struct{})
	duplicates := 0

	for _, tile := range ordered {
		for _, b := range tile.Buildings {
			if b.Geometry == nil || !b.Geometry.Bound().Intersects(bound) {
				continue
			}
			key := identity(b.Geometry)
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}

			for name := range b.Attrs {
				if _, ok := fields[name]; !ok {
					fields[name] = struct{}{}
					layer.Fields = append(layer.Fields, name)
				}
			}
			layer.Features = append(layer.Features, domain.Feature{
				ID:       fmt.Sprintf("building_%06d", len(layer.Features)),
				Geometry: b.Geometry,
				Attrs:    b.Attrs,
			})
		}
	}
	sort.Strings(layer.Fields)
	return layer, duplicates
}

// identity hashes a geometry's quantized coordinates into a stable 64-bit
// dedup key.
func identity(g orb.Geometry) uint64 {
	d := xxhash.New()
	var buf [8]byte

	writeCoord := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(v/coordQuantum))))
		d.Write(buf[:]) //nolint:errcheck // xxhash.Write never fails
	}
	writePoint := func(p orb.Point) {
		writeCoord(p[0])
		writeCoord(p[1])
	}
	writeRing := func(r orb.Ring) {
		for _, p := range r {
			writePoint(p)
		}
	}

	switch v := g.(type) {
	case orb.Point:
		writePoint(v)
	case orb.LineString:
		for _, p := range v {
			writePoint(p)
		}
	case orb.Ring:
		writeRing(v)
	case orb.Polygon:
		for _, r := range v {
			writeRing(r)
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			for _, r := range poly {
				writeRing(r)
			}
		}
	default:
		b := g.Bound()
		writePoint(b.Min)
		writePoint(b.Max)
	}
	return d.Sum64()
}
