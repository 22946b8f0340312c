// Package footprint resolves a bounding area into covering map tiles,
// fetches building geometries per tile from a remote source, and merges them
// into a single deduplicated vector layer.
package footprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// CoverTiles returns the minimal set of quadkeys whose tiles fully cover the
// bound at the given zoom. Output is sorted, so coverage is deterministic
// for a given bound and zoom.
func CoverTiles(b orb.Bound, zoom maptile.Zoom) []string {
	// North-west and south-east corners; tile Y grows southward.
	min := maptile.At(orb.Point{b.Min[0], b.Max[1]}, zoom)
	max := maptile.At(orb.Point{b.Max[0], b.Min[1]}, zoom)

	keys := make([]string, 0, (max.X-min.X+1)*(max.Y-min.Y+1))
	for x := min.X; x <= max.X; x++ {
		for y := min.Y; y <= max.Y; y++ {
			keys = append(keys, QuadkeyString(maptile.Tile{X: x, Y: y, Z: zoom}))
		}
	}
	sort.Strings(keys)
	return keys
}

// QuadkeyString encodes a tile as its base-4 quadkey, one digit per zoom
// level from the root down.
func QuadkeyString(t maptile.Tile) string {
	s := strconv.FormatUint(t.Quadkey(), 4)
	if pad := int(t.Z) - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s
}

// TileFromQuadkey parses a quadkey string back into a tile.
func TileFromQuadkey(quadkey string) (maptile.Tile, error) {
	if quadkey == "" {
		return maptile.Tile{}, fmt.Errorf("empty quadkey")
	}
	k, err := strconv.ParseUint(quadkey, 4, 64)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("quadkey %q: %w", quadkey, err)
	}
	return maptile.FromQuadkey(k, maptile.Zoom(len(quadkey))), nil
}

// TileBound returns the geographic bound of a quadkey's tile.
func TileBound(quadkey string) (orb.Bound, error) {
	t, err := TileFromQuadkey(quadkey)
	if err != nil {
		return orb.Bound{}, err
	}
	return t.Bound(), nil
}
