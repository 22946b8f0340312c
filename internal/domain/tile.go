package domain

import "github.com/paulmach/orb"

// Building is one footprint geometry as returned by the remote tile source,
// before deduplication assigns it a layer identity.
type Building struct {
	Geometry orb.Geometry
	Attrs    map[string]string
}

// Tile is one fetched footprint tile. Tiles are transient: the acquirer owns
// them only until the merge, after which ownership of the surviving
// geometries passes to the merged VectorLayer.
type Tile struct {
	Quadkey   string
	Bound     orb.Bound
	Buildings []Building
}
