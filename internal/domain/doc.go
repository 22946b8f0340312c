// Package domain models the inputs and outputs of a flood-impact analysis
// run: raster layers from a hydrodynamic model, vector layers of buildings,
// cross-sections and points of interest, and the per-geometry statistics the
// pipeline derives from them.
//
// # Raster inputs
//
// Rasters arrive as GeoTIFFs carrying an embedded CRS. Each is assigned a
// fixed role at load time:
//
//	dem           ground surface elevation (required)
//	wse           maximum water surface elevation (required)
//	velocity      maximum flow velocity (optional)
//	depth         maximum flood depth (optional)
//	arrival_time  flood wave arrival time in hours (optional)
//
// A missing optional raster disables only the statistics derived from it.
// Pixel access goes through RasterSource so readers can serve bounded
// windows instead of whole grids.
//
// # Coordinate systems
//
// All layers used together in one analysis must be in the canonical CRS,
// EPSG:4326. Sampling with mismatched CRSs is rejected with CRSMismatchError
// rather than silently corrected; reprojection happens up front and always
// produces a new layer.
//
// # Undefined values
//
// Statistics are carried as Stat values with an explicit Defined flag. A
// polygon with no valid pixels, a point outside the raster extent, or a
// nodata pixel all produce undefined stats that survive through export as
// empty cells. Zero is never substituted: a depth-above-ground of 0 means
// water exactly at grade, while a negative depth means a dry point.
package domain
