package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// CRS identifies a coordinate reference system by its EPSG code.
type CRS int

const (
	// CRSUndefined means the source file carried no usable CRS declaration.
	CRSUndefined CRS = 0
	// CRS4326 is WGS-84 geographic coordinates, the canonical analysis CRS.
	CRS4326 CRS = 4326
	// CRS3857 is Web Mercator, common in exported hydrodynamic model output.
	CRS3857 CRS = 3857
)

func (c CRS) String() string {
	if c == CRSUndefined {
		return "undefined"
	}
	return fmt.Sprintf("EPSG:%d", int(c))
}

// RasterRole classifies a raster input. The role is fixed at load time; DEM
// and WSE are required, the remaining roles only disable their derived
// statistics when absent.
type RasterRole int

const (
	RoleDEM RasterRole = iota
	RoleWSE
	RoleVelocity
	RoleDepth
	RoleArrivalTime
)

// RasterRoles returns all roles in their canonical column order.
func RasterRoles() []RasterRole {
	return []RasterRole{RoleDEM, RoleWSE, RoleVelocity, RoleDepth, RoleArrivalTime}
}

func (r RasterRole) String() string {
	switch r {
	case RoleDEM:
		return "dem"
	case RoleWSE:
		return "wse"
	case RoleVelocity:
		return "velocity"
	case RoleDepth:
		return "depth"
	case RoleArrivalTime:
		return "arrival_time"
	default:
		return "unknown"
	}
}

// Required reports whether a run cannot proceed without this raster.
func (r RasterRole) Required() bool {
	return r == RoleDEM || r == RoleWSE
}

// VectorRole classifies a vector input layer.
type VectorRole int

const (
	RoleBuilding VectorRole = iota
	RoleCrossSection
	RolePoint
)

func (r VectorRole) String() string {
	switch r {
	case RoleBuilding:
		return "building"
	case RoleCrossSection:
		return "cross_section"
	case RolePoint:
		return "point"
	default:
		return "unknown"
	}
}

// Window is a rectangular pixel region of a raster grid.
type Window struct {
	Col, Row      int
	Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// RasterSource provides windowed access to pixel data. Keeping reads windowed
// bounds peak memory by the geometry being sampled, not by the raster size.
type RasterSource interface {
	// ReadWindow returns pixel values for the window in row-major order.
	// The returned slice has exactly w.Width*w.Height elements.
	ReadWindow(w Window) ([]float64, error)
}

// Grid is the affine georeference of a north-up raster: the world coordinate
// of the grid's top-left corner plus the pixel size. Rows advance southward,
// so world Y decreases as Row increases.
type Grid struct {
	Width, Height    int
	OriginX, OriginY float64
	PixelWidth       float64
	PixelHeight      float64
}

// Bound returns the grid's spatial extent.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.OriginX, g.OriginY - float64(g.Height)*g.PixelHeight},
		Max: orb.Point{g.OriginX + float64(g.Width)*g.PixelWidth, g.OriginY},
	}
}

// CellCenter returns the world coordinate of a pixel's center.
func (g Grid) CellCenter(col, row int) orb.Point {
	return orb.Point{
		g.OriginX + (float64(col)+0.5)*g.PixelWidth,
		g.OriginY - (float64(row)+0.5)*g.PixelHeight,
	}
}

// CellAt returns the pixel containing a world coordinate, or ok=false when
// the point lies outside the grid extent.
func (g Grid) CellAt(pt orb.Point) (col, row int, ok bool) {
	col = int(math.Floor((pt[0] - g.OriginX) / g.PixelWidth))
	row = int(math.Floor((g.OriginY - pt[1]) / g.PixelHeight))
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return 0, 0, false
	}
	return col, row, true
}

// WindowFor returns the smallest pixel window covering the bound, clamped to
// the grid. ok is false when the bound misses the grid entirely.
func (g Grid) WindowFor(b orb.Bound) (Window, bool) {
	minCol := int(math.Floor((b.Min[0] - g.OriginX) / g.PixelWidth))
	maxCol := int(math.Ceil((b.Max[0] - g.OriginX) / g.PixelWidth))
	minRow := int(math.Floor((g.OriginY - b.Max[1]) / g.PixelHeight))
	maxRow := int(math.Ceil((g.OriginY - b.Min[1]) / g.PixelHeight))

	if minCol < 0 {
		minCol = 0
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxCol > g.Width {
		maxCol = g.Width
	}
	if maxRow > g.Height {
		maxRow = g.Height
	}

	w := Window{Col: minCol, Row: minRow, Width: maxCol - minCol, Height: maxRow - minRow}
	return w, !w.Empty()
}

// RasterLayer is one loaded raster input. Layers are immutable once loaded;
// reprojection produces a replacement layer rather than mutating in place.
type RasterLayer struct {
	Name   string
	Role   RasterRole
	CRS    CRS
	Grid   Grid
	NoData *float64

	src RasterSource
}

// NewRasterLayer assembles a raster layer over a pixel source.
func NewRasterLayer(name string, role RasterRole, crs CRS, grid Grid, nodata *float64, src RasterSource) *RasterLayer {
	return &RasterLayer{Name: name, Role: role, CRS: crs, Grid: grid, NoData: nodata, src: src}
}

// Read fetches a pixel window, wrapping source failures as RasterReadError.
func (r *RasterLayer) Read(w Window) ([]float64, error) {
	data, err := r.src.ReadWindow(w)
	if err != nil {
		return nil, &RasterReadError{Name: r.Name, Err: err}
	}
	return data, nil
}

// IsNoData reports whether a pixel value is the layer's nodata sentinel.
// NaN pixels are always treated as nodata.
func (r *RasterLayer) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return r.NoData != nil && v == *r.NoData
}

// ValueAt samples the raster at a point using nearest-pixel lookup. Points
// outside the extent and nodata pixels yield an undefined Stat, not an error.
func (r *RasterLayer) ValueAt(pt orb.Point) (Stat, error) {
	col, row, ok := r.Grid.CellAt(pt)
	if !ok {
		return Undefined, nil
	}
	data, err := r.Read(Window{Col: col, Row: row, Width: 1, Height: 1})
	if err != nil {
		return Undefined, err
	}
	if r.IsNoData(data[0]) {
		return Undefined, nil
	}
	return DefinedStat(data[0]), nil
}

// SliceSource is a RasterSource backed by a fully in-memory grid. Used for
// reprojection output and synthetic rasters in tests.
type SliceSource struct {
	W, H int
	Data []float64
}

// NewSliceSource wraps a row-major data slice of w*h values.
func NewSliceSource(w, h int, data []float64) *SliceSource {
	return &SliceSource{W: w, H: h, Data: data}
}

func (s *SliceSource) ReadWindow(win Window) ([]float64, error) {
	if win.Col < 0 || win.Row < 0 || win.Col+win.Width > s.W || win.Row+win.Height > s.H {
		return nil, fmt.Errorf("window %+v outside %dx%d grid", win, s.W, s.H)
	}
	out := make([]float64, 0, win.Width*win.Height)
	for row := win.Row; row < win.Row+win.Height; row++ {
		start := row*s.W + win.Col
		out = append(out, s.Data[start:start+win.Width]...)
	}
	return out, nil
}

// Feature is one geometry with its identity and attribute values. Attribute
// values are kept as strings, matching their DBF/CSV representation.
type Feature struct {
	ID       string
	Geometry orb.Geometry
	Attrs    map[string]string
}

// VectorLayer is an ordered collection of features sharing a role and CRS.
// Feature IDs are unique within a layer.
type VectorLayer struct {
	Name     string
	Role     VectorRole
	CRS      CRS
	Fields   []string
	Features []Feature

	// Partial marks a layer assembled with incomplete coverage, such as a
	// footprint merge that lost tiles. Warnings carry the detail.
	Partial  bool
	Warnings []string
}

// Bound returns the union bound of all feature geometries.
func (l *VectorLayer) Bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}
