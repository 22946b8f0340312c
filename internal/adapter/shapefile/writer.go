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

// WGS 84 well-known text, written alongside every shapefile so consumers
// see the normalized CRS.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// dbfNameLimit is the DBF format's field name length.
const dbfNameLimit = 10

// Write writes features and their string attributes to path (a .shp file;
// the .shx, .dbf and .prj sidecars are produced next to it). The shape type
// is taken from the first feature's geometry and every feature must share
// it. Column values come from each feature's Attrs; missing values are
// written empty.
func Write(path string, features []domain.Feature, columns []string) error {
	if len(features) == 0 {
		return fmt.Errorf("write %s: no features", filepath.Base(path))
	}

	shapeType, err := shapeTypeFor(features[0].Geometry)
	if err != nil {
		return err
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	fields := make([]shp.Field, 0, len(columns)+1)
	fields = append(fields, shp.StringField("id", 64))
	for _, name := range dbfNames(columns) {
		fields = append(fields, shp.StringField(name, 64))
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return fmt.Errorf("set fields for %s: %w", filepath.Base(path), err)
	}

	for _, feat := range features {
		shape, err := toShp(feat.Geometry)
		if err != nil {
			w.Close()
			return fmt.Errorf("feature %s: %w", feat.ID, err)
		}
		row := w.Write(shape)
		if err := w.WriteAttribute(int(row), 0, feat.ID); err != nil {
			w.Close()
			return fmt.Errorf("feature %s: write id: %w", feat.ID, err)
		}
		for i, col := range columns {
			if err := w.WriteAttribute(int(row), i+1, feat.Attrs[col]); err != nil {
				w.Close()
				return fmt.Errorf("feature %s: write %s: %w", feat.ID, col, err)
			}
		}
	}
	w.Close()

	prjPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	return os.WriteFile(prjPath, []byte(wgs84WKT), 0o644)
}

// dbfNames shortens column names to the DBF limit, suffixing clashes so
// each stays unique.
func dbfNames(columns []string) []string {
	out := make([]string, len(columns))
	used := map[string]bool{"id": true}
	for i, col := range columns {
		name := col
		if len(name) > dbfNameLimit {
			name = name[:dbfNameLimit]
		}
		for n := 2; used[name]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			base := col
			if len(base) > dbfNameLimit-len(suffix) {
				base = base[:dbfNameLimit-len(suffix)]
			}
			name = base + suffix
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func shapeTypeFor(g orb.Geometry) (shp.ShapeType, error) {
	switch g.(type) {
	case orb.Point:
		return shp.POINT, nil
	case orb.LineString, orb.MultiLineString:
		return shp.POLYLINE, nil
	case orb.Polygon, orb.MultiPolygon:
		return shp.POLYGON, nil
	default:
		return 0, fmt.Errorf("geometry type %T cannot be written to a shapefile", g)
	}
}

func toShp(g orb.Geometry) (shp.Shape, error) {
	switch geom := g.(type) {
	case orb.Point:
		return &shp.Point{X: geom[0], Y: geom[1]}, nil
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{linePoints(geom)}), nil
	case orb.MultiLineString:
		parts := make([][]shp.Point, len(geom))
		for i, ls := range geom {
			parts[i] = linePoints(ls)
		}
		return shp.NewPolyLine(parts), nil
	case orb.Polygon:
		return polygonShape(orb.MultiPolygon{geom}), nil
	case orb.MultiPolygon:
		return polygonShape(geom), nil
	default:
		return nil, fmt.Errorf("geometry type %T cannot be written to a shapefile", g)
	}
}

func linePoints(ls orb.LineString) []shp.Point {
	pts := make([]shp.Point, len(ls))
	for i, p := range ls {
		pts[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return pts
}

// polygonShape emits rings in shapefile winding order: clockwise outers,
// counter-clockwise holes.
func polygonShape(mp orb.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for _, poly := range mp {
		for ringIdx, ring := range poly {
			closed := make(orb.Ring, len(ring))
			copy(closed, ring)
			if len(closed) > 0 && closed[0] != closed[len(closed)-1] {
				closed = append(closed, closed[0])
			}

			ccw := signedArea(closed) > 0
			if (ringIdx == 0 && ccw) || (ringIdx > 0 && !ccw) {
				for i, j := 0, len(closed)-1; i < j; i, j = i+1, j-1 {
					closed[i], closed[j] = closed[j], closed[i]
				}
			}
			parts = append(parts, linePoints(orb.LineString(closed)))
		}
	}
	pl := shp.NewPolyLine(parts)
	poly := shp.Polygon(*pl)
	return &poly
}
