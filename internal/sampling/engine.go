package sampling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
)

// Degree-to-feet area conversion near the equator, matching the approximate
// footprint areas reported upstream. One degree spans roughly 111 km.
const sqDegreesToSqFeet = 111000.0 * 111000.0 * 10.7639

// Engine runs batch statistics over vector layers. Per-geometry failures are
// isolated: a bad geometry yields undefined statistics and a warning, never
// an aborted batch.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates a sampling engine.
func NewEngine(logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, metrics: metrics}
}

// zonalColumns is the per-raster statistic suffix order for building tables.
var zonalColumns = []string{"mean", "min", "max", "std", "count"}

// AnalyzeBuildings computes zonal statistics for every building footprint
// against every loaded raster. The context is checked between geometries so
// cancellation aborts cleanly between units of work.
func (e *Engine) AnalyzeBuildings(ctx context.Context, rasters map[domain.RasterRole]*domain.RasterLayer, buildings *domain.VectorLayer) (*domain.ResultSet, error) {
	if err := e.checkLayers(rasters, buildings); err != nil {
		return nil, err
	}

	columns := []string{"area_ft2"}
	for _, role := range domain.RasterRoles() {
		if _, ok := rasters[role]; !ok {
			continue
		}
		for _, suffix := range zonalColumns {
			columns = append(columns, fmt.Sprintf("%s_%s", role, suffix))
		}
	}

	rs := domain.NewResultSet(columns)
	for _, f := range buildings.Features {
		if err := ctx.Err(); err != nil {
			return rs, err
		}
		e.analyzeBuilding(rasters, f, rs)
	}
	return rs, nil
}

func (e *Engine) analyzeBuilding(rasters map[domain.RasterRole]*domain.RasterLayer, f domain.Feature, rs *domain.ResultSet) {
	rs.Set(f.ID, "area_ft2", domain.DefinedStat(planar.Area(f.Geometry)*sqDegreesToSqFeet))

	for _, role := range domain.RasterRoles() {
		r, ok := rasters[role]
		if !ok {
			continue
		}

		start := time.Now()
		z, err := ZonalPolygon(r, f.Geometry)
		e.metrics.ZonalDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			e.logger.Warn("zonal statistics failed, leaving statistics undefined",
				"building", f.ID,
				"raster", r.Name,
				"error", err,
			)
			e.metrics.GeometryFailures.WithLabelValues("building").Inc()
			for _, suffix := range zonalColumns {
				rs.Set(f.ID, fmt.Sprintf("%s_%s", role, suffix), domain.Undefined)
			}
			continue
		}

		rs.Set(f.ID, fmt.Sprintf("%s_mean", role), z.Mean)
		rs.Set(f.ID, fmt.Sprintf("%s_min", role), z.Min)
		rs.Set(f.ID, fmt.Sprintf("%s_max", role), z.Max)
		rs.Set(f.ID, fmt.Sprintf("%s_std", role), z.Std)
		rs.Set(f.ID, fmt.Sprintf("%s_count", role), domain.DefinedStat(float64(z.Count)))
	}
	e.metrics.GeometriesProcessed.WithLabelValues("building").Inc()
}

// AnalyzePoints samples every raster at each point and derives depth above
// ground from WSE and DEM. Points outside the raster extents get undefined
// values, isolated from the rest of the batch.
func (e *Engine) AnalyzePoints(ctx context.Context, rasters map[domain.RasterRole]*domain.RasterLayer, points *domain.VectorLayer) (*domain.ResultSet, error) {
	if err := e.checkLayers(rasters, points); err != nil {
		return nil, err
	}

	columns := []string{"longitude", "latitude"}
	for _, role := range domain.RasterRoles() {
		if _, ok := rasters[role]; ok {
			columns = append(columns, role.String())
		}
	}
	columns = append(columns, "depth_above_ground")

	rs := domain.NewResultSet(columns)
	for _, f := range points.Features {
		if err := ctx.Err(); err != nil {
			return rs, err
		}

		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			e.logger.Warn("point layer feature is not a point, skipping",
				"id", f.ID,
				"geometry", fmt.Sprintf("%T", f.Geometry),
			)
			e.metrics.GeometryFailures.WithLabelValues("point").Inc()
			continue
		}

		rs.Set(f.ID, "longitude", domain.DefinedStat(pt[0]))
		rs.Set(f.ID, "latitude", domain.DefinedStat(pt[1]))

		values := make(map[domain.RasterRole]domain.Stat, len(rasters))
		for _, role := range domain.RasterRoles() {
			r, ok := rasters[role]
			if !ok {
				continue
			}
			v, err := PointValue(r, pt)
			if err != nil {
				e.logger.Warn("point sample failed, leaving value undefined",
					"id", f.ID,
					"raster", r.Name,
					"error", err,
				)
				e.metrics.GeometryFailures.WithLabelValues("point").Inc()
				v = domain.Undefined
			}
			values[role] = v
			rs.Set(f.ID, role.String(), v)
		}

		rs.Set(f.ID, "depth_above_ground", DepthAboveGround(values[domain.RoleWSE], values[domain.RoleDEM]))
		e.metrics.GeometriesProcessed.WithLabelValues("point").Inc()
	}
	return rs, nil
}

func (e *Engine) checkLayers(rasters map[domain.RasterRole]*domain.RasterLayer, vectors *domain.VectorLayer) error {
	for _, r := range rasters {
		if err := ensureCanonical(r.Name, r.CRS); err != nil {
			return err
		}
	}
	return ensureCanonical(vectors.Name, vectors.CRS)
}
