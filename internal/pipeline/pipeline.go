// Package pipeline orchestrates one analysis run: CRS normalization,
// optional footprint acquisition, raster sampling, cross-section profiles
// and export. Failures are isolated at the smallest meaningful unit — a
// run only aborts on cancellation, a missing required input or an export
// failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/couchcryptid/flood-metrics-service/internal/crs"
	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/export"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
	"github.com/couchcryptid/flood-metrics-service/internal/profile"
)

// Inputs are the source layers of a run, before normalization. DEM and WSE
// rasters are required. Buildings may be nil when footprints are to be
// acquired remotely; nil cross-sections or points skip those outputs.
type Inputs struct {
	Rasters       map[domain.RasterRole]*domain.RasterLayer
	Buildings     *domain.VectorLayer
	CrossSections *domain.VectorLayer
	Points        *domain.VectorLayer
}

// FootprintAcquirer produces a building layer covering a bound.
type FootprintAcquirer interface {
	Acquire(ctx context.Context, bound orb.Bound, zoom maptile.Zoom) (*domain.VectorLayer, error)
}

// ZonalSampler computes per-geometry statistics from normalized layers.
type ZonalSampler interface {
	AnalyzeBuildings(ctx context.Context, rasters map[domain.RasterRole]*domain.RasterLayer, buildings *domain.VectorLayer) (*domain.ResultSet, error)
	AnalyzePoints(ctx context.Context, rasters map[domain.RasterRole]*domain.RasterLayer, points *domain.VectorLayer) (*domain.ResultSet, error)
}

// Exporter writes the run's artifacts.
type Exporter interface {
	ExportBuildings(layer *domain.VectorLayer, rs *domain.ResultSet) error
	ExportPoints(layer *domain.VectorLayer, rs *domain.ResultSet) error
	ExportProfiles(sections []export.SectionProfile) error
}

// Summary reports what a run produced.
type Summary struct {
	Buildings *domain.ResultSet
	Points    *domain.ResultSet
	Profiles  []export.SectionProfile

	// Partial is set when any stage produced incomplete results; Warnings
	// carry the per-unit detail.
	Partial  bool
	Warnings []string
}

func (s *Summary) warn(msg string) {
	s.Partial = true
	s.Warnings = append(s.Warnings, msg)
}

func (s *Summary) absorb(rs *domain.ResultSet) {
	if rs.Partial {
		s.Partial = true
		s.Warnings = append(s.Warnings, rs.Warnings...)
	}
}

// Pipeline wires the stages of an analysis run.
type Pipeline struct {
	acquirer FootprintAcquirer
	sampler  ZonalSampler
	exporter Exporter
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	footprintZoom   maptile.Zoom
	stationInterval float64
}

// New creates a Pipeline with the given stages and observability. acquirer
// may be nil when no remote footprint source is configured.
func New(acquirer FootprintAcquirer, sampler ZonalSampler, exporter Exporter, logger *slog.Logger, metrics *observability.Metrics, footprintZoom int, stationInterval float64) *Pipeline {
	return &Pipeline{
		acquirer:        acquirer,
		sampler:         sampler,
		exporter:        exporter,
		logger:          logger,
		metrics:         metrics,
		footprintZoom:   maptile.Zoom(footprintZoom),
		stationInterval: stationInterval,
	}
}

// CheckReadiness returns nil once a run has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no analysis run has completed yet")
	}
	return nil
}

// Run executes one analysis over the inputs.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Summary, error) {
	start := time.Now()
	p.logger.Info("analysis started")
	p.metrics.AnalysisRunning.Set(1)
	defer p.metrics.AnalysisRunning.Set(0)

	in, err := p.normalize(in)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	buildings, err := p.buildingLayer(ctx, in, summary)
	if err != nil {
		return nil, err
	}

	if buildings != nil {
		rs, err := p.sampler.AnalyzeBuildings(ctx, in.Rasters, buildings)
		if err != nil {
			return nil, err
		}
		summary.Buildings = rs
		summary.absorb(rs)
		if err := p.exporter.ExportBuildings(buildings, rs); err != nil {
			return nil, err
		}
	}

	if in.Points != nil {
		rs, err := p.sampler.AnalyzePoints(ctx, in.Rasters, in.Points)
		if err != nil {
			return nil, err
		}
		summary.Points = rs
		summary.absorb(rs)
		if err := p.exporter.ExportPoints(in.Points, rs); err != nil {
			return nil, err
		}
	}

	if in.CrossSections != nil {
		sections, err := p.extractProfiles(ctx, in, summary)
		if err != nil {
			return nil, err
		}
		summary.Profiles = sections
		if len(sections) > 0 {
			if err := p.exporter.ExportProfiles(sections); err != nil {
				return nil, err
			}
		}
	}

	p.ready.Store(true)
	p.logger.Info("analysis finished",
		"duration", time.Since(start),
		"partial", summary.Partial,
		"warnings", len(summary.Warnings),
	)
	return summary, nil
}

// normalize reprojects every input layer to the canonical CRS. Layers with
// no declared CRS fail the run here, before any sampling starts.
func (p *Pipeline) normalize(in Inputs) (Inputs, error) {
	out := Inputs{Rasters: make(map[domain.RasterRole]*domain.RasterLayer, len(in.Rasters))}

	for _, role := range domain.RasterRoles() {
		layer, ok := in.Rasters[role]
		if !ok {
			if role.Required() {
				return Inputs{}, fmt.Errorf("required raster %s is missing", role)
			}
			continue
		}
		normalized, err := crs.ReprojectRaster(layer, crs.Canonical)
		if err != nil {
			return Inputs{}, fmt.Errorf("normalize raster %s: %w", layer.Name, err)
		}
		out.Rasters[role] = normalized
	}

	var err error
	if out.Buildings, err = normalizeVector(in.Buildings); err != nil {
		return Inputs{}, err
	}
	if out.CrossSections, err = normalizeVector(in.CrossSections); err != nil {
		return Inputs{}, err
	}
	if out.Points, err = normalizeVector(in.Points); err != nil {
		return Inputs{}, err
	}
	return out, nil
}

func normalizeVector(l *domain.VectorLayer) (*domain.VectorLayer, error) {
	if l == nil {
		return nil, nil
	}
	normalized, err := crs.ReprojectVector(l, crs.Canonical)
	if err != nil {
		return nil, fmt.Errorf("normalize layer %s: %w", l.Name, err)
	}
	return normalized, nil
}

// buildingLayer returns the provided building layer, or acquires footprints
// over the flood extent when none was supplied. No extent or no configured
// source skips building analysis with a warning.
func (p *Pipeline) buildingLayer(ctx context.Context, in Inputs, summary *Summary) (*domain.VectorLayer, error) {
	if in.Buildings != nil {
		if in.Buildings.Partial {
			summary.Partial = true
			summary.Warnings = append(summary.Warnings, in.Buildings.Warnings...)
		}
		return in.Buildings, nil
	}
	if p.acquirer == nil {
		summary.warn("no building layer and no footprint source configured, skipping buildings")
		return nil, nil
	}

	bound, ok, err := floodExtent(in.Rasters[domain.RoleWSE])
	if err != nil {
		return nil, fmt.Errorf("compute flood extent: %w", err)
	}
	if !ok {
		summary.warn("water surface raster has no valid cells, skipping buildings")
		return nil, nil
	}

	layer, err := p.acquirer.Acquire(ctx, bound, p.footprintZoom)
	if err != nil {
		return nil, err
	}
	if layer.Partial {
		summary.Partial = true
		summary.Warnings = append(summary.Warnings, layer.Warnings...)
	}
	p.logger.Info("acquired building footprints",
		"buildings", len(layer.Features), "partial", layer.Partial)
	return layer, nil
}

// floodExtentRows is the strip height used when scanning the water surface
// raster for its valid-data bound.
const floodExtentRows = 256

// floodExtent scans the water surface raster and returns the bound of its
// valid cells. ok is false when every cell is nodata.
func floodExtent(wse *domain.RasterLayer) (orb.Bound, bool, error) {
	var bound orb.Bound
	found := false

	g := wse.Grid
	for row := 0; row < g.Height; row += floodExtentRows {
		h := floodExtentRows
		if row+h > g.Height {
			h = g.Height - row
		}
		win := domain.Window{Col: 0, Row: row, Width: g.Width, Height: h}
		values, err := wse.Read(win)
		if err != nil {
			return orb.Bound{}, false, err
		}
		for i, v := range values {
			if wse.IsNoData(v) {
				continue
			}
			pt := g.CellCenter(win.Col+i%win.Width, win.Row+i/win.Width)
			if !found {
				bound = orb.Bound{Min: pt, Max: pt}
				found = true
			} else {
				bound = bound.Extend(pt)
			}
		}
	}
	if !found {
		return orb.Bound{}, false, nil
	}

	// Pad by half a cell so edge cells stay inside the bound.
	pad := orb.Point{g.PixelWidth / 2, g.PixelHeight / 2}
	bound.Min = orb.Point{bound.Min[0] - pad[0], bound.Min[1] - pad[1]}
	bound.Max = orb.Point{bound.Max[0] + pad[0], bound.Max[1] + pad[1]}
	return bound, true, nil
}

// extractProfiles builds one elevation profile per cross-section feature.
// A failing section yields a warning, not an aborted run.
func (p *Pipeline) extractProfiles(ctx context.Context, in Inputs, summary *Summary) ([]export.SectionProfile, error) {
	dem := in.Rasters[domain.RoleDEM]
	wse := in.Rasters[domain.RoleWSE]

	sections := make([]export.SectionProfile, 0, len(in.CrossSections.Features))
	for _, feat := range in.CrossSections.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, ok := sectionLine(feat.Geometry)
		if !ok {
			p.logger.Warn("cross-section is not a line, skipping", "id", feat.ID)
			summary.warn(fmt.Sprintf("cross-section %s is not a line", feat.ID))
			continue
		}

		points, err := profile.BuildProfile(line, dem, wse, p.stationInterval)
		if err != nil {
			p.logger.Warn("profile extraction failed, skipping section",
				"id", feat.ID, "error", err)
			p.metrics.GeometryFailures.WithLabelValues("cross_section").Inc()
			summary.warn(fmt.Sprintf("cross-section %s: %v", feat.ID, err))
			continue
		}
		p.metrics.ProfileStations.Observe(float64(len(points)))
		sections = append(sections, export.SectionProfile{ID: feat.ID, Points: points})
	}
	return sections, nil
}

// sectionLine extracts a sampling line from a cross-section geometry.
// Multi-part lines use their longest part.
func sectionLine(g orb.Geometry) (orb.LineString, bool) {
	switch geom := g.(type) {
	case orb.LineString:
		return geom, len(geom) >= 2
	case orb.MultiLineString:
		var best orb.LineString
		for _, ls := range geom {
			if profile.Length(ls) > profile.Length(best) {
				best = ls
			}
		}
		return best, len(best) >= 2
	default:
		return nil, false
	}
}
