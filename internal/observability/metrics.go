package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for an
// analysis run.
type Metrics struct {
	GeometriesProcessed *prometheus.CounterVec // labels: kind={building,point,cross_section}
	GeometryFailures    *prometheus.CounterVec // labels: kind
	AnalysisRunning     prometheus.Gauge
	PartialResults      prometheus.Counter

	// Footprint acquisition metrics.
	TileFetches       *prometheus.CounterVec // labels: outcome={success,empty,error,cache_hit}
	TileFetchRetries  prometheus.Counter
	TileFetchDuration prometheus.Histogram
	BuildingsMerged   prometheus.Counter
	BuildingsDeduped  prometheus.Counter

	// Sampling metrics.
	ZonalDuration   prometheus.Histogram
	ProfileStations prometheus.Histogram
}

// NewMetrics creates and registers all run metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		GeometriesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "geometries_processed_total",
			Help:      "Geometries analyzed, by kind.",
		}, []string{"kind"}),
		GeometryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "geometry_failures_total",
			Help:      "Geometries skipped due to per-geometry failures, by kind.",
		}, []string{"kind"}),
		AnalysisRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_metrics",
			Name:      "analysis_running",
			Help:      "1 while an analysis run is active, 0 otherwise.",
		}),
		PartialResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "partial_results_total",
			Help:      "Results delivered with partial coverage.",
		}),
		TileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "tile_fetches_total",
			Help:      "Footprint tile fetches by outcome.",
		}, []string{"outcome"}),
		TileFetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "tile_fetch_retries_total",
			Help:      "Footprint tile fetch attempts beyond the first.",
		}),
		TileFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_metrics",
			Name:      "tile_fetch_duration_seconds",
			Help:      "Duration of a single footprint tile fetch.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BuildingsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "buildings_merged_total",
			Help:      "Buildings in merged footprint layers.",
		}),
		BuildingsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_metrics",
			Name:      "buildings_deduped_total",
			Help:      "Duplicate buildings dropped during tile merges.",
		}),
		ZonalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_metrics",
			Name:      "zonal_duration_seconds",
			Help:      "Duration of zonal statistics for one polygon.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ProfileStations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_metrics",
			Name:      "profile_stations",
			Help:      "Stations sampled per cross-section profile.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
	}

	prometheus.MustRegister(
		m.GeometriesProcessed,
		m.GeometryFailures,
		m.AnalysisRunning,
		m.PartialResults,
		m.TileFetches,
		m.TileFetchRetries,
		m.TileFetchDuration,
		m.BuildingsMerged,
		m.BuildingsDeduped,
		m.ZonalDuration,
		m.ProfileStations,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		GeometriesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "geometries_processed_total"}, []string{"kind"}),
		GeometryFailures:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "geometry_failures_total"}, []string{"kind"}),
		AnalysisRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_metrics", Name: "analysis_running"}),
		PartialResults:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "partial_results_total"}),
		TileFetches:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "tile_fetches_total"}, []string{"outcome"}),
		TileFetchRetries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "tile_fetch_retries_total"}),
		TileFetchDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_metrics", Name: "tile_fetch_duration_seconds"}),
		BuildingsMerged:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "buildings_merged_total"}),
		BuildingsDeduped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_metrics", Name: "buildings_deduped_total"}),
		ZonalDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_metrics", Name: "zonal_duration_seconds"}),
		ProfileStations:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_metrics", Name: "profile_stations"}),
	}
}
