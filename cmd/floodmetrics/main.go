package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-metrics-service/internal/adapter/footprintapi"
	"github.com/couchcryptid/flood-metrics-service/internal/adapter/geotiff"
	httpadapter "github.com/couchcryptid/flood-metrics-service/internal/adapter/http"
	"github.com/couchcryptid/flood-metrics-service/internal/adapter/shapefile"
	"github.com/couchcryptid/flood-metrics-service/internal/config"
	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/export"
	"github.com/couchcryptid/flood-metrics-service/internal/footprint"
	"github.com/couchcryptid/flood-metrics-service/internal/observability"
	"github.com/couchcryptid/flood-metrics-service/internal/pipeline"
	"github.com/couchcryptid/flood-metrics-service/internal/sampling"
)

func main() {
	// Local development convenience; absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	inputs, closeRasters, err := loadInputs(cfg, logger)
	if err != nil {
		logger.Error("failed to load inputs", "error", err)
		os.Exit(1)
	}
	defer closeRasters()

	exporter, err := export.NewDir(cfg.OutputDir)
	if err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	var acquirer pipeline.FootprintAcquirer
	if inputs.Buildings == nil {
		client := footprintapi.NewClient(cfg.FootprintIndexURL, cfg.FetchTimeout, logger)
		cached, err := footprint.NewCachedFetcher(client, cfg.FootprintCache, metrics)
		if err != nil {
			logger.Error("failed to create tile cache", "error", err)
			os.Exit(1)
		}
		retry := footprint.RetryPolicy{
			MaxAttempts: cfg.FetchMaxAttempts,
			BaseDelay:   cfg.FetchBaseDelay,
			MaxDelay:    cfg.FetchMaxDelay,
		}
		acquirer = footprint.NewAcquirer(cached, cfg.FootprintWorkers, retry, nil, logger, metrics)
		logger.Info("footprint acquisition enabled",
			"zoom", cfg.FootprintZoom, "workers", cfg.FootprintWorkers)
	}

	engine := sampling.NewEngine(logger, metrics)
	p := pipeline.New(acquirer, engine, exporter, logger, metrics, cfg.FootprintZoom, cfg.StationInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lastSummary atomic.Pointer[pipeline.Summary]
	summaries := summaryFunc(func() *pipeline.Summary { return lastSummary.Load() })

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, summaries, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	summary, err := p.Run(ctx, inputs)
	if err != nil {
		logger.Error("analysis failed", "error", err)
		shutdown(srv, cfg, logger)
		os.Exit(1)
	}
	lastSummary.Store(summary)
	for _, w := range summary.Warnings {
		logger.Warn("analysis warning", "warning", w)
	}
	logger.Info("artifacts written", "dir", cfg.OutputDir, "partial", summary.Partial)

	// With no HTTP surface this is a batch run; otherwise stay up to serve
	// metrics and the run summary until signalled.
	if srv != nil {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdown(srv, cfg, logger)
	}
	logger.Info("shutdown complete")
}

type summaryFunc func() *pipeline.Summary

func (f summaryFunc) LastSummary() *pipeline.Summary { return f() }

func shutdown(srv *httpadapter.Server, cfg *config.Config, logger *slog.Logger) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// loadInputs opens the configured rasters and vector layers. Missing or
// unreadable optional rasters disable their statistics with a warning;
// required inputs fail the run.
func loadInputs(cfg *config.Config, logger *slog.Logger) (pipeline.Inputs, func(), error) {
	inputs := pipeline.Inputs{
		Rasters: make(map[domain.RasterRole]*domain.RasterLayer),
	}

	paths := map[domain.RasterRole]string{
		domain.RoleDEM:         cfg.DEMPath,
		domain.RoleWSE:         cfg.WSEPath,
		domain.RoleVelocity:    cfg.VelocityPath,
		domain.RoleDepth:       cfg.DepthPath,
		domain.RoleArrivalTime: cfg.ArrivalTimePath,
	}

	var files []*geotiff.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for _, role := range domain.RasterRoles() {
		path := paths[role]
		if path == "" {
			continue
		}
		layer, f, err := openRaster(path, role)
		if err != nil {
			if role.Required() {
				closeAll()
				return pipeline.Inputs{}, nil, err
			}
			logger.Warn("optional raster unavailable, statistics disabled",
				"role", role.String(), "path", path, "error", err)
			continue
		}
		files = append(files, f)
		inputs.Rasters[role] = layer
	}

	var err error
	if cfg.BuildingsPath != "" {
		if inputs.Buildings, err = shapefile.Load(cfg.BuildingsPath, domain.RoleBuilding, cfg.IDColumn); err != nil {
			closeAll()
			return pipeline.Inputs{}, nil, err
		}
	}
	if cfg.CrossSectionsPath != "" {
		if inputs.CrossSections, err = shapefile.Load(cfg.CrossSectionsPath, domain.RoleCrossSection, cfg.IDColumn); err != nil {
			closeAll()
			return pipeline.Inputs{}, nil, err
		}
	}
	if cfg.PointsPath != "" {
		if inputs.Points, err = shapefile.Load(cfg.PointsPath, domain.RolePoint, cfg.IDColumn); err != nil {
			closeAll()
			return pipeline.Inputs{}, nil, err
		}
	}

	return inputs, closeAll, nil
}

func openRaster(path string, role domain.RasterRole) (*domain.RasterLayer, *geotiff.File, error) {
	f, err := geotiff.Open(path)
	if err != nil {
		return nil, nil, &domain.RasterReadError{Name: filepath.Base(path), Err: err}
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	layer, err := f.Layer(name, role)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return layer, f, nil
}
