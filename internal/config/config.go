package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all analysis settings, populated from environment variables.
type Config struct {
	// Raster inputs. DEM and WSE are required; the rest are optional and
	// simply disable their statistics when unset.
	DEMPath         string
	WSEPath         string
	VelocityPath    string
	DepthPath       string
	ArrivalTimePath string

	// Vector inputs. Buildings are optional; when unset, footprints are
	// acquired from the remote tile source instead.
	BuildingsPath     string
	CrossSectionsPath string
	PointsPath        string
	IDColumn          string

	OutputDir string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Footprint acquisition configuration.
	FootprintIndexURL string
	FootprintZoom     int
	FootprintWorkers  int
	FootprintCache    int
	FetchTimeout      time.Duration
	FetchMaxAttempts  int
	FetchBaseDelay    time.Duration
	FetchMaxDelay     time.Duration

	// StationInterval is the cross-section station spacing, in the units
	// of the normalized CRS.
	StationInterval float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	baseDelay, err := parseDuration("FETCH_BASE_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	maxDelay, err := parseDuration("FETCH_MAX_DELAY", "5s")
	if err != nil {
		return nil, err
	}

	stationInterval, err := parseFloat("STATION_INTERVAL", "0.0001")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DEMPath:         os.Getenv("DEM_PATH"),
		WSEPath:         os.Getenv("WSE_PATH"),
		VelocityPath:    os.Getenv("VELOCITY_PATH"),
		DepthPath:       os.Getenv("DEPTH_PATH"),
		ArrivalTimePath: os.Getenv("ARRIVAL_TIME_PATH"),

		BuildingsPath:     os.Getenv("BUILDINGS_PATH"),
		CrossSectionsPath: os.Getenv("CROSS_SECTIONS_PATH"),
		PointsPath:        os.Getenv("POINTS_PATH"),
		IDColumn:          envOrDefault("ID_COLUMN", "id"),

		OutputDir: envOrDefault("OUTPUT_DIR", "out"),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FootprintIndexURL: os.Getenv("FOOTPRINT_INDEX_URL"),
		FootprintZoom:     parseIntOrDefault("FOOTPRINT_ZOOM", 9),
		FootprintWorkers:  parseIntOrDefault("FOOTPRINT_WORKERS", 4),
		FootprintCache:    parseIntOrDefault("FOOTPRINT_CACHE_SIZE", 64),
		FetchTimeout:      fetchTimeout,
		FetchMaxAttempts:  parseIntOrDefault("FETCH_MAX_ATTEMPTS", 3),
		FetchBaseDelay:    baseDelay,
		FetchMaxDelay:     maxDelay,

		StationInterval: stationInterval,
	}

	if cfg.DEMPath == "" {
		return nil, errors.New("DEM_PATH is required")
	}
	if cfg.WSEPath == "" {
		return nil, errors.New("WSE_PATH is required")
	}
	if cfg.FootprintZoom < 1 || cfg.FootprintZoom > 23 {
		return nil, errors.New("FOOTPRINT_ZOOM must be between 1 and 23")
	}
	if cfg.FetchMaxAttempts < 1 {
		return nil, errors.New("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.StationInterval <= 0 {
		return nil, errors.New("STATION_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(envOrDefault(key, def), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseIntOrDefault(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
