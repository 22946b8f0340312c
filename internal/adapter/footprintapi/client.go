// Package footprintapi fetches building footprint tiles from the Microsoft
// Global Building Footprints dataset: a CSV index mapping quadkeys to tile
// URLs, each tile a gzipped newline-delimited stream of GeoJSON features.
package footprintapi

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/footprint"
)

// DefaultIndexURL is the published dataset index.
const DefaultIndexURL = "https://minedbuildings.z5.web.core.windows.net/global-buildings/dataset-links.csv"

// Individual tiles run to tens of megabytes of NDJSON; lines are single
// features and stay well under this.
const maxLineBytes = 16 << 20

// Client implements footprint.TileFetcher against the dataset index.
type Client struct {
	indexURL   string
	httpClient *http.Client
	logger     *slog.Logger

	indexMu sync.Mutex
	index   map[string]string // quadkey -> tile URL, nil until loaded
}

// NewClient creates a footprint tile client. indexURL may be empty to use
// the published dataset.
func NewClient(indexURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	return &Client{
		indexURL: indexURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchTile downloads and decodes one tile. Quadkeys absent from the index
// have no coverage and yield an empty tile rather than an error.
func (c *Client) FetchTile(ctx context.Context, quadkey string) (domain.Tile, error) {
	bound, err := footprint.TileBound(quadkey)
	if err != nil {
		return domain.Tile{}, err
	}
	tile := domain.Tile{Quadkey: quadkey, Bound: bound}

	if err := c.loadIndex(ctx); err != nil {
		return domain.Tile{}, err
	}

	c.indexMu.Lock()
	tileURL, ok := c.index[quadkey]
	c.indexMu.Unlock()
	if !ok {
		c.logger.Debug("no footprint coverage for tile", "quadkey", quadkey)
		return tile, nil
	}

	body, err := c.get(ctx, tileURL)
	if err != nil {
		return domain.Tile{}, fmt.Errorf("tile %s: %w", quadkey, err)
	}
	defer body.Close()

	buildings, err := decodeFeatures(body)
	if err != nil {
		return domain.Tile{}, fmt.Errorf("tile %s: %w", quadkey, err)
	}
	tile.Buildings = buildings
	return tile, nil
}

// loadIndex fetches and parses the quadkey index. The index is cached only
// on success so a transient failure is retried on the next call instead of
// poisoning every later fetch.
func (c *Client) loadIndex(ctx context.Context) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if c.index != nil {
		return nil
	}

	body, err := c.get(ctx, c.indexURL)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}
	defer body.Close()

	index, err := parseIndex(body)
	if err != nil {
		return err
	}
	c.index = index
	c.logger.Info("loaded footprint tile index", "tiles", len(c.index))
	return nil
}

func (c *Client) get(ctx context.Context, fullURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return maybeGunzip(resp.Body)
}

// maybeGunzip wraps the stream in a gzip reader when it carries the gzip
// magic bytes. Tile payloads are gzipped; the index and test servers are
// usually plain.
func maybeGunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		rc.Close()
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &gzipCloser{zr: zr, under: rc}, nil
	}
	return &readCloser{Reader: br, under: rc}, nil
}

type gzipCloser struct {
	zr    *gzip.Reader
	under io.ReadCloser
}

func (g *gzipCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipCloser) Close() error {
	g.zr.Close()
	return g.under.Close()
}

type readCloser struct {
	io.Reader
	under io.ReadCloser
}

func (r *readCloser) Close() error { return r.under.Close() }

// parseIndex reads the dataset CSV, keeping the QuadKey and Url columns.
func parseIndex(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	quadCol, urlCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "quadkey":
			quadCol = i
		case "url":
			urlCol = i
		}
	}
	if quadCol < 0 || urlCol < 0 {
		return nil, fmt.Errorf("index is missing QuadKey or Url column: %v", header)
	}

	index := make(map[string]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index: %w", err)
		}
		if quadCol >= len(rec) || urlCol >= len(rec) {
			continue
		}
		index[strings.TrimSpace(rec[quadCol])] = strings.TrimSpace(rec[urlCol])
	}
	return index, nil
}

// decodeFeatures parses one GeoJSON feature per line. Properties become
// string attributes so they survive into exports untouched.
func decodeFeatures(r io.Reader) ([]domain.Building, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var buildings []domain.Building
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		feat, err := geojson.UnmarshalFeature([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if feat.Geometry == nil {
			continue
		}

		attrs := make(map[string]string, len(feat.Properties))
		for k, v := range feat.Properties {
			attrs[k] = propertyString(v)
		}
		buildings = append(buildings, domain.Building{
			Geometry: feat.Geometry,
			Attrs:    attrs,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan features: %w", err)
	}
	return buildings, nil
}

func propertyString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
