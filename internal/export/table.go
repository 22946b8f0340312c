// Package export serializes analysis results: delimited statistics tables,
// a zipped shapefile carrying geometry with attached statistics, and an
// interactive profile bundle.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// WriteStatsCSV writes a table merging source attributes with computed
// statistics, one row per geometry in result order. Undefined statistics
// are written as empty cells.
func WriteStatsCSV(w io.Writer, layer *domain.VectorLayer, rs *domain.ResultSet) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, 1+len(layer.Fields)+len(rs.Columns))
	header = append(header, "id")
	header = append(header, layer.Fields...)
	header = append(header, rs.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	attrs := make(map[string]map[string]string, len(layer.Features))
	for _, feat := range layer.Features {
		attrs[feat.ID] = feat.Attrs
	}

	row := make([]string, 0, len(header))
	for _, id := range rs.Order {
		row = row[:0]
		row = append(row, id)
		for _, field := range layer.Fields {
			row = append(row, attrs[id][field])
		}
		for _, col := range rs.Columns {
			row = append(row, FormatStat(rs.Get(id, col)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteStatsFile writes the statistics table to path.
func WriteStatsFile(path string, layer *domain.VectorLayer, rs *domain.ResultSet) error {
	f, err := os.Create(path)
	if err != nil {
		return &domain.ExportError{Artifact: filepath.Base(path), Err: err}
	}

	if err := WriteStatsCSV(f, layer, rs); err != nil {
		f.Close()
		return &domain.ExportError{Artifact: filepath.Base(path), Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.ExportError{Artifact: filepath.Base(path), Err: err}
	}
	return nil
}

// FormatStat renders a statistic for tabular output. Undefined values
// become the empty string.
func FormatStat(s domain.Stat) string {
	if !s.Defined {
		return ""
	}
	if s.Value == float64(int64(s.Value)) && s.Value < 1e15 && s.Value > -1e15 {
		return strconv.FormatInt(int64(s.Value), 10)
	}
	return strconv.FormatFloat(s.Value, 'f', 6, 64)
}

// mergedFeatures pairs each result row with its source geometry and a flat
// attribute map of source fields plus formatted statistics. Geometries
// without a feature (should not happen) are skipped.
func mergedFeatures(layer *domain.VectorLayer, rs *domain.ResultSet) ([]domain.Feature, []string, error) {
	byID := make(map[string]domain.Feature, len(layer.Features))
	for _, feat := range layer.Features {
		byID[feat.ID] = feat
	}

	columns := make([]string, 0, len(layer.Fields)+len(rs.Columns))
	columns = append(columns, layer.Fields...)
	columns = append(columns, rs.Columns...)

	out := make([]domain.Feature, 0, len(rs.Order))
	for _, id := range rs.Order {
		feat, ok := byID[id]
		if !ok {
			return nil, nil, fmt.Errorf("result row %s has no source geometry", id)
		}

		attrs := make(map[string]string, len(columns))
		for _, field := range layer.Fields {
			attrs[field] = feat.Attrs[field]
		}
		for _, col := range rs.Columns {
			attrs[col] = FormatStat(rs.Get(id, col))
		}
		out = append(out, domain.Feature{ID: id, Geometry: feat.Geometry, Attrs: attrs})
	}
	return out, columns, nil
}
