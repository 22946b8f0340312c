package export

import (
	"os"
	"path/filepath"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// Artifact file names within the output directory.
const (
	BuildingsTableName  = "buildings.csv"
	BuildingsBundleName = "buildings.zip"
	PointsTableName     = "points.csv"
	ProfileBundleName   = "cross_sections.html"
)

// Dir writes every artifact of a run into one output directory.
type Dir struct {
	Path string
}

// NewDir creates the output directory if needed.
func NewDir(path string) (Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Dir{}, &domain.ExportError{Artifact: path, Err: err}
	}
	return Dir{Path: path}, nil
}

// ExportBuildings writes the building statistics table and the zipped
// shapefile bundle.
func (d Dir) ExportBuildings(layer *domain.VectorLayer, rs *domain.ResultSet) error {
	if err := WriteStatsFile(filepath.Join(d.Path, BuildingsTableName), layer, rs); err != nil {
		return err
	}
	return WriteGeoBundle(filepath.Join(d.Path, BuildingsBundleName), layer, rs)
}

// ExportPoints writes the point statistics table.
func (d Dir) ExportPoints(layer *domain.VectorLayer, rs *domain.ResultSet) error {
	return WriteStatsFile(filepath.Join(d.Path, PointsTableName), layer, rs)
}

// ExportProfiles writes the cross-section profile bundle.
func (d Dir) ExportProfiles(sections []SectionProfile) error {
	return WriteProfileBundle(filepath.Join(d.Path, ProfileBundleName), sections)
}
