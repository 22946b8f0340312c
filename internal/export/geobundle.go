package export

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/flood-metrics-service/internal/adapter/shapefile"
	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// WriteGeoBundle writes a zip archive at path containing a shapefile of the
// layer's geometries with their statistics attached as attributes. The
// shapefile inside the archive is named after the zip.
func WriteGeoBundle(path string, layer *domain.VectorLayer, rs *domain.ResultSet) error {
	artifact := filepath.Base(path)

	features, columns, err := mergedFeatures(layer, rs)
	if err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}

	tmpDir, err := os.MkdirTemp("", "floodmetrics-bundle-*")
	if err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	base := strings.TrimSuffix(artifact, filepath.Ext(artifact))
	shpPath := filepath.Join(tmpDir, base+".shp")
	if err := shapefile.Write(shpPath, features, columns); err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}

	if err := zipDir(path, tmpDir); err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}
	return nil
}

// zipDir archives every regular file in dir into a flat zip at path.
func zipDir(path, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := zipFile(zw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func zipFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
