package domain

import (
	"errors"
	"fmt"
)

// ErrCRSUndefined is returned when an input file declares no coordinate
// reference system. The run cannot proceed without a known source CRS.
var ErrCRSUndefined = errors.New("coordinate reference system undefined")

// UnsupportedCRSError marks an input whose declared CRS is outside the set
// the reprojector can transform.
type UnsupportedCRSError struct {
	Code int
}

func (e *UnsupportedCRSError) Error() string {
	return fmt.Sprintf("unsupported coordinate reference system EPSG:%d", e.Code)
}

// CRSMismatchError is returned when layers with different CRSs reach a
// sampling call. Mismatches are rejected, never silently corrected.
type CRSMismatchError struct {
	Want, Got CRS
	Layer     string
}

func (e *CRSMismatchError) Error() string {
	return fmt.Sprintf("layer %q is in %s, expected %s", e.Layer, e.Got, e.Want)
}

// RasterReadError wraps a failure to read pixel data from a raster source.
// Fatal for required rasters; optional rasters only lose their statistics.
type RasterReadError struct {
	Name string
	Err  error
}

func (e *RasterReadError) Error() string {
	return fmt.Sprintf("read raster %q: %v", e.Name, e.Err)
}

func (e *RasterReadError) Unwrap() error { return e.Err }

// TileFetchError marks one footprint tile that failed after exhausting
// retries. The failure is isolated to that tile; the merge continues with
// the remaining tiles and reports partial coverage.
type TileFetchError struct {
	Quadkey  string
	Attempts int
	Err      error
}

func (e *TileFetchError) Error() string {
	return fmt.Sprintf("fetch tile %s: %d attempts failed: %v", e.Quadkey, e.Attempts, e.Err)
}

func (e *TileFetchError) Unwrap() error { return e.Err }

// ExportError wraps a failure to write an output artifact.
type ExportError struct {
	Artifact string
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Artifact, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
