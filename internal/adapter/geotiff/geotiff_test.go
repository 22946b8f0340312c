package geotiff

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// writeTestTIFF builds a minimal little-endian GeoTIFF: a 3x2 float32
// raster in one strip, pixel size 0.5, top-left corner at (-93.5, 45.0),
// nodata -9999. epsg 0 omits the GeoKey directory entirely.
func writeTestTIFF(t *testing.T, epsg int) string {
	t.Helper()

	le := binary.LittleEndian
	values := []float32{1, 2, 3, 4, 5, 6}

	var buf []byte
	u16 := func(v uint16) { buf = le.AppendUint16(buf, v) }
	u32 := func(v uint32) { buf = le.AppendUint32(buf, v) }
	f64 := func(v float64) { buf = le.AppendUint64(buf, math.Float64bits(v)) }

	// Header with a placeholder IFD offset, patched below.
	buf = append(buf, 'I', 'I')
	u16(42)
	u32(0)

	pixelOff := len(buf)
	for _, v := range values {
		u32(math.Float32bits(v))
	}

	scaleOff := len(buf)
	f64(0.5)
	f64(0.5)
	f64(0)

	tieOff := len(buf)
	for _, v := range []float64{0, 0, 0, -93.5, 45.0, 0} {
		f64(v)
	}

	geoOff := len(buf)
	if epsg != 0 {
		for _, v := range []uint16{1, 1, 0, 1, 2048, 0, 1, uint16(epsg)} {
			u16(v)
		}
	}

	nodataOff := len(buf)
	buf = append(buf, []byte("-9999\x00")...)

	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	ifdOff := len(buf)
	le.PutUint32(buf[4:8], uint32(ifdOff))

	type field struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	fields := []field{
		{256, 3, 1, 3},                       // width
		{257, 3, 1, 2},                       // height
		{258, 3, 1, 32},                      // bits per sample
		{259, 3, 1, 1},                       // uncompressed
		{273, 4, 1, uint32(pixelOff)},        // strip offsets
		{277, 3, 1, 1},                       // samples per pixel
		{278, 3, 1, 2},                       // rows per strip
		{279, 4, 1, 24},                      // strip byte counts
		{339, 3, 1, 3},                       // float samples
		{33550, 12, 3, uint32(scaleOff)},     // pixel scale
		{33922, 12, 6, uint32(tieOff)},       // tiepoint
		{34735, 3, 8, uint32(geoOff)},        // geokeys
		{42113, 2, 6, uint32(nodataOff)},     // GDAL nodata
	}
	if epsg == 0 {
		filtered := fields[:0]
		for _, f := range fields {
			if f.tag != 34735 {
				filtered = append(filtered, f)
			}
		}
		fields = filtered
	}

	u16(uint16(len(fields)))
	for _, f := range fields {
		u16(f.tag)
		u16(f.typ)
		u32(f.count)
		u32(f.value)
	}
	u32(0) // no next IFD

	path := filepath.Join(t.TempDir(), "test.tif")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func openTest(t *testing.T, epsg int) *File {
	t.Helper()
	f, err := Open(writeTestTIFF(t, epsg))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpen_ParsesGeoreference(t *testing.T) {
	f := openTest(t, 4326)

	layer, err := f.Layer("dem", domain.RoleDEM)
	require.NoError(t, err)

	assert.Equal(t, domain.CRS4326, layer.CRS)
	assert.Equal(t, 3, layer.Grid.Width)
	assert.Equal(t, 2, layer.Grid.Height)
	assert.InDelta(t, -93.5, layer.Grid.OriginX, 1e-12)
	assert.InDelta(t, 45.0, layer.Grid.OriginY, 1e-12)
	assert.InDelta(t, 0.5, layer.Grid.PixelWidth, 1e-12)
	assert.InDelta(t, 0.5, layer.Grid.PixelHeight, 1e-12)

	require.NotNil(t, layer.NoData)
	assert.InDelta(t, -9999, *layer.NoData, 1e-12)
}

func TestReadWindow(t *testing.T) {
	f := openTest(t, 4326)

	full, err := f.ReadWindow(domain.Window{Width: 3, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, full)

	sub, err := f.ReadWindow(domain.Window{Col: 1, Row: 1, Width: 2, Height: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, sub)

	single, err := f.ReadWindow(domain.Window{Col: 2, Row: 0, Width: 1, Height: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, single)
}

func TestReadWindow_OutOfRange(t *testing.T) {
	f := openTest(t, 4326)

	_, err := f.ReadWindow(domain.Window{Col: 2, Row: 0, Width: 2, Height: 1})
	require.Error(t, err)

	_, err = f.ReadWindow(domain.Window{Col: -1, Row: 0, Width: 1, Height: 1})
	require.Error(t, err)
}

func TestLayer_ValueAt(t *testing.T) {
	f := openTest(t, 4326)
	layer, err := f.Layer("dem", domain.RoleDEM)
	require.NoError(t, err)

	v, err := layer.ValueAt(orb.Point{-93.25, 44.75})
	require.NoError(t, err)
	assert.True(t, v.Defined)
	assert.InDelta(t, 1, v.Value, 1e-12)

	v, err = layer.ValueAt(orb.Point{-92.25, 44.25})
	require.NoError(t, err)
	assert.True(t, v.Defined)
	assert.InDelta(t, 6, v.Value, 1e-12)
}

func TestLayer_MissingCRS(t *testing.T) {
	f := openTest(t, 0)
	_, err := f.Layer("dem", domain.RoleDEM)
	require.ErrorIs(t, err, domain.ErrCRSUndefined)
}

func TestLayer_UnsupportedCRS(t *testing.T) {
	f := openTest(t, 26915)
	_, err := f.Layer("dem", domain.RoleDEM)

	var unsupported *domain.UnsupportedCRSError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, 26915, unsupported.Code)
}

func TestOpen_RejectsNonTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-tiff.tif")
	require.NoError(t, os.WriteFile(path, []byte("PNG..."), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}
