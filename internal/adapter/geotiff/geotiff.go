// Package geotiff reads single-band GeoTIFF rasters with windowed pixel
// access, so sampling a geometry only decodes the strips or tiles its
// bounding box touches.
//
// Supported layout: classic TIFF (little or big endian), one sample per
// pixel, strip or tile organized, uncompressed or deflate, integer and
// floating-point sample formats. Georeferencing comes from the
// ModelPixelScale and ModelTiepoint tags; the CRS from the GeoKey
// directory; nodata from the GDAL_NODATA tag.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
)

// TIFF tag IDs used by the reader.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// GeoKey IDs carrying the EPSG code.
const (
	geoKeyGeographicType = 2048
	geoKeyProjectedCS    = 3072
)

const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

const (
	formatUnsigned = 1
	formatSigned   = 2
	formatFloat    = 3
)

// File is an open GeoTIFF. It implements domain.RasterSource and stays open
// for the duration of a run so windows can be decoded on demand.
type File struct {
	f     *os.File
	order binary.ByteOrder

	grid    domain.Grid
	epsg    int
	nodata  *float64
	comp    uint16
	format  uint16
	bits    uint16
	offsets []uint64
	counts  []uint64

	tiled        bool
	blockW       int
	blockH       int
	blocksAcross int

	// Cache of the most recently decoded block; window reads over a
	// geometry touch blocks in clusters, so one entry goes a long way.
	mu        sync.Mutex
	cachedIdx int
	cached    []float64
	cachedH   int
}

type ifdEntry struct {
	typ    uint16
	count  uint32
	raw    [4]byte
	inline bool
}

var typeSize = map[uint16]int{
	1: 1, // BYTE
	2: 1, // ASCII
	3: 2, // SHORT
	4: 4, // LONG
	6: 1, // SBYTE
	8: 2, // SSHORT
	9: 4, // SLONG
	11: 4, // FLOAT
	12: 8, // DOUBLE
}

// Open parses a GeoTIFF's directory and georeferencing without decoding any
// pixel data.
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f := &File{f: osf, cachedIdx: -1}
	if err := f.parse(); err != nil {
		osf.Close()
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	return f.f.Close()
}

// Layer wraps the file as a raster layer with the given role. Files whose
// GeoKeys declare no EPSG code fail with ErrCRSUndefined; declared codes the
// reprojector cannot handle fail with UnsupportedCRSError.
func (f *File) Layer(name string, role domain.RasterRole) (*domain.RasterLayer, error) {
	switch f.epsg {
	case 0:
		return nil, domain.ErrCRSUndefined
	case int(domain.CRS4326), int(domain.CRS3857):
	default:
		return nil, &domain.UnsupportedCRSError{Code: f.epsg}
	}
	return domain.NewRasterLayer(name, role, domain.CRS(f.epsg), f.grid, f.nodata, f), nil
}

func (f *File) parse() error {
	var header [8]byte
	if _, err := f.f.ReadAt(header[:], 0); err != nil {
		return err
	}
	switch string(header[:2]) {
	case "II":
		f.order = binary.LittleEndian
	case "MM":
		f.order = binary.BigEndian
	default:
		return fmt.Errorf("not a TIFF file")
	}
	if magic := f.order.Uint16(header[2:4]); magic != 42 {
		return fmt.Errorf("unsupported TIFF variant (magic %d)", magic)
	}

	entries, err := f.readIFD(int64(f.order.Uint32(header[4:8])))
	if err != nil {
		return err
	}

	width := int(f.uintOr(entries, tagImageWidth, 0))
	height := int(f.uintOr(entries, tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return fmt.Errorf("missing image dimensions")
	}
	if spp := f.uintOr(entries, tagSamplesPerPixel, 1); spp != 1 {
		return fmt.Errorf("multi-band rasters are not supported (%d samples per pixel)", spp)
	}
	if pred := f.uintOr(entries, tagPredictor, 1); pred != 1 {
		return fmt.Errorf("predictor %d is not supported", pred)
	}

	f.bits = uint16(f.uintOr(entries, tagBitsPerSample, 1))
	f.comp = uint16(f.uintOr(entries, tagCompression, compressionNone))
	f.format = uint16(f.uintOr(entries, tagSampleFormat, formatUnsigned))
	switch f.comp {
	case compressionNone, compressionDeflate, compressionOldDeflate:
	default:
		return fmt.Errorf("compression %d is not supported", f.comp)
	}

	if _, tiledLayout := entries[tagTileOffsets]; tiledLayout {
		f.tiled = true
		f.blockW = int(f.uintOr(entries, tagTileWidth, 0))
		f.blockH = int(f.uintOr(entries, tagTileLength, 0))
		if f.blockW <= 0 || f.blockH <= 0 {
			return fmt.Errorf("missing tile dimensions")
		}
		if f.offsets, err = f.uints(entries[tagTileOffsets]); err != nil {
			return err
		}
		if f.counts, err = f.uints(entries[tagTileByteCounts]); err != nil {
			return err
		}
		f.blocksAcross = (width + f.blockW - 1) / f.blockW
	} else {
		f.blockW = width
		f.blockH = int(f.uintOr(entries, tagRowsPerStrip, uint64(height)))
		if f.blockH <= 0 || f.blockH > height {
			f.blockH = height
		}
		if f.offsets, err = f.uints(entries[tagStripOffsets]); err != nil {
			return err
		}
		if f.counts, err = f.uints(entries[tagStripByteCounts]); err != nil {
			return err
		}
		f.blocksAcross = 1
	}
	if len(f.offsets) == 0 || len(f.offsets) != len(f.counts) {
		return fmt.Errorf("inconsistent strip/tile tables")
	}

	scale, err := f.doubles(entries[tagModelPixelScale])
	if err != nil || len(scale) < 2 {
		return fmt.Errorf("missing ModelPixelScale tag")
	}
	tie, err := f.doubles(entries[tagModelTiepoint])
	if err != nil || len(tie) < 6 {
		return fmt.Errorf("missing ModelTiepoint tag")
	}
	f.grid = domain.Grid{
		Width:       width,
		Height:      height,
		OriginX:     tie[3] - tie[0]*scale[0],
		OriginY:     tie[4] + tie[1]*scale[1],
		PixelWidth:  scale[0],
		PixelHeight: scale[1],
	}

	f.epsg = f.parseGeoKeys(entries)

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.TrimRight(f.asciiOr(e), "\x00")
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.nodata = &v
		}
	}
	return nil
}

func (f *File) readIFD(offset int64) (map[uint16]ifdEntry, error) {
	var countBuf [2]byte
	if _, err := f.f.ReadAt(countBuf[:], offset); err != nil {
		return nil, err
	}
	n := int(f.order.Uint16(countBuf[:]))

	raw := make([]byte, n*12)
	if _, err := f.f.ReadAt(raw, offset+2); err != nil {
		return nil, err
	}

	entries := make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		rec := raw[i*12 : i*12+12]
		e := ifdEntry{
			typ:   f.order.Uint16(rec[2:4]),
			count: f.order.Uint32(rec[4:8]),
		}
		copy(e.raw[:], rec[8:12])
		size, ok := typeSize[e.typ]
		e.inline = ok && size*int(e.count) <= 4
		entries[f.order.Uint16(rec[0:2])] = e
	}
	return entries, nil
}

func (f *File) entryData(e ifdEntry) ([]byte, error) {
	size, ok := typeSize[e.typ]
	if !ok {
		return nil, fmt.Errorf("unsupported field type %d", e.typ)
	}
	total := size * int(e.count)
	if e.inline {
		return e.raw[:total], nil
	}
	data := make([]byte, total)
	if _, err := f.f.ReadAt(data, int64(f.order.Uint32(e.raw[:]))); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *File) uints(e ifdEntry) ([]uint64, error) {
	data, err := f.entryData(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1:
			out[i] = uint64(data[i])
		case 3:
			out[i] = uint64(f.order.Uint16(data[i*2:]))
		case 4:
			out[i] = uint64(f.order.Uint32(data[i*4:]))
		default:
			return nil, fmt.Errorf("unexpected field type %d for integer tag", e.typ)
		}
	}
	return out, nil
}

func (f *File) uintOr(entries map[uint16]ifdEntry, tag uint16, def uint64) uint64 {
	e, ok := entries[tag]
	if !ok {
		return def
	}
	vals, err := f.uints(e)
	if err != nil || len(vals) == 0 {
		return def
	}
	return vals[0]
}

func (f *File) doubles(e ifdEntry) ([]float64, error) {
	if e.count == 0 {
		return nil, fmt.Errorf("empty tag")
	}
	data, err := f.entryData(e)
	if err != nil {
		return nil, err
	}
	if e.typ != 12 {
		return nil, fmt.Errorf("unexpected field type %d for double tag", e.typ)
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(f.order.Uint64(data[i*8:]))
	}
	return out, nil
}

func (f *File) asciiOr(e ifdEntry) string {
	data, err := f.entryData(e)
	if err != nil {
		return ""
	}
	return string(data)
}

// parseGeoKeys walks the GeoKey directory for the EPSG code. Returns 0 when
// no geographic or projected CS key is present or the value is user-defined.
func (f *File) parseGeoKeys(entries map[uint16]ifdEntry) int {
	e, ok := entries[tagGeoKeyDirectory]
	if !ok {
		return 0
	}
	keys, err := f.uints(e)
	if err != nil || len(keys) < 4 {
		return 0
	}
	numKeys := int(keys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(keys) {
			break
		}
		keyID := keys[base]
		location := keys[base+1]
		value := keys[base+3]
		if location != 0 {
			continue // value stored in another tag, not a bare code
		}
		if keyID == geoKeyGeographicType || keyID == geoKeyProjectedCS {
			if value == 32767 { // user-defined
				continue
			}
			return int(value)
		}
	}
	return 0
}

// ReadWindow decodes exactly the blocks overlapping the window.
func (f *File) ReadWindow(win domain.Window) ([]float64, error) {
	if win.Empty() || win.Col < 0 || win.Row < 0 ||
		win.Col+win.Width > f.grid.Width || win.Row+win.Height > f.grid.Height {
		return nil, fmt.Errorf("window %+v outside %dx%d raster", win, f.grid.Width, f.grid.Height)
	}

	out := make([]float64, win.Width*win.Height)
	f.mu.Lock()
	defer f.mu.Unlock()

	for by := win.Row / f.blockH; by <= (win.Row+win.Height-1)/f.blockH; by++ {
		for bx := win.Col / f.blockW; bx <= (win.Col+win.Width-1)/f.blockW; bx++ {
			block, rows, err := f.blockLocked(by*f.blocksAcross + bx)
			if err != nil {
				return nil, err
			}

			// Intersection of the block and the window, in image coordinates.
			x0 := maxInt(win.Col, bx*f.blockW)
			x1 := minInt(win.Col+win.Width, bx*f.blockW+f.blockW)
			y0 := maxInt(win.Row, by*f.blockH)
			y1 := minInt(win.Row+win.Height, by*f.blockH+rows)

			for y := y0; y < y1; y++ {
				srcStart := (y-by*f.blockH)*f.blockW + (x0 - bx*f.blockW)
				dstStart := (y-win.Row)*win.Width + (x0 - win.Col)
				copy(out[dstStart:dstStart+(x1-x0)], block[srcStart:srcStart+(x1-x0)])
			}
		}
	}
	return out, nil
}

// blockLocked returns the decoded samples of one strip/tile and the number
// of valid rows it holds. Caller must hold f.mu.
func (f *File) blockLocked(idx int) ([]float64, int, error) {
	if idx == f.cachedIdx {
		return f.cached, f.cachedH, nil
	}
	if idx < 0 || idx >= len(f.offsets) {
		return nil, 0, fmt.Errorf("block %d out of range", idx)
	}

	raw := make([]byte, f.counts[idx])
	if _, err := f.f.ReadAt(raw, int64(f.offsets[idx])); err != nil {
		return nil, 0, err
	}

	if f.comp == compressionDeflate || f.comp == compressionOldDeflate {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, 0, err
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, 0, err
		}
	}

	rows := f.blockH
	if !f.tiled {
		if remaining := f.grid.Height - (idx/f.blocksAcross)*f.blockH; remaining < rows {
			rows = remaining
		}
	}

	samples := f.blockW * rows
	bytesPerSample := int(f.bits) / 8
	if len(raw) < samples*bytesPerSample {
		return nil, 0, fmt.Errorf("block %d truncated: %d bytes for %d samples", idx, len(raw), samples)
	}

	block := make([]float64, samples)
	for i := 0; i < samples; i++ {
		v, err := f.sample(raw, i*bytesPerSample)
		if err != nil {
			return nil, 0, err
		}
		block[i] = v
	}

	f.cachedIdx = idx
	f.cached = block
	f.cachedH = rows
	return block, rows, nil
}

func (f *File) sample(raw []byte, off int) (float64, error) {
	switch {
	case f.bits == 32 && f.format == formatFloat:
		return float64(math.Float32frombits(f.order.Uint32(raw[off:]))), nil
	case f.bits == 64 && f.format == formatFloat:
		return math.Float64frombits(f.order.Uint64(raw[off:])), nil
	case f.bits == 8 && f.format == formatUnsigned:
		return float64(raw[off]), nil
	case f.bits == 8 && f.format == formatSigned:
		return float64(int8(raw[off])), nil
	case f.bits == 16 && f.format == formatUnsigned:
		return float64(f.order.Uint16(raw[off:])), nil
	case f.bits == 16 && f.format == formatSigned:
		return float64(int16(f.order.Uint16(raw[off:]))), nil
	case f.bits == 32 && f.format == formatUnsigned:
		return float64(f.order.Uint32(raw[off:])), nil
	case f.bits == 32 && f.format == formatSigned:
		return float64(int32(f.order.Uint32(raw[off:]))), nil
	default:
		return 0, fmt.Errorf("sample format %d with %d bits is not supported", f.format, f.bits)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
