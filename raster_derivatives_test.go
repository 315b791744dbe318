package geocore

import (
	"fmt"
	"math"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openMemRaster creates a single-band Float64 GDAL dataset backed by GDAL's
// /vsimem/ virtual filesystem (no real file on disk, per the godal doc
// examples' in-memory pattern) and fills it with fill(col, row). pixelSize
// is uniform on both axes; the origin sits at map (0, north).
func openMemRaster(t *testing.T, width, height int, pixelSize float64, fill func(col, row int) float64) *RasterSource {
	t.Helper()
	godal.RegisterAll()

	uri := fmt.Sprintf("/vsimem/geocore_test_%s.tif", t.Name())
	ds, err := godal.Create(godal.GTiff, uri, 1, godal.Float64, width, height)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	gt := [6]float64{0, pixelSize, 0, float64(height) * pixelSize, 0, -pixelSize}
	require.NoError(t, ds.SetGeoTransform(gt))

	buf := make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			buf[row*width+col] = fill(col, row)
		}
	}
	bands := ds.Bands()
	require.Len(t, bands, 1)
	require.NoError(t, bands[0].Write(0, 0, buf, width, height))

	inv, err := invertGeoTransform(gt)
	require.NoError(t, err)

	handle := &RasterHandle{
		ds:              ds,
		bands:           bands,
		sizeX:           width,
		sizeY:           height,
		geoTransform:    gt,
		invGeoTransform: inv,
		geographic:      false,
		byName: map[string]*bandInfo{
			"dem": {index: 0, name: "dem"},
		},
	}

	return &RasterSource{
		handle:        handle,
		PixelSizeX:    gt[1],
		PixelSizeY:    -gt[5],
		GeoTransform:  gt,
		ElevationBand: "dem",
		BandMap:       map[string]int{"dem": 0},
	}
}

// TestSlopeAspectOnTiltedPlane exercises §4.4's generalized-Horn derivative
// over an elevation surface that is a perfect plane tilted only along x, so
// the analytic slope/aspect are known exactly: slope = atan(dz/dx), aspect
// points due downhill (west, since elevation rises eastward).
func TestSlopeAspectOnTiltedPlane(t *testing.T) {
	const gradient = 2.0
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 {
		return gradient * float64(col)
	})

	bi := rs.handle.byName["dem"]
	derivs, err := rs.slopeAspect(bi, 5, 5, 0, 0)
	require.NoError(t, err)

	wantSlope := math.Atan(gradient) * 180.0 / math.Pi
	assert.InDelta(t, wantSlope, derivs.SlopeDegrees, 1e-9)
	assert.InDelta(t, 180.0, derivs.AspectDegrees, 1e-9)
}

// TestSlopeAspectOnFlatPlaneIsZero confirms the degenerate case: no
// elevation change in the window yields slope 0, and by convention aspect 0.
func TestSlopeAspectOnFlatPlaneIsZero(t *testing.T) {
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 { return 100 })

	bi := rs.handle.byName["dem"]
	derivs, err := rs.slopeAspect(bi, 5, 5, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, derivs.SlopeDegrees, 1e-9)
	assert.InDelta(t, 0, derivs.AspectDegrees, 1e-9)
}

// TestSlopeAspectNearEdgeIsNaN confirms §4.4's edge behavior: a window that
// would run off the raster returns NaN slope/aspect rather than reading out
// of bounds.
func TestSlopeAspectNearEdgeIsNaN(t *testing.T) {
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 { return float64(col) })

	bi := rs.handle.byName["dem"]
	derivs, err := rs.slopeAspect(bi, 0, 0, 0, 0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(derivs.SlopeDegrees))
	assert.True(t, math.IsNaN(derivs.AspectDegrees))
}

// TestZonalStatsOverUniformWindow confirms §4.4's circular-mask zonal
// statistics on a perfectly uniform surface: every unmasked pixel carries
// the same value, so min/max/mean/median collapse to it and spread is zero.
func TestZonalStatsOverUniformWindow(t *testing.T) {
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 { return 42.5 })

	bi := rs.handle.byName["dem"]
	half := 2
	stats, err := rs.zonalStats(bi, 5, 5, half)
	require.NoError(t, err)

	// Circular mask over a half=2 window keeps only offsets with
	// dr^2+dc^2 <= 4 out of the 5x5 square: 13 cells survive the mask.
	assert.Equal(t, 13, stats.Count)
	assert.InDelta(t, 42.5, stats.Min, 1e-9)
	assert.InDelta(t, 42.5, stats.Max, 1e-9)
	assert.InDelta(t, 42.5, stats.Mean, 1e-9)
	assert.InDelta(t, 42.5, stats.Median, 1e-9)
	assert.InDelta(t, 0, stats.Stdev, 1e-9)
	assert.InDelta(t, 0, stats.Mad, 1e-9)
}

// TestZonalStatsExcludesNodata confirms nodata pixels inside the window are
// dropped from the statistics rather than skewing them.
func TestZonalStatsExcludesNodata(t *testing.T) {
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 {
		if col == 5 && row == 4 {
			return -9999
		}
		return 10
	})
	bi := rs.handle.byName["dem"]
	bi.hasNodata = true
	bi.nodata = -9999

	half := 2
	stats, err := rs.zonalStats(bi, 5, 5, half)
	require.NoError(t, err)

	// (col=5, row=4) sits at mask offset (dr=-1, dc=0), inside the circle,
	// so it drops the surviving count from 13 to 12 without moving the mean.
	assert.Equal(t, 12, stats.Count)
	assert.InDelta(t, 10, stats.Mean, 1e-9)
}

// TestZonalStatsOutOfBoundsWindowReturnsEmpty confirms a window that would
// run off the raster returns a zero-value ZonalStats rather than erroring.
func TestZonalStatsOutOfBoundsWindowReturnsEmpty(t *testing.T) {
	rs := openMemRaster(t, 11, 11, 1, func(col, row int) float64 { return 10 })
	bi := rs.handle.byName["dem"]

	stats, err := rs.zonalStats(bi, 0, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}
