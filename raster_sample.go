package geocore

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Point is one (x, y[, z][, gps_time]) input to GetSamples, expressed in the
// DataFrame's target CRS (§4.5 step 1).
type Point struct {
	X, Y, Z float64
	GpsTime float64
}

// SetTargetCRS resolves (or reuses) the cached transform from targetCRS into
// rs's source CRS. Subsequent GetSamples calls reproject every point
// through it before sampling.
func (rs *RasterSource) SetTargetCRS(targetCRS string) error {
	ct, err := transformCache.Get(targetCRS, rs.SourceCRS)
	if err != nil {
		return err
	}
	rs.TargetCRS = targetCRS
	rs.transform = ct
	return nil
}

// effectivePixelMeters returns the east-west pixel size in meters, applying
// the geographic-degrees conversion at the given latitude when needed.
func (rs *RasterSource) effectivePixelMeters(lat float64) float64 {
	if rs.handle.geographic {
		return rs.PixelSizeX * metersPerDegreeLongitude(lat)
	}
	return rs.PixelSizeX
}

// GetSamples implements §4.5 step 2 for a single configured raster: one
// sample list per input point (empty when the point falls outside the
// raster or its transform fails).
func (rs *RasterSource) GetSamples(points []Point, alg SamplingAlgorithm, radiusMeters float64, withStats, withDerivs bool, slopeScaleMeters float64) ([][]Sample, error) {
	out := make([][]Sample, len(points))

	for i, pt := range points {
		x, y := pt.X, pt.Y
		var err error
		if rs.transform != nil {
			x, y, err = rs.transform.apply(x, y)
			if err != nil {
				out[i] = nil
				continue
			}
		}

		col, row := rs.pixelForMap(x, y)
		icol, irow := int(math.Floor(col)), int(math.Floor(row))
		if icol < 0 || irow < 0 || icol >= rs.handle.sizeX || irow >= rs.handle.sizeY {
			LogDebugOutOfBounds(fmt.Sprintf("point (%g,%g) -> pixel (%d,%d) outside raster %s", x, y, icol, irow, rs.FileName))
			out[i] = nil
			continue
		}

		samples, err := rs.sampleAllBands(icol, irow, pt, alg, radiusMeters, withStats, withDerivs, slopeScaleMeters)
		if err != nil {
			return nil, err
		}
		out[i] = samples
	}
	return out, nil
}

func (rs *RasterSource) sampleAllBands(col, row int, pt Point, alg SamplingAlgorithm, radiusMeters float64, withStats, withDerivs bool, slopeScaleMeters float64) ([]Sample, error) {
	samples := make([]Sample, 0, len(rs.BandMap))
	for name := range rs.BandMap {
		bi := rs.handle.byName[name]
		if bi == nil {
			continue
		}
		if bi.isFlagsPad {
			v, err := rs.readPixel(bi.index, col, row)
			if err != nil {
				return nil, err
			}
			s := Sample{FileID: rs.FileID, BandName: name, TimeGps: pt.GpsTime, Flags: uint64(int64(v))}
			samples = append(samples, s)
			continue
		}

		s, err := rs.sampleBand(bi, col, row, pt, alg, radiusMeters, withStats, withDerivs, slopeScaleMeters)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (rs *RasterSource) sampleBand(bi *bandInfo, col, row int, pt Point, alg SamplingAlgorithm, radiusMeters float64, withStats, withDerivs bool, slopeScaleMeters float64) (Sample, error) {
	half := rs.kernelHalfWidth(alg, radiusMeters, pt.Y)

	value, err := rs.windowValue(bi, col, row, half, alg)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{FileID: rs.FileID, BandName: bi.name, TimeGps: pt.GpsTime}
	if isNodata(value, bi.nodata, bi.hasNodata) {
		s.Value = math.NaN()
	} else {
		s.Value = value
		if bi.name == rs.ElevationBand {
			s.VerticalShift = 0 // vertical-shift correction hook; no datum model wired in this source
			s.Value += s.VerticalShift
		}
	}

	if withStats {
		stats, err := rs.zonalStats(bi, col, row, half)
		if err != nil {
			return Sample{}, err
		}
		s.Stats = stats
	}
	if withDerivs && bi.name == rs.ElevationBand {
		derivs, err := rs.slopeAspect(bi, col, row, pt.Y, slopeScaleMeters)
		if err != nil {
			return Sample{}, err
		}
		s.Derivs = derivs
	}
	return s, nil
}

// kernelHalfWidth resolves the window half-width in pixels: the algorithm's
// default, or a radius-in-meters override converted via the effective
// pixel size at the point's latitude.
func (rs *RasterSource) kernelHalfWidth(alg SamplingAlgorithm, radiusMeters, lat float64) int {
	if alg == NearestNeighbour {
		return 0
	}
	if radiusMeters > 0 {
		pixMeters := rs.effectivePixelMeters(lat)
		radiusPixels := int(math.Ceil(radiusMeters / pixMeters))
		return radiusPixels
	}
	side := alg.defaultKernelPixels()
	return (side - 1) / 2
}

// windowValue dispatches to the nearest-pixel read or one of the seven
// window-based kernels. A window crossing the raster edge falls back to the
// nearest-pixel value per §4.4.
func (rs *RasterSource) windowValue(bi *bandInfo, col, row, half int, alg SamplingAlgorithm) (float64, error) {
	if alg == NearestNeighbour || half == 0 {
		return rs.readPixel(bi.index, col, row)
	}

	x0, y0 := col-half, row-half
	side := 2*half + 1
	if x0 < 0 || y0 < 0 || x0+side > rs.handle.sizeX || y0+side > rs.handle.sizeY {
		return rs.readPixel(bi.index, col, row)
	}

	window, err := rs.readWindow(bi.index, x0, y0, side)
	if err != nil {
		return 0, err
	}

	switch alg {
	case Bilinear, Cubic, CubicSpline, Lanczos:
		return weightedKernelValue(window, side, half, alg, bi), nil
	case Average:
		return averageValue(window, bi), nil
	case Mode:
		return modeValue(window, bi), nil
	case Gauss:
		return gaussValue(window, side, half, bi), nil
	default:
		return rs.readPixel(bi.index, col, row)
	}
}

func (rs *RasterSource) readPixel(bandIdx, col, row int) (float64, error) {
	vals, err := rs.readWindow(bandIdx, col, row, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// readWindow reads a side×side window of band bandIdx starting at (x0,y0)
// as float64, serialized against concurrent reads on the same handle. A
// failed read is retried once after a 50ms back-off per §7's
// ReadFailed{retryable} policy; a retry that succeeds logs at WARNING, one
// that still fails logs at ERROR.
func (rs *RasterSource) readWindow(bandIdx, x0, y0, side int) ([]float64, error) {
	if bandIdx < 0 || bandIdx >= len(rs.handle.bands) {
		return nil, fmt.Errorf("%w: band index %d out of range", ErrReadFailed, bandIdx)
	}

	buf := make([]float64, side*side)
	err := rs.readWindowOnce(bandIdx, x0, y0, side, buf)
	if err == nil {
		return buf, nil
	}

	time.Sleep(50 * time.Millisecond)
	if retryErr := rs.readWindowOnce(bandIdx, x0, y0, side, buf); retryErr == nil {
		LogWarningRetry(err, "raster read succeeded on retry")
		return buf, nil
	}
	LogError(err, "raster read failed after retry")
	return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
}

func (rs *RasterSource) readWindowOnce(bandIdx, x0, y0, side int, buf []float64) error {
	rs.handle.mu.Lock()
	defer rs.handle.mu.Unlock()
	return rs.handle.bands[bandIdx].Read(x0, y0, buf, side, side)
}

// weightedKernelValue applies a separable 1-D kernel (linear, cubic, cubic
// spline, or windowed-sinc/Lanczos) along rows then columns of the window,
// centered at its midpoint. The sample point is assumed at the window
// centre since GetSamples only ever calls this at the containing pixel.
func weightedKernelValue(window []float64, side, half int, alg SamplingAlgorithm, bi *bandInfo) float64 {
	kernel := func(d float64) float64 {
		a := math.Abs(d)
		switch alg {
		case Bilinear:
			if a >= 1 {
				return 0
			}
			return 1 - a
		case Cubic, CubicSpline:
			if a < 1 {
				return 1.5*a*a*a - 2.5*a*a + 1
			}
			if a < 2 {
				return -0.5*a*a*a + 2.5*a*a - 4*a + 2
			}
			return 0
		case Lanczos:
			if a == 0 {
				return 1
			}
			if a >= 3 {
				return 0
			}
			return 3 * math.Sin(math.Pi*a) * math.Sin(math.Pi*a/3) / (math.Pi * math.Pi * a * a)
		default:
			if a == 0 {
				return 1
			}
			return 0
		}
	}

	var sum, wsum float64
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			v := window[r*side+c]
			if isNodata(v, bi.nodata, bi.hasNodata) {
				continue
			}
			w := kernel(float64(r-half)) * kernel(float64(c-half))
			sum += w * v
			wsum += w
		}
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}

func averageValue(window []float64, bi *bandInfo) float64 {
	var sum float64
	var n int
	for _, v := range window {
		if isNodata(v, bi.nodata, bi.hasNodata) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func modeValue(window []float64, bi *bandInfo) float64 {
	counts := make(map[float64]int)
	best := math.NaN()
	bestCount := 0
	for _, v := range window {
		if isNodata(v, bi.nodata, bi.hasNodata) {
			continue
		}
		counts[v]++
		if counts[v] > bestCount {
			bestCount = counts[v]
			best = v
		}
	}
	return best
}

func gaussValue(window []float64, side, half int, bi *bandInfo) float64 {
	sigma := float64(half) / 2
	if sigma == 0 {
		sigma = 1
	}
	var sum, wsum float64
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			v := window[r*side+c]
			if isNodata(v, bi.nodata, bi.hasNodata) {
				continue
			}
			dr, dc := float64(r-half), float64(c-half)
			w := math.Exp(-(dr*dr + dc*dc) / (2 * sigma * sigma))
			sum += w * v
			wsum += w
		}
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}

// zonalStats implements §4.4's restricted-to-radius statistics.
func (rs *RasterSource) zonalStats(bi *bandInfo, col, row, half int) (*ZonalStats, error) {
	side := 2*half + 1
	x0, y0 := col-half, row-half
	if x0 < 0 || y0 < 0 || x0+side > rs.handle.sizeX || y0+side > rs.handle.sizeY {
		return &ZonalStats{}, nil
	}

	window, err := rs.readWindow(bi.index, x0, y0, side)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0, side*side)
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			dr, dc := float64(r-half), float64(c-half)
			if dr*dr+dc*dc > float64(half*half) {
				continue
			}
			v := window[r*side+c]
			if isNodata(v, bi.nodata, bi.hasNodata) {
				continue
			}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return &ZonalStats{}, nil
	}

	stats := &ZonalStats{Count: len(values)}
	stats.Min = lo.Min(values)
	stats.Max = lo.Max(values)
	stats.Mean = lo.Sum(values) / float64(len(values))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		stats.Median = sorted[n/2]
	} else {
		stats.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var varSum, madSum float64
	for _, v := range values {
		varSum += (v - stats.Mean) * (v - stats.Mean)
		madSum += math.Abs(v - stats.Mean)
	}
	stats.Stdev = math.Sqrt(varSum / float64(len(values)))
	stats.Mad = madSum / float64(len(values))

	return stats, nil
}
