package geocore

import "math"

// slopeAspect implements the generalized-Horn slope/aspect of §4.4 over an
// elevation-band window centered at (col, row).
func (rs *RasterSource) slopeAspect(bi *bandInfo, col, row int, lat float64, scaleMeters float64) (*Derivatives, error) {
	dx := rs.effectivePixelMeters(lat)
	dy := rs.PixelSizeY
	if rs.handle.geographic {
		dy *= 111320.0 // one degree of latitude is ~constant in meters
	}

	k := 1
	if scaleMeters > dx {
		k = int(math.Round(scaleMeters / dx / 2))
		if k < 1 {
			k = 1
		}
	}
	side := 2*k + 1
	x0, y0 := col-k, row-k
	if x0 < 0 || y0 < 0 || x0+side > rs.handle.sizeX || y0+side > rs.handle.sizeY {
		return &Derivatives{SlopeDegrees: math.NaN(), AspectDegrees: math.NaN()}, nil
	}

	window, err := rs.readWindow(bi.index, x0, y0, side)
	if err != nil {
		return nil, err
	}

	var numX, numY, wx, wy float64
	count := 0
	for r := -k; r <= k; r++ {
		for c := -k; c <= k; c++ {
			if r == 0 && c == 0 {
				continue
			}
			v := window[(r+k)*side+(c+k)]
			if isNodata(v, bi.nodata, bi.hasNodata) {
				continue
			}
			var w float64
			if r == 0 || c == 0 {
				w = 2
			} else {
				w = 1
			}
			numX += w * v * float64(c)
			numY += w * v * float64(r)
			wx += w * math.Abs(float64(c))
			wy += w * math.Abs(float64(r))
			count++
		}
	}

	if wx == 0 || wy == 0 {
		return &Derivatives{SlopeDegrees: math.NaN(), AspectDegrees: math.NaN()}, nil
	}

	dzdx := numX / (wx * dx * float64(k))
	dzdy := numY / (wy * dy * float64(k))

	slope := math.Atan(math.Sqrt(dzdx*dzdx + dzdy*dzdy))
	var aspect float64
	if slope == 0 {
		aspect = 0
	} else {
		aspect = math.Atan2(dzdy, -dzdx)
		if aspect < 0 {
			aspect += 2 * math.Pi
		}
	}

	const rad2deg = 180.0 / math.Pi
	return &Derivatives{
		Count:         count,
		SlopeDegrees:  slope * rad2deg,
		AspectDegrees: aspect * rad2deg,
	}, nil
}
