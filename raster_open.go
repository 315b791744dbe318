package geocore

import (
	"fmt"

	"github.com/airbusgeo/godal"
)

// RasterSource is a CRS-aware view onto one opened raster (§2, §4.4). Many
// RasterSource values may share one underlying RasterHandle (and therefore
// one GDAL dataset) when they address the same (file, group prefix).
type RasterSource struct {
	handle *RasterHandle

	FileName string
	GpsTime  float64
	FileID   int64

	BandMap       map[string]int
	ElevationBand string
	FlagsBand     string

	PixelSizeX, PixelSizeY float64
	Bbox                   [4]float64
	GeoTransform           [6]float64
	InvGeoTransform        [6]float64

	SourceCRS string
	TargetCRS string
	transform *crsTransform
}

// Open opens (or reuses a cached open of) filePath/groupPrefix and returns a
// RasterSource scoped to bandMap's bands. elevationBand and flagsBand, when
// non-empty, must be keys of bandMap.
func Open(cache *RasterHandleCache, filePath, groupPrefix string, bandMap map[string]int, elevationBand, flagsBand string) (*RasterSource, error) {
	handle, err := cache.Open(filePath, groupPrefix, func() (*RasterHandle, error) {
		return openHandle(filePath)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	rs := &RasterSource{
		handle:          handle,
		FileName:        filePath,
		BandMap:         bandMap,
		ElevationBand:   elevationBand,
		FlagsBand:       flagsBand,
		PixelSizeX:      handle.geoTransform[1],
		PixelSizeY:      -handle.geoTransform[5],
		GeoTransform:    handle.geoTransform,
		InvGeoTransform: handle.invGeoTransform,
	}
	rs.Bbox = [4]float64{
		handle.geoTransform[0],
		handle.geoTransform[3] + handle.geoTransform[5]*float64(handle.sizeY),
		handle.geoTransform[0] + handle.geoTransform[1]*float64(handle.sizeX),
		handle.geoTransform[3],
	}
	for name, idx := range bandMap {
		if _, ok := handle.byName[name]; !ok {
			handle.byName[name] = &bandInfo{index: idx, name: name}
			if idx >= 0 && idx < len(handle.bands) {
				if v, ok := handle.bands[idx].NoData(); ok {
					handle.byName[name].hasNodata = true
					handle.byName[name].nodata = v
				}
			}
		}
	}
	if flagsBand != "" {
		if bi, ok := handle.byName[flagsBand]; ok {
			bi.isFlagsPad = true
		}
	}
	return rs, nil
}

func openHandle(filePath string) (*RasterHandle, error) {
	godal.RegisterAll()

	ds, err := godal.Open(filePath)
	if err != nil {
		return nil, err
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		return nil, err
	}

	bands := ds.Bands()
	structure := ds.Structure()

	inv, err := invertGeoTransform(gt)
	if err != nil {
		ds.Close()
		return nil, err
	}

	geographic := false
	if sr, err := ds.SpatialRef(); err == nil && sr != nil {
		geographic = sr.IsGeographic()
	}

	return &RasterHandle{
		ds:              ds,
		bands:           bands,
		sizeX:           structure.SizeX,
		sizeY:           structure.SizeY,
		geoTransform:    gt,
		invGeoTransform: inv,
		geographic:      geographic,
		byName:          make(map[string]*bandInfo),
	}, nil
}

// invertGeoTransform derives the analytic inverse of a 6-parameter affine
// geo-transform (map = gt applied to pixel), per §2's invariant that pixel
// (0,0) maps to the raster's upper-left map corner.
func invertGeoTransform(gt [6]float64) ([6]float64, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return [6]float64{}, fmt.Errorf("%w: singular geo-transform", ErrTransformFailed)
	}
	invDet := 1.0 / det
	var inv [6]float64
	inv[1] = gt[5] * invDet
	inv[2] = -gt[2] * invDet
	inv[4] = -gt[4] * invDet
	inv[5] = gt[1] * invDet
	inv[0] = -gt[0]*inv[1] - gt[3]*inv[2]
	inv[3] = -gt[0]*inv[4] - gt[3]*inv[5]
	return inv, nil
}

// pixelForMap converts a map-space (x,y) into fractional pixel (col,row)
// using the cached inverse geo-transform.
func (rs *RasterSource) pixelForMap(x, y float64) (float64, float64) {
	gt := rs.InvGeoTransform
	col := gt[0] + gt[1]*x + gt[2]*y
	row := gt[3] + gt[4]*x + gt[5]*y
	return col, row
}
