package geocore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
)

// crsTransform is one resolved source→target coordinate transform, held by
// GenericTransformCache (§4.4, §5's "Transform cache" shared resource).
// identity is set when the two CRS strings match or either is empty; apply
// then returns the point unchanged.
type crsTransform struct {
	identity  bool
	transform *godal.Transform
}

var transformCache = NewGenericTransformCache()

// GenericTransformCache memoizes resolved CRS pairs process-wide so repeated
// samplers against the same (source, target) pair share one godal.Transform.
// First writer wins per §5's shared-resource discipline.
type GenericTransformCache struct {
	mu    sync.Mutex
	cache map[[2]string]*crsTransform
}

func NewGenericTransformCache() *GenericTransformCache {
	return &GenericTransformCache{cache: make(map[[2]string]*crsTransform)}
}

func (c *GenericTransformCache) Get(source, target string) (*crsTransform, error) {
	key := [2]string{source, target}

	c.mu.Lock()
	if ct, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return ct, nil
	}
	c.mu.Unlock()

	ct, err := newCrsTransform(source, target)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.cache[key] = ct
	c.mu.Unlock()
	return ct, nil
}

func newCrsTransform(source, target string) (*crsTransform, error) {
	if source == "" || target == "" || strings.EqualFold(source, target) {
		return &crsTransform{identity: true}, nil
	}

	srcRef, err := spatialRefFromString(source)
	if err != nil {
		return nil, fmt.Errorf("%w: source CRS %q: %v", ErrTransformFailed, source, err)
	}
	dstRef, err := spatialRefFromString(target)
	if err != nil {
		return nil, fmt.Errorf("%w: target CRS %q: %v", ErrTransformFailed, target, err)
	}

	t, err := godal.NewTransform(srcRef, dstRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}
	return &crsTransform{transform: t}, nil
}

func spatialRefFromString(crs string) (*godal.SpatialRef, error) {
	if strings.HasPrefix(strings.ToUpper(crs), "EPSG:") {
		return godal.NewSpatialRefFromEPSG(epsgCode(crs))
	}
	return godal.NewSpatialRefFromWKT(crs)
}

func epsgCode(crs string) int {
	var code int
	fmt.Sscanf(crs[len("EPSG:"):], "%d", &code)
	return code
}

// apply transforms one (x,y) point from source to target CRS and returns
// the transformed pair.
func (ct *crsTransform) apply(x, y float64) (float64, float64, error) {
	if ct.identity {
		return x, y, nil
	}
	xs := []float64{x}
	ys := []float64{y}
	zs := []float64{0}
	if err := ct.transform.TransformEx(xs, ys, zs, nil); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}
	return xs[0], ys[0], nil
}
