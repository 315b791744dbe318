// Package search recursively locates candidate science-product files (HDF5
// granules, GeoTIFF rasters) under a local path or object-store URI, using
// TileDB's VFS so the same code walks S3/GCS/Azure prefixes and local
// directories alike.
package search

import (
	"fmt"
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// trawl recursively matches pattern against the basename of every file under
// uri, generalized from the teacher's GSF-only trawl (search/search.go) to
// accept any glob pattern and to return errors instead of panicking.
func trawl(vfs *tiledb.VFS, pattern, uri string, items []string) ([]string, error) {
	dirs, files, err := vfs.List(uri)
	if err != nil {
		return items, fmt.Errorf("listing %s: %w", uri, err)
	}

	for _, file := range files {
		match, err := filepath.Match(pattern, filepath.Base(file))
		if err != nil {
			return items, fmt.Errorf("matching pattern %q: %w", pattern, err)
		}
		if match {
			items = append(items, file)
		}
	}

	for _, dir := range dirs {
		items, err = trawl(vfs, pattern, dir, items)
		if err != nil {
			return items, err
		}
	}

	return items, nil
}

// Find recursively searches uri for files whose basename matches pattern
// (e.g. "*.h5" for HDF5 granules, "*.tif" for raster products), using
// configURI for object-store credentials when uri is not a local path.
func Find(uri, pattern, configURI string) ([]string, error) {
	var (
		config *tiledb.Config
		err    error
	)
	if configURI == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(configURI)
	}
	if err != nil {
		return nil, fmt.Errorf("loading TileDB config: %w", err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return nil, fmt.Errorf("creating TileDB context: %w", err)
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating TileDB VFS: %w", err)
	}
	defer vfs.Free()

	return trawl(vfs, pattern, uri, make([]string, 0, 16))
}

// FindHDF5 is Find with the granule-file pattern used by the ingest pipeline.
func FindHDF5(uri, configURI string) ([]string, error) {
	return Find(uri, "*.h5", configURI)
}

// FindRasters is Find with the auxiliary-raster pattern (DEMs, masks) used
// by the sampling pipeline.
func FindRasters(uri, configURI string) ([]string, error) {
	return Find(uri, "*.tif", configURI)
}
