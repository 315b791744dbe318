package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"

	"github.com/icesat2-sliderule/geocore"
	"github.com/icesat2-sliderule/geocore/search"
)

// buildPointFrame reads the X, Y and (optionally) TIME datasets of an HDF5
// granule and assembles them into a DataFrame with discovered role columns,
// the granule-to-frame step that the production resource dispatcher (out of
// scope here, §1) would otherwise perform before handing a frame to the
// frame-runner scheduler.
func buildPointFrame(file *geocore.Hdf5File, xPath, yPath, timePath string, startRow, numRows uint64) (*geocore.DataFrame, error) {
	xRes, err := file.ReadDataset(xPath, startRow, numRows)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", xPath, err)
	}
	xVals, err := xRes.Float64Values()
	if err != nil {
		return nil, err
	}

	yRes, err := file.ReadDataset(yPath, startRow, numRows)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", yPath, err)
	}
	yVals, err := yRes.Float64Values()
	if err != nil {
		return nil, err
	}
	if len(yVals) != len(xVals) {
		return nil, fmt.Errorf("x/y dataset row count mismatch: %d vs %d", len(xVals), len(yVals))
	}

	var timeVals []float64
	if timePath != "" {
		tRes, err := file.ReadDataset(timePath, startRow, numRows)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", timePath, err)
		}
		timeVals, err = tRes.Float64Values()
		if err != nil {
			return nil, err
		}
	}

	df := geocore.NewDataFrame()
	xCol := df.NewColumnIn("x", geocore.ColumnEncoding{Elem: geocore.ElemF64, Role: geocore.RoleX})
	yCol := df.NewColumnIn("y", geocore.ColumnEncoding{Elem: geocore.ElemF64, Role: geocore.RoleY})
	var timeCol *geocore.Column
	if timeVals != nil {
		timeCol = df.NewColumnIn("time", geocore.ColumnEncoding{Elem: geocore.ElemTimeNs, Role: geocore.RoleTime})
	}

	for i := range xVals {
		xCol.AppendScalar(xVals[i])
		yCol.AppendScalar(yVals[i])
		if timeCol != nil {
			timeCol.AppendScalar(geocore.GpsSecondsToTimeNs(timeVals[i]))
		}
		if err := df.CommitRow(); err != nil {
			return nil, err
		}
	}

	df.DiscoverRoles()
	return df, nil
}

func parseAlgorithm(name string) (geocore.SamplingAlgorithm, error) {
	switch name {
	case "", "nearest":
		return geocore.NearestNeighbour, nil
	case "bilinear":
		return geocore.Bilinear, nil
	case "cubic":
		return geocore.Cubic, nil
	case "cubicspline":
		return geocore.CubicSpline, nil
	case "lanczos":
		return geocore.Lanczos, nil
	case "average":
		return geocore.Average, nil
	case "mode":
		return geocore.Mode, nil
	case "gauss":
		return geocore.Gauss, nil
	default:
		return 0, fmt.Errorf("unknown sampling algorithm %q", name)
	}
}

func openTileDBContext(configURI string) (*tiledb.Config, *tiledb.Context, error) {
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
		return nil, nil, err
	}
	ctx, err := tiledb.NewContext(config)
	if err != nil {
		config.Free()
		return nil, nil, err
	}
	return config, ctx, nil
}

// tiledbExportRunner is a FrameRunner that hands a completed frame to
// geocore.ExportDataFrame, the CLI's concrete choice of "what does C7's
// scheduler do with this frame" alongside the FrameSender wire-record path.
type tiledbExportRunner struct {
	ctx      *tiledb.Context
	arrayURI string
	filters  geocore.ColumnFilterSpec
}

func (r *tiledbExportRunner) Run(frame *geocore.DataFrame) bool {
	if err := geocore.ExportDataFrame(r.ctx, r.arrayURI, frame, r.filters); err != nil {
		geocore.LogError(err, "tiledb export stage failed")
		return false
	}
	return true
}

func (r *tiledbExportRunner) Release() {}

func runSample(c *cli.Context) error {
	cfg := geocore.DefaultConfig()

	file, err := geocore.OpenHdf5File(c.String("hdf5-uri"), c.String("tiledb-config-uri"), c.Bool("in-memory"), cfg)
	if err != nil {
		return err
	}
	defer file.Close()

	df, err := buildPointFrame(file, c.String("x-path"), c.String("y-path"), c.String("time-path"), c.Uint64("start-row"), c.Uint64("num-rows"))
	if err != nil {
		return err
	}
	df.TargetCRS = c.String("target-crs")

	rasterCache := geocore.NewRasterHandleCache(cfg.RasterCacheMax)
	bandMap := map[string]int{"elevation": c.Int("raster-band")}
	source, err := geocore.Open(rasterCache, c.String("raster-uri"), "", bandMap, "elevation", "")
	if err != nil {
		return err
	}

	algo, err := parseAlgorithm(c.String("algorithm"))
	if err != nil {
		return err
	}

	samplerCfg := geocore.SamplerConfig{
		SamplingAlgo:     algo,
		SamplingRadius:   c.Float64("radius-meters"),
		ZonalStats:       c.Bool("zonal-stats"),
		SlopeAspect:      c.Bool("slope-aspect"),
		SlopeScaleLength: c.Float64("slope-scale-length"),
	}
	rasters := []geocore.ConfiguredRaster{{Key: "dem", Source: source, Config: samplerCfg}}

	n := runtime.NumCPU()
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(signalCtx))
	defer pool.StopAndWait()

	sampler := geocore.NewRasterSampler(rasters, pool)

	scheduler := geocore.NewFrameScheduler(df, 4, cfg.SysTimeout)
	go scheduler.Run()
	scheduler.Submit(sampler)

	if outURI := c.String("out-tiledb-uri"); outURI != "" {
		_, ctx, err := openTileDBContext(c.String("tiledb-config-uri"))
		if err != nil {
			return err
		}
		defer ctx.Free()
		scheduler.Submit(&tiledbExportRunner{ctx: ctx, arrayURI: outURI, filters: geocore.ColumnFilterSpec{}})
	}
	scheduler.Stop()
	<-scheduler.Done()

	if df.InError() {
		return fmt.Errorf("frame-runner pipeline reported a fatal stage error")
	}
	log.Printf("sampled %d points against %d raster(s) in %s", df.Rows(), len(rasters), scheduler.RunTime())
	return nil
}

func runInspect(c *cli.Context) error {
	cfg := geocore.DefaultConfig()
	file, err := geocore.OpenHdf5File(c.String("hdf5-uri"), c.String("tiledb-config-uri"), c.Bool("in-memory"), cfg)
	if err != nil {
		return err
	}
	defer file.Close()

	result, err := file.ReadDataset(c.String("dataset-path"), c.Uint64("start-row"), c.Uint64("num-rows"))
	if err != nil {
		return err
	}
	values, err := result.Float64Values()
	if err != nil {
		return err
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	report := map[string]any{
		"path":     c.String("dataset-path"),
		"elements": result.Elements,
		"rows":     result.Rows,
		"cols":     result.Cols,
		"min":      min,
		"max":      max,
		"mean":     sum / float64(len(values)),
	}
	log.Printf("%s: %d elements (%d x %d), min=%g max=%g mean=%g", report["path"], report["elements"], report["rows"], report["cols"], min, max, report["mean"])

	if outURI := c.String("out-uri"); outURI != "" {
		if _, err := geocore.WriteJSON(outURI, c.String("tiledb-config-uri"), report); err != nil {
			return err
		}
	}
	return nil
}

func runTrawl(c *cli.Context) error {
	items, err := search.Find(c.String("uri"), c.String("pattern"), c.String("tiledb-config-uri"))
	if err != nil {
		return err
	}
	log.Printf("found %d matching resources under %s", len(items), c.String("uri"))

	if !c.Bool("inspect") {
		for _, item := range items {
			log.Println(item)
		}
		return nil
	}

	n := runtime.NumCPU() * 2
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
	defer pool.StopAndWait()

	for _, name := range items {
		uri := name
		pool.Submit(func() {
			cfg := geocore.DefaultConfig()
			file, err := geocore.OpenHdf5File(uri, c.String("tiledb-config-uri"), false, cfg)
			if err != nil {
				geocore.LogError(err, fmt.Sprintf("failed to open %s during trawl", uri))
				return
			}
			defer file.Close()
			log.Printf("opened %s: superblock parsed, root group at object header %d", uri, file.Context.RootGroupAddr)
		})
	}
	return nil
}

func main() {
	commonFlags := []cli.Flag{
		&cli.StringFlag{Name: "tiledb-config-uri", Usage: "URI or pathname to a TileDB config file."},
		&cli.BoolFlag{Name: "in-memory", Usage: "Read the entire file into memory before processing."},
	}

	app := &cli.App{
		Name:  "geocore",
		Usage: "HDF5 lazy-read, raster sampling, and DataFrame transport demonstration harness",
		Commands: []*cli.Command{
			{
				Name:  "inspect",
				Usage: "Read a dataset from an HDF5 granule and report summary statistics.",
				Flags: append(commonFlags,
					&cli.StringFlag{Name: "hdf5-uri", Required: true},
					&cli.StringFlag{Name: "dataset-path", Required: true},
					&cli.Uint64Flag{Name: "start-row", Value: 0},
					&cli.Uint64Flag{Name: "num-rows", Value: 100},
					&cli.StringFlag{Name: "out-uri", Usage: "Optional URI to write a JSON summary report to."},
				),
				Action: runInspect,
			},
			{
				Name:  "sample",
				Usage: "Build a point DataFrame from an HDF5 granule and sample a raster against it.",
				Flags: append(commonFlags,
					&cli.StringFlag{Name: "hdf5-uri", Required: true},
					&cli.StringFlag{Name: "x-path", Required: true},
					&cli.StringFlag{Name: "y-path", Required: true},
					&cli.StringFlag{Name: "time-path"},
					&cli.Uint64Flag{Name: "start-row", Value: 0},
					&cli.Uint64Flag{Name: "num-rows", Value: 1000},
					&cli.StringFlag{Name: "raster-uri", Required: true},
					&cli.IntFlag{Name: "raster-band", Value: 1},
					&cli.StringFlag{Name: "algorithm", Value: "bilinear"},
					&cli.Float64Flag{Name: "radius-meters"},
					&cli.BoolFlag{Name: "zonal-stats"},
					&cli.BoolFlag{Name: "slope-aspect"},
					&cli.Float64Flag{Name: "slope-scale-length", Value: 30},
					&cli.StringFlag{Name: "target-crs", Value: "EPSG:4326"},
					&cli.StringFlag{Name: "out-tiledb-uri", Usage: "Optional URI to export the sampled frame to as a TileDB sparse array."},
				),
				Action: runSample,
			},
			{
				Name:  "trawl",
				Usage: "Recursively search a URI for files matching a glob pattern.",
				Flags: append(commonFlags,
					&cli.StringFlag{Name: "uri", Required: true},
					&cli.StringFlag{Name: "pattern", Value: "*.h5"},
					&cli.BoolFlag{Name: "inspect", Usage: "Open every match to confirm its superblock parses."},
				),
				Action: runTrawl,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
