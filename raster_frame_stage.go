package geocore

import (
	"context"
	"fmt"
	"math"

	"github.com/alitto/pond"
)

// SamplerConfig is the set of per-raster knobs recognized by the sampler,
// §6's configuration table.
type SamplerConfig struct {
	SamplingAlgo      SamplingAlgorithm
	SamplingRadius    float64 // meters; 0 = algorithm default
	ZonalStats        bool
	SlopeAspect       bool
	SlopeScaleLength  float64 // meters
	ForceSingleSample bool
	ProjPipeline      string     // not read by the sampler; the transform always comes from SetTargetCRS
	AoiBbox           [4]float64 // not read by the sampler
}

// ConfiguredRaster pairs one opened RasterSource with the sampler config
// that governs how it is queried.
type ConfiguredRaster struct {
	Key    string
	Source *RasterSource
	Config SamplerConfig
}

// RasterSampler is the frame-runner stage of §4.5: given a DataFrame with
// X/Y[/Z][/TIME] role columns and an ordered set of named rasters, it
// samples every raster at every point and appends result columns.
type RasterSampler struct {
	Rasters []ConfiguredRaster
	Pool    *pond.WorkerPool // optional; nil runs rasters sequentially
}

// NewRasterSampler builds a stage over rasters, optionally parallelizing
// per-raster sampling across a worker pool (teacher's cmd/main.go
// pond.New(...) pattern, adapted from per-GSF-file dispatch to per-raster
// dispatch within one frame).
func NewRasterSampler(rasters []ConfiguredRaster, pool *pond.WorkerPool) *RasterSampler {
	return &RasterSampler{Rasters: rasters, Pool: pool}
}

// Run implements the FrameRunner contract (§4.7): it is invoked once per
// completed, non-empty DataFrame.
func (s *RasterSampler) Run(df *DataFrame) bool {
	if err := s.Sample(df); err != nil {
		LogError(err, "raster sampler stage failed")
		return false
	}
	return true
}

func (s *RasterSampler) Release() {}

// Sample implements §4.5 steps 1-4 directly (exported separately from Run so
// callers that don't need the frame-runner wrapper, e.g. tests and the CLI,
// can invoke it without constructing a scheduler).
func (s *RasterSampler) Sample(df *DataFrame) error {
	points, err := df.Points()
	if err != nil {
		return err
	}

	if s.Pool != nil {
		return s.sampleParallel(df, points)
	}
	for _, cr := range s.Rasters {
		if err := sampleOneRaster(df, points, cr); err != nil {
			return err
		}
	}
	return nil
}

// sampleParallel dispatches each configured raster's sampling to the pool
// and collects the first error, preserving per-raster result-column naming
// (order of column insertion differs from the sequential path but §5's
// ordering guarantees only bind within a frame's serialized record stream,
// not this in-memory column-append step).
func (s *RasterSampler) sampleParallel(df *DataFrame, points []Point) error {
	group, _ := s.Pool.GroupContext(context.Background())
	for _, cr := range s.Rasters {
		cr := cr
		group.Submit(func() error {
			return sampleOneRaster(df, points, cr)
		})
	}
	return group.Wait()
}

func sampleOneRaster(df *DataFrame, points []Point, cr ConfiguredRaster) error {
	rs := cr.Source
	if err := rs.SetTargetCRS(df.TargetCRS); err != nil {
		return err
	}

	samples, err := rs.GetSamples(points, cr.Config.SamplingAlgo, cr.Config.SamplingRadius, cr.Config.ZonalStats, cr.Config.SlopeAspect, cr.Config.SlopeScaleLength)
	if err != nil {
		return err
	}

	if cr.Config.ForceSingleSample {
		appendScalarSampleColumns(df, cr.Key, samples, cr.Config)
	} else {
		appendNestedSampleColumns(df, cr.Key, samples, cr.Config)
	}
	return nil
}

// appendScalarSampleColumns implements §4.5 step 3: one scalar column per
// reported field, using the first sample per point (or the empty-list
// defaults: NaN for value, 0 for time/fileid/flags, "na" for band name).
func appendScalarSampleColumns(df *DataFrame, key string, samples [][]Sample, cfg SamplerConfig) {
	value := df.NewColumnIn(key+".value", ColumnEncoding{Elem: ElemF64})
	timeNs := df.NewColumnIn(key+".time_ns", ColumnEncoding{Elem: ElemTimeNs})
	fileID := df.NewColumnIn(key+".fileid", ColumnEncoding{Elem: ElemI64})
	band := df.NewColumnIn(key+".band", ColumnEncoding{Elem: ElemU8, List: true})
	flags := df.NewColumnIn(key+".flags", ColumnEncoding{Elem: ElemU64})

	var stats, derivs bool
	var statCols map[string]*Column
	var derivCols map[string]*Column
	if cfg.ZonalStats {
		stats = true
		statCols = newStatColumns(df, key)
	}
	if cfg.SlopeAspect {
		derivs = true
		derivCols = newDerivColumns(df, key)
	}

	for _, list := range samples {
		if len(list) == 0 {
			value.AppendScalar(math.NaN())
			timeNs.AppendScalar(int64(0))
			fileID.AppendScalar(int64(0))
			band.AppendList([]uint8("na"))
			flags.AppendScalar(uint64(0))
			if stats {
				appendZeroStats(statCols)
			}
			if derivs {
				appendZeroDerivs(derivCols)
			}
			continue
		}
		first := list[0]
		value.AppendScalar(first.Value)
		timeNs.AppendScalar(GpsSecondsToTimeNs(first.TimeGps))
		fileID.AppendScalar(first.FileID)
		name := first.BandName
		if name == "" {
			name = "na"
		}
		band.AppendList([]uint8(name))
		flags.AppendScalar(first.Flags)
		if stats {
			appendStats(statCols, first.Stats)
		}
		if derivs {
			appendDerivs(derivCols, first.Derivs)
		}
	}
}

// appendNestedSampleColumns implements §4.5 step 4: nested-list columns
// holding, per row, one entry per sample.
func appendNestedSampleColumns(df *DataFrame, key string, samples [][]Sample, cfg SamplerConfig) {
	value := df.NewColumnIn(key+".value", ColumnEncoding{Elem: ElemF64, List: true})
	timeNs := df.NewColumnIn(key+".time_ns", ColumnEncoding{Elem: ElemTimeNs, List: true})
	fileID := df.NewColumnIn(key+".fileid", ColumnEncoding{Elem: ElemI64, List: true})
	flags := df.NewColumnIn(key+".flags", ColumnEncoding{Elem: ElemU64, List: true})

	var statCols map[string]*Column
	var derivCols map[string]*Column
	if cfg.ZonalStats {
		statCols = newStatListColumns(df, key)
	}
	if cfg.SlopeAspect {
		derivCols = newDerivListColumns(df, key)
	}

	for _, list := range samples {
		values := make([]float64, len(list))
		times := make([]int64, len(list))
		fileIDs := make([]int64, len(list))
		flagVals := make([]uint64, len(list))
		for i, s := range list {
			values[i] = s.Value
			times[i] = GpsSecondsToTimeNs(s.TimeGps)
			fileIDs[i] = s.FileID
			flagVals[i] = s.Flags
		}
		value.AppendList(values)
		timeNs.AppendList(times)
		fileID.AppendList(fileIDs)
		flags.AppendList(flagVals)

		if statCols != nil {
			appendStatsList(statCols, list)
		}
		if derivCols != nil {
			appendDerivsList(derivCols, list)
		}
	}
}

func newStatColumns(df *DataFrame, key string) map[string]*Column {
	names := []string{"count", "min", "max", "mean", "median", "stdev", "mad"}
	cols := make(map[string]*Column, len(names))
	for _, n := range names {
		elem := ElemF64
		if n == "count" {
			elem = ElemI64
		}
		cols[n] = df.NewColumnIn(fmt.Sprintf("%s.stats.%s", key, n), ColumnEncoding{Elem: elem})
	}
	return cols
}

func newDerivColumns(df *DataFrame, key string) map[string]*Column {
	cols := make(map[string]*Column, 3)
	cols["count"] = df.NewColumnIn(key+".deriv.count", ColumnEncoding{Elem: ElemI64})
	cols["slope"] = df.NewColumnIn(key+".deriv.slope", ColumnEncoding{Elem: ElemF64})
	cols["aspect"] = df.NewColumnIn(key+".deriv.aspect", ColumnEncoding{Elem: ElemF64})
	return cols
}

func newStatListColumns(df *DataFrame, key string) map[string]*Column {
	names := []string{"count", "min", "max", "mean", "median", "stdev", "mad"}
	cols := make(map[string]*Column, len(names))
	for _, n := range names {
		elem := ElemF64
		if n == "count" {
			elem = ElemI64
		}
		cols[n] = df.NewColumnIn(fmt.Sprintf("%s.stats.%s", key, n), ColumnEncoding{Elem: elem, List: true})
	}
	return cols
}

func newDerivListColumns(df *DataFrame, key string) map[string]*Column {
	cols := make(map[string]*Column, 3)
	cols["count"] = df.NewColumnIn(key+".deriv.count", ColumnEncoding{Elem: ElemI64, List: true})
	cols["slope"] = df.NewColumnIn(key+".deriv.slope", ColumnEncoding{Elem: ElemF64, List: true})
	cols["aspect"] = df.NewColumnIn(key+".deriv.aspect", ColumnEncoding{Elem: ElemF64, List: true})
	return cols
}

func appendStats(cols map[string]*Column, s *ZonalStats) {
	if s == nil {
		s = &ZonalStats{}
	}
	cols["count"].AppendScalar(int64(s.Count))
	cols["min"].AppendScalar(s.Min)
	cols["max"].AppendScalar(s.Max)
	cols["mean"].AppendScalar(s.Mean)
	cols["median"].AppendScalar(s.Median)
	cols["stdev"].AppendScalar(s.Stdev)
	cols["mad"].AppendScalar(s.Mad)
}

func appendZeroStats(cols map[string]*Column) {
	appendStats(cols, &ZonalStats{})
}

func appendDerivs(cols map[string]*Column, d *Derivatives) {
	if d == nil {
		d = &Derivatives{SlopeDegrees: math.NaN(), AspectDegrees: math.NaN()}
	}
	cols["count"].AppendScalar(int64(d.Count))
	cols["slope"].AppendScalar(d.SlopeDegrees)
	cols["aspect"].AppendScalar(d.AspectDegrees)
}

func appendZeroDerivs(cols map[string]*Column) {
	appendDerivs(cols, nil)
}

func appendStatsList(cols map[string]*Column, list []Sample) {
	counts := make([]int64, len(list))
	mins := make([]float64, len(list))
	maxs := make([]float64, len(list))
	means := make([]float64, len(list))
	medians := make([]float64, len(list))
	stdevs := make([]float64, len(list))
	mads := make([]float64, len(list))
	for i, s := range list {
		st := s.Stats
		if st == nil {
			st = &ZonalStats{}
		}
		counts[i] = int64(st.Count)
		mins[i] = st.Min
		maxs[i] = st.Max
		means[i] = st.Mean
		medians[i] = st.Median
		stdevs[i] = st.Stdev
		mads[i] = st.Mad
	}
	cols["count"].AppendList(counts)
	cols["min"].AppendList(mins)
	cols["max"].AppendList(maxs)
	cols["mean"].AppendList(means)
	cols["median"].AppendList(medians)
	cols["stdev"].AppendList(stdevs)
	cols["mad"].AppendList(mads)
}

func appendDerivsList(cols map[string]*Column, list []Sample) {
	counts := make([]int64, len(list))
	slopes := make([]float64, len(list))
	aspects := make([]float64, len(list))
	for i, s := range list {
		d := s.Derivs
		if d == nil {
			d = &Derivatives{SlopeDegrees: math.NaN(), AspectDegrees: math.NaN()}
		}
		counts[i] = int64(d.Count)
		slopes[i] = d.SlopeDegrees
		aspects[i] = d.AspectDegrees
	}
	cols["count"].AppendList(counts)
	cols["slope"].AppendList(slopes)
	cols["aspect"].AppendList(aspects)
}
