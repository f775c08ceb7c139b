// Package pipeline orchestrates the two run kinds: per-turbine viewshed
// analysis and the mosaic merge. Work units run in a bounded worker pool and
// fail independently; one bad turbine or block never cancels the others.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"viawind/pkg/config"
	"viawind/pkg/fov"
	"viawind/pkg/geo"
	"viawind/pkg/manifest"
	"viawind/pkg/mosaic"
	"viawind/pkg/raster"
	"viawind/pkg/turbines"
	"viawind/pkg/visibility"
)

// Run kinds recorded in the manifest.
const (
	KindViewsheds = "viewsheds"
	KindMerge     = "merge"
)

// FovRasterName returns the output file name for one turbine's FOV raster.
func FovRasterName(gid int) string {
	return fmt.Sprintf("fov-pct_gid%d.grd", gid)
}

// SumRasterName is the file name of the merged cumulative raster.
const SumRasterName = "fov-pct_sum.grd"

// Options wires a pipeline run.
type Options struct {
	Config   *config.Config
	Oracle   visibility.Oracle
	Manifest *manifest.Manifest // optional

	// OnUnitDone, when set, receives each work unit's outcome as it
	// completes. Units complete in no particular order.
	OnUnitDone func(unit string, err error)
}

func (o Options) notify(unit string, err error) {
	if o.OnUnitDone != nil {
		o.OnUnitDone(unit, err)
	}
}

func (o Options) workers() int {
	if o.Config.Workers > 0 {
		return o.Config.Workers
	}
	return runtime.NumCPU()
}

// recordUnit writes a unit outcome to the manifest if one is attached.
func (o Options) recordUnit(runID, unit string, err error) {
	if o.Manifest == nil {
		return
	}
	if mErr := o.Manifest.RecordUnit(runID, unit, err); mErr != nil {
		slog.Error("failed to record unit outcome", "unit", unit, "error", mErr)
	}
}

func (o Options) beginRun(kind string) string {
	if o.Manifest == nil {
		return ""
	}
	id, err := o.Manifest.BeginRun(kind)
	if err != nil {
		slog.Error("failed to begin manifest run", "kind", kind, "error", err)
		return ""
	}
	return id
}

func (o Options) finishRun(runID string, runErr error) {
	if o.Manifest == nil || runID == "" {
		return
	}
	status := manifest.StatusCompleted
	if runErr != nil {
		status = manifest.StatusFailed
	}
	if err := o.Manifest.FinishRun(runID, status); err != nil {
		slog.Error("failed to finish manifest run", "run", runID, "error", err)
	}
}

// RunViewsheds produces one FOV-percentage raster per turbine. Inputs are
// validated up front so configuration problems surface before any viewshed is
// computed; after that, turbines fail independently and the error returned at
// the end summarizes which ones did.
func RunViewsheds(ctx context.Context, opts Options) error {
	cfg := opts.Config

	ts, err := turbines.Load(cfg.Paths.Turbines)
	if err != nil {
		return err
	}
	table, err := fov.LoadTable(cfg.Paths.FovTable)
	if err != nil {
		return err
	}
	if err := table.CheckComplete(ts, cfg.Viewshed.ObstructionIntervalM, cfg.MaxDistanceKM()); err != nil {
		return err
	}

	prof, err := raster.ReadProfile(cfg.Paths.Elevation)
	if err != nil {
		return err
	}
	if err := prof.Validate(); err != nil {
		return fmt.Errorf("elevation raster %s: %w", cfg.Paths.Elevation, err)
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	res := prof.Transform.Res
	maxDistanceM := float64(cfg.Viewshed.MaxDistance)
	window := visibility.WindowShape(cfg.MaxDistanceKM(), res)
	field := geo.DistanceDirection(window, window)

	// Pixel distances to meters, then snapped to the table's levels within
	// the analysis radius. Pixels beyond the radius are reported not visible
	// by the oracle and never reach a lookup.
	distancesM := make([]float64, len(field.Distance))
	copy(distancesM, field.Distance)
	floats.Scale(res, distancesM)
	var levels []float64
	for _, l := range table.DistanceLevels() {
		if l <= maxDistanceM {
			levels = append(levels, l)
		}
	}
	bins := fov.BinDistances(levels, distancesM)

	runID := opts.beginRun(KindViewsheds)
	slog.Info("starting viewshed run",
		"run", runID,
		"turbines", len(ts),
		"window", window,
		"max_distance_m", maxDistanceM,
		"workers", opts.workers())
	start := time.Now()

	results := make([]error, len(ts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, t := range ts {
		i, t := i, t
		g.Go(func() error {
			err := runTurbine(gctx, opts, table, t, bins, field.Direction, window)
			results[i] = err
			unit := fmt.Sprintf("gid_%d", t.GID)
			opts.recordUnit(runID, unit, err)
			opts.notify(unit, err)
			if err != nil {
				slog.Error("turbine failed", "gid", t.GID, "error", err)
			} else {
				slog.Info("turbine completed", "gid", t.GID)
			}
			return nil
		})
	}
	_ = g.Wait()

	runErr := summarizeFailures("turbine", turbineUnits(ts), results)
	opts.finishRun(runID, runErr)
	slog.Info("viewshed run finished", "elapsed", time.Since(start).Round(time.Millisecond), "failed", countErrs(results))
	return runErr
}

func runTurbine(ctx context.Context, opts Options, table *fov.Table, t turbines.Turbine, bins, directions []float64, window int) error {
	cfg := opts.Config

	params := visibility.CompositeParams{
		ElevationPath:      cfg.Paths.Elevation,
		ObserverX:          t.Location.X(),
		ObserverY:          t.Location.Y(),
		ViewerHeightM:      cfg.Viewshed.ViewerHeightM,
		MaxDistanceM:       float64(cfg.Viewshed.MaxDistance),
		ObstructionHeights: t.ObstructionHeights(cfg.Viewshed.ObstructionIntervalM),
		WindowSize:         window,
	}
	if cfg.Viewshed.SaveAll {
		dir := filepath.Join(cfg.Paths.OutputDir, "intermediate", fmt.Sprintf("gid_%d", t.GID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create intermediate dir: %w", err)
		}
		params.OnViewshed = func(height float64, g *raster.Grid) error {
			return raster.Write(filepath.Join(dir, fmt.Sprintf("viewshed_h%g.grd", height)), g)
		}
	}

	composite, err := visibility.Composite(ctx, opts.Oracle, params)
	if err != nil {
		return err
	}
	if cfg.Viewshed.SaveAll {
		dir := filepath.Join(cfg.Paths.OutputDir, "intermediate", fmt.Sprintf("gid_%d", t.GID))
		if err := raster.Write(filepath.Join(dir, "composite.grd"), composite); err != nil {
			return err
		}
		binGrid := &raster.Grid{Profile: composite.Profile, Pixels: bins}
		if err := raster.Write(filepath.Join(dir, "distance-bins.grd"), binGrid); err != nil {
			return err
		}
	}

	pct, err := fov.Estimate(table, t, composite.Pixels, bins, directions)
	if err != nil {
		return err
	}

	// The output carries the oracle's georeferencing verbatim.
	out := &raster.Grid{Profile: composite.Profile, Pixels: pct}
	out.NoData = nil
	return raster.Write(filepath.Join(cfg.Paths.OutputDir, FovRasterName(t.GID)), out)
}

// RunMerge mosaics the per-turbine FOV rasters in the output directory into
// the cumulative raster. Blocks fail independently, but a failed block aborts
// the final merge: a seamless raster with silently missing contributions
// would be worse than no raster.
func RunMerge(ctx context.Context, opts Options) error {
	cfg := opts.Config

	idx, err := mosaic.IndexSources(cfg.Paths.OutputDir, "fov-pct_gid*.grd")
	if err != nil {
		return err
	}
	offsets := idx.BlockOffsets(cfg.Merge.BlockSize)
	blocksDir := filepath.Join(cfg.Paths.OutputDir, "blocks")

	runID := opts.beginRun(KindMerge)
	slog.Info("starting merge run",
		"run", runID,
		"sources", len(idx.Sources),
		"extent", fmt.Sprintf("%dx%d", idx.Profile.Height, idx.Profile.Width),
		"blocks", len(offsets),
		"workers", opts.workers())
	start := time.Now()

	results := make([]error, len(offsets))
	units := make([]string, len(offsets))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, off := range offsets {
		i, off := i, off
		units[i] = mosaic.BlockName(off[0], off[1])
		g.Go(func() error {
			_, err := mosaic.MosaicBlock(idx, blocksDir, off[0], off[1], cfg.Merge.BlockSize)
			results[i] = err
			opts.recordUnit(runID, units[i], err)
			opts.notify(units[i], err)
			if err != nil {
				slog.Error("block failed", "block", units[i], "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	runErr := summarizeFailures("block", units, results)
	if runErr == nil {
		runErr = mosaic.MergeBlocks(blocksDir, filepath.Join(cfg.Paths.OutputDir, SumRasterName))
	}
	opts.finishRun(runID, runErr)
	slog.Info("merge run finished", "elapsed", time.Since(start).Round(time.Millisecond), "failed", countErrs(results))
	return runErr
}

func turbineUnits(ts []turbines.Turbine) []string {
	units := make([]string, len(ts))
	for i, t := range ts {
		units[i] = fmt.Sprintf("gid_%d", t.GID)
	}
	return units
}

func countErrs(results []error) int {
	n := 0
	for _, err := range results {
		if err != nil {
			n++
		}
	}
	return n
}

// summarizeFailures folds per-unit outcomes into one run error, or nil when
// everything succeeded.
func summarizeFailures(what string, units []string, results []error) error {
	var failed []string
	for i, err := range results {
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", units[i], err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("%d of %d %ss failed:\n\t%s", len(failed), len(results), what, strings.Join(failed, "\n\t"))
}
