package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cloudforge/internal/clean"
	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// Loader reads a point cloud from a path. Implementations report
// unsupported formats and corrupt files as errors.
type Loader interface {
	Load(ctx context.Context, path string) (*cloud.PointCloud, error)
}

// Exporter writes a processed cloud and its patches to a path.
type Exporter interface {
	Export(ctx context.Context, c *cloud.PointCloud, patches []segment.Patch, path, format string) error
}

// Result is the output of a run. On cancellation it holds the output of the
// last completed stage or tile.
type Result struct {
	Cloud    *cloud.PointCloud
	Patches  []segment.Patch
	Residual []int
	Summary  RunSummary
}

// Orchestrator sequences the stages of a run according to Config.
type Orchestrator struct {
	Config   Config
	Reporter Reporter
	Loader   Loader
	Exporter Exporter
}

// New returns an Orchestrator with a no-op reporter.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{Config: cfg, Reporter: NopReporter{}}
}

// run carries the per-run state shared by the stages.
type run struct {
	cfg      Config
	reporter Reporter
	summary  RunSummary
	cancel   bool
}

func (o *Orchestrator) newRun() *run {
	rep := o.Reporter
	if rep == nil {
		rep = NopReporter{}
	}
	return &run{
		cfg:      o.Config,
		reporter: rep,
		summary: RunSummary{
			RunID:   uuid.NewString(),
			Status:  StatusCompleted,
			Started: time.Now(),
		},
	}
}

func (r *run) progress(stage Stage, processed, total, tile, tiles int, since time.Time) {
	r.reporter.Progress(ProgressEvent{
		RunID:     r.summary.RunID,
		Stage:     stage,
		Processed: processed,
		Total:     total,
		Tile:      tile,
		Tiles:     tiles,
		Elapsed:   time.Since(since),
	})
}

func (r *run) record(m StageMetrics) {
	r.summary.Stages = append(r.summary.Stages, m)
	diagf("run %s: %s %d -> %d points in %v", r.summary.RunID, m.Stage, m.PointsIn, m.PointsOut, m.Elapsed)
}

func (r *run) skipped(stage Stage, n int) {
	r.summary.Stages = append(r.summary.Stages, StageMetrics{Stage: stage, PointsIn: n, PointsOut: n, Skipped: true})
}

// checkCancel marks the run cancelled when ctx is done.
func (r *run) checkCancel(ctx context.Context, where string) bool {
	if ctx.Err() != nil && !r.cancel {
		r.cancel = true
		r.summary.Status = StatusCancelled
		opsf("run %s cancelled %s", r.summary.RunID, where)
	}
	return r.cancel
}

// Run processes an in-memory cloud through clean, thin and segment. The
// configuration is validated first and a *ConfigError returned before any
// stage runs. Cancellation of ctx is honoured between stages and tiles: the
// partial result is returned with StatusCancelled and a nil error.
func (o *Orchestrator) Run(ctx context.Context, in *cloud.PointCloud) (*Result, error) {
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	r := o.newRun()
	res, err := o.process(ctx, r, in)
	return o.finish(r, res, err)
}

// RunFile loads inPath, processes it and, when outPath is not empty,
// exports the result in the given format.
func (o *Orchestrator) RunFile(ctx context.Context, inPath, outPath, format string) (*Result, error) {
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	if o.Loader == nil {
		return nil, ErrNoLoader
	}
	if outPath != "" && o.Exporter == nil {
		return nil, ErrNoExporter
	}
	r := o.newRun()
	r.summary.Input, r.summary.Output = inPath, outPath

	start := time.Now()
	r.progress(StageLoad, 0, 0, 0, 0, start)
	in, err := o.Loader.Load(ctx, inPath)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.checkCancel(ctx, "during load")
			return o.finish(r, &Result{Cloud: cloud.New(cloud.Channels{}, 0)}, nil)
		}
		return o.finish(r, nil, stageErr(StageLoad, 0, err))
	}
	r.progress(StageLoad, in.Len(), in.Len(), 0, 0, start)
	r.record(StageMetrics{Stage: StageLoad, PointsOut: in.Len(), Elapsed: time.Since(start)})

	res, err := o.process(ctx, r, in)
	if err != nil || r.cancel || outPath == "" {
		return o.finish(r, res, err)
	}
	if r.checkCancel(ctx, "before export") {
		return o.finish(r, res, nil)
	}

	start = time.Now()
	n := res.Cloud.Len()
	r.progress(StageExport, 0, n, 0, 0, start)
	if err := o.Exporter.Export(context.WithoutCancel(ctx), res.Cloud, res.Patches, outPath, format); err != nil {
		return o.finish(r, res, stageErr(StageExport, n, err))
	}
	r.progress(StageExport, n, n, 0, 0, start)
	r.record(StageMetrics{Stage: StageExport, PointsIn: n, PointsOut: n, Patches: len(res.Patches), Elapsed: time.Since(start)})
	return o.finish(r, res, nil)
}

// finish completes the summary and hands it to the reporter.
func (o *Orchestrator) finish(r *run, res *Result, err error) (*Result, error) {
	s := &r.summary
	s.Elapsed = time.Since(s.Started)
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
		opsf("run %s failed: %v", s.RunID, err)
		r.reporter.Summary(*s)
		return nil, err
	}
	if res.Cloud == nil {
		res.Cloud = cloud.New(cloud.Channels{}, 0)
	}
	s.PointsOut = res.Cloud.Len()
	s.Patches = len(res.Patches)
	s.Residual = len(res.Residual)
	res.Summary = *s
	diagf("run %s %s: %d -> %d points, %d patches, %d tiles in %v",
		s.RunID, s.Status, s.PointsIn, s.PointsOut, s.Patches, s.Tiles, s.Elapsed)
	r.reporter.Summary(*s)
	return res, nil
}

// process runs the core stages. Stages are given a context that is never
// cancelled so that they always complete; ctx is polled at stage and tile
// boundaries.
func (o *Orchestrator) process(ctx context.Context, r *run, in *cloud.PointCloud) (*Result, error) {
	cfg := r.cfg
	stageCtx := context.WithoutCancel(ctx)
	r.summary.PointsIn = in.Len()
	res := &Result{Cloud: in}

	if r.checkCancel(ctx, "before processing") {
		return res, nil
	}

	budget := cfg.MemoryBudgetBytes
	tiled := budget > 0 && EstimateBytes(in.Len()) > budget
	var tileRanges []tileSpan
	if tiled {
		out, ranges, err := o.processTiled(ctx, stageCtx, r, in)
		if err != nil {
			return nil, err
		}
		res.Cloud, tileRanges = out, ranges
	} else {
		out, err := o.cleanStage(stageCtx, r, in)
		if err != nil {
			return nil, err
		}
		res.Cloud = out
		if r.checkCancel(ctx, "after clean") {
			return res, nil
		}
		if out, err = o.thinStage(stageCtx, r, out); err != nil {
			return nil, err
		}
		res.Cloud = out
	}
	if r.checkCancel(ctx, "after thin") {
		return res, nil
	}

	if cfg.SkipSegmentation {
		r.skipped(StageSegment, res.Cloud.Len())
		return res, nil
	}
	var seg segment.Result
	var err error
	if tiled && EstimateBytes(res.Cloud.Len()) > budget {
		seg, err = o.segmentTiles(ctx, stageCtx, r, res.Cloud, tileRanges)
	} else {
		seg, err = o.segmentWhole(stageCtx, r, res.Cloud)
	}
	if err != nil {
		return nil, err
	}
	res.Patches, res.Residual = seg.Patches, seg.Residual
	return res, nil
}

func (o *Orchestrator) cleanStage(ctx context.Context, r *run, in *cloud.PointCloud) (*cloud.PointCloud, error) {
	if r.cfg.SkipCleaning {
		r.skipped(StageClean, in.Len())
		return in, nil
	}
	start := time.Now()
	r.progress(StageClean, 0, in.Len(), 0, 0, start)
	out, st, err := r.cfg.Cleaner().Clean(ctx, in)
	if err != nil {
		return nil, stageErr(StageClean, in.Len(), err)
	}
	r.progress(StageClean, in.Len(), in.Len(), 0, 0, start)
	r.record(StageMetrics{Stage: StageClean, PointsIn: in.Len(), PointsOut: out.Len(), Rejected: st.Rejected, Elapsed: time.Since(start)})
	return out, nil
}

func (o *Orchestrator) thinStage(ctx context.Context, r *run, in *cloud.PointCloud) (*cloud.PointCloud, error) {
	if r.cfg.SkipThinning {
		r.skipped(StageThin, in.Len())
		return in, nil
	}
	start := time.Now()
	r.progress(StageThin, 0, in.Len(), 0, 0, start)
	out, _, err := r.cfg.Thinner().Thin(ctx, in)
	if err != nil {
		return nil, stageErr(StageThin, in.Len(), err)
	}
	r.progress(StageThin, in.Len(), in.Len(), 0, 0, start)
	r.record(StageMetrics{Stage: StageThin, PointsIn: in.Len(), PointsOut: out.Len(), Elapsed: time.Since(start)})
	return out, nil
}

// tileSpan is the span of the concatenated output produced by one tile.
type tileSpan struct{ lo, hi int }

// processTiled cleans and thins tile by tile. Each tile is cleaned over its
// padded bounds so that filters see complete neighbourhoods; only the
// survivors inside its core are kept and thinned. Outputs are concatenated
// in tile order.
func (o *Orchestrator) processTiled(ctx, stageCtx context.Context, r *run, in *cloud.PointCloud) (*cloud.PointCloud, []tileSpan, error) {
	cfg := r.cfg
	tiles, err := PlanTiles(in, cfg.MemoryBudgetBytes, cfg.OverlapMargin(), cfg.tileQuantum())
	if err != nil {
		return nil, nil, err
	}
	r.summary.Tiles = len(tiles)
	diagf("run %s: %d points over budget, processing %d tiles (margin %.4g)",
		r.summary.RunID, in.Len(), len(tiles), cfg.OverlapMargin())

	cleanM := StageMetrics{Stage: StageClean, PointsIn: in.Len(), Rejected: map[string]int{}, Skipped: cfg.SkipCleaning}
	thinM := StageMetrics{Stage: StageThin, Skipped: cfg.SkipThinning}
	cleaner := cfg.Cleaner()
	thinner := cfg.Thinner()

	outputs := make([]*cloud.PointCloud, 0, len(tiles))
	ranges := make([]tileSpan, 0, len(tiles))
	offset := 0
	for ti, t := range tiles {
		if r.checkCancel(ctx, fmt.Sprintf("before tile %d/%d", ti+1, len(tiles))) {
			break
		}
		sub := in.Select(t.Indices)
		tracef("tile %d/%d core %s: %d padded points", ti+1, len(tiles), t.Core, sub.Len())

		start := time.Now()
		r.progress(StageClean, 0, sub.Len(), ti+1, len(tiles), start)
		kept, rejected, err := cleanTile(stageCtx, cleaner, sub, t.Core, cfg.SkipCleaning)
		if err != nil {
			return nil, nil, stageErr(StageClean, sub.Len(), err)
		}
		for k, v := range rejected {
			cleanM.Rejected[k] += v
		}
		cleanM.PointsOut += kept.Len()
		cleanM.Elapsed += time.Since(start)
		r.progress(StageClean, sub.Len(), sub.Len(), ti+1, len(tiles), start)

		start = time.Now()
		out := kept
		if !cfg.SkipThinning {
			r.progress(StageThin, 0, kept.Len(), ti+1, len(tiles), start)
			if out, _, err = thinner.Thin(stageCtx, kept); err != nil {
				return nil, nil, stageErr(StageThin, kept.Len(), err)
			}
			r.progress(StageThin, kept.Len(), kept.Len(), ti+1, len(tiles), start)
		}
		thinM.PointsIn += kept.Len()
		thinM.PointsOut += out.Len()
		thinM.Elapsed += time.Since(start)

		outputs = append(outputs, out)
		ranges = append(ranges, tileSpan{offset, offset + out.Len()})
		offset += out.Len()
	}
	if cfg.SkipCleaning {
		cleanM.Rejected = nil
	}
	r.record(cleanM)
	r.record(thinM)
	return cloud.Concat(outputs...), ranges, nil
}

// cleanTile evaluates the filters over the padded tile and returns the
// surviving points owned by core, with rejections counted over core only.
func cleanTile(ctx context.Context, cleaner *clean.Cleaner, sub *cloud.PointCloud, core cloud.Bounds, skip bool) (*cloud.PointCloud, map[string]int, error) {
	owned := func(i int) bool { return core.ContainsXYHalfOpen(sub.Pos(i)) }
	keep := make([]bool, sub.Len())
	if skip {
		for i := range keep {
			keep[i] = owned(i)
		}
		out, err := sub.Keep(keep)
		return out, nil, err
	}
	idx, err := spatial.Build(ctx, sub, cleaner.Index)
	if err != nil {
		return nil, nil, fmt.Errorf("build index: %w", err)
	}
	rejectedBy, _, err := cleaner.Evaluate(ctx, sub, idx)
	if err != nil {
		return nil, nil, err
	}
	for i, by := range rejectedBy {
		keep[i] = by == clean.Kept && owned(i)
	}
	out, err := sub.Keep(keep)
	if err != nil {
		return nil, nil, err
	}
	return out, cleaner.CountRejections(rejectedBy, owned), nil
}

func (o *Orchestrator) segmentWhole(ctx context.Context, r *run, c *cloud.PointCloud) (segment.Result, error) {
	start := time.Now()
	n := c.Len()
	r.progress(StageSegment, 0, n, 0, 0, start)
	idx, err := spatial.Build(ctx, c, r.cfg.segmentIndexOptions())
	if err != nil {
		return segment.Result{}, stageErr(StageSegment, n, fmt.Errorf("build index: %w", err))
	}
	s := r.cfg.Segmenter()
	s.OnPatch = func(_ segment.Patch, remaining int) {
		r.progress(StageSegment, n-remaining, n, 0, 0, start)
	}
	res, err := s.Segment(ctx, c, idx)
	if err != nil {
		return segment.Result{}, stageErr(StageSegment, n, err)
	}
	r.progress(StageSegment, n, n, 0, 0, start)
	r.record(StageMetrics{Stage: StageSegment, PointsIn: n, PointsOut: n - len(res.Residual), Patches: len(res.Patches), Elapsed: time.Since(start)})
	return res, nil
}

// segmentTiles segments each tile's share of c on its own and merges the
// patches across tile boundaries.
func (o *Orchestrator) segmentTiles(ctx, stageCtx context.Context, r *run, c *cloud.PointCloud, ranges []tileSpan) (segment.Result, error) {
	start := time.Now()
	n := c.Len()
	params := r.cfg.Segmentation
	if params.ConnectivityRadius == 0 {
		params.ConnectivityRadius = 3 * r.cfg.tileQuantum()
	}
	var patches []segment.Patch
	done := 0
	for ti, tr := range ranges {
		if r.checkCancel(ctx, fmt.Sprintf("before segmenting tile %d/%d", ti+1, len(ranges))) {
			break
		}
		indices := make([]int, 0, tr.hi-tr.lo)
		for i := tr.lo; i < tr.hi; i++ {
			indices = append(indices, i)
		}
		sub := c.Select(indices)
		s := r.cfg.Segmenter()
		s.Params.ConnectivityRadius = params.ConnectivityRadius
		res, err := s.Segment(stageCtx, sub, nil)
		if err != nil {
			return segment.Result{}, stageErr(StageSegment, sub.Len(), err)
		}
		for _, p := range res.Patches {
			for k := range p.Indices {
				p.Indices[k] += tr.lo
			}
			patches = append(patches, p)
		}
		done += sub.Len()
		r.progress(StageSegment, done, n, ti+1, len(ranges), start)
	}
	before := len(patches)
	patches = segment.MergePatches(c, patches, params)
	res := segment.Result{Patches: patches, Residual: residual(n, patches), Merged: before - len(patches)}
	res.Elapsed = time.Since(start)
	r.record(StageMetrics{Stage: StageSegment, PointsIn: n, PointsOut: n - len(res.Residual), Patches: len(patches), Elapsed: res.Elapsed})
	diagf("run %s: merged %d tile patches into %d", r.summary.RunID, before, len(patches))
	return res, nil
}

// residual returns the ascending indices in [0, n) covered by no patch.
func residual(n int, patches []segment.Patch) []int {
	used := make([]bool, n)
	for _, p := range patches {
		for _, i := range p.Indices {
			used[i] = true
		}
	}
	out := make([]int, 0, n)
	for i, u := range used {
		if !u {
			out = append(out, i)
		}
	}
	return out
}
