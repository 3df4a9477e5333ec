package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/clean"
	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/testutil"
)

// roomConfig suits the FloorAndWall fixture, whose grid step is ~0.1.
func roomConfig() Config {
	cfg := DefaultConfig()
	cfg.Cleaning.Statistical.Enabled = false
	cfg.Cleaning.Radius = RadiusConfig{Enabled: true, Radius: 0.25, MinNeighbors: 4}
	cfg.Thinning.VoxelSize = 0.05
	return cfg
}

func roomWithSpeckle() *cloud.PointCloud {
	c := testutil.FloorAndWall(100, 10)
	c.Append(cloud.NewPoint(50, 50, 50))
	c.Append(cloud.NewPoint(-40, 20, 5))
	c.Append(cloud.NewPoint(5, 5, -30))
	return c
}

// plateWithNoise is a 10x10 m noisy slab with sparse noise above it.
func plateWithNoise() *cloud.PointCloud {
	return cloud.Concat(
		testutil.HorizontalPlane(20000, 0, 10, 0.002, 11),
		testutil.UniformNoise(200, cloud.Bounds{Max: r3.Vec{X: 10, Y: 10, Z: 5}}, 12),
	)
}

func TestRun_EndToEnd(t *testing.T) {
	rec := &Recorder{}
	o := New(roomConfig())
	o.Reporter = rec

	res, err := o.Run(context.Background(), roomWithSpeckle())
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, StatusCompleted, s.Status)
	_, err = uuid.Parse(s.RunID)
	assert.NoError(t, err, "run id should be a UUID")
	assert.Equal(t, 20003, s.PointsIn)
	assert.Equal(t, 20000, res.Cloud.Len())
	assert.Equal(t, 3, s.Rejected())
	assert.Equal(t, 0, s.Tiles)

	require.Len(t, res.Patches, 2)
	assert.Empty(t, res.Residual)
	angle := testutil.AxisAngleDeg(res.Patches[0].Plane.Normal, res.Patches[1].Plane.Normal)
	assert.InDelta(t, 90, angle, 0.5)

	cleanM, ok := s.Stage(StageClean)
	require.True(t, ok)
	assert.Equal(t, map[string]int{clean.NameRadius: 3}, cleanM.Rejected)
	segM, ok := s.Stage(StageSegment)
	require.True(t, ok)
	assert.Equal(t, 2, segM.Patches)

	// Events are ordered: within each stage processed counts never go back.
	last := map[Stage]int{}
	for _, e := range rec.Events() {
		assert.Equal(t, s.RunID, e.RunID)
		if e.Processed < last[e.Stage] {
			t.Errorf("%s progress went backwards: %d after %d", e.Stage, e.Processed, last[e.Stage])
		}
		last[e.Stage] = e.Processed
	}
	require.Len(t, rec.Summaries(), 1)
	assert.Equal(t, s.RunID, rec.Summaries()[0].RunID)
}

func TestRun_SkippedStages(t *testing.T) {
	cfg := roomConfig()
	cfg.SkipCleaning = true
	cfg.SkipThinning = true
	cfg.SkipSegmentation = true
	in := roomWithSpeckle()

	res, err := New(cfg).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Len(), res.Cloud.Len())
	assert.Empty(t, res.Patches)
	for _, st := range []Stage{StageClean, StageThin, StageSegment} {
		m, ok := res.Summary.Stage(st)
		require.True(t, ok, st)
		assert.True(t, m.Skipped, st)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	res, err := New(DefaultConfig()).Run(context.Background(), cloud.New(cloud.Channels{}, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Summary.Status)
	assert.Equal(t, 0, res.Cloud.Len())
	assert.Empty(t, res.Patches)
	assert.Empty(t, res.Residual)
}

func TestRun_ConfigErrorBeforeAnyStage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative radius", func(c *Config) { c.Cleaning.Radius.Radius = -1 }, "cleaning.radius_outlier.radius"},
		{"zero neighbours", func(c *Config) { c.Cleaning.Statistical.Neighbors = 0 }, "cleaning.statistical_outlier.neighbors"},
		{"adaptive thinning", func(c *Config) { c.Thinning.Method = ThinAdaptive }, "thinning.method"},
		{"zero voxel", func(c *Config) { c.Thinning.VoxelSize = 0 }, "thinning.voxel_size"},
		{"bad index", func(c *Config) { c.Index.Kind = "octree" }, "index.kind"},
		{"negative budget", func(c *Config) { c.MemoryBudgetBytes = -1 }, "pipeline.memory_budget_bytes"},
		{"margin below radius", func(c *Config) { c.TileOverlapMargin = 0.01 }, "pipeline.tile_overlap_margin"},
		{"unknown filter", func(c *Config) { c.Cleaning.Order = []string{"median"} }, "cleaning.order"},
		{"segmentation", func(c *Config) { c.Segmentation.DistanceThreshold = 0 }, "segmentation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			rec := &Recorder{}
			o := New(cfg)
			o.Reporter = rec

			_, err := o.Run(context.Background(), roomWithSpeckle())
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.Empty(t, rec.Events(), "no stage may run on an invalid config")
		})
	}
}

func TestRun_DisabledStageSkipsItsValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipThinning = true
	cfg.Thinning.VoxelSize = -1
	assert.NoError(t, cfg.Validate())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := roomWithSpeckle()
	res, err := New(roomConfig()).Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Summary.Status)
	assert.Equal(t, in.Len(), res.Cloud.Len())
	assert.Empty(t, res.Summary.Stages)
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := New(roomConfig())
	o.Reporter = ReporterFunc{OnProgress: func(e ProgressEvent) {
		if e.Stage == StageClean && e.Processed == e.Total {
			cancel()
		}
	}}

	res, err := o.Run(ctx, roomWithSpeckle())
	require.NoError(t, err, "cancellation is a status, not an error")
	assert.Equal(t, StatusCancelled, res.Summary.Status)
	assert.Equal(t, 20000, res.Cloud.Len(), "the clean stage completed")
	_, thinned := res.Summary.Stage(StageThin)
	assert.False(t, thinned)
	assert.Empty(t, res.Patches)
}

func tiledConfig(in *cloud.PointCloud) Config {
	cfg := DefaultConfig()
	cfg.Cleaning.Radius = RadiusConfig{Enabled: true, Radius: 0.25, MinNeighbors: 10}
	cfg.Thinning.VoxelSize = 0.05
	cfg.SkipThinning = true
	cfg.SkipSegmentation = true
	cfg.MemoryBudgetBytes = EstimateBytes(in.Len() / 3)
	return cfg
}

func TestRun_TiledMatchesInMemory(t *testing.T) {
	in := plateWithNoise()

	radiusOnly := tiledConfig(in)
	radiusOnly.Cleaning.Statistical.Enabled = false
	whole := radiusOnly
	whole.MemoryBudgetBytes = 0

	a, err := New(whole).Run(context.Background(), in)
	require.NoError(t, err)
	b, err := New(radiusOnly).Run(context.Background(), in)
	require.NoError(t, err)
	require.Greater(t, b.Summary.Tiles, 1)
	assert.Equal(t, 0, a.Summary.Tiles)
	// The radius filter only looks within the overlap margin, so tiling is exact.
	assert.Equal(t, a.Cloud.Len(), b.Cloud.Len())
	assert.Equal(t, a.Summary.Rejected(), b.Summary.Rejected())

	// The statistical filter uses per-tile statistics; counts stay close.
	both := tiledConfig(in)
	whole = both
	whole.MemoryBudgetBytes = 0
	a, err = New(whole).Run(context.Background(), in)
	require.NoError(t, err)
	b, err = New(both).Run(context.Background(), in)
	require.NoError(t, err)
	tolerance := 0.02 * float64(in.Len())
	assert.InDelta(t, a.Cloud.Len(), b.Cloud.Len(), tolerance)
}

func TestRun_TiledThinAndSegment(t *testing.T) {
	in := testutil.FloorAndWall(100, 10)
	cfg := roomConfig()
	cfg.MemoryBudgetBytes = EstimateBytes(in.Len() / 4)

	res, err := New(cfg).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, res.Summary.Tiles, 1)
	assert.Equal(t, in.Len(), res.Cloud.Len(), "every point is owned by exactly one tile")

	// Per-tile patches are merged back into the two surfaces.
	require.Len(t, res.Patches, 2)
	assert.InDelta(t, 90, testutil.AxisAngleDeg(res.Patches[0].Plane.Normal, res.Patches[1].Plane.Normal), 0.5)
	assert.Less(t, len(res.Residual), in.Len()/100)
}

func TestRun_ResourceError(t *testing.T) {
	rec := &Recorder{}
	cfg := roomConfig()
	cfg.MemoryBudgetBytes = 1
	o := New(cfg)
	o.Reporter = rec

	_, err := o.Run(context.Background(), roomWithSpeckle())
	var re *ResourceError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Bounds.Empty())
	assert.Positive(t, re.Points)
	assert.Equal(t, int64(1), re.Budget)
	assert.Contains(t, err.Error(), "cannot be split")

	sums := rec.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, StatusFailed, sums[0].Status)
}

func TestRun_CancelledBetweenTiles(t *testing.T) {
	in := plateWithNoise()
	cfg := tiledConfig(in)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := New(cfg)
	o.Reporter = ReporterFunc{OnProgress: func(e ProgressEvent) {
		if e.Stage == StageClean && e.Tile == 1 && e.Processed == e.Total {
			cancel()
		}
	}}

	res, err := o.Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Summary.Status)
	assert.Greater(t, res.Summary.Tiles, 1)
	assert.Positive(t, res.Cloud.Len(), "the first tile's output is kept")
	assert.Less(t, res.Cloud.Len(), in.Len()/2)
}

func TestPlanTiles_PartitionIsExact(t *testing.T) {
	in := plateWithNoise()
	tiles, err := PlanTiles(in, EstimateBytes(in.Len()/5), 0.25, 0.05)
	require.NoError(t, err)
	require.Greater(t, len(tiles), 1)

	owners := make([]int, in.Len())
	for _, tl := range tiles {
		assert.LessOrEqual(t, EstimateBytes(len(tl.Indices)), EstimateBytes(in.Len()/5))
		for i := 0; i < in.Len(); i++ {
			if tl.Core.ContainsXYHalfOpen(in.Pos(i)) {
				owners[i]++
			}
		}
		for _, v := range []float64{tl.Core.Min.X, tl.Core.Max.X, tl.Core.Min.Y, tl.Core.Max.Y} {
			steps := v / 0.05
			assert.InDelta(t, math.Round(steps), steps, 1e-6, "tile edges snap to the quantum")
		}
	}
	for i, n := range owners {
		if n != 1 {
			t.Fatalf("point %d owned by %d tiles", i, n)
		}
	}
}

func TestPlanTiles_NoBudget(t *testing.T) {
	in := plateWithNoise()
	tiles, err := PlanTiles(in, 0, 0.25, 0.05)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Len(t, tiles[0].Indices, in.Len())

	tiles, err = PlanTiles(cloud.New(cloud.Channels{}, 0), 1, 0.25, 0.05)
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

type fakeLoader struct {
	c   *cloud.PointCloud
	err error
}

func (l fakeLoader) Load(context.Context, string) (*cloud.PointCloud, error) { return l.c, l.err }

type fakeExporter struct {
	calls   int
	points  int
	patches int
	format  string
}

func (e *fakeExporter) Export(_ context.Context, c *cloud.PointCloud, patches []segment.Patch, _, format string) error {
	e.calls++
	e.points, e.patches, e.format = c.Len(), len(patches), format
	return nil
}

func TestRunFile(t *testing.T) {
	exp := &fakeExporter{}
	o := New(roomConfig())
	o.Loader = fakeLoader{c: roomWithSpeckle()}
	o.Exporter = exp

	res, err := o.RunFile(context.Background(), "room.xyz", "room.out.xyz", "xyz")
	require.NoError(t, err)
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, res.Cloud.Len(), exp.points)
	assert.Equal(t, len(res.Patches), exp.patches)
	assert.Equal(t, "xyz", exp.format)
	assert.Equal(t, "room.xyz", res.Summary.Input)

	var names []string
	for _, m := range res.Summary.Stages {
		names = append(names, string(m.Stage))
	}
	assert.Equal(t, "load,clean,thin,segment,export", strings.Join(names, ","))
}

func TestRunFile_Errors(t *testing.T) {
	_, err := New(DefaultConfig()).RunFile(context.Background(), "a.xyz", "", "")
	assert.ErrorIs(t, err, ErrNoLoader)

	o := New(DefaultConfig())
	o.Loader = fakeLoader{}
	_, err = o.RunFile(context.Background(), "a.xyz", "b.xyz", "xyz")
	assert.ErrorIs(t, err, ErrNoExporter)

	errCorrupt := errors.New("corrupt")
	o.Loader = fakeLoader{err: errCorrupt}
	_, err = o.RunFile(context.Background(), "a.xyz", "", "")
	assert.ErrorIs(t, err, errCorrupt)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoad, se.Stage)
	assert.Equal(t, 0, se.Points)
}

func TestStageErrorKeepsTypedErrors(t *testing.T) {
	re := &ResourceError{Stage: StageClean}
	assert.Same(t, re, stageErr(StageThin, 10, re))
	assert.Nil(t, stageErr(StageThin, 10, nil))

	err := stageErr(StageThin, 10, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "stage thin failed on 10 points")
}

func TestMultiReporter(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := MultiReporter{a, b, NopReporter{}}
	m.Progress(ProgressEvent{Stage: StageClean, Processed: 1, Total: 2})
	m.Summary(RunSummary{RunID: "x"})
	for _, r := range []*Recorder{a, b} {
		assert.Len(t, r.Events(), 1)
		assert.Len(t, r.Summaries(), 1)
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.05, cfg.OverlapMargin())

	cfg.TileOverlapMargin = 0.2
	assert.Equal(t, 0.2, cfg.OverlapMargin())

	cfg = DefaultConfig()
	cfg.Cleaning.Radius.Enabled = false
	assert.Equal(t, 0.02, cfg.OverlapMargin())

	cfg = DefaultConfig()
	cfg.Cleaning.Order = []string{clean.NameRadius, clean.NameStatistical}
	c := cfg.Cleaner()
	require.Len(t, c.Filters, 2)
	assert.Equal(t, clean.NameRadius, c.Filters[0].Name())

	cfg.Cleaning.Statistical.Enabled = false
	assert.Len(t, cfg.Cleaner().Filters, 1)
}
