package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/segment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func summary(id string, started time.Time, status pipeline.Status) pipeline.RunSummary {
	return pipeline.RunSummary{
		RunID:     id,
		Status:    status,
		Input:     "scan.xyz",
		Output:    "out.pts",
		PointsIn:  1000,
		PointsOut: 250,
		Patches:   2,
		Residual:  10,
		Tiles:     3,
		Started:   started,
		Elapsed:   1500 * time.Millisecond,
		Stages: []pipeline.StageMetrics{
			{Stage: pipeline.StageClean, PointsIn: 1000, PointsOut: 900, Rejected: map[string]int{"statistical": 60, "radius": 40}, Elapsed: time.Second},
			{Stage: pipeline.StageThin, PointsIn: 900, PointsOut: 250, Elapsed: 200 * time.Millisecond},
			{Stage: pipeline.StageSegment, Skipped: true},
		},
	}
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := summary("run-1", time.Unix(1700000000, 123), pipeline.StatusCompleted)

	require.NoError(t, s.SaveRun(ctx, want))
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces rather than duplicates.
	want.Status = pipeline.StatusCancelled
	want.Stages = want.Stages[:1]
	require.NoError(t, s.SaveRun(ctx, want))
	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCancelled, got.Status)
	assert.Len(t, got.Stages, 1)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	assert.Error(t, s.SaveRun(ctx, pipeline.RunSummary{}))
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, summary(id, base.Add(time.Duration(i)*time.Minute), pipeline.StatusCompleted)))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
	assert.Empty(t, runs[0].Stages)

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestPatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	patches := []segment.Patch{
		{
			Indices:  []int{0, 1, 2, 3},
			Plane:    segment.Plane{Normal: r3.Vec{Z: 1}, D: -0.5},
			RMS:      0.001,
			Centroid: r3.Vec{X: 1, Y: 2, Z: 0.5},
			Extent:   segment.Extent{MinU: -1, MaxU: 1, MinV: -2, MaxV: 2},
		},
		{Indices: []int{4, 5, 6}, Plane: segment.Plane{Normal: r3.Vec{X: 1}}},
	}
	assert.True(t, errors.Is(s.SavePatches(ctx, "nope", patches), ErrRunNotFound))

	require.NoError(t, s.SaveRun(ctx, summary("r", time.Now(), pipeline.StatusCompleted)))
	require.NoError(t, s.SavePatches(ctx, "r", patches))

	got, err := s.Patches(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Points)
	assert.Equal(t, r3.Vec{Z: 1}, got[0].Normal)
	assert.Equal(t, -0.5, got[0].D)
	assert.Equal(t, 8.0, got[0].Area())
	assert.Equal(t, 1, got[1].PatchID)

	require.NoError(t, s.DeleteRun(ctx, "r"))
	got, err = s.Patches(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, errors.Is(s.DeleteRun(ctx, "r"), ErrRunNotFound))
}

func TestUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Runs)

	require.NoError(t, s.SaveRun(ctx, summary("a", time.Now(), pipeline.StatusCompleted)))
	require.NoError(t, s.SaveRun(ctx, summary("b", time.Now(), pipeline.StatusCompleted)))
	require.NoError(t, s.SaveRun(ctx, pipeline.RunSummary{RunID: "c", Status: pipeline.StatusFailed, Started: time.Now(), Error: "boom"}))

	u, err = s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Runs)
	assert.Equal(t, 2, u.ByStatus[pipeline.StatusCompleted])
	assert.Equal(t, 1, u.ByStatus[pipeline.StatusFailed])
	assert.Equal(t, int64(2000), u.PointsProcessed)
	assert.Equal(t, int64(200), u.PointsRejected)
	assert.Equal(t, int64(4), u.Patches)
	assert.Equal(t, 3*time.Second, u.TotalElapsed)
}

func TestReporter_SavesSummaries(t *testing.T) {
	s := openTestStore(t)
	r := &Reporter{Store: s}

	var rep pipeline.Reporter = r
	rep.Progress(pipeline.ProgressEvent{Stage: pipeline.StageClean})
	rep.Summary(summary("via-reporter", time.Now(), pipeline.StatusCompleted))
	require.NoError(t, r.Err)

	got, err := s.GetRun(context.Background(), "via-reporter")
	require.NoError(t, err)
	assert.Equal(t, 1000, got.PointsIn)

	rep.Summary(pipeline.RunSummary{})
	assert.Error(t, r.Err)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)", dsn("a.db"))
	assert.Contains(t, dsn("file:a.db?mode=rwc"), "mode=rwc&_pragma=")
}
