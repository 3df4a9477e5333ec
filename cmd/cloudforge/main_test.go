package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cloudforge/internal/pcio"
	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/store"
	"github.com/banshee-data/cloudforge/internal/testutil"
)

func TestDispatch(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, 2},
		{[]string{"help"}, 0},
		{[]string{"--version"}, 0},
		{[]string{"frobnicate"}, 2},
		{[]string{"process"}, 2},
		{[]string{"process", "-log", "loud", "x.xyz"}, 2},
		{[]string{"validate-config"}, 2},
		{[]string{"create-preset", "-dir", os.TempDir()}, 2},
	}
	for _, tt := range tests {
		if got := dispatch(tt.args); got != tt.want {
			t.Errorf("dispatch(%q) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logLevel{"off": logOff, "none": logOff, "ops": logOps, "diag": logDiag, "trace": logTrace}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseLogLevel("verbose"); err == nil {
		t.Error("parseLogLevel(verbose) succeeded, want error")
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pts", "b.xyz", "sub/c.pts", "sub/d.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("0 0 0\n"), 0o644))
	}

	got, err := expandInputs([]string{
		filepath.Join(dir, "**", "*.pts"),
		filepath.Join(dir, "a.pts"),
		filepath.Join(dir, "missing.xyz"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.pts"),
		filepath.Join(dir, "sub", "c.pts"),
		filepath.Join(dir, "missing.xyz"),
	}, got)

	_, err = expandInputs([]string{filepath.Join(dir, "*.las")})
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		in     string
		out    string
		format string
		multi  bool
		want   string
	}{
		{"next to input", "/scans/room.xyz", "", "", false, "/scans/room_processed.pts"},
		{"next to input with format", "/scans/room.pts", "", "xyz", false, "/scans/room_processed.xyz"},
		{"explicit file", "/scans/room.xyz", "/out/clean.xyz", "", false, "/out/clean.xyz"},
		{"existing dir", "/scans/room.xyz", dir, "", false, filepath.Join(dir, "room.pts")},
		{"several inputs", "/scans/room.xyz", "/out", "json", true, "/out/room.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputPath(tt.in, tt.out, tt.format, tt.multi)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := outputPath("/scans/room.xyz", "", "las", false)
	assert.Error(t, err)
}

func TestProgressReporter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressReporter(&buf)
	p.Progress(pipeline.ProgressEvent{Stage: pipeline.StageClean, Processed: 50, Total: 100})
	p.Progress(pipeline.ProgressEvent{Stage: pipeline.StageClean, Processed: 100, Total: 100})
	assert.Nil(t, p.bar, "bar should finish at its total")
	p.Progress(pipeline.ProgressEvent{Stage: pipeline.StageSegment, Processed: 10, Tile: 1, Tiles: 4})
	require.NotNil(t, p.bar)
	assert.Equal(t, "segment 1/4", p.key)
	p.Summary(pipeline.RunSummary{})
	assert.Nil(t, p.bar)
	assert.Empty(t, p.key)
}

func TestProcessEndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "room.xyz")
	require.NoError(t, pcio.Exporter{}.Export(context.Background(), testutil.FloorAndWall(60, 6), nil, in, ""))

	out := filepath.Join(dir, "out", "room.pts")
	db := filepath.Join(dir, "runs.db")
	reports := filepath.Join(dir, "reports")
	metrics := filepath.Join(dir, "cloudforge.prom")

	code := dispatch([]string{"process",
		"-log", "off", "-progress=false",
		"-skip-cleaning", "-skip-thinning",
		"-out", out, "-db", db, "-report", reports, "-metrics-file", metrics,
		in,
	})
	require.Equal(t, 0, code)

	assert.FileExists(t, out)
	assert.FileExists(t, pcio.PatchSidecarPath(out))

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `cloudforge_runs_total{status="completed"} 1`)

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, pipeline.StatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Patches)
	patches, err := s.Patches(context.Background(), runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, patches, 2)

	entries, err := os.ReadDir(reports)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, runs[0].RunID+".html")
	assert.Contains(t, names, runs[0].RunID+"_rms.png")
}

func TestSavePatchesAfterInterrupt(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	seg, err := segment.NewSegmenter(segment.DefaultParams()).Segment(context.Background(), testutil.FloorAndWall(60, 6), nil)
	require.NoError(t, err)
	require.Len(t, seg.Patches, 2)

	sum := pipeline.RunSummary{RunID: "5d7f3c1a-9e2b-4c6d-8a1f-2b3c4d5e6f70", Status: pipeline.StatusCancelled, Patches: 2}
	require.NoError(t, s.SaveRun(context.Background(), sum))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, savePatches(ctx, s, &pipeline.Result{Patches: seg.Patches, Summary: sum}))

	stored, err := s.Patches(context.Background(), sum.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestProcessMissingInputFails(t *testing.T) {
	code := dispatch([]string{"process", "-log", "off", "-progress=false", filepath.Join(t.TempDir(), "nope.xyz")})
	assert.Equal(t, 1, code)
}

func TestPresetCommands(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, 0, dispatch([]string{"create-preset", "-dir", dir, "-name", "site", "-scanner", "FARO Focus"}))
	assert.FileExists(t, filepath.Join(dir, "site.yaml"))
	assert.Equal(t, 0, dispatch([]string{"presets", "-dir", dir}))
	assert.Equal(t, 0, dispatch([]string{"validate-config", filepath.Join(dir, "site.yaml")}))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("thinning:\n  voxel_size: -1\n"), 0o644))
	assert.Equal(t, 1, dispatch([]string{"validate-config", bad}))
}

func TestRunsCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	s, err := store.Open(db)
	require.NoError(t, err)
	sum := pipeline.RunSummary{
		RunID:     "0b6c1f0e-2a53-4d7e-9a53-6c1d0e2a5f11",
		Status:    pipeline.StatusCompleted,
		Input:     "room.xyz",
		PointsIn:  100,
		PointsOut: 90,
		Stages: []pipeline.StageMetrics{
			{Stage: pipeline.StageClean, PointsIn: 100, PointsOut: 90, Rejected: map[string]int{"radius": 10}},
		},
	}
	require.NoError(t, s.SaveRun(context.Background(), sum))
	require.NoError(t, s.Close())

	assert.Equal(t, 0, dispatch([]string{"runs", "-db", db}))
	assert.Equal(t, 0, dispatch([]string{"runs", "show", "-db", db, sum.RunID}))
	assert.Equal(t, 0, dispatch([]string{"runs", "usage", "-db", db, "-json"}))
	assert.Equal(t, 2, dispatch([]string{"runs", "show", "-db", db}))
	assert.Equal(t, 2, dispatch([]string{"runs", "explode", "-db", db}))

	out := t.TempDir()
	assert.Equal(t, 0, dispatch([]string{"runs", "report", "-db", db, "-out", out, sum.RunID}))
	assert.FileExists(t, filepath.Join(out, sum.RunID+".html"))

	assert.Equal(t, 0, dispatch([]string{"runs", "delete", "-db", db, sum.RunID}))
	assert.Equal(t, 1, dispatch([]string{"runs", "show", "-db", db, sum.RunID}))
}

func TestInfoJSON(t *testing.T) {
	in := filepath.Join(t.TempDir(), "grid.pts")
	require.NoError(t, pcio.Exporter{}.Export(context.Background(), testutil.Grid(4, 4, 2, 0.5), nil, in, ""))
	assert.Equal(t, 0, dispatch([]string{"info", "-log", "off", "-json", in}))
	assert.Equal(t, 1, dispatch([]string{"info", "-log", "off", strings.TrimSuffix(in, ".pts") + ".xyz"}))
}
