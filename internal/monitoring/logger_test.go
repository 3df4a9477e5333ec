package monitoring

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogReporter_Progress(t *testing.T) {
	lines := captureLogs(t)
	r := LogReporter{}

	r.Progress(pipeline.ProgressEvent{RunID: "0123456789abcdef", Stage: pipeline.StageClean, Processed: 10, Total: 100})
	if len(*lines) != 0 {
		t.Fatalf("partial progress was logged: %v", *lines)
	}

	r.Progress(pipeline.ProgressEvent{RunID: "0123456789abcdef", Stage: pipeline.StageClean, Processed: 100, Total: 100, Elapsed: 25 * time.Millisecond})
	r.Progress(pipeline.ProgressEvent{RunID: "abc", Stage: pipeline.StageThin, Processed: 5, Total: 5, Tile: 2, Tiles: 3})
	if len(*lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(*lines), *lines)
	}
	if got := (*lines)[0]; got != "[01234567] clean: 100 points in 25ms" {
		t.Errorf("line 0 = %q", got)
	}
	if got := (*lines)[1]; !strings.Contains(got, "[abc] thin tile 2/3") {
		t.Errorf("line 1 = %q", got)
	}
}

func TestLogReporter_Summary(t *testing.T) {
	lines := captureLogs(t)
	r := LogReporter{}

	r.Summary(pipeline.RunSummary{
		RunID:     "run",
		Status:    pipeline.StatusCompleted,
		PointsIn:  1000,
		PointsOut: 400,
		Patches:   2,
		Stages: []pipeline.StageMetrics{
			{Stage: pipeline.StageClean, Rejected: map[string]int{"radius": 7, "statistical": 3}},
		},
	})
	r.Summary(pipeline.RunSummary{RunID: "run", Status: pipeline.StatusFailed, Error: "boom"})

	if len(*lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(*lines))
	}
	if got := (*lines)[0]; !strings.Contains(got, "run completed: 1000 -> 400 points, 10 rejected, 2 patches") {
		t.Errorf("summary line = %q", got)
	}
	if got := (*lines)[1]; !strings.Contains(got, "run failed") || !strings.Contains(got, "boom") {
		t.Errorf("failure line = %q", got)
	}
}
