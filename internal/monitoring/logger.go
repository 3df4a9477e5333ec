package monitoring

import (
	"log"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogReporter writes stage completions and run summaries through Logf.
// Intermediate progress events are dropped.
type LogReporter struct{}

func (LogReporter) Progress(e pipeline.ProgressEvent) {
	if e.Total == 0 || e.Processed != e.Total {
		return
	}
	if e.Tiles > 0 {
		Logf("[%s] %s tile %d/%d: %d points in %dms", shortID(e.RunID), e.Stage, e.Tile, e.Tiles, e.Total, e.ElapsedMS())
		return
	}
	Logf("[%s] %s: %d points in %dms", shortID(e.RunID), e.Stage, e.Total, e.ElapsedMS())
}

func (LogReporter) Summary(s pipeline.RunSummary) {
	if s.Status == pipeline.StatusFailed {
		Logf("[%s] run failed after %v: %s", shortID(s.RunID), s.Elapsed, s.Error)
		return
	}
	Logf("[%s] run %s: %d -> %d points, %d rejected, %d patches, %d residual, %d tiles in %v",
		shortID(s.RunID), s.Status, s.PointsIn, s.PointsOut, s.Rejected(), s.Patches, s.Residual, s.Tiles, s.Elapsed)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
