package pipeline

import (
	"sync"
	"time"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageLoad    Stage = "load"
	StageClean   Stage = "clean"
	StageThin    Stage = "thin"
	StageSegment Stage = "segment"
	StageExport  Stage = "export"
)

// ProgressEvent is emitted as a stage advances. Processed and Total count
// points, except for the segment stage where they count assigned points.
type ProgressEvent struct {
	RunID     string
	Stage     Stage
	Processed int
	Total     int
	Tile      int // 1-based tile number, 0 when not tiled
	Tiles     int
	Elapsed   time.Duration // since the stage started
}

// ElapsedMS returns Elapsed in whole milliseconds.
func (e ProgressEvent) ElapsedMS() int64 { return e.Elapsed.Milliseconds() }

// StageMetrics summarises one stage of a run.
type StageMetrics struct {
	Stage     Stage
	PointsIn  int
	PointsOut int
	Rejected  map[string]int `json:",omitempty"`
	Patches   int            `json:",omitempty"`
	Skipped   bool           `json:",omitempty"`
	Elapsed   time.Duration
}

// RunSummary is the terminal record of a run.
type RunSummary struct {
	RunID     string
	Status    Status
	Input     string `json:",omitempty"`
	Output    string `json:",omitempty"`
	PointsIn  int
	PointsOut int
	Patches   int
	Residual  int
	Tiles     int
	Stages    []StageMetrics
	Started   time.Time
	Elapsed   time.Duration
	Error     string `json:",omitempty"`
}

// Stage returns the metrics of the named stage, if it was recorded.
func (s RunSummary) Stage(name Stage) (StageMetrics, bool) {
	for _, m := range s.Stages {
		if m.Stage == name {
			return m, true
		}
	}
	return StageMetrics{}, false
}

// Rejected returns the total number of points removed by cleaning.
func (s RunSummary) Rejected() int {
	m, ok := s.Stage(StageClean)
	if !ok {
		return 0
	}
	n := 0
	for _, v := range m.Rejected {
		n += v
	}
	return n
}

// Reporter consumes progress events and run summaries. Calls are made from
// the goroutine running the pipeline, in order.
type Reporter interface {
	Progress(ProgressEvent)
	Summary(RunSummary)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Progress(ProgressEvent) {}
func (NopReporter) Summary(RunSummary)     {}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Progress(e ProgressEvent) {
	for _, r := range m {
		r.Progress(e)
	}
}

func (m MultiReporter) Summary(s RunSummary) {
	for _, r := range m {
		r.Summary(s)
	}
}

// ReporterFunc adapts a pair of functions to a Reporter. Nil functions are
// skipped.
type ReporterFunc struct {
	OnProgress func(ProgressEvent)
	OnSummary  func(RunSummary)
}

func (f ReporterFunc) Progress(e ProgressEvent) {
	if f.OnProgress != nil {
		f.OnProgress(e)
	}
}

func (f ReporterFunc) Summary(s RunSummary) {
	if f.OnSummary != nil {
		f.OnSummary(s)
	}
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	events    []ProgressEvent
	summaries []RunSummary
}

func (r *Recorder) Progress(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Summary(s RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

// Events returns a copy of the recorded progress events.
func (r *Recorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

// Summaries returns a copy of the recorded summaries.
func (r *Recorder) Summaries() []RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunSummary(nil), r.summaries...)
}
