package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusCompleted means every enabled stage ran to completion.
	StatusCompleted Status = "completed"
	// StatusCancelled means the run stopped at a stage or tile boundary;
	// the result holds the output of the work completed before that.
	StatusCancelled Status = "cancelled"
	// StatusFailed is recorded in summaries of runs that returned an error.
	StatusFailed Status = "failed"
)

var (
	// ErrNoLoader is returned by RunFile when no Loader is configured.
	ErrNoLoader = errors.New("pipeline: no loader configured")
	// ErrNoExporter is returned by RunFile when an output path is given but
	// no Exporter is configured.
	ErrNoExporter = errors.New("pipeline: no exporter configured")
)

// ConfigError reports an out-of-range or inconsistent configuration value.
// It is always returned before any stage runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ResourceError reports that the memory budget cannot be met because a tile
// can no longer be split.
type ResourceError struct {
	Stage    Stage
	Bounds   cloud.Bounds // padded bounds of the offending tile
	Points   int          // points inside Bounds
	Estimate int64        // estimated working set in bytes
	Budget   int64
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: tile %s with %d points needs ~%d bytes, budget is %d and the tile cannot be split further",
		e.Stage, e.Bounds, e.Points, e.Estimate, e.Budget)
}

// StageError wraps a failure inside a stage with the stage name and the
// number of points the stage received.
type StageError struct {
	Stage  Stage
	Points int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed on %d points: %v", e.Stage, e.Points, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, points int, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	var re *ResourceError
	if errors.As(err, &se) || errors.As(err, &re) {
		return err
	}
	return &StageError{Stage: stage, Points: points, Err: err}
}
