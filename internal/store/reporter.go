package store

import (
	"context"
	"time"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

// Reporter saves every run summary it receives. Progress events are
// ignored. Failures are logged to the ops stream and kept in Err.
type Reporter struct {
	Store   *Store
	Timeout time.Duration // per save; zero means 10s

	Err error
}

func (r *Reporter) Progress(pipeline.ProgressEvent) {}

func (r *Reporter) Summary(s pipeline.RunSummary) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Store.SaveRun(ctx, s); err != nil {
		opsf("save run %s: %v", s.RunID, err)
		r.Err = err
	}
}
