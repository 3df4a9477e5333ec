package clean

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// Stats summarises one cleaning pass.
type Stats struct {
	Input    int
	Output   int
	Rejected map[string]int // by filter name; each point counted once

	// Statistical filter figures, zero when that filter did not run.
	Mean      float64
	StdDev    float64
	Threshold float64

	Elapsed time.Duration
}

// Add accumulates o into s. The statistical figures keep the values of the
// first pass that reported them.
func (s *Stats) Add(o Stats) {
	s.Input += o.Input
	s.Output += o.Output
	if s.Rejected == nil {
		s.Rejected = make(map[string]int, len(o.Rejected))
	}
	for k, v := range o.Rejected {
		s.Rejected[k] += v
	}
	if s.Threshold == 0 {
		s.Mean, s.StdDev, s.Threshold = o.Mean, o.StdDev, o.Threshold
	}
	s.Elapsed += o.Elapsed
}

// TotalRejected returns the number of removed points.
func (s Stats) TotalRejected() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Cleaner applies a list of filters against a single index over its input.
// A point is removed when any filter rejects it and is attributed to the
// first filter in list order that did.
type Cleaner struct {
	Filters []Filter
	Index   spatial.Options
}

// Validate checks every filter that knows how to validate itself.
func (c *Cleaner) Validate() error {
	for _, f := range c.Filters {
		if v, ok := f.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaxRadius returns the largest fixed search radius among the filters, or
// zero when none uses one.
func (c *Cleaner) MaxRadius() float64 {
	r := 0.0
	for _, f := range c.Filters {
		if rf, ok := f.(*RadiusFilter); ok {
			r = math.Max(r, rf.Radius)
		}
	}
	return r
}

// Kept marks an unrejected point in the result of Evaluate.
const Kept = -1

// Clean returns the surviving points of in, in original relative order.
func (c *Cleaner) Clean(ctx context.Context, in *cloud.PointCloud) (*cloud.PointCloud, Stats, error) {
	if in.Len() == 0 {
		return cloud.New(in.Channels(), 0), Stats{Rejected: map[string]int{}}, nil
	}
	idx, err := spatial.Build(ctx, in, c.Index)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("build index: %w", err)
	}
	rejectedBy, stats, err := c.Evaluate(ctx, in, idx)
	if err != nil {
		return nil, Stats{}, err
	}
	keep := make([]bool, len(rejectedBy))
	for i, r := range rejectedBy {
		keep[i] = r == Kept
	}
	out, err := in.Keep(keep)
	if err != nil {
		return nil, Stats{}, err
	}
	stats.Output = out.Len()
	return out, stats, nil
}

// Evaluate runs every filter against idx, which must be built over in. For
// each point the result holds Kept or the position in Filters of the first
// filter that rejected it.
func (c *Cleaner) Evaluate(ctx context.Context, in *cloud.PointCloud, idx spatial.Index) ([]int, Stats, error) {
	start := time.Now()
	n := in.Len()
	stats := Stats{Input: n, Rejected: make(map[string]int, len(c.Filters))}
	rejectedBy := make([]int, n)
	for i := range rejectedBy {
		rejectedBy[i] = Kept
	}
	for fi, f := range c.Filters {
		reject, err := f.Evaluate(ctx, in, idx)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("%s filter: %w", f.Name(), err)
		}
		if len(reject) != n {
			return nil, Stats{}, fmt.Errorf("%s filter returned %d decisions for %d points", f.Name(), len(reject), n)
		}
		for i, r := range reject {
			if r && rejectedBy[i] == Kept {
				rejectedBy[i] = fi
			}
		}
		if sf, ok := f.(*StatisticalFilter); ok {
			stats.Mean, stats.StdDev, stats.Threshold = sf.LastStats()
		}
	}
	stats.Rejected = c.CountRejections(rejectedBy, nil)
	stats.Output = n - stats.TotalRejected()
	stats.Elapsed = time.Since(start)
	if n > 0 && stats.Output == 0 {
		opsf("all %d points rejected; check filter parameters", n)
	}
	diagf("cleaned %d -> %d points (rejected %v) in %v", n, stats.Output, stats.Rejected, stats.Elapsed)
	return rejectedBy, stats, nil
}

// CountRejections tallies an Evaluate result by filter name, restricted to
// the points for which include returns true (all points when nil).
func (c *Cleaner) CountRejections(rejectedBy []int, include func(i int) bool) map[string]int {
	out := make(map[string]int, len(c.Filters))
	for _, f := range c.Filters {
		out[f.Name()] = 0
	}
	for i, r := range rejectedBy {
		if r == Kept || (include != nil && !include(i)) {
			continue
		}
		out[c.Filters[r].Name()]++
	}
	return out
}
