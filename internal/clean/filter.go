package clean

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/parallel"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// Filter names used as keys in Stats.Rejected.
const (
	NameStatistical = "statistical"
	NameRadius      = "radius"
)

// Filter decides, for every point of a cloud, whether it is noise.
// Implementations must only read c and idx; idx is built over c.
type Filter interface {
	Name() string
	// Evaluate returns a rejection mask aligned with c.
	Evaluate(ctx context.Context, c *cloud.PointCloud, idx spatial.Index) ([]bool, error)
}

// StatisticalFilter rejects points whose mean distance to their Neighbors
// nearest neighbours exceeds mean + StdRatio*stddev of that statistic over
// the whole cloud.
type StatisticalFilter struct {
	Neighbors int
	StdRatio  float64
	Workers   int

	// Results of the most recent Evaluate.
	mean, stdDev, threshold float64
}

// NewStatisticalFilter constructs a statistical filter.
func NewStatisticalFilter(neighbors int, stdRatio float64) *StatisticalFilter {
	return &StatisticalFilter{Neighbors: neighbors, StdRatio: stdRatio}
}

// Name implements Filter.
func (f *StatisticalFilter) Name() string { return NameStatistical }

// Validate checks the filter parameters.
func (f *StatisticalFilter) Validate() error {
	if f.Neighbors < 1 {
		return fmt.Errorf("statistical filter neighbors must be >= 1, got %d", f.Neighbors)
	}
	if !(f.StdRatio >= 0) {
		return fmt.Errorf("statistical filter std_ratio must be >= 0, got %v", f.StdRatio)
	}
	return nil
}

// Evaluate implements Filter. k is clamped to len(c)-1. When the statistic
// has no spread (every point equally spaced, or fewer than two points) all
// points pass.
func (f *StatisticalFilter) Evaluate(ctx context.Context, c *cloud.PointCloud, idx spatial.Index) ([]bool, error) {
	n := c.Len()
	reject := make([]bool, n)
	f.mean, f.stdDev, f.threshold = 0, 0, math.Inf(1)
	k := min(f.Neighbors, n-1)
	if k < 1 {
		return reject, nil
	}

	meanDist := make([]float64, n)
	err := parallel.ForRanges(ctx, n, f.Workers, func(_ context.Context, _ int, r parallel.Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			meanDist[i] = meanNeighborDist(idx, c.Pos(i), i, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(meanDist, nil)
	f.mean, f.stdDev = mean, std
	if std == 0 || math.IsNaN(std) {
		tracef("statistical: degenerate spread (mean=%.6g std=%.6g), all %d points pass", mean, std, n)
		return reject, nil
	}
	f.threshold = mean + f.StdRatio*std
	for i, d := range meanDist {
		reject[i] = d > f.threshold
	}
	tracef("statistical: k=%d mean=%.6g std=%.6g threshold=%.6g", k, mean, std, f.threshold)
	return reject, nil
}

// meanNeighborDist averages the distances to the k nearest points other
// than self. Duplicates of self count as neighbours at distance zero.
func meanNeighborDist(idx spatial.Index, q r3.Vec, self, k int) float64 {
	nn := idx.KNearest(q, k+1)
	sum := 0.0
	used := 0
	for _, nb := range nn {
		if nb.Index == self {
			continue
		}
		if used == k {
			break
		}
		sum += nb.Dist
		used++
	}
	if used == 0 {
		return 0
	}
	return sum / float64(used)
}

// LastStats returns the mean, standard deviation and rejection threshold of
// the most recent evaluation. The threshold is +Inf when nothing could be
// rejected.
func (f *StatisticalFilter) LastStats() (mean, stdDev, threshold float64) {
	return f.mean, f.stdDev, f.threshold
}

// RadiusFilter rejects points that have fewer than MinNeighbors other points
// within Radius.
type RadiusFilter struct {
	Radius       float64
	MinNeighbors int
	Workers      int
}

// NewRadiusFilter constructs a radius filter.
func NewRadiusFilter(radius float64, minNeighbors int) *RadiusFilter {
	return &RadiusFilter{Radius: radius, MinNeighbors: minNeighbors}
}

// Name implements Filter.
func (f *RadiusFilter) Name() string { return NameRadius }

// Validate checks the filter parameters.
func (f *RadiusFilter) Validate() error {
	if !(f.Radius > 0) {
		return fmt.Errorf("radius filter radius must be > 0, got %v", f.Radius)
	}
	if f.MinNeighbors < 0 {
		return fmt.Errorf("radius filter min_neighbors must be >= 0, got %d", f.MinNeighbors)
	}
	return nil
}

// Evaluate implements Filter. The required count is clamped to len(c)-1 so
// that a cloud smaller than MinNeighbors is not wiped out.
func (f *RadiusFilter) Evaluate(ctx context.Context, c *cloud.PointCloud, idx spatial.Index) ([]bool, error) {
	n := c.Len()
	reject := make([]bool, n)
	need := min(f.MinNeighbors, n-1)
	if need <= 0 {
		return reject, nil
	}
	err := parallel.ForRanges(ctx, n, f.Workers, func(_ context.Context, _ int, r parallel.Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			// RadiusCount includes the query point itself.
			reject[i] = idx.RadiusCount(c.Pos(i), f.Radius)-1 < need
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reject, nil
}
