package segment

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/parallel"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// Patch is one extracted planar surface. Indices refer to the segmented
// cloud and are ascending.
type Patch struct {
	Indices  []int
	Plane    Plane
	RMS      float64
	Centroid r3.Vec
	Extent   Extent
	Bounds   cloud.Bounds
}

// Len returns the number of inliers.
func (p Patch) Len() int { return len(p.Indices) }

// Result is the outcome of one segmentation.
type Result struct {
	// Patches ordered by size, largest first; ties by lowest inlier index.
	Patches []Patch
	// Residual holds the ascending indices of points in no patch.
	Residual []int
	// Trials is the total number of RANSAC samples drawn.
	Trials int
	// Merged counts the patches absorbed by the merge pass.
	Merged  int
	Elapsed time.Duration
}

// Segmenter runs plane extraction with fixed parameters.
type Segmenter struct {
	Params Params
	// OnPatch, if set, is called on the calling goroutine after each
	// extraction with the number of points still unassigned.
	OnPatch func(p Patch, remaining int)
}

// NewSegmenter returns a Segmenter with the given parameters.
func NewSegmenter(p Params) *Segmenter {
	return &Segmenter{Params: p}
}

// Segment extracts planes from c. idx must be built over c; when nil a
// k-d tree is built. A cloud with fewer than three points yields no patches
// and every point as residual. Cancellation is checked between planes.
func (s *Segmenter) Segment(ctx context.Context, c *cloud.PointCloud, idx spatial.Index) (Result, error) {
	start := time.Now()
	p := s.Params
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	n := c.Len()
	if n < 3 {
		return Result{Residual: allIndices(n), Elapsed: time.Since(start)}, nil
	}
	if idx == nil {
		var err error
		if idx, err = spatial.Build(ctx, c, spatial.Options{Workers: p.Workers}); err != nil {
			return Result{}, err
		}
	}
	if idx.Len() != n {
		return Result{}, fmt.Errorf("index covers %d points, cloud has %d", idx.Len(), n)
	}

	pts := c.Points()
	connR := p.ConnectivityRadius
	if connR == 0 {
		connR = AutoConnectivityRadius(pts, idx, p.DistanceThreshold)
	}
	tracef("segment: %d points, connectivity radius %.4g", n, connR)

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0xda942042e4dd58b5))
	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}
	remaining := allIndices(n)
	var res Result

	for len(remaining) >= p.MinPlanePoints && (p.MaxPlanes == 0 || len(res.Patches) < p.MaxPlanes) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		best, count, trials, err := s.ransac(ctx, pts, remaining, rng)
		res.Trials += trials
		if err != nil {
			return Result{}, err
		}
		if count < p.MinPlanePoints {
			tracef("segment: best candidate has %d inliers after %d trials, stopping", count, trials)
			break
		}

		// Refine on the sampled model's inliers, then regather against the
		// refined plane.
		inliers := collectInliers(pts, remaining, best, p.DistanceThreshold)
		if refined, ok := FitPlane(c, inliers); ok {
			best = refined
			inliers = collectInliers(pts, remaining, best, p.DistanceThreshold)
		}

		component := largestComponent(pts, idx, inliers, connR)
		if len(component) < p.MinPlanePoints {
			tracef("segment: largest connected inlier group has %d points, stopping", len(component))
			break
		}
		patch, ok := buildPatch(c, component)
		if !ok {
			break
		}
		res.Patches = append(res.Patches, patch)
		for _, i := range component {
			active[i] = false
		}
		remaining = compact(remaining, active)
		tracef("segment: patch %d with %d points, rms %.4g, normal %v, %d trials",
			len(res.Patches), patch.Len(), patch.RMS, patch.Plane.Normal, trials)
		if s.OnPatch != nil {
			s.OnPatch(patch, len(remaining))
		}
	}

	before := len(res.Patches)
	res.Patches = mergePatches(c, res.Patches, p, connR)
	res.Merged = before - len(res.Patches)
	sortPatches(res.Patches)

	res.Residual = residualOf(n, res.Patches)
	res.Elapsed = time.Since(start)
	diagf("segmented %d points into %d patches (%d merged), %d residual, %d trials in %v",
		n, len(res.Patches), res.Merged, len(res.Residual), res.Trials, res.Elapsed)
	return res, nil
}

// ransac returns the sampled plane with the most inliers among remaining.
// The trial budget shrinks as better models are found:
// N = log(1-confidence) / log(1-w^3) for inlier ratio w.
func (s *Segmenter) ransac(ctx context.Context, pts []cloud.Point, remaining []int, rng *rand.Rand) (Plane, int, int, error) {
	p := s.Params
	m := len(remaining)
	budget := p.MaxIterations
	var best Plane
	bestCount := -1
	trials := 0
	for trials < budget {
		trials++
		a, b, c := sample3(rng, m)
		pl, ok := planeThrough(pts[remaining[a]].Pos, pts[remaining[b]].Pos, pts[remaining[c]].Pos)
		if !ok {
			continue
		}
		count, err := countInliers(ctx, pts, remaining, pl, p.DistanceThreshold, p.Workers)
		if err != nil {
			return Plane{}, 0, trials, err
		}
		if count <= bestCount {
			continue
		}
		best, bestCount = pl, count
		w := float64(count) / float64(m)
		budget = min(budget, adaptiveTrials(w, p.Confidence, p.MaxIterations))
	}
	return best, max(bestCount, 0), trials, nil
}

// adaptiveTrials returns the number of trials needed to draw an all-inlier
// sample with the given confidence at inlier ratio w.
func adaptiveTrials(w, confidence float64, limit int) int {
	if w <= 0 {
		return limit
	}
	w3 := w * w * w
	if w3 >= 1 {
		return 1
	}
	need := math.Log(1-confidence) / math.Log(1-w3)
	if math.IsNaN(need) || need > float64(limit) {
		return limit
	}
	return max(1, int(math.Ceil(need)))
}

// sample3 draws three distinct positions in [0, m).
func sample3(rng *rand.Rand, m int) (int, int, int) {
	a := rng.IntN(m)
	b := rng.IntN(m - 1)
	if b >= a {
		b++
	}
	c := rng.IntN(m - 2)
	lo, hi := min(a, b), max(a, b)
	if c >= lo {
		c++
	}
	if c >= hi {
		c++
	}
	return a, b, c
}

// countInliers counts, in parallel, the points of remaining within thr of
// pl. Each worker counts its own range; the partial counts are summed.
func countInliers(ctx context.Context, pts []cloud.Point, remaining []int, pl Plane, thr float64, workers int) (int, error) {
	ranges := parallel.Split(len(remaining), workers)
	partial := make([]int, len(ranges))
	err := parallel.ForRanges(ctx, len(remaining), workers, func(_ context.Context, part int, r parallel.Range) error {
		n := 0
		for _, i := range remaining[r.Lo:r.Hi] {
			if math.Abs(pl.Distance(pts[i].Pos)) <= thr {
				n++
			}
		}
		partial[part] = n
		return nil
	})
	total := 0
	for _, n := range partial {
		total += n
	}
	return total, err
}

func collectInliers(pts []cloud.Point, remaining []int, pl Plane, thr float64) []int {
	var out []int
	for _, i := range remaining {
		if math.Abs(pl.Distance(pts[i].Pos)) <= thr {
			out = append(out, i)
		}
	}
	return out
}

// buildPatch fits the final plane and statistics over indices.
func buildPatch(c *cloud.PointCloud, indices []int) (Patch, bool) {
	pl, ok := FitPlane(c, indices)
	if !ok {
		return Patch{}, false
	}
	pts := c.Points()
	centroid := cloud.CentroidOf(pts, indices)
	b := cloud.EmptyBounds()
	for _, i := range indices {
		b = b.Extend(pts[i].Pos)
	}
	return Patch{
		Indices:  indices,
		Plane:    pl,
		RMS:      rmsDistance(pts, indices, pl),
		Centroid: centroid,
		Extent:   extentOf(pts, indices, pl, centroid),
		Bounds:   b,
	}, true
}

// sortPatches orders by size descending, then by lowest inlier index.
func sortPatches(ps []Patch) {
	sort.SliceStable(ps, func(a, b int) bool {
		if ps[a].Len() != ps[b].Len() {
			return ps[a].Len() > ps[b].Len()
		}
		return ps[a].Indices[0] < ps[b].Indices[0]
	})
}

func residualOf(n int, patches []Patch) []int {
	used := make([]bool, n)
	for _, p := range patches {
		for _, i := range p.Indices {
			used[i] = true
		}
	}
	out := make([]int, 0, n)
	for i, u := range used {
		if !u {
			out = append(out, i)
		}
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// compact drops inactive entries from remaining in place.
func compact(remaining []int, active []bool) []int {
	out := remaining[:0]
	for _, i := range remaining {
		if active[i] {
			out = append(out, i)
		}
	}
	return out
}
