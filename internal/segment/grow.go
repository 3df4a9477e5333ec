package segment

import (
	"sort"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// connectivitySamples is the number of points sampled to estimate spacing.
const connectivitySamples = 1000

// connectivityNeighbors is the neighbour rank whose distance sets the
// automatic connectivity radius.
const connectivityNeighbors = 8

// largestComponent partitions the candidate points into groups connected by
// steps of at most r and returns the largest group, ascending. Ties go to
// the group holding the lowest index.
func largestComponent(pts []cloud.Point, idx spatial.Index, candidates []int, r float64) []int {
	if len(candidates) == 0 {
		return nil
	}
	isCandidate := make(map[int]bool, len(candidates))
	for _, i := range candidates {
		isCandidate[i] = true
	}
	visited := make(map[int]bool, len(candidates))

	var best []int
	var queue []int
	for _, seed := range candidates {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		queue = append(queue[:0], seed)
		var comp []int
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			comp = append(comp, q)
			for _, nb := range idx.Radius(pts[q].Pos, r) {
				if isCandidate[nb] && !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		// Seeds are visited in ascending order, so the first group of a
		// given size holds the lowest index.
		if len(comp) > len(best) {
			best = comp
		}
	}
	sort.Ints(best)
	return best
}

// AutoConnectivityRadius estimates the flood-fill step from a deterministic
// stride sample of pts: 1.5 times the median distance to the
// connectivityNeighbors-th nearest neighbour, and never less than floor.
func AutoConnectivityRadius(pts []cloud.Point, idx spatial.Index, floor float64) float64 {
	n := len(pts)
	if n < 2 {
		return floor
	}
	stride := max(1, n/connectivitySamples)
	spacing := make([]float64, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		// The query point itself is among the results.
		nbs := idx.KNearest(pts[i].Pos, connectivityNeighbors+1)
		if len(nbs) > 1 {
			spacing = append(spacing, nbs[len(nbs)-1].Dist)
		}
	}
	if len(spacing) == 0 {
		return floor
	}
	sort.Float64s(spacing)
	return max(1.5*spacing[len(spacing)/2], floor)
}
