package segment

import (
	"math"
	"sort"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

// MergePatches merges patches of c whose planes are near-coincident and
// whose bounds lie within the connectivity radius of each other. Patches
// from separately segmented parts of c (for example tiles) can be merged as
// long as their indices refer to c. When p.ConnectivityRadius is zero the
// larger of MergeOffset and DistanceThreshold is used as the gap.
func MergePatches(c *cloud.PointCloud, patches []Patch, p Params) []Patch {
	gap := p.ConnectivityRadius
	if gap == 0 {
		gap = math.Max(p.MergeOffset, p.DistanceThreshold)
	}
	out := mergePatches(c, patches, p, gap)
	sortPatches(out)
	return out
}

func mergePatches(c *cloud.PointCloud, patches []Patch, p Params, gap float64) []Patch {
	if len(patches) < 2 {
		return patches
	}
	parent := make([]int, len(patches))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	joined := false
	for i := range patches {
		for j := i + 1; j < len(patches); j++ {
			if !coincident(patches[i], patches[j], p, gap) {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[max(ri, rj)] = min(ri, rj)
				joined = true
			}
		}
	}
	if !joined {
		return patches
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range patches {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	out := make([]Patch, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		if len(members) == 1 {
			out = append(out, patches[members[0]])
			continue
		}
		var indices []int
		for _, m := range members {
			indices = append(indices, patches[m].Indices...)
		}
		sort.Ints(indices)
		merged, ok := buildPatch(c, indices)
		if !ok {
			for _, m := range members {
				out = append(out, patches[m])
			}
			continue
		}
		tracef("merge: %d patches -> %d points", len(members), merged.Len())
		out = append(out, merged)
	}
	return out
}

// coincident reports whether a and b describe the same surface.
func coincident(a, b Patch, p Params, gap float64) bool {
	if a.Plane.AngleDeg(b.Plane) > p.MergeAngleDeg {
		return false
	}
	if math.Abs(a.Plane.Distance(b.Centroid)) > p.MergeOffset ||
		math.Abs(b.Plane.Distance(a.Centroid)) > p.MergeOffset {
		return false
	}
	return a.Bounds.Expand(gap).Intersects(b.Bounds)
}
