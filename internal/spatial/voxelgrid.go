package spatial

import (
	"context"
	"math"
	"sort"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// VoxelGrid is a uniform hash grid: voxel key to the indices of the points it
// holds, in ascending index order.
type VoxelGrid struct {
	pts      []cloud.Point
	cellSize float64
	cells    map[cloud.VoxelKey][]int
	keyMin   cloud.VoxelKey
	keyMax   cloud.VoxelKey
}

// NewVoxelGrid buckets pts into cubic cells of edge cellSize. Bucketing runs
// in parallel over contiguous ranges; partial maps are merged in range order
// so every bucket stays sorted by point index.
func NewVoxelGrid(ctx context.Context, pts []cloud.Point, cellSize float64, workers int) (*VoxelGrid, error) {
	g := &VoxelGrid{pts: pts, cellSize: cellSize}
	ranges := parallel.Split(len(pts), workers)
	partials := make([]map[cloud.VoxelKey][]int, len(ranges))
	err := parallel.ForRanges(ctx, len(pts), workers, func(_ context.Context, part int, r parallel.Range) error {
		m := make(map[cloud.VoxelKey][]int, r.Len()/EstimatedPointsPerCell+1)
		for i := r.Lo; i < r.Hi; i++ {
			k := cloud.KeyOf(pts[i].Pos, cellSize)
			m[k] = append(m[k], i)
		}
		partials[part] = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.cells = make(map[cloud.VoxelKey][]int, len(pts)/EstimatedPointsPerCell+1)
	for _, m := range partials {
		for k, idx := range m {
			g.cells[k] = append(g.cells[k], idx...)
		}
	}

	first := true
	for k := range g.cells {
		if first {
			g.keyMin, g.keyMax = k, k
			first = false
			continue
		}
		g.keyMin = cloud.VoxelKey{I: min(g.keyMin.I, k.I), J: min(g.keyMin.J, k.J), K: min(g.keyMin.K, k.K)}
		g.keyMax = cloud.VoxelKey{I: max(g.keyMax.I, k.I), J: max(g.keyMax.J, k.J), K: max(g.keyMax.K, k.K)}
	}
	return g, nil
}

// EstimatedPointsPerCell is used for initial map capacity estimation.
const EstimatedPointsPerCell = 4

// Kind implements Index.
func (g *VoxelGrid) Kind() Kind { return KindVoxelGrid }

// Len implements Index.
func (g *VoxelGrid) Len() int { return len(g.pts) }

// CellSize returns the cell edge length.
func (g *VoxelGrid) CellSize() float64 { return g.cellSize }

// Cell returns the indices of the points in the voxel with key k.
func (g *VoxelGrid) Cell(k cloud.VoxelKey) []int { return g.cells[k] }

// Occupied returns the number of non-empty cells.
func (g *VoxelGrid) Occupied() int { return len(g.cells) }

// visitRange calls fn for every occupied cell within rings of the query
// cell, clipped to the occupied key extent.
func (g *VoxelGrid) visitRange(kq cloud.VoxelKey, rings int64, fn func([]int)) {
	iLo, iHi := max(kq.I-rings, g.keyMin.I), min(kq.I+rings, g.keyMax.I)
	jLo, jHi := max(kq.J-rings, g.keyMin.J), min(kq.J+rings, g.keyMax.J)
	kLo, kHi := max(kq.K-rings, g.keyMin.K), min(kq.K+rings, g.keyMax.K)
	for i := iLo; i <= iHi; i++ {
		for j := jLo; j <= jHi; j++ {
			for k := kLo; k <= kHi; k++ {
				if idx, ok := g.cells[cloud.VoxelKey{I: i, J: j, K: k}]; ok {
					fn(idx)
				}
			}
		}
	}
}

func (g *VoxelGrid) rings(r float64) int64 {
	n := int64(math.Ceil(r / g.cellSize))
	if n < 1 {
		// A query point can sit on a cell face, so the direct neighbours are
		// always visited.
		n = 1
	}
	return n
}

// Radius implements Index.
func (g *VoxelGrid) Radius(q r3.Vec, r float64) []int {
	if len(g.cells) == 0 || r < 0 {
		return nil
	}
	r2 := r * r
	var out []int
	g.visitRange(cloud.KeyOf(q, g.cellSize), g.rings(r), func(idx []int) {
		for _, i := range idx {
			if dist2(g.pts[i].Pos, q) <= r2 {
				out = append(out, i)
			}
		}
	})
	sort.Ints(out)
	return out
}

// RadiusCount implements Index.
func (g *VoxelGrid) RadiusCount(q r3.Vec, r float64) int {
	if len(g.cells) == 0 || r < 0 {
		return 0
	}
	r2 := r * r
	n := 0
	g.visitRange(cloud.KeyOf(q, g.cellSize), g.rings(r), func(idx []int) {
		for _, i := range idx {
			if dist2(g.pts[i].Pos, q) <= r2 {
				n++
			}
		}
	})
	return n
}

// KNearest implements Index. Cells are visited in shells of growing
// Chebyshev radius R; after shell R every unvisited point is at least
// R*cellSize away, so the search stops once the k-th distance is strictly
// below that bound.
func (g *VoxelGrid) KNearest(q r3.Vec, k int) []Neighbor {
	if len(g.cells) == 0 || k <= 0 {
		return nil
	}
	if k > len(g.pts) {
		k = len(g.pts)
	}
	kq := cloud.KeyOf(q, g.cellSize)
	maxRing := max(
		abs64(kq.I-g.keyMin.I), abs64(g.keyMax.I-kq.I),
		abs64(kq.J-g.keyMin.J), abs64(g.keyMax.J-kq.J),
		abs64(kq.K-g.keyMin.K), abs64(g.keyMax.K-kq.K),
	)
	set := newNeighborSet(k)
	for ring := int64(0); ring <= maxRing; ring++ {
		g.visitShell(kq, ring, func(idx []int) {
			for _, i := range idx {
				set.push(i, dist2(g.pts[i].Pos, q))
			}
		})
		if set.full() {
			bound := float64(ring) * g.cellSize
			if set.worst() < bound*bound {
				break
			}
		}
	}
	return set.finish()
}

// visitShell calls fn for the occupied cells whose Chebyshev distance from
// kq is exactly ring.
func (g *VoxelGrid) visitShell(kq cloud.VoxelKey, ring int64, fn func([]int)) {
	visit := func(i, j, k int64) {
		if idx, ok := g.cells[cloud.VoxelKey{I: i, J: j, K: k}]; ok {
			fn(idx)
		}
	}
	if ring == 0 {
		visit(kq.I, kq.J, kq.K)
		return
	}
	for di := -ring; di <= ring; di++ {
		for dj := -ring; dj <= ring; dj++ {
			if abs64(di) == ring || abs64(dj) == ring {
				for dk := -ring; dk <= ring; dk++ {
					visit(kq.I+di, kq.J+dj, kq.K+dk)
				}
				continue
			}
			visit(kq.I+di, kq.J+dj, kq.K-ring)
			visit(kq.I+di, kq.J+dj, kq.K+ring)
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Keys returns the occupied voxel keys in unspecified order.
func (g *VoxelGrid) Keys() []cloud.VoxelKey {
	keys := make([]cloud.VoxelKey, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	return keys
}
