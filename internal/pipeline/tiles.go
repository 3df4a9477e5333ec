package pipeline

import (
	"math"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

// indexOverheadBytes approximates the per-point cost of the spatial index,
// rejection bookkeeping and neighbour scratch space held during a stage.
const indexOverheadBytes = 48

// EstimateBytes returns the estimated working set for processing n points:
// the input, one output copy and the index overhead.
func EstimateBytes(n int) int64 {
	return int64(n) * int64(2*cloud.PointSize+indexOverheadBytes)
}

// Tile is one XY cell of a tiled run. Points are owned by the tile whose Core
// contains them on a half-open basis; Padded extends Core by the overlap
// margin and is what the filters see.
type Tile struct {
	Core   cloud.Bounds
	Padded cloud.Bounds
	// Indices of the input points inside Padded, ascending.
	Indices []int
}

// PlanTiles partitions c into XY tiles whose padded working set fits budget.
// Tile edges are multiples of quantum; a tile that is over budget is halved
// along its longer edge until it fits. Tiles are returned in a deterministic
// depth-first order.
func PlanTiles(c *cloud.PointCloud, budget int64, margin, quantum float64) ([]Tile, error) {
	if c.Len() == 0 {
		return nil, nil
	}
	b := c.Bounds()
	root := b
	root.Min.X = math.Floor(b.Min.X/quantum) * quantum
	root.Min.Y = math.Floor(b.Min.Y/quantum) * quantum
	// Max is snapped strictly beyond the data so the half-open core owns the
	// points on the upper edge.
	root.Max.X = snapAbove(b.Max.X, quantum)
	root.Max.Y = snapAbove(b.Max.Y, quantum)

	all := make([]int, c.Len())
	for i := range all {
		all[i] = i
	}
	var tiles []Tile
	err := splitTile(c, root, all, budget, margin, quantum, &tiles)
	return tiles, err
}

func splitTile(c *cloud.PointCloud, core cloud.Bounds, candidates []int, budget int64, margin, quantum float64, out *[]Tile) error {
	padded := padXY(core, margin)
	var indices []int
	for _, i := range candidates {
		if padded.Contains(c.Pos(i)) {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return nil
	}
	estimate := EstimateBytes(len(indices))
	if budget <= 0 || estimate <= budget {
		*out = append(*out, Tile{Core: core, Padded: padded, Indices: indices})
		return nil
	}

	size := core.Size()
	axisX := size.X >= size.Y
	edge := size.Y
	if axisX {
		edge = size.X
	}
	steps := math.Round(edge / quantum)
	if edge < 2*margin || steps < 2 {
		return &ResourceError{
			Stage:    StageClean,
			Bounds:   padded,
			Points:   len(indices),
			Estimate: estimate,
			Budget:   budget,
		}
	}
	lo, hi := core, core
	if axisX {
		mid := core.Min.X + math.Floor(steps/2)*quantum
		lo.Max.X, hi.Min.X = mid, mid
	} else {
		mid := core.Min.Y + math.Floor(steps/2)*quantum
		lo.Max.Y, hi.Min.Y = mid, mid
	}
	tracef("split tile %s (%d points, ~%d bytes, x axis: %t)", core, len(indices), estimate, axisX)
	if err := splitTile(c, lo, indices, budget, margin, quantum, out); err != nil {
		return err
	}
	return splitTile(c, hi, indices, budget, margin, quantum, out)
}

// snapAbove returns the smallest multiple of quantum strictly greater than v.
func snapAbove(v, quantum float64) float64 {
	m := (math.Floor(v/quantum) + 1) * quantum
	for m <= v {
		m += quantum
	}
	return m
}

// padXY grows b by margin on X and Y only; Z keeps the data extent.
func padXY(b cloud.Bounds, margin float64) cloud.Bounds {
	b.Min.X -= margin
	b.Min.Y -= margin
	b.Max.X += margin
	b.Max.Y += margin
	return b
}
