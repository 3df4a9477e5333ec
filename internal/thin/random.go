package thin

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// RandomThinner keeps a uniform random subset of TargetPoints points in
// source order. When TargetPoints is zero the target is the number of voxels
// of edge VoxelSize occupied by the input, which matches the output size of
// a VoxelThinner at the same resolution.
type RandomThinner struct {
	TargetPoints int
	VoxelSize    float64
	Seed         uint64
	Workers      int
}

// Validate checks the thinner parameters.
func (t *RandomThinner) Validate() error {
	if t.TargetPoints < 0 {
		return fmt.Errorf("target points must be >= 0, got %d", t.TargetPoints)
	}
	if t.TargetPoints == 0 && !(t.VoxelSize > 0) {
		return fmt.Errorf("random thinning needs target points or a positive voxel size")
	}
	return nil
}

// Thin implements Thinner. Sampling is selection sampling over the source
// order, so the output needs no sort and is reproducible for a given seed.
func (t *RandomThinner) Thin(ctx context.Context, in *cloud.PointCloud) (*cloud.PointCloud, Stats, error) {
	start := time.Now()
	n := in.Len()
	stats := Stats{Input: n}
	if n == 0 {
		return cloud.New(in.Channels(), 0), stats, nil
	}
	if err := t.Validate(); err != nil {
		return nil, stats, err
	}

	target := t.TargetPoints
	if target == 0 {
		grid, err := spatial.NewVoxelGrid(ctx, in.Points(), t.VoxelSize, t.Workers)
		if err != nil {
			return nil, stats, err
		}
		target = grid.Occupied()
		stats.Voxels = target
	}
	if target >= n {
		out := in.Clone()
		stats.Output = n
		stats.Elapsed = time.Since(start)
		return out, stats, nil
	}

	rng := rand.New(rand.NewPCG(t.Seed, t.Seed^0x5851f42d4c957f2d))
	keep := make([]int, 0, target)
	need := target
	for i := 0; i < n && need > 0; i++ {
		if rng.IntN(n-i) < need {
			keep = append(keep, i)
			need--
		}
	}
	out := in.Select(keep)
	stats.Output = out.Len()
	stats.Elapsed = time.Since(start)
	diagf("random thinning %d -> %d points (seed %d) in %v", n, stats.Output, t.Seed, stats.Elapsed)
	return out, stats, nil
}
