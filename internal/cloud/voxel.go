package cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// VoxelKey identifies a cubic cell of a regular grid:
// (floor(x/s), floor(y/s), floor(z/s)) for voxel size s.
type VoxelKey struct {
	I, J, K int64
}

// KeyOf returns the voxel containing p for voxel size s.
func KeyOf(p r3.Vec, s float64) VoxelKey {
	return VoxelKey{
		I: int64(math.Floor(p.X / s)),
		J: int64(math.Floor(p.Y / s)),
		K: int64(math.Floor(p.Z / s)),
	}
}

// Offset returns the key displaced by (di, dj, dk).
func (k VoxelKey) Offset(di, dj, dk int64) VoxelKey {
	return VoxelKey{I: k.I + di, J: k.J + dj, K: k.K + dk}
}

// Bounds returns the closed box covered by the voxel.
func (k VoxelKey) Bounds(s float64) Bounds {
	min := r3.Vec{X: float64(k.I) * s, Y: float64(k.J) * s, Z: float64(k.K) * s}
	return Bounds{Min: min, Max: r3.Add(min, r3.Vec{X: s, Y: s, Z: s})}
}

// neighbourOffsets is the 26-connectivity stencil.
var neighbourOffsets = func() [][3]int64 {
	out := make([][3]int64, 0, 26)
	for _, di := range []int64{-1, 0, 1} {
		for _, dj := range []int64{-1, 0, 1} {
			for _, dk := range []int64{-1, 0, 1} {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				out = append(out, [3]int64{di, dj, dk})
			}
		}
	}
	return out
}()

// Neighbors26 returns the keys of the 26 adjacent voxels in a fixed order.
func (k VoxelKey) Neighbors26() []VoxelKey {
	out := make([]VoxelKey, len(neighbourOffsets))
	for i, d := range neighbourOffsets {
		out[i] = k.Offset(d[0], d[1], d[2])
	}
	return out
}
