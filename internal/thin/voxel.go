package thin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/parallel"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// DefaultCurvatureThreshold is the surface variation below which a voxel
// neighbourhood counts as planar.
const DefaultCurvatureThreshold = 0.01

// Stats summarises one thinning pass.
type Stats struct {
	Input   int
	Output  int
	Voxels  int // occupied voxels
	Planar  int // voxels collapsed to their most central point
	Elapsed time.Duration
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Input += o.Input
	s.Output += o.Output
	s.Voxels += o.Voxels
	s.Planar += o.Planar
	s.Elapsed += o.Elapsed
}

// Thinner is implemented by every thinning method.
type Thinner interface {
	Thin(ctx context.Context, in *cloud.PointCloud) (*cloud.PointCloud, Stats, error)
}

// VoxelThinner emits one point per occupied voxel of edge VoxelSize.
type VoxelThinner struct {
	VoxelSize          float64
	PreserveBoundaries bool
	// CurvatureThreshold bounds λ0/(λ0+λ1+λ2) for a planar neighbourhood;
	// 0 means DefaultCurvatureThreshold.
	CurvatureThreshold float64
	// EstimateNormals fills the normal channel from the voxel neighbourhood
	// when the input has none.
	EstimateNormals bool
	Workers         int
}

// Validate checks the thinner parameters.
func (t *VoxelThinner) Validate() error {
	if !(t.VoxelSize > 0) || math.IsInf(t.VoxelSize, 1) {
		return fmt.Errorf("voxel size must be positive and finite, got %v", t.VoxelSize)
	}
	if t.CurvatureThreshold < 0 || t.CurvatureThreshold > 1.0/3 {
		return fmt.Errorf("curvature threshold must be in [0, 1/3], got %v", t.CurvatureThreshold)
	}
	return nil
}

func (t *VoxelThinner) curvature() float64 {
	if t.CurvatureThreshold == 0 {
		return DefaultCurvatureThreshold
	}
	return t.CurvatureThreshold
}

// Thin implements Thinner.
func (t *VoxelThinner) Thin(ctx context.Context, in *cloud.PointCloud) (*cloud.PointCloud, Stats, error) {
	start := time.Now()
	stats := Stats{Input: in.Len()}
	if in.Len() == 0 {
		return cloud.New(in.Channels(), 0), stats, nil
	}
	if err := t.Validate(); err != nil {
		return nil, stats, err
	}

	pts := in.Points()
	grid, err := spatial.NewVoxelGrid(ctx, pts, t.VoxelSize, t.Workers)
	if err != nil {
		return nil, stats, err
	}
	keys := grid.Keys()
	// Voxel order: lowest member index. Members are stored ascending, so the
	// first entry is the lowest.
	sort.Slice(keys, func(a, b int) bool {
		return grid.Cell(keys[a])[0] < grid.Cell(keys[b])[0]
	})

	origin, hasOrigin := in.Origin()
	normals := t.EstimateNormals && !in.Channels().Normal
	channels := in.Channels()
	if normals {
		channels.Normal = true
	}

	out := make([]cloud.Point, len(keys))
	planar := make([]bool, len(keys))
	err = parallel.ForRanges(ctx, len(keys), t.Workers, func(_ context.Context, _ int, r parallel.Range) error {
		var scratch []int
		for i := r.Lo; i < r.Hi; i++ {
			v := voxel{
				key:       keys[i],
				members:   grid.Cell(keys[i]),
				size:      t.VoxelSize,
				channels:  in.Channels(),
				origin:    origin,
				hasOrigin: hasOrigin,
			}
			out[i], planar[i] = t.reduce(pts, grid, v, normals, &scratch)
		}
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	res := cloud.FromPoints(out, channels)
	if hasOrigin {
		res.SetOrigin(origin)
	}
	stats.Output = res.Len()
	stats.Voxels = len(keys)
	for _, p := range planar {
		if p {
			stats.Planar++
		}
	}
	stats.Elapsed = time.Since(start)
	diagf("thinned %d -> %d points at voxel %.4g (planar voxels %d) in %v",
		stats.Input, stats.Output, t.VoxelSize, stats.Planar, stats.Elapsed)
	return res, stats, nil
}

type voxel struct {
	key       cloud.VoxelKey
	members   []int
	size      float64
	channels  cloud.Channels
	origin    r3.Vec
	hasOrigin bool
}

// reduce computes the representative of one voxel and whether it was
// treated as planar.
func (t *VoxelThinner) reduce(pts []cloud.Point, grid *spatial.VoxelGrid, v voxel, normals bool, scratch *[]int) (cloud.Point, bool) {
	centroid := cloud.CentroidOf(pts, v.members)

	var pca cloud.PCA
	var pcaOK bool
	needPCA := (t.PreserveBoundaries && len(v.members) > 1) || normals
	if needPCA {
		*scratch = neighbourhood(pts, grid, v, (*scratch)[:0])
		pca, pcaOK = cloud.ComputePCA(pts, *scratch)
	}

	var rep cloud.Point
	isPlanar := false
	switch {
	case len(v.members) == 1:
		rep = pts[v.members[0]]
	case t.PreserveBoundaries && (!pcaOK || pca.SurfaceVariation() < t.curvature()):
		isPlanar = true
		rep = pts[nearest(pts, v.members, centroid)]
	default:
		if cloud.KeyOf(centroid, v.size) == v.key {
			rep = pts[v.members[0]]
			rep.Pos = centroid
			if v.channels.Normal {
				rep.Normal = meanNormal(pts, v.members)
			}
		} else {
			// Rounding pushed the mean across a voxel face.
			rep = pts[nearest(pts, v.members, centroid)]
		}
	}

	if len(v.members) > 1 {
		if v.channels.Color {
			rep.Color = meanColor(pts, v.members)
		}
		if v.channels.Intensity {
			rep.Intensity = meanIntensity(pts, v.members)
		}
	}
	if normals && pcaOK {
		rep.Normal = cloud.OrientNormal(pca.Normal(), rep.Pos, v.origin, v.hasOrigin)
	}
	return rep, isPlanar
}

// neighbourhood returns the voxel members followed by halo points: points of
// the 26 adjacent voxels within half a voxel of this voxel's box.
func neighbourhood(pts []cloud.Point, grid *spatial.VoxelGrid, v voxel, buf []int) []int {
	buf = append(buf, v.members...)
	box := v.key.Bounds(v.size).Expand(v.size / 2)
	for _, nk := range v.key.Neighbors26() {
		for _, i := range grid.Cell(nk) {
			if box.Contains(pts[i].Pos) {
				buf = append(buf, i)
			}
		}
	}
	return buf
}

// nearest returns the member closest to c, lowest index on ties. members
// must be ascending.
func nearest(pts []cloud.Point, members []int, c r3.Vec) int {
	best, bestD := members[0], math.Inf(1)
	for _, i := range members {
		if d := r3.Norm2(r3.Sub(pts[i].Pos, c)); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func meanColor(pts []cloud.Point, members []int) [3]uint8 {
	var s [3]float64
	for _, i := range members {
		for c := 0; c < 3; c++ {
			s[c] += float64(pts[i].Color[c])
		}
	}
	n := float64(len(members))
	return [3]uint8{
		uint8(math.Round(s[0] / n)),
		uint8(math.Round(s[1] / n)),
		uint8(math.Round(s[2] / n)),
	}
}

func meanIntensity(pts []cloud.Point, members []int) float32 {
	s := 0.0
	for _, i := range members {
		s += float64(pts[i].Intensity)
	}
	return float32(s / float64(len(members)))
}

func meanNormal(pts []cloud.Point, members []int) r3.Vec {
	var s r3.Vec
	for _, i := range members {
		s = r3.Add(s, pts[i].Normal)
	}
	if r3.Norm(s) == 0 {
		return pts[members[0]].Normal
	}
	return r3.Unit(s)
}
