package spatial

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

func randomCloud(n int, seed uint64) *cloud.PointCloud {
	rng := rand.New(rand.NewPCG(seed, 0))
	pts := make([]cloud.Point, n)
	for i := range pts {
		pts[i] = cloud.NewPoint(rng.Float64()*4-2, rng.Float64()*4-2, rng.Float64())
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// gridCloud produces exact duplicate distances, which exercises tie-breaking.
func gridCloud(n int, step float64) *cloud.PointCloud {
	var pts []cloud.Point
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, cloud.NewPoint(float64(i)*step, float64(j)*step, 0))
		}
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

func bruteRadius(c *cloud.PointCloud, q r3.Vec, r float64) []int {
	var out []int
	for i, p := range c.Points() {
		if dist2(p.Pos, q) <= r*r {
			out = append(out, i)
		}
	}
	return out
}

func bruteKNN(c *cloud.PointCloud, q r3.Vec, k int) []Neighbor {
	all := make([]Neighbor, c.Len())
	for i, p := range c.Points() {
		all[i] = Neighbor{Index: i, Dist: dist2(p.Pos, q)}
	}
	sort.Slice(all, func(a, b int) bool {
		return neighborLess(all[a].Dist, all[a].Index, all[b].Dist, all[b].Index)
	})
	if k > len(all) {
		k = len(all)
	}
	all = all[:k]
	for i := range all {
		all[i].Dist = math.Sqrt(all[i].Dist)
	}
	return all
}

func buildBoth(t *testing.T, c *cloud.PointCloud, cell float64) []Index {
	t.Helper()
	ctx := context.Background()
	kd, err := Build(ctx, c, Options{Kind: KindKDTree, LeafSize: 16, Workers: 4})
	require.NoError(t, err)
	vg, err := Build(ctx, c, Options{Kind: KindVoxelGrid, CellSize: cell, Workers: 4})
	require.NoError(t, err)
	return []Index{kd, vg}
}

func TestRadius_KDTreeMatchesVoxelGrid(t *testing.T) {
	c := randomCloud(5000, 7)
	indexes := buildBoth(t, c, 0.1)

	queries := []r3.Vec{{}, {X: 1.5, Y: -1.9, Z: 0.5}, {X: 10, Y: 10, Z: 10}}
	for i := 0; i < 50; i++ {
		queries = append(queries, c.Pos(i*97))
	}
	for _, r := range []float64{0, 0.03, 0.1, 0.25, 1.5} {
		for _, q := range queries {
			want := bruteRadius(c, q, r)
			for _, idx := range indexes {
				got := idx.Radius(q, r)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("%s Radius(%v, %v) mismatch (-want +got):\n%s", idx.Kind(), q, r, diff)
				}
				if n := idx.RadiusCount(q, r); n != len(want) {
					t.Errorf("%s RadiusCount(%v, %v) = %d, want %d", idx.Kind(), q, r, n, len(want))
				}
			}
		}
	}
}

func TestKNearest_MatchesBruteForce(t *testing.T) {
	c := randomCloud(3000, 11)
	indexes := buildBoth(t, c, 0.2)

	for _, k := range []int{1, 5, 30} {
		for i := 0; i < 40; i++ {
			q := c.Pos(i * 61)
			want := bruteKNN(c, q, k)
			for _, idx := range indexes {
				got := idx.KNearest(q, k)
				require.Len(t, got, k)
				for j := range want {
					assert.Equal(t, want[j].Index, got[j].Index, "%s k=%d rank %d", idx.Kind(), k, j)
					assert.InDelta(t, want[j].Dist, got[j].Dist, 1e-12)
				}
			}
		}
	}
}

func TestKNearest_TiesBrokenByIndex(t *testing.T) {
	c := gridCloud(20, 0.5)
	indexes := buildBoth(t, c, 0.5)

	// The centre of a grid square is equidistant from its four corners.
	q := r3.Vec{X: 2.25, Y: 2.25}
	want := bruteKNN(c, q, 4)
	for _, idx := range indexes {
		got := idx.KNearest(q, 4)
		gotIdx := make([]int, len(got))
		wantIdx := make([]int, len(want))
		for i := range got {
			gotIdx[i] = got[i].Index
			wantIdx[i] = want[i].Index
		}
		if !sort.IntsAreSorted(gotIdx) {
			t.Errorf("%s: equidistant neighbours not in index order: %v", idx.Kind(), gotIdx)
		}
		assert.Equal(t, wantIdx, gotIdx, idx.Kind())
	}

	// Ties straddling the k boundary keep the lowest indices.
	for _, idx := range indexes {
		got := idx.KNearest(q, 2)
		require.Len(t, got, 2)
		assert.Equal(t, want[0].Index, got[0].Index)
		assert.Equal(t, want[1].Index, got[1].Index)
	}
}

func TestKNearest_KLargerThanCloud(t *testing.T) {
	c := randomCloud(10, 3)
	for _, idx := range buildBoth(t, c, 0.05) {
		got := idx.KNearest(r3.Vec{}, 50)
		assert.Len(t, got, 10, idx.Kind())
	}
}

func TestEmptyIndex(t *testing.T) {
	c := cloud.New(cloud.Channels{}, 0)
	for _, idx := range buildBoth(t, c, 0.1) {
		assert.Equal(t, 0, idx.Len())
		assert.Empty(t, idx.Radius(r3.Vec{}, 10))
		assert.Equal(t, 0, idx.RadiusCount(r3.Vec{}, 10))
		assert.Empty(t, idx.KNearest(r3.Vec{}, 3))
		_, ok := Nearest(idx, r3.Vec{})
		assert.False(t, ok)
	}
}

func TestKDTree_ParallelBuildMatchesSerial(t *testing.T) {
	c := randomCloud(parallelBuildThreshold*2+17, 5)
	serial := NewKDTree(c.Points(), 32, 1)
	par := NewKDTree(c.Points(), 32, 8)
	if diff := cmp.Diff(serial.order, par.order); diff != "" {
		t.Fatalf("parallel build produced a different permutation")
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default kdtree", Options{}, false},
		{"leaf too small", Options{Kind: KindKDTree, LeafSize: 8}, true},
		{"leaf too large", Options{Kind: KindKDTree, LeafSize: 65}, true},
		{"voxel without cell", Options{Kind: KindVoxelGrid}, true},
		{"voxel ok", Options{Kind: KindVoxelGrid, CellSize: 0.05}, false},
		{"unknown", Options{Kind: "octree"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindKDTree, k)

	k, err = ParseKind("voxelgrid")
	require.NoError(t, err)
	assert.Equal(t, KindVoxelGrid, k)

	_, err = ParseKind("ball")
	assert.Error(t, err)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, randomCloud(10, 1), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVoxelGrid_Cells(t *testing.T) {
	c := cloud.FromPoints([]cloud.Point{
		cloud.NewPoint(0.01, 0.01, 0.01),
		cloud.NewPoint(0.02, 0.02, 0.02),
		cloud.NewPoint(-0.01, 0, 0),
	}, cloud.Channels{})
	g, err := NewVoxelGrid(context.Background(), c.Points(), 0.1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Occupied())
	assert.Equal(t, []int{0, 1}, g.Cell(cloud.VoxelKey{}))
	assert.Equal(t, []int{2}, g.Cell(cloud.VoxelKey{I: -1}))
}
