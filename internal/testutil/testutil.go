// Package testutil provides shared test fixtures: synthetic point clouds with
// known geometry and small assertion helpers.
//
// Generators are seeded so that every test sees the same cloud on every run.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertAngleWithin fails the test if the angle between a and b, ignoring
// orientation, exceeds maxDeg degrees.
func AssertAngleWithin(t *testing.T, a, b r3.Vec, maxDeg float64) {
	t.Helper()
	if got := AxisAngleDeg(a, b); got > maxDeg {
		t.Errorf("angle between %v and %v = %.4f deg, want <= %.4f", a, b, got, maxDeg)
	}
}

// AxisAngleDeg returns the angle in degrees between the lines spanned by a
// and b, in [0, 90].
func AxisAngleDeg(a, b r3.Vec) float64 {
	c := math.Abs(r3.Dot(r3.Unit(a), r3.Unit(b)))
	return math.Acos(math.Min(1, c)) * 180 / math.Pi
}

// NewRand returns the deterministic generator used by every fixture.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
}

// Points builds a position-only cloud from xyz triples.
func Points(xyz ...[3]float64) *cloud.PointCloud {
	pts := make([]cloud.Point, len(xyz))
	for i, p := range xyz {
		pts[i] = cloud.NewPoint(p[0], p[1], p[2])
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// HorizontalPlane samples n points uniformly over [0,size]x[0,size] at
// height z with Gaussian noise of standard deviation sigma along z.
func HorizontalPlane(n int, z, size, sigma float64, seed uint64) *cloud.PointCloud {
	rng := NewRand(seed)
	pts := make([]cloud.Point, n)
	for i := range pts {
		pts[i] = cloud.NewPoint(rng.Float64()*size, rng.Float64()*size, z+rng.NormFloat64()*sigma)
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// FloorAndWall returns two noise-free perpendicular grids of side*side
// points each: a floor at z=0 over [0,size]^2 and a wall at y=0 rising from
// the floor's y=0 edge. Wall rows are offset by half a step so that no point
// lies on both planes.
func FloorAndWall(side int, size float64) *cloud.PointCloud {
	step := size / float64(side-1)
	pts := make([]cloud.Point, 0, 2*side*side)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			pts = append(pts, cloud.NewPoint(float64(i)*step, float64(j)*step, 0))
		}
	}
	for i := 0; i < side; i++ {
		for k := 0; k < side; k++ {
			pts = append(pts, cloud.NewPoint(float64(i)*step, 0, (float64(k)+0.5)*step))
		}
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// Grid returns a regular nx*ny*nz lattice with the given spacing starting
// at the origin.
func Grid(nx, ny, nz int, spacing float64) *cloud.PointCloud {
	pts := make([]cloud.Point, 0, nx*ny*nz)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				pts = append(pts, cloud.NewPoint(float64(i)*spacing, float64(j)*spacing, float64(k)*spacing))
			}
		}
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// UniformNoise samples n points uniformly inside b.
func UniformNoise(n int, b cloud.Bounds, seed uint64) *cloud.PointCloud {
	rng := NewRand(seed)
	size := b.Size()
	pts := make([]cloud.Point, n)
	for i := range pts {
		pts[i] = cloud.NewPoint(
			b.Min.X+rng.Float64()*size.X,
			b.Min.Y+rng.Float64()*size.Y,
			b.Min.Z+rng.Float64()*size.Z,
		)
	}
	return cloud.FromPoints(pts, cloud.Channels{})
}

// WithIntensity returns a copy of c whose points carry intensities cycling
// through [0, 1) and the intensity channel flag.
func WithIntensity(c *cloud.PointCloud) *cloud.PointCloud {
	out := c.Clone()
	pts := out.Points()
	for i := range pts {
		pts[i].Intensity = float32(i%100) / 100
	}
	ch := out.Channels()
	ch.Intensity = true
	out.SetChannels(ch)
	return out
}
