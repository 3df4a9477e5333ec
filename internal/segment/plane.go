package segment

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
)

// collinearEpsilon is the minimum sine of the angle between the two edges of
// a RANSAC sample for it to define a plane.
const collinearEpsilon = 1e-9

// Plane is the set of x with Normal·x + D = 0. Normal has unit length.
type Plane struct {
	Normal r3.Vec
	D      float64
}

// Distance returns the signed distance of p from the plane.
func (pl Plane) Distance(p r3.Vec) float64 {
	return r3.Dot(pl.Normal, p) + pl.D
}

// AngleDeg returns the angle between the normals of pl and o, ignoring
// orientation, in degrees.
func (pl Plane) AngleDeg(o Plane) float64 {
	c := math.Abs(r3.Dot(pl.Normal, o.Normal))
	return math.Acos(math.Min(1, c)) * 180 / math.Pi
}

// planeThrough returns the plane through a, b and c, or false when the
// three points are (nearly) collinear.
func planeThrough(a, b, c r3.Vec) (Plane, bool) {
	ab, ac := r3.Sub(b, a), r3.Sub(c, a)
	n := r3.Cross(ab, ac)
	nn := r3.Norm(n)
	if nn == 0 || nn <= collinearEpsilon*r3.Norm(ab)*r3.Norm(ac) {
		return Plane{}, false
	}
	n = r3.Scale(1/nn, n)
	return Plane{Normal: n, D: -r3.Dot(n, a)}, true
}

// FitPlane returns the least-squares plane through c's points at indices
// (all points when indices is nil): the normal is the covariance eigenvector
// of least variance. The normal faces c's scan origin when one is set,
// otherwise the first non-negligible of its z, y, x components is positive.
// ok is false for fewer than three points or a collinear set.
func FitPlane(c *cloud.PointCloud, indices []int) (Plane, bool) {
	pca, ok := cloud.ComputePCA(c.Points(), indices)
	if !ok || pca.Collinear() {
		return Plane{}, false
	}
	origin, hasOrigin := c.Origin()
	n := cloud.OrientNormal(pca.Normal(), pca.Centroid, origin, hasOrigin)
	return Plane{Normal: n, D: -r3.Dot(n, pca.Centroid)}, true
}

// Extent is the bounding rectangle of a patch in an orthonormal in-plane
// frame (U, V) anchored at Origin.
type Extent struct {
	Origin     r3.Vec
	U, V       r3.Vec
	MinU, MaxU float64
	MinV, MaxV float64
}

// Width returns the extent along U.
func (e Extent) Width() float64 { return e.MaxU - e.MinU }

// Height returns the extent along V.
func (e Extent) Height() float64 { return e.MaxV - e.MinV }

// Area returns the rectangle area.
func (e Extent) Area() float64 { return e.Width() * e.Height() }

// planeBasis returns a deterministic orthonormal pair spanning the plane
// with normal n.
func planeBasis(n r3.Vec) (u, v r3.Vec) {
	ref := r3.Vec{X: 1}
	if math.Abs(n.X) > 0.9 {
		ref = r3.Vec{Y: 1}
	}
	u = r3.Unit(r3.Cross(ref, n))
	v = r3.Cross(n, u)
	return u, v
}

// extentOf projects the points onto the plane frame centred on centroid.
func extentOf(pts []cloud.Point, indices []int, pl Plane, centroid r3.Vec) Extent {
	u, v := planeBasis(pl.Normal)
	e := Extent{
		Origin: centroid, U: u, V: v,
		MinU: math.Inf(1), MaxU: math.Inf(-1),
		MinV: math.Inf(1), MaxV: math.Inf(-1),
	}
	for _, i := range indices {
		d := r3.Sub(pts[i].Pos, centroid)
		pu, pv := r3.Dot(d, u), r3.Dot(d, v)
		e.MinU, e.MaxU = math.Min(e.MinU, pu), math.Max(e.MaxU, pu)
		e.MinV, e.MaxV = math.Min(e.MinV, pv), math.Max(e.MaxV, pv)
	}
	if len(indices) == 0 {
		e.MinU, e.MaxU, e.MinV, e.MaxV = 0, 0, 0, 0
	}
	return e
}

// rmsDistance returns the root mean square distance of the points from pl.
func rmsDistance(pts []cloud.Point, indices []int, pl Plane) float64 {
	if len(indices) == 0 {
		return 0
	}
	s := 0.0
	for _, i := range indices {
		d := pl.Distance(pts[i].Pos)
		s += d * d
	}
	return math.Sqrt(s / float64(len(indices)))
}
