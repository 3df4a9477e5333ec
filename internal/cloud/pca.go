package cloud

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// pcaEpsilon is the component magnitude below which a normal component is
// treated as zero when choosing a canonical sign.
const pcaEpsilon = 1e-12

// PCA is the principal component analysis of a point set.
type PCA struct {
	Centroid r3.Vec
	// Values holds the covariance eigenvalues in ascending order and
	// Vectors the matching unit eigenvectors.
	Values  [3]float64
	Vectors [3]r3.Vec
	N       int
}

// Normal returns the direction of least variance.
func (p PCA) Normal() r3.Vec { return p.Vectors[0] }

// SurfaceVariation returns λ0/(λ0+λ1+λ2): 0 for a perfect plane, 1/3 for
// isotropic scatter. A set with no spread reports 0.
func (p PCA) SurfaceVariation() float64 {
	sum := p.Values[0] + p.Values[1] + p.Values[2]
	if sum <= 0 {
		return 0
	}
	return math.Max(0, p.Values[0]) / sum
}

// Collinear reports whether the set has no spread across its principal
// direction, relative to the spread along it. Coincident points are
// collinear.
func (p PCA) Collinear() bool {
	return p.Values[1] <= pcaEpsilon*p.Values[2]
}

// ComputePCA analyses pts, or pts[indices] when indices is non-nil. The
// covariance is accumulated about the compensated centroid so that clouds
// far from the origin keep full precision. ok is false when fewer than three
// points are given or the eigen decomposition fails.
func ComputePCA(pts []Point, indices []int) (PCA, bool) {
	n := len(pts)
	if indices != nil {
		n = len(indices)
	}
	res := PCA{N: n, Centroid: CentroidOf(pts, indices)}
	if n < 3 {
		return res, false
	}

	var xx, xy, xz, yy, yz, zz float64
	acc := func(v r3.Vec) {
		d := r3.Sub(v, res.Centroid)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	if indices != nil {
		for _, i := range indices {
			acc(pts[i].Pos)
		}
	} else {
		for i := range pts {
			acc(pts[i].Pos)
		}
	}
	inv := 1 / float64(n)
	cov := mat.NewSymDense(3, []float64{
		xx * inv, xy * inv, xz * inv,
		xy * inv, yy * inv, yz * inv,
		xz * inv, yz * inv, zz * inv,
	})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return res, false
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for i := 0; i < 3; i++ {
		res.Values[i] = vals[i]
		res.Vectors[i] = r3.Unit(r3.Vec{X: vecs.At(0, i), Y: vecs.At(1, i), Z: vecs.At(2, i)})
	}
	return res, true
}

// OrientNormal returns n or -n so that it points towards origin when one is
// known, otherwise so that the first non-negligible of its z, y, x
// components is positive.
func OrientNormal(n, at, origin r3.Vec, hasOrigin bool) r3.Vec {
	if hasOrigin {
		if d := r3.Dot(n, r3.Sub(origin, at)); d < 0 {
			return r3.Scale(-1, n)
		} else if d > 0 {
			return n
		}
	}
	for _, c := range []float64{n.Z, n.Y, n.X} {
		if c > pcaEpsilon {
			return n
		}
		if c < -pcaEpsilon {
			return r3.Scale(-1, n)
		}
	}
	return n
}
