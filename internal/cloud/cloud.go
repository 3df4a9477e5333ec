package cloud

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointCloud is an ordered sequence of points with cached tight bounds and
// channel flags. Order is the insertion order of the source and carries no
// meaning beyond determinism.
//
// A PointCloud is owned by one stage at a time. Stages never mutate a cloud
// they received; they build and return a new one.
type PointCloud struct {
	points   []Point
	bounds   Bounds
	channels Channels

	origin    r3.Vec
	hasOrigin bool
}

// New returns an empty cloud with the given channels and capacity.
func New(channels Channels, capacity int) *PointCloud {
	return &PointCloud{
		points:   make([]Point, 0, capacity),
		bounds:   EmptyBounds(),
		channels: channels,
	}
}

// FromPoints builds a cloud that takes ownership of pts.
func FromPoints(pts []Point, channels Channels) *PointCloud {
	c := &PointCloud{points: pts, channels: channels}
	c.recomputeBounds()
	return c
}

// Len returns the number of points.
func (c *PointCloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.points)
}

// At returns the i-th point.
func (c *PointCloud) At(i int) Point {
	return c.points[i]
}

// Pos returns the position of the i-th point.
func (c *PointCloud) Pos(i int) r3.Vec {
	return c.points[i].Pos
}

// Points returns the backing slice. Callers must treat it as read-only.
func (c *PointCloud) Points() []Point {
	if c == nil {
		return nil
	}
	return c.points
}

// Bounds returns the tight bounding box of the current contents.
func (c *PointCloud) Bounds() Bounds {
	if c == nil {
		return EmptyBounds()
	}
	return c.bounds
}

// Channels returns the per-channel availability flags.
func (c *PointCloud) Channels() Channels {
	if c == nil {
		return Channels{}
	}
	return c.channels
}

// SetChannels replaces the availability flags, e.g. after normals have been
// estimated for every point.
func (c *PointCloud) SetChannels(ch Channels) {
	c.channels = ch
}

// Origin returns the scan origin, if known. Plane normals are oriented
// towards it.
func (c *PointCloud) Origin() (r3.Vec, bool) {
	if c == nil {
		return r3.Vec{}, false
	}
	return c.origin, c.hasOrigin
}

// SetOrigin records the scan origin.
func (c *PointCloud) SetOrigin(o r3.Vec) {
	c.origin = o
	c.hasOrigin = true
}

// Append adds p and updates the bounds incrementally.
func (c *PointCloud) Append(p Point) {
	c.points = append(c.points, p)
	c.bounds = c.bounds.Extend(p.Pos)
}

// Select returns a new cloud holding the points at the given indices, in
// the order given. Channels and origin are inherited.
func (c *PointCloud) Select(indices []int) *PointCloud {
	out := New(c.channels, len(indices))
	out.origin, out.hasOrigin = c.origin, c.hasOrigin
	for _, i := range indices {
		out.Append(c.points[i])
	}
	return out
}

// Keep returns a new cloud with the points whose mask entry is true, in
// original relative order.
func (c *PointCloud) Keep(mask []bool) (*PointCloud, error) {
	if len(mask) != len(c.points) {
		return nil, fmt.Errorf("mask length %d does not match cloud size %d", len(mask), len(c.points))
	}
	n := 0
	for _, k := range mask {
		if k {
			n++
		}
	}
	out := New(c.channels, n)
	out.origin, out.hasOrigin = c.origin, c.hasOrigin
	for i, k := range mask {
		if k {
			out.Append(c.points[i])
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (c *PointCloud) Clone() *PointCloud {
	pts := make([]Point, len(c.points))
	copy(pts, c.points)
	return &PointCloud{
		points:    pts,
		bounds:    c.bounds,
		channels:  c.channels,
		origin:    c.origin,
		hasOrigin: c.hasOrigin,
	}
}

// Centroid returns the mean position. Accumulation is in float64 with
// compensated (Kahan) summation to bound drift on very large clouds.
func (c *PointCloud) Centroid() r3.Vec {
	if c.Len() == 0 {
		return r3.Vec{}
	}
	return CentroidOf(c.points, nil)
}

// CentroidOf returns the mean position of pts, or of pts[indices] when
// indices is non-nil.
func CentroidOf(pts []Point, indices []int) r3.Vec {
	var sum, comp r3.Vec
	add := func(v r3.Vec) {
		y := r3.Sub(v, comp)
		t := r3.Add(sum, y)
		comp = r3.Sub(r3.Sub(t, sum), y)
		sum = t
	}
	n := len(pts)
	if indices != nil {
		n = len(indices)
		for _, i := range indices {
			add(pts[i].Pos)
		}
	} else {
		for i := range pts {
			add(pts[i].Pos)
		}
	}
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/float64(n), sum)
}

func (c *PointCloud) recomputeBounds() {
	b := EmptyBounds()
	for i := range c.points {
		b = b.Extend(c.points[i].Pos)
	}
	c.bounds = b
}

// Concat appends the clouds in order into a new cloud. Channels are the
// union of the inputs; the origin of the first cloud that has one is kept.
func Concat(clouds ...*PointCloud) *PointCloud {
	total := 0
	var ch Channels
	for _, c := range clouds {
		total += c.Len()
		if c.Len() > 0 {
			ch = ch.Union(c.channels)
		}
	}
	out := New(ch, total)
	for _, c := range clouds {
		if c == nil {
			continue
		}
		if c.hasOrigin && !out.hasOrigin {
			out.SetOrigin(c.origin)
		}
		for i := range c.points {
			out.Append(c.points[i])
		}
	}
	return out
}
