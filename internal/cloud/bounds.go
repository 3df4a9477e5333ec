package cloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Bounds is an axis-aligned bounding box. The zero value is not empty; use
// EmptyBounds for an accumulator.
type Bounds struct {
	Min, Max r3.Vec
}

// EmptyBounds returns an inverted box that any Extend call will replace.
func EmptyBounds() Bounds {
	return Bounds{
		Min: r3.Vec{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vec{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// Empty reports whether the box contains no points.
func (b Bounds) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Extend grows b to include p.
func (b Bounds) Extend(p r3.Vec) Bounds {
	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}
	return b
}

// Union returns the smallest box containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	if o.Empty() {
		return b
	}
	if b.Empty() {
		return o
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Contains reports whether p lies inside the closed box.
func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsXYHalfOpen reports whether p lies in [Min, Max) on X and Y. Tiles
// use it so that every point has exactly one owning tile.
func (b Bounds) ContainsXYHalfOpen(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y
}

// Expand returns b grown by margin on every side.
func (b Bounds) Expand(margin float64) Bounds {
	if b.Empty() {
		return b
	}
	m := r3.Vec{X: margin, Y: margin, Z: margin}
	return Bounds{Min: r3.Sub(b.Min, m), Max: r3.Add(b.Max, m)}
}

// Intersects reports whether the two closed boxes overlap.
func (b Bounds) Intersects(o Bounds) bool {
	if b.Empty() || o.Empty() {
		return false
	}
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Size returns the box edge lengths, or zero for an empty box.
func (b Bounds) Size() r3.Vec {
	if b.Empty() {
		return r3.Vec{}
	}
	return r3.Sub(b.Max, b.Min)
}

// Center returns the box midpoint.
func (b Bounds) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Dist2 returns the squared distance from p to the closest point of the box
// (zero when p is inside).
func (b Bounds) Dist2(p r3.Vec) float64 {
	var d2 float64
	d2 += axisGap(p.X, b.Min.X, b.Max.X)
	d2 += axisGap(p.Y, b.Min.Y, b.Max.Y)
	d2 += axisGap(p.Z, b.Min.Z, b.Max.Z)
	return d2
}

func axisGap(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return (lo - v) * (lo - v)
	case v > hi:
		return (v - hi) * (v - hi)
	}
	return 0
}

func (b Bounds) String() string {
	if b.Empty() {
		return "[empty]"
	}
	return fmt.Sprintf("[(%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)]",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}
