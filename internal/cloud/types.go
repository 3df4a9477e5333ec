package cloud

import (
	"unsafe"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a single scan sample. Positions are stored in double precision;
// the optional channels are only meaningful when the owning cloud reports
// them as available through its Channels.
type Point struct {
	Pos       r3.Vec   // Position in scan coordinates (metres)
	Color     [3]uint8 // RGB, valid when Channels.Color
	Intensity float32  // Normalised return intensity in [0, 1], valid when Channels.Intensity
	Normal    r3.Vec   // Unit surface normal, valid when Channels.Normal
	Source    int32    // Scan/setup identifier, valid when Channels.Source
}

// NewPoint is a convenience constructor for a position-only point.
func NewPoint(x, y, z float64) Point {
	return Point{Pos: r3.Vec{X: x, Y: y, Z: z}}
}

// Channels records which optional per-point attributes a cloud carries.
type Channels struct {
	Color     bool
	Intensity bool
	Normal    bool
	Source    bool
}

// Union returns the channels present in either c or o.
func (c Channels) Union(o Channels) Channels {
	return Channels{
		Color:     c.Color || o.Color,
		Intensity: c.Intensity || o.Intensity,
		Normal:    c.Normal || o.Normal,
		Source:    c.Source || o.Source,
	}
}

// PointSize is the in-memory footprint of one Point in bytes, used by the
// orchestrator's memory model.
const PointSize = int(unsafe.Sizeof(Point{}))
