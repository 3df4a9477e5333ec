package report

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/store"
)

// PatchStat is the per-patch data shown in reports.
type PatchStat struct {
	Points  int
	RMS     float64 // metres
	Area    float64 // square metres
	TiltDeg float64 // angle of the normal from vertical
}

func tiltDeg(n r3.Vec) float64 {
	return math.Acos(math.Min(1, math.Abs(n.Z))) * 180 / math.Pi
}

// FromPatches summarises segmented patches.
func FromPatches(patches []segment.Patch) []PatchStat {
	out := make([]PatchStat, len(patches))
	for i, p := range patches {
		out[i] = PatchStat{
			Points:  p.Len(),
			RMS:     p.RMS,
			Area:    p.Extent.Area(),
			TiltDeg: tiltDeg(p.Plane.Normal),
		}
	}
	return out
}

// FromRecords summarises patches loaded from the run store.
func FromRecords(records []store.PatchRecord) []PatchStat {
	out := make([]PatchStat, len(records))
	for i, p := range records {
		out[i] = PatchStat{
			Points:  p.Points,
			RMS:     p.RMS,
			Area:    p.Area(),
			TiltDeg: tiltDeg(p.Normal),
		}
	}
	return out
}

// RMSSummary returns the point-weighted mean and the standard deviation of
// the patch RMS values.
func RMSSummary(ps []PatchStat) (mean, std float64) {
	if len(ps) == 0 {
		return 0, 0
	}
	xs := make([]float64, len(ps))
	ws := make([]float64, len(ps))
	for i, p := range ps {
		xs[i] = p.RMS
		ws[i] = float64(p.Points)
	}
	mean = stat.Mean(xs, ws)
	if len(ps) > 1 {
		std = stat.StdDev(xs, nil)
	}
	return mean, std
}
