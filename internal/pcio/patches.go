package pcio

import (
	"encoding/json"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/segment"
)

// Orientation classifies a patch by the tilt of its normal.
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
	Inclined   Orientation = "inclined"
)

// orientationToleranceDeg is how far a normal may tilt from the vertical
// (or horizontal) axis and still count as horizontal (or vertical).
const orientationToleranceDeg = 10.0

// OrientationOf classifies a plane normal.
func OrientationOf(n r3.Vec) Orientation {
	tilt := math.Acos(math.Min(1, math.Abs(n.Z))) * 180 / math.Pi
	switch {
	case tilt <= orientationToleranceDeg:
		return Horizontal
	case tilt >= 90-orientationToleranceDeg:
		return Vertical
	default:
		return Inclined
	}
}

// PatchDocument is the JSON handed to downstream element classifiers.
type PatchDocument struct {
	Points  int         `json:"points"`
	Bounds  BoxJSON     `json:"bounds"`
	Patches []PatchJSON `json:"patches"`
}

// PatchJSON describes one planar patch. Indices refer to the exported cloud.
type PatchJSON struct {
	ID          int         `json:"id"`
	Points      int         `json:"points"`
	Orientation Orientation `json:"orientation"`
	Normal      [3]float64  `json:"normal"`
	Offset      float64     `json:"offset"`
	RMS         float64     `json:"rms"`
	Centroid    [3]float64  `json:"centroid"`
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	Area        float64     `json:"area"`
	Bounds      BoxJSON     `json:"bounds"`
	Indices     []int       `json:"indices,omitempty"`
}

// BoxJSON is an axis-aligned box.
type BoxJSON struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

func vec3(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func boxOf(b cloud.Bounds) BoxJSON {
	if b.Empty() {
		return BoxJSON{}
	}
	return BoxJSON{Min: vec3(b.Min), Max: vec3(b.Max)}
}

// NewPatchDocument describes patches of c. Inlier indices are included when
// withIndices is set.
func NewPatchDocument(c *cloud.PointCloud, patches []segment.Patch, withIndices bool) PatchDocument {
	doc := PatchDocument{
		Points:  c.Len(),
		Bounds:  boxOf(c.Bounds()),
		Patches: make([]PatchJSON, 0, len(patches)),
	}
	for i, p := range patches {
		pj := PatchJSON{
			ID:          i,
			Points:      p.Len(),
			Orientation: OrientationOf(p.Plane.Normal),
			Normal:      vec3(p.Plane.Normal),
			Offset:      p.Plane.D,
			RMS:         p.RMS,
			Centroid:    vec3(p.Centroid),
			Width:       p.Extent.Width(),
			Height:      p.Extent.Height(),
			Area:        p.Extent.Area(),
			Bounds:      boxOf(p.Bounds),
		}
		if withIndices {
			pj.Indices = p.Indices
		}
		doc.Patches = append(doc.Patches, pj)
	}
	return doc
}

// WritePatchJSON writes the patch document for c to w.
func WritePatchJSON(w io.Writer, c *cloud.PointCloud, patches []segment.Patch, withIndices bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewPatchDocument(c, patches, withIndices))
}

// ReadPatchJSON decodes a document written by WritePatchJSON.
func ReadPatchJSON(r io.Reader) (PatchDocument, error) {
	var doc PatchDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	err := dec.Decode(&doc)
	return doc, err
}
