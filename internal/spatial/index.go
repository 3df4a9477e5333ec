package spatial

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind selects the index backing.
type Kind string

const (
	// KindKDTree adapts to density that varies by orders of magnitude.
	KindKDTree Kind = "kdtree"
	// KindVoxelGrid amortises with a natural scale such as the thinning voxel size.
	KindVoxelGrid Kind = "voxelgrid"
)

const (
	// DefaultLeafSize is the k-d tree leaf bucket size.
	DefaultLeafSize = 32
	// MinLeafSize and MaxLeafSize bound the configurable bucket size.
	MinLeafSize = 16
	MaxLeafSize = 64
)

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindKDTree, KindVoxelGrid:
		return Kind(s), nil
	case "":
		return KindKDTree, nil
	}
	return "", fmt.Errorf("unknown index kind %q (want %q or %q)", s, KindKDTree, KindVoxelGrid)
}

// Neighbor is a query result: the index of a point in the backing cloud and
// its Euclidean distance from the query position.
type Neighbor struct {
	Index int
	Dist  float64
}

// Index answers neighbour queries over a fixed point set.
type Index interface {
	// Kind reports the backing structure.
	Kind() Kind

	// Len returns the number of indexed points.
	Len() int

	// Radius returns the indices of all points within distance r of q
	// (inclusive), in ascending index order.
	Radius(q r3.Vec, r float64) []int

	// RadiusCount returns len(Radius(q, r)) without allocating.
	RadiusCount(q r3.Vec, r float64) int

	// KNearest returns up to k nearest points ordered by ascending distance,
	// ties broken by ascending index.
	KNearest(q r3.Vec, k int) []Neighbor
}

// Options configures Build.
type Options struct {
	Kind     Kind
	CellSize float64 // voxel grid cell edge; required for KindVoxelGrid
	LeafSize int     // k-d tree bucket size; 0 means DefaultLeafSize
	Workers  int     // construction parallelism; 0 means GOMAXPROCS
}

// Validate checks the options for the selected kind.
func (o Options) Validate() error {
	switch o.Kind {
	case KindKDTree, "":
		if o.LeafSize != 0 && (o.LeafSize < MinLeafSize || o.LeafSize > MaxLeafSize) {
			return fmt.Errorf("leaf size must be in [%d, %d], got %d", MinLeafSize, MaxLeafSize, o.LeafSize)
		}
	case KindVoxelGrid:
		if !(o.CellSize > 0) {
			return fmt.Errorf("voxel grid cell size must be positive, got %v", o.CellSize)
		}
	default:
		return fmt.Errorf("unknown index kind %q", o.Kind)
	}
	return nil
}

// Build constructs an index over c. An empty cloud yields an empty index
// whose queries return no results.
func Build(ctx context.Context, c *cloud.PointCloud, opts Options) (Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch opts.Kind {
	case KindVoxelGrid:
		return NewVoxelGrid(ctx, c.Points(), opts.CellSize, opts.Workers)
	default:
		leaf := opts.LeafSize
		if leaf == 0 {
			leaf = DefaultLeafSize
		}
		return NewKDTree(c.Points(), leaf, opts.Workers), nil
	}
}

// neighborSet keeps the k best candidates sorted by (distance², index).
type neighborSet struct {
	k     int
	items []Neighbor // Dist holds squared distance until finish
}

func newNeighborSet(k int) *neighborSet {
	return &neighborSet{k: k, items: make([]Neighbor, 0, k)}
}

func neighborLess(d2a float64, ia int, d2b float64, ib int) bool {
	if d2a != d2b {
		return d2a < d2b
	}
	return ia < ib
}

func (s *neighborSet) full() bool { return len(s.items) == s.k }

// worst returns the squared distance a candidate must not exceed to be
// considered, or +Inf while the set is not full.
func (s *neighborSet) worst() float64 {
	if !s.full() {
		return math.Inf(1)
	}
	return s.items[len(s.items)-1].Dist
}

func (s *neighborSet) push(idx int, d2 float64) {
	if s.full() {
		last := s.items[len(s.items)-1]
		if !neighborLess(d2, idx, last.Dist, last.Index) {
			return
		}
		s.items = s.items[:len(s.items)-1]
	}
	pos := sort.Search(len(s.items), func(i int) bool {
		return neighborLess(d2, idx, s.items[i].Dist, s.items[i].Index)
	})
	s.items = append(s.items, Neighbor{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = Neighbor{Index: idx, Dist: d2}
}

func (s *neighborSet) finish() []Neighbor {
	for i := range s.items {
		s.items[i].Dist = math.Sqrt(s.items[i].Dist)
	}
	return s.items
}

func dist2(a, b r3.Vec) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

// Nearest returns the closest indexed point to q, or false for an empty
// index.
func Nearest(idx Index, q r3.Vec) (Neighbor, bool) {
	nn := idx.KNearest(q, 1)
	if len(nn) == 0 {
		return Neighbor{}, false
	}
	return nn[0], true
}
