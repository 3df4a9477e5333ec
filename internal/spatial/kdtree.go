package spatial

import (
	"sort"
	"sync"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// parallelBuildThreshold is the subtree size above which the two halves are
// built on separate goroutines.
const parallelBuildThreshold = 1 << 15

// KDTree is a balanced median-split k-d tree with leaf buckets.
type KDTree struct {
	pts      []cloud.Point
	order    []int // point indices, permuted so that every node owns a contiguous slice
	root     *kdNode
	leafSize int
}

type kdNode struct {
	lo, hi      int // range into order
	bounds      cloud.Bounds
	axis        int
	split       float64
	left, right *kdNode
}

func (n *kdNode) leaf() bool { return n.left == nil }

// NewKDTree builds a tree over pts. pts must not be modified while the tree
// is in use.
func NewKDTree(pts []cloud.Point, leafSize, workers int) *KDTree {
	t := &KDTree{pts: pts, leafSize: leafSize, order: make([]int, len(pts))}
	for i := range t.order {
		t.order[i] = i
	}
	if len(pts) == 0 {
		return t
	}
	// Goroutine fan-out is bounded by depth: 2^depth concurrent builders.
	depth := 0
	for w := parallel.Workers(workers); w > 1; w >>= 1 {
		depth++
	}
	t.root = t.build(0, len(pts), depth)
	return t
}

// Kind implements Index.
func (t *KDTree) Kind() Kind { return KindKDTree }

// Len implements Index.
func (t *KDTree) Len() int { return len(t.pts) }

func (t *KDTree) coord(i, axis int) float64 {
	p := t.pts[i].Pos
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

// less orders point indices by coordinate on axis, then by index, which
// gives a strict total order and therefore a reproducible tree.
func (t *KDTree) less(a, b, axis int) bool {
	ca, cb := t.coord(a, axis), t.coord(b, axis)
	if ca != cb {
		return ca < cb
	}
	return a < b
}

func (t *KDTree) build(lo, hi, parallelDepth int) *kdNode {
	b := cloud.EmptyBounds()
	for _, i := range t.order[lo:hi] {
		b = b.Extend(t.pts[i].Pos)
	}
	n := &kdNode{lo: lo, hi: hi, bounds: b}
	if hi-lo <= t.leafSize {
		return n
	}

	size := b.Size()
	n.axis = 0
	if size.Y > size.X && size.Y >= size.Z {
		n.axis = 1
	} else if size.Z > size.X && size.Z > size.Y {
		n.axis = 2
	}
	mid := lo + (hi-lo)/2
	t.selectNth(lo, hi, mid, n.axis)
	n.split = t.coord(t.order[mid], n.axis)

	if parallelDepth > 0 && hi-lo >= parallelBuildThreshold {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.left = t.build(lo, mid, parallelDepth-1)
		}()
		n.right = t.build(mid, hi, parallelDepth-1)
		wg.Wait()
	} else {
		n.left = t.build(lo, mid, 0)
		n.right = t.build(mid, hi, 0)
	}
	return n
}

// selectNth partially orders order[lo:hi] so that order[k] holds the element
// that would be there after a full sort, smaller elements before it and
// larger after (quickselect with median-of-three pivot).
func (t *KDTree) selectNth(lo, hi, k, axis int) {
	o := t.order
	for hi-lo > 16 {
		mid := lo + (hi-lo)/2
		last := hi - 1
		if t.less(o[mid], o[lo], axis) {
			o[mid], o[lo] = o[lo], o[mid]
		}
		if t.less(o[last], o[lo], axis) {
			o[last], o[lo] = o[lo], o[last]
		}
		if t.less(o[last], o[mid], axis) {
			o[last], o[mid] = o[mid], o[last]
		}
		// Median now at mid; park it at last-1 as the pivot.
		o[mid], o[last-1] = o[last-1], o[mid]
		pivot := o[last-1]
		i, j := lo, last-1
		for {
			for i++; t.less(o[i], pivot, axis); i++ {
			}
			for j--; t.less(pivot, o[j], axis); j-- {
			}
			if i >= j {
				break
			}
			o[i], o[j] = o[j], o[i]
		}
		o[i], o[last-1] = o[last-1], o[i]
		switch {
		case k < i:
			hi = i
		case k > i:
			lo = i + 1
		default:
			return
		}
	}
	sub := o[lo:hi]
	sort.Slice(sub, func(a, b int) bool { return t.less(sub[a], sub[b], axis) })
}

// Radius implements Index.
func (t *KDTree) Radius(q r3.Vec, r float64) []int {
	if t.root == nil || r < 0 {
		return nil
	}
	var out []int
	t.radius(t.root, q, r*r, func(i int) { out = append(out, i) })
	sort.Ints(out)
	return out
}

// RadiusCount implements Index.
func (t *KDTree) RadiusCount(q r3.Vec, r float64) int {
	if t.root == nil || r < 0 {
		return 0
	}
	n := 0
	t.radius(t.root, q, r*r, func(int) { n++ })
	return n
}

func (t *KDTree) radius(n *kdNode, q r3.Vec, r2 float64, emit func(int)) {
	if n.bounds.Dist2(q) > r2 {
		return
	}
	if n.leaf() {
		for _, i := range t.order[n.lo:n.hi] {
			if dist2(t.pts[i].Pos, q) <= r2 {
				emit(i)
			}
		}
		return
	}
	t.radius(n.left, q, r2, emit)
	t.radius(n.right, q, r2, emit)
}

// KNearest implements Index.
func (t *KDTree) KNearest(q r3.Vec, k int) []Neighbor {
	if t.root == nil || k <= 0 {
		return nil
	}
	if k > len(t.pts) {
		k = len(t.pts)
	}
	set := newNeighborSet(k)
	t.knn(t.root, q, set)
	return set.finish()
}

func (t *KDTree) knn(n *kdNode, q r3.Vec, set *neighborSet) {
	// Boxes at exactly the current worst distance are still visited: they
	// may hold a tie with a lower index.
	if n.bounds.Dist2(q) > set.worst() {
		return
	}
	if n.leaf() {
		for _, i := range t.order[n.lo:n.hi] {
			set.push(i, dist2(t.pts[i].Pos, q))
		}
		return
	}
	var qc float64
	switch n.axis {
	case 0:
		qc = q.X
	case 1:
		qc = q.Y
	default:
		qc = q.Z
	}
	first, second := n.left, n.right
	if qc >= n.split {
		first, second = n.right, n.left
	}
	t.knn(first, q, set)
	t.knn(second, q, set)
}
