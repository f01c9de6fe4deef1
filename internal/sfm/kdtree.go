package sfm

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// PointIndex is a spatial index over a fixed point set, used for nearest
// neighbour queries during correspondence matching, cloud filtering and cloud
// evaluation. Built once per evaluation run.
type PointIndex struct {
	tree   *kdtree.Tree
	points []r3.Vector
	n      int
}

// NewPointIndex builds a kd-tree over the given positions. The index keeps
// the original slice ordering: Nearest reports indices into points.
func NewPointIndex(points []r3.Vector) *PointIndex {
	ps := make(sitePoints, len(points))
	for i, p := range points {
		ps[i] = sitePoint{pos: p, idx: i}
	}
	if len(ps) == 0 {
		return &PointIndex{}
	}
	return &PointIndex{tree: kdtree.New(ps, false), points: points, n: len(ps)}
}

// Len returns the number of indexed points.
func (ix *PointIndex) Len() int { return ix.n }

// at returns the indexed position i in original slice order.
func (ix *PointIndex) at(i int) r3.Vector { return ix.points[i] }

// Nearest returns the index of the closest point to q and its Euclidean
// distance. An empty index returns (-1, +Inf).
func (ix *PointIndex) Nearest(q r3.Vector) (int, float64) {
	if ix.n == 0 {
		return -1, math.Inf(1)
	}
	got, d2 := ix.tree.Nearest(sitePoint{pos: q, idx: -1})
	return got.(sitePoint).idx, math.Sqrt(d2)
}

// sitePoint adapts an indexed r3.Vector to kdtree.Comparable. Distance is the
// squared Euclidean distance, per the kdtree contract.
type sitePoint struct {
	pos r3.Vector
	idx int
}

func (p sitePoint) component(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.pos.X
	case 1:
		return p.pos.Y
	default:
		return p.pos.Z
	}
}

func (p sitePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sitePoint)
	return p.component(d) - q.component(d)
}

func (p sitePoint) Dims() int { return 3 }

func (p sitePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(sitePoint)
	diff := p.pos.Sub(q.pos)
	return diff.Dot(diff)
}

// sitePoints implements kdtree.Interface for tree construction.
type sitePoints []sitePoint

func (p sitePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p sitePoints) Len() int                      { return len(p) }
func (p sitePoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p sitePoints) Pivot(d kdtree.Dim) int {
	return plane{Dim: d, sitePoints: p}.Pivot()
}

// plane is the sorting construct required by kdtree.Partition.
type plane struct {
	kdtree.Dim
	sitePoints
}

func (p plane) Less(i, j int) bool {
	return p.sitePoints[i].component(p.Dim) < p.sitePoints[j].component(p.Dim)
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.sitePoints = p.sitePoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.sitePoints[i], p.sitePoints[j] = p.sitePoints[j], p.sitePoints[i]
}
