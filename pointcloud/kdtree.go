package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a search hit: the index of a cloud point and its squared distance to the query.
type Neighbor struct {
	Index           int
	SquaredDistance float64
}

// SpatialIndex answers nearest neighbour queries over a cloud. Results are sorted by ascending
// squared distance, ties broken by index.
type SpatialIndex interface {
	NearestK(p r3.Vector, k int) []Neighbor
	Radius(p r3.Vector, r float64) []Neighbor
}

// KDTree is a SpatialIndex over the finite points of a cloud. It is immutable after
// construction and safe for concurrent queries.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// NewKDTree builds a tree over the finite points of cloud.
func NewKDTree(cloud PointCloud) *KDTree {
	pts := make(indexedPoints, 0, cloud.Size())
	for i := 0; i < cloud.Size(); i++ {
		p := cloud.At(i)
		if IsFinite(p) {
			pts = append(pts, indexedPoint{Vector: p, index: i})
		}
	}
	kd := &KDTree{size: len(pts)}
	if len(pts) > 0 {
		kd.tree = kdtree.New(pts, false)
	}
	return kd
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestK returns up to k nearest points to p.
func (kd *KDTree) NearestK(p r3.Vector, k int) []Neighbor {
	if kd.tree == nil || k <= 0 || !IsFinite(p) {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, indexedPoint{Vector: p, index: -1})
	return collect(keeper.Heap)
}

// Radius returns every point within distance r of p.
func (kd *KDTree) Radius(p r3.Vector, r float64) []Neighbor {
	if kd.tree == nil || r < 0 || !IsFinite(p) {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	kd.tree.NearestSet(keeper, indexedPoint{Vector: p, index: -1})
	return collect(keeper.Heap)
}

// Nearest returns the single nearest point. The second return is false for an empty tree.
func (kd *KDTree) Nearest(p r3.Vector) (Neighbor, bool) {
	if kd.tree == nil || !IsFinite(p) {
		return Neighbor{}, false
	}
	c, d := kd.tree.Nearest(indexedPoint{Vector: p, index: -1})
	if c == nil || math.IsInf(d, 1) {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(indexedPoint).index, SquaredDistance: d}, true
}

func collect(heap kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, item := range heap {
		// keepers hold a sentinel entry with no Comparable
		if item.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: item.Comparable.(indexedPoint).index, SquaredDistance: item.Dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SquaredDistance != out[j].SquaredDistance {
			return out[i].SquaredDistance < out[j].SquaredDistance
		}
		return out[i].Index < out[j].Index
	})
	return out
}

type indexedPoint struct {
	r3.Vector
	index int
}

// Compare implements the kdtree.Comparable interface.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims implements the kdtree.Comparable interface.
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance, as the kdtree keepers expect.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.Vector.Sub(q.Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p indexedPoints) Len() int                             { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method. The pivot is chosen without randomness so the
// same cloud always builds the same tree.
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	plane := pointPlane{indexedPoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for indexedPoints.
type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
