// Package pointcloud defines the indexed point cloud contracts consumed by model fitting and
// registration, and provides a slice backed implementation of them.
//
// Points are addressed by their index in the cloud. A cloud may be sparse (contain non-finite
// points) and may carry one normal per point.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasNormals bool

	// Bounds of the finite points.
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	// Finite is the number of finite points merged into the bounds.
	Finite int
}

// NewMetaData returns meta data with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge extends the bounds to include p. Non-finite points are ignored.
func (meta *MetaData) Merge(p r3.Vector) {
	if !IsFinite(p) {
		return
	}
	meta.Finite++
	if p.X > meta.MaxX {
		meta.MaxX = p.X
	}
	if p.Y > meta.MaxY {
		meta.MaxY = p.Y
	}
	if p.Z > meta.MaxZ {
		meta.MaxZ = p.Z
	}

	if p.X < meta.MinX {
		meta.MinX = p.X
	}
	if p.Y < meta.MinY {
		meta.MinY = p.Y
	}
	if p.Z < meta.MinZ {
		meta.MinZ = p.Z
	}
}

// Diagonal returns the length of the bounding box diagonal, or 0 for a cloud without finite points.
func (meta MetaData) Diagonal() float64 {
	if meta.Finite == 0 {
		return 0
	}
	return r3.Vector{X: meta.MaxX - meta.MinX, Y: meta.MaxY - meta.MinY, Z: meta.MaxZ - meta.MinZ}.Norm()
}

// Center returns the center of the bounding box.
func (meta MetaData) Center() r3.Vector {
	if meta.Finite == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: (meta.MaxX + meta.MinX) / 2, Y: (meta.MaxY + meta.MinY) / 2, Z: (meta.MaxZ + meta.MinZ) / 2}
}

// PointCloud is an indexed, read only collection of points.
type PointCloud interface {
	// Size returns the number of points in the cloud, including non-finite ones.
	Size() int

	// At returns the point at index i.
	At(i int) r3.Vector

	// Normal returns the normal of point i. The second return is false if the cloud has no
	// normals or the normal is not finite.
	Normal(i int) (r3.Vector, bool)

	// HasNormals reports whether the cloud carries one normal per point.
	HasNormals() bool

	// MetaData returns meta data.
	MetaData() MetaData
}

// Organized is a point cloud laid out on an image grid, index = v*Width + u.
type Organized interface {
	PointCloud
	Width() int
	Height() int

	// AtPixel returns the point at column u and row v. The second return is false when the pixel is
	// out of bounds or holds a non-finite point.
	AtPixel(u, v int) (r3.Vector, bool)
}

// IsFinite returns whether every component of p is finite.
func IsFinite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// Points copies the points at the given indices. A nil index list copies the whole cloud.
func Points(cloud PointCloud, indices []int) []r3.Vector {
	if indices == nil {
		out := make([]r3.Vector, cloud.Size())
		for i := range out {
			out[i] = cloud.At(i)
		}
		return out
	}
	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		out[i] = cloud.At(idx)
	}
	return out
}
