package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
)

// Filtered is the result of an operation that derives a new cloud from an input cloud.
// Indices[i] is the index in the input cloud of output point i. IsDense is true when every
// output point is finite.
type Filtered struct {
	Cloud   PointCloud
	Indices []int
	IsDense bool
}

// RemoveNaN drops every non-finite point. The output is never organized.
func RemoveNaN(cloud PointCloud) Filtered {
	indices := make([]int, 0, cloud.Size())
	for i := 0; i < cloud.Size(); i++ {
		if IsFinite(cloud.At(i)) {
			indices = append(indices, i)
		}
	}
	out := Subset(cloud, indices)
	out.IsDense = true
	return out
}

// Subset copies the points at indices, in order. The caller must pass valid indices.
func Subset(cloud PointCloud, indices []int) Filtered {
	pts := make([]r3.Vector, len(indices))
	dense := true
	for i, idx := range indices {
		pts[i] = cloud.At(idx)
		dense = dense && IsFinite(pts[i])
	}
	kept := append([]int(nil), indices...)
	if !cloud.HasNormals() {
		return Filtered{Cloud: NewFromPoints(pts), Indices: kept, IsDense: dense}
	}
	normals := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		normals[i] = rawNormal(cloud, idx)
	}
	out, err := NewWithNormals(pts, normals)
	if err != nil {
		// lengths match by construction
		panic(err)
	}
	return Filtered{Cloud: out, Indices: kept, IsDense: dense}
}

// TransformCloud applies t to every point and rotates every normal. Non-finite points stay
// in place so indices are preserved, and organized clouds stay organized.
func TransformCloud(cloud PointCloud, t spatialmath.Transform) Filtered {
	n := cloud.Size()
	pts := make([]r3.Vector, n)
	indices := make([]int, n)
	dense := true
	for i := 0; i < n; i++ {
		indices[i] = i
		p := cloud.At(i)
		if !IsFinite(p) {
			pts[i] = p
			dense = false
			continue
		}
		pts[i] = t.Apply(p)
	}
	var normals []r3.Vector
	if cloud.HasNormals() {
		normals = make([]r3.Vector, n)
		for i := 0; i < n; i++ {
			normal := rawNormal(cloud, i)
			if IsFinite(normal) {
				normal = t.Rotate(normal)
			}
			normals[i] = normal
		}
	}

	var out PointCloud
	var err error
	if org, ok := cloud.(Organized); ok {
		out, err = NewOrganized(org.Width(), org.Height(), pts, normals)
	} else if normals != nil {
		out, err = NewWithNormals(pts, normals)
	} else {
		out = NewFromPoints(pts)
	}
	if err != nil {
		panic(errors.Wrap(err, "transformed cloud has inconsistent layout"))
	}
	return Filtered{Cloud: out, Indices: indices, IsDense: dense}
}

func rawNormal(cloud PointCloud, i int) r3.Vector {
	if b, ok := cloud.(*Basic); ok {
		return b.normals[i]
	}
	if o, ok := cloud.(*OrganizedCloud); ok {
		return o.normals[i]
	}
	if normal, ok := cloud.Normal(i); ok {
		return normal
	}
	return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}
