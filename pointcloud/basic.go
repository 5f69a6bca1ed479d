package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Basic is the slice backed implementation of the PointCloud interface.
type Basic struct {
	points  []r3.Vector
	normals []r3.Vector
	meta    MetaData
}

// New returns an empty cloud without normals.
func New() *Basic {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated cloud without normals.
func NewWithPrealloc(size int) *Basic {
	return &Basic{
		points: make([]r3.Vector, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a cloud holding a copy of points.
func NewFromPoints(points []r3.Vector) *Basic {
	cloud := NewWithPrealloc(len(points))
	for _, p := range points {
		cloud.Append(p)
	}
	return cloud
}

// NewWithNormals returns a cloud holding copies of points and their normals.
func NewWithNormals(points, normals []r3.Vector) (*Basic, error) {
	if len(points) != len(normals) {
		return nil, errors.Errorf("got %d normals for %d points", len(normals), len(points))
	}
	cloud := NewWithPrealloc(len(points))
	cloud.normals = make([]r3.Vector, 0, len(points))
	cloud.meta.HasNormals = true
	for i, p := range points {
		cloud.points = append(cloud.points, p)
		cloud.normals = append(cloud.normals, normals[i])
		cloud.meta.Merge(p)
	}
	return cloud, nil
}

// Append adds a point. It panics if the cloud carries normals, use AppendWithNormal instead.
func (cloud *Basic) Append(p r3.Vector) {
	if cloud.meta.HasNormals {
		panic("Append on a cloud with normals")
	}
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
}

// AppendWithNormal adds a point and its normal. The first call on an empty cloud enables normals.
func (cloud *Basic) AppendWithNormal(p, n r3.Vector) error {
	if !cloud.meta.HasNormals {
		if len(cloud.points) != 0 {
			return errors.New("cannot add a normal to a cloud created without normals")
		}
		cloud.meta.HasNormals = true
	}
	cloud.points = append(cloud.points, p)
	cloud.normals = append(cloud.normals, n)
	cloud.meta.Merge(p)
	return nil
}

// Size returns the number of points.
func (cloud *Basic) Size() int {
	return len(cloud.points)
}

// At returns the point at index i.
func (cloud *Basic) At(i int) r3.Vector {
	return cloud.points[i]
}

// Normal returns the normal at index i.
func (cloud *Basic) Normal(i int) (r3.Vector, bool) {
	if !cloud.meta.HasNormals {
		return r3.Vector{}, false
	}
	n := cloud.normals[i]
	return n, IsFinite(n)
}

// HasNormals reports whether the cloud carries normals.
func (cloud *Basic) HasNormals() bool {
	return cloud.meta.HasNormals
}

// MetaData returns meta data.
func (cloud *Basic) MetaData() MetaData {
	return cloud.meta
}

// OrganizedCloud is a Basic cloud with an image grid layout.
type OrganizedCloud struct {
	*Basic
	width, height int
}

// NewOrganized lays points out on a width x height grid in row major order. normals may be nil.
func NewOrganized(width, height int, points, normals []r3.Vector) (*OrganizedCloud, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid organized dimensions %dx%d", width, height)
	}
	if len(points) != width*height {
		return nil, errors.Errorf("expected %d points for a %dx%d organized cloud, got %d", width*height, width, height, len(points))
	}
	var basic *Basic
	if normals != nil {
		var err error
		if basic, err = NewWithNormals(points, normals); err != nil {
			return nil, err
		}
	} else {
		basic = NewFromPoints(points)
	}
	return &OrganizedCloud{Basic: basic, width: width, height: height}, nil
}

// Width returns the number of columns.
func (cloud *OrganizedCloud) Width() int {
	return cloud.width
}

// Height returns the number of rows.
func (cloud *OrganizedCloud) Height() int {
	return cloud.height
}

// AtPixel returns the finite point at column u and row v.
func (cloud *OrganizedCloud) AtPixel(u, v int) (r3.Vector, bool) {
	if u < 0 || v < 0 || u >= cloud.width || v >= cloud.height {
		return r3.Vector{}, false
	}
	p := cloud.points[v*cloud.width+u]
	return p, IsFinite(p)
}
