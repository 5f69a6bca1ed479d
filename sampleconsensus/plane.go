package sampleconsensus

import (
	"math"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// PlaneModel fits planes [a b c d] with a unit normal (a, b, c) such that a*x + b*y + c*z + d = 0.
type PlaneModel struct {
	*baseModel
}

// NewPlaneModel returns a plane model over every point of cloud.
func NewPlaneModel(cloud pointcloud.PointCloud) *PlaneModel {
	m := &PlaneModel{baseModel: newBaseModel(Plane, cloud)}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.planeDistance
	return m
}

func (m *PlaneModel) sampleGood(sample []int) bool {
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	a, b := p1.Sub(p0), p2.Sub(p0)
	return a.Cross(b).Norm() > 1e-9*a.Norm()*b.Norm()
}

// ComputeModelCoefficients returns the plane through three points.
func (m *PlaneModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 3 {
		return nil, false
	}
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	normal := p1.Sub(p0).Cross(p2.Sub(p0))
	if normal.Norm() == 0 {
		return nil, false
	}
	normal = normal.Normalize()
	c := Coefficients{normal.X, normal.Y, normal.Z, -normal.Dot(p0)}
	return c, finiteCoefficients(c)
}

func (m *PlaneModel) planeDistance(c Coefficients) pointDistance {
	if len(c) != 4 {
		return nil
	}
	normal, d := vec(c, 0), c[3]
	return func(idx int) float64 {
		return math.Abs(normal.Dot(m.point(idx)) + d)
	}
}

// OptimizeModelCoefficients fits the total least squares plane through the inliers. The normal
// keeps the orientation of the input coefficients.
func (m *PlaneModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 4 || len(inliers) < 3 {
		return c
	}
	centroid, axes, ok := principalAxes(m.points(inliers))
	if !ok {
		return c
	}
	normal := axes[0]
	if normal.Dot(vec(c, 0)) < 0 {
		normal = normal.Mul(-1)
	}
	refined := Coefficients{normal.X, normal.Y, normal.Z, -normal.Dot(centroid)}
	if !finiteCoefficients(refined) {
		return c
	}
	return refined
}

// NormalPlaneModel is a plane model whose distance blends the euclidean distance with the angle
// between the point normal and the plane normal.
type NormalPlaneModel struct {
	*PlaneModel
	weight float64
}

// NewNormalPlaneModel returns a normal plane model. weight in [0, 1] is the share of the angular
// deviation, in radians, in the distance.
func NewNormalPlaneModel(cloud pointcloud.PointCloud, weight float64) *NormalPlaneModel {
	plane := NewPlaneModel(cloud)
	plane.modelType = NormalPlane
	m := &NormalPlaneModel{PlaneModel: plane, weight: weight}
	m.distanceFor = m.weightedDistance
	return m
}

func (m *NormalPlaneModel) weightedDistance(c Coefficients) pointDistance {
	euclid := m.planeDistance(c)
	if euclid == nil {
		return nil
	}
	normal := vec(c, 0)
	return func(idx int) float64 {
		return m.weightedByNormal(m.weight, idx, euclid(idx), normal)
	}
}
