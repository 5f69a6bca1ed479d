package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// ConeModel fits cones [ax ay az dx dy dz angle]: apex a, unit axis direction d pointing into the
// cone and half opening angle in radians. It reads point normals.
type ConeModel struct {
	*baseModel
	minAngle, maxAngle float64
	weight             float64
}

// NewConeModel returns a cone model. A zero maxAngle means unlimited. weight in [0, 1] is the share
// of the angular deviation of the point normals in the distance.
func NewConeModel(cloud pointcloud.PointCloud, minAngle, maxAngle, weight float64) *ConeModel {
	m := &ConeModel{baseModel: newBaseModel(Cone, cloud), minAngle: minAngle, maxAngle: maxAngle, weight: weight}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.coneDistance
	return m
}

func (m *ConeModel) sampleGood(sample []int) bool {
	for _, idx := range sample {
		if _, ok := m.cloud.Normal(idx); !ok {
			return false
		}
	}
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	return p0 != p1 && p0 != p2 && p1 != p2
}

func (m *ConeModel) allows(angle float64) bool {
	if angle < m.minAngle {
		return false
	}
	return m.maxAngle <= 0 || angle <= m.maxAngle
}

// ComputeModelCoefficients places the apex at the intersection of the three tangent planes and
// the axis normal to the plane through the unit directions from the apex to the points.
func (m *ConeModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 3 {
		return nil, false
	}
	var p, n [3]r3.Vector
	for i, idx := range sample {
		var ok bool
		p[i] = m.point(idx)
		if n[i], ok = m.cloud.Normal(idx); !ok {
			return nil, false
		}
	}
	ortho12, ortho23, ortho31 := n[0].Cross(n[1]), n[1].Cross(n[2]), n[2].Cross(n[0])
	denominator := n[0].Dot(ortho23)
	if math.Abs(denominator) < 1e-12 {
		return nil, false
	}
	d1, d2, d3 := p[0].Dot(n[0]), p[1].Dot(n[1]), p[2].Dot(n[2])
	apex := ortho23.Mul(d1).Add(ortho31.Mul(d2)).Add(ortho12.Mul(d3)).Mul(1 / denominator)

	var unit [3]r3.Vector
	for i := range p {
		ap := p[i].Sub(apex)
		if ap.Norm() == 0 {
			return nil, false
		}
		unit[i] = ap.Normalize()
	}
	axis := unit[1].Sub(unit[0]).Cross(unit[2].Sub(unit[0]))
	if axis.Norm() == 0 {
		return nil, false
	}
	axis = axis.Normalize()
	if axis.Dot(unit[0]) < 0 {
		axis = axis.Mul(-1)
	}
	angle := 0.
	for _, u := range unit {
		angle += math.Acos(math.Max(-1, math.Min(1, u.Dot(axis))))
	}
	angle /= 3
	c := Coefficients{apex.X, apex.Y, apex.Z, axis.X, axis.Y, axis.Z, angle}
	return c, finiteCoefficients(c) && angle > 0 && angle < math.Pi/2 && m.allows(angle)
}

// coneSurface returns the approximate euclidean distance of p to the cone surface and the surface
// normal at that height.
func coneSurface(p, apex, axis r3.Vector, angle float64) (float64, r3.Vector) {
	rel := p.Sub(apex)
	height := rel.Dot(axis)
	radial := rel.Sub(axis.Mul(height))
	expected := math.Tan(angle) * math.Abs(height)
	euclid := math.Abs(radial.Norm() - expected)
	if radial.Norm() == 0 {
		return euclid, r3.Vector{}
	}
	// outward normal of the surface, tilted against the axis by the opening angle
	normal := radial.Normalize().Mul(math.Cos(angle)).Sub(axis.Mul(math.Sin(angle)))
	return euclid, normal
}

func (m *ConeModel) coneDistance(c Coefficients) pointDistance {
	if len(c) != 7 || vec(c, 3).Norm() == 0 {
		return nil
	}
	apex, axis, angle := vec(c, 0), vec(c, 3).Normalize(), c[6]
	return func(idx int) float64 {
		euclid, surfaceNormal := coneSurface(m.point(idx), apex, axis, angle)
		return m.weightedByNormal(m.weight, idx, euclid, surfaceNormal)
	}
}

// OptimizeModelCoefficients minimizes the squared euclidean distances of the inliers to the surface.
func (m *ConeModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 7 || len(inliers) <= 3 {
		return c
	}
	pts := m.points(inliers)
	refined := minimizeResiduals(c, func(x []float64) float64 {
		axis := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
		if axis.Norm() == 0 || x[6] <= 0 || x[6] >= math.Pi/2 {
			return math.Inf(1)
		}
		axis = axis.Normalize()
		apex := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
		cost := 0.
		for _, p := range pts {
			d, _ := coneSurface(p, apex, axis, x[6])
			cost += d * d
		}
		return cost
	})
	axis := vec(refined, 3)
	if axis.Norm() == 0 {
		return c
	}
	axis = axis.Normalize()
	refined[3], refined[4], refined[5] = axis.X, axis.Y, axis.Z
	if !finiteCoefficients(refined) || !m.allows(refined[6]) {
		return c
	}
	return refined
}
