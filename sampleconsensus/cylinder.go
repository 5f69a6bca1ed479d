package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// CylinderModel fits cylinders [px py pz dx dy dz r]: an axis through p with unit direction d and
// radius r. It reads point normals.
type CylinderModel struct {
	*baseModel
	radius RadiusLimits
	weight float64
}

// NewCylinderModel returns a cylinder model. weight in [0, 1] is the share of the angular
// deviation of the point normals in the distance.
func NewCylinderModel(cloud pointcloud.PointCloud, radius RadiusLimits, weight float64) *CylinderModel {
	m := &CylinderModel{baseModel: newBaseModel(Cylinder, cloud), radius: radius, weight: weight}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.cylinderDistance
	return m
}

func (m *CylinderModel) sampleGood(sample []int) bool {
	if m.point(sample[0]) == m.point(sample[1]) {
		return false
	}
	for _, idx := range sample {
		if _, ok := m.cloud.Normal(idx); !ok {
			return false
		}
	}
	return true
}

// ComputeModelCoefficients intersects the two normal lines: the axis joins the points of closest
// approach of the lines p1 + s*n1 and p2 + t*n2.
func (m *CylinderModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 2 {
		return nil, false
	}
	p1, p2 := m.point(sample[0]), m.point(sample[1])
	n1, ok1 := m.cloud.Normal(sample[0])
	n2, ok2 := m.cloud.Normal(sample[1])
	if !ok1 || !ok2 {
		return nil, false
	}
	w := n1.Add(p1).Sub(p2)
	a, b, c := n1.Dot(n1), n1.Dot(n2), n2.Dot(n2)
	d, e := n1.Dot(w), n2.Dot(w)
	denominator := a*c - b*b
	var sc, tc float64
	if denominator < 1e-8 {
		// nearly parallel normals
		sc = 0
		if b > c {
			tc = d / b
		} else {
			tc = e / c
		}
	} else {
		sc = (b*e - c*d) / denominator
		tc = (a*e - b*d) / denominator
	}
	linePt := p1.Add(n1).Add(n1.Mul(sc))
	lineDir := p2.Add(n2.Mul(tc)).Sub(linePt)
	if lineDir.Norm() == 0 {
		return nil, false
	}
	lineDir = lineDir.Normalize()
	r := pointToLineDistance(p1, linePt, lineDir)
	coeffs := Coefficients{linePt.X, linePt.Y, linePt.Z, lineDir.X, lineDir.Y, lineDir.Z, r}
	return coeffs, finiteCoefficients(coeffs) && m.radius.allows(r)
}

// cylinderSurface returns the euclidean distance of p to the cylinder surface and the surface
// normal at the closest point.
func cylinderSurface(p, origin, dir r3.Vector, r float64) (float64, r3.Vector) {
	rel := p.Sub(origin)
	radial := rel.Sub(dir.Mul(rel.Dot(dir)))
	return math.Abs(radial.Norm() - r), radial
}

func (m *CylinderModel) cylinderDistance(c Coefficients) pointDistance {
	if len(c) != 7 || vec(c, 3).Norm() == 0 {
		return nil
	}
	origin, dir, r := vec(c, 0), vec(c, 3).Normalize(), c[6]
	return func(idx int) float64 {
		euclid, surfaceNormal := cylinderSurface(m.point(idx), origin, dir, r)
		return m.weightedByNormal(m.weight, idx, euclid, surfaceNormal)
	}
}

// OptimizeModelCoefficients minimizes the squared euclidean distances of the inliers to the surface.
func (m *CylinderModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 7 || len(inliers) <= 2 {
		return c
	}
	pts := m.points(inliers)
	refined := minimizeResiduals(c, func(x []float64) float64 {
		dir := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
		if dir.Norm() == 0 {
			return math.Inf(1)
		}
		dir = dir.Normalize()
		origin := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
		cost := 0.
		for _, p := range pts {
			d, _ := cylinderSurface(p, origin, dir, x[6])
			cost += d * d
		}
		return cost
	})
	dir := vec(refined, 3)
	if dir.Norm() == 0 {
		return c
	}
	dir = dir.Normalize()
	refined[3], refined[4], refined[5] = dir.X, dir.Y, dir.Z
	if !finiteCoefficients(refined) || !m.radius.allows(refined[6]) {
		return c
	}
	return refined
}
