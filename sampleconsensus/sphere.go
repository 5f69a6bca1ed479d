package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// SphereModel fits spheres [cx cy cz r].
type SphereModel struct {
	*baseModel
	radius RadiusLimits
}

// NewSphereModel returns a sphere model.
func NewSphereModel(cloud pointcloud.PointCloud, radius RadiusLimits) *SphereModel {
	m := &SphereModel{baseModel: newBaseModel(Sphere, cloud), radius: radius}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.sphereDistance
	return m
}

func (m *SphereModel) sampleGood(sample []int) bool {
	p0 := m.point(sample[0])
	a, b, c := m.point(sample[1]).Sub(p0), m.point(sample[2]).Sub(p0), m.point(sample[3]).Sub(p0)
	return math.Abs(a.Dot(b.Cross(c))) > 1e-9*a.Norm()*b.Norm()*c.Norm()
}

// ComputeModelCoefficients solves for the sphere passing through 4 non-coplanar points.
// Subtracting the equation of the first point from the other 3 gives a 3x3 linear system:
//
//	2*(p[i]-p[0]) . c = |p[i]|^2 - |p[0]|^2
func (m *SphereModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 4 {
		return nil, false
	}
	p := m.points(sample)
	sq0 := p[0].Norm2()
	a := mat.NewDense(3, 3, nil)
	b := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		a.Set(i, 0, 2*(p[i+1].X-p[0].X))
		a.Set(i, 1, 2*(p[i+1].Y-p[0].Y))
		a.Set(i, 2, 2*(p[i+1].Z-p[0].Z))
		b.SetVec(i, p[i+1].Norm2()-sq0)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, false
	}
	center := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	r := center.Sub(p[0]).Norm()
	c := Coefficients{center.X, center.Y, center.Z, r}
	return c, finiteCoefficients(c) && m.radius.allows(r)
}

func (m *SphereModel) sphereDistance(c Coefficients) pointDistance {
	if len(c) != 4 {
		return nil
	}
	center, r := vec(c, 0), c[3]
	return func(idx int) float64 {
		return math.Abs(m.point(idx).Sub(center).Norm() - r)
	}
}

// OptimizeModelCoefficients minimizes sum((|p - c| - r)^2) over the inliers.
func (m *SphereModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 4 || len(inliers) <= 4 {
		return c
	}
	pts := m.points(inliers)
	refined := minimizeResiduals(c, func(x []float64) float64 {
		center := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
		cost := 0.
		for _, p := range pts {
			res := p.Sub(center).Norm() - x[3]
			cost += res * res
		}
		return cost
	})
	if !finiteCoefficients(refined) || !m.radius.allows(refined[3]) {
		return c
	}
	return refined
}
