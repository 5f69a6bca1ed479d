package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// Circle2DModel fits circles [cx cy r] in the XY plane. Z coordinates are ignored.
type Circle2DModel struct {
	*baseModel
	radius RadiusLimits
}

// NewCircle2DModel returns a 2D circle model.
func NewCircle2DModel(cloud pointcloud.PointCloud, radius RadiusLimits) *Circle2DModel {
	m := &Circle2DModel{baseModel: newBaseModel(Circle2D, cloud), radius: radius}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.circleDistance
	return m
}

func (m *Circle2DModel) sampleGood(sample []int) bool {
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	a := r3.Vector{X: p1.X - p0.X, Y: p1.Y - p0.Y}
	b := r3.Vector{X: p2.X - p0.X, Y: p2.Y - p0.Y}
	return math.Abs(a.Cross(b).Z) > 1e-9*a.Norm()*b.Norm()
}

// ComputeModelCoefficients returns the circle through three points using the determinant form:
//
//	D  = 2(x1(y2-y3) + x2(y3-y1) + x3(y1-y2))
//	cx = ((x1²+y1²)(y2-y3) + (x2²+y2²)(y3-y1) + (x3²+y3²)(y1-y2)) / D
//	cy = ((x1²+y1²)(x3-x2) + (x2²+y2²)(x1-x3) + (x3²+y3²)(x2-x1)) / D
func (m *Circle2DModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 3 {
		return nil, false
	}
	p1, p2, p3 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	d := 2 * (p1.X*(p2.Y-p3.Y) + p2.X*(p3.Y-p1.Y) + p3.X*(p1.Y-p2.Y))
	if d == 0 {
		return nil, false
	}
	s1 := p1.X*p1.X + p1.Y*p1.Y
	s2 := p2.X*p2.X + p2.Y*p2.Y
	s3 := p3.X*p3.X + p3.Y*p3.Y
	cx := (s1*(p2.Y-p3.Y) + s2*(p3.Y-p1.Y) + s3*(p1.Y-p2.Y)) / d
	cy := (s1*(p3.X-p2.X) + s2*(p1.X-p3.X) + s3*(p2.X-p1.X)) / d
	r := math.Hypot(p1.X-cx, p1.Y-cy)
	c := Coefficients{cx, cy, r}
	return c, finiteCoefficients(c) && m.radius.allows(r)
}

func (m *Circle2DModel) circleDistance(c Coefficients) pointDistance {
	if len(c) != 3 {
		return nil
	}
	cx, cy, r := c[0], c[1], c[2]
	return func(idx int) float64 {
		p := m.point(idx)
		return math.Abs(math.Hypot(p.X-cx, p.Y-cy) - r)
	}
}

// OptimizeModelCoefficients minimizes the squared geometric residuals of the inliers.
func (m *Circle2DModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 3 || len(inliers) <= 3 {
		return c
	}
	pts := m.points(inliers)
	refined := minimizeResiduals(c, func(x []float64) float64 {
		cost := 0.
		for _, p := range pts {
			res := math.Hypot(p.X-x[0], p.Y-x[1]) - x[2]
			cost += res * res
		}
		return cost
	})
	if !finiteCoefficients(refined) || !m.radius.allows(refined[2]) {
		return c
	}
	return refined
}

// Circle3DModel fits circles [cx cy cz r nx ny nz] with center c, radius r and unit plane normal n.
type Circle3DModel struct {
	*baseModel
	radius RadiusLimits
}

// NewCircle3DModel returns a 3D circle model.
func NewCircle3DModel(cloud pointcloud.PointCloud, radius RadiusLimits) *Circle3DModel {
	m := &Circle3DModel{baseModel: newBaseModel(Circle3D, cloud), radius: radius}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.circleDistance
	return m
}

func (m *Circle3DModel) sampleGood(sample []int) bool {
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	a, b := p1.Sub(p0), p2.Sub(p0)
	return a.Cross(b).Norm() > 1e-9*a.Norm()*b.Norm()
}

// circumcircle returns the center, radius and normal of the circle through three points.
func circumcircle(p0, p1, p2 r3.Vector) (r3.Vector, float64, r3.Vector, bool) {
	a, b := p0.Sub(p2), p1.Sub(p2)
	axb := a.Cross(b)
	denom := 2 * axb.Norm2()
	if denom == 0 {
		return r3.Vector{}, 0, r3.Vector{}, false
	}
	center := p2.Add(b.Mul(a.Norm2()).Sub(a.Mul(b.Norm2())).Cross(axb).Mul(1 / denom))
	return center, center.Sub(p0).Norm(), axb.Normalize(), true
}

// ComputeModelCoefficients returns the circle through three points.
func (m *Circle3DModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 3 {
		return nil, false
	}
	center, r, normal, ok := circumcircle(m.point(sample[0]), m.point(sample[1]), m.point(sample[2]))
	if !ok {
		return nil, false
	}
	c := Coefficients{center.X, center.Y, center.Z, r, normal.X, normal.Y, normal.Z}
	return c, finiteCoefficients(c) && m.radius.allows(r)
}

// circle3DDistance is the distance from p to the closest point of the circle.
func circle3DDistance(p, center r3.Vector, r float64, normal r3.Vector) float64 {
	rel := p.Sub(center)
	height := rel.Dot(normal)
	radial := rel.Sub(normal.Mul(height)).Norm()
	if radial <= 1e-12*math.Max(1, rel.Norm()) {
		// on the axis every point of the circle is equally close
		radial = 0
	}
	return math.Hypot(radial-r, height)
}

func (m *Circle3DModel) circleDistance(c Coefficients) pointDistance {
	if len(c) != 7 || vec(c, 4).Norm() == 0 {
		return nil
	}
	center, r, normal := vec(c, 0), c[3], vec(c, 4).Normalize()
	return func(idx int) float64 {
		return circle3DDistance(m.point(idx), center, r, normal)
	}
}

// OptimizeModelCoefficients minimizes the squared distances of the inliers to the circle.
func (m *Circle3DModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 7 || len(inliers) <= 3 {
		return c
	}
	pts := m.points(inliers)
	refined := minimizeResiduals(c, func(x []float64) float64 {
		normal := r3.Vector{X: x[4], Y: x[5], Z: x[6]}
		if normal.Norm() == 0 {
			return math.Inf(1)
		}
		normal = normal.Normalize()
		center := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
		cost := 0.
		for _, p := range pts {
			d := circle3DDistance(p, center, x[3], normal)
			cost += d * d
		}
		return cost
	})
	normal := vec(refined, 4)
	if normal.Norm() == 0 {
		return c
	}
	normal = normal.Normalize()
	refined[4], refined[5], refined[6] = normal.X, normal.Y, normal.Z
	if !finiteCoefficients(refined) || !m.radius.allows(refined[3]) {
		return c
	}
	return refined
}
