package sampleconsensus

import (
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// LineModel fits lines [px py pz dx dy dz] through point p with unit direction d.
type LineModel struct {
	*baseModel
}

// NewLineModel returns a line model over every point of cloud.
func NewLineModel(cloud pointcloud.PointCloud) *LineModel {
	m := &LineModel{baseModel: newBaseModel(Line, cloud)}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.lineDistance
	return m
}

func (m *LineModel) sampleGood(sample []int) bool {
	return m.point(sample[0]) != m.point(sample[1])
}

// ComputeModelCoefficients returns the line through two points.
func (m *LineModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 2 {
		return nil, false
	}
	p0, p1 := m.point(sample[0]), m.point(sample[1])
	dir := p1.Sub(p0)
	if dir.Norm() == 0 {
		return nil, false
	}
	dir = dir.Normalize()
	c := Coefficients{p0.X, p0.Y, p0.Z, dir.X, dir.Y, dir.Z}
	return c, finiteCoefficients(c)
}

func (m *LineModel) lineDistance(c Coefficients) pointDistance {
	if len(c) != 6 || vec(c, 3).Norm() == 0 {
		return nil
	}
	origin, dir := vec(c, 0), vec(c, 3).Normalize()
	return func(idx int) float64 {
		return pointToLineDistance(m.point(idx), origin, dir)
	}
}

// OptimizeModelCoefficients fits the line through the inlier centroid along their principal
// direction. The direction keeps the orientation of the input coefficients.
func (m *LineModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 6 || len(inliers) < 2 {
		return c
	}
	centroid, axes, ok := principalAxes(m.points(inliers))
	if !ok {
		return c
	}
	dir := axes[2]
	if dir.Dot(vec(c, 3)) < 0 {
		dir = dir.Mul(-1)
	}
	refined := Coefficients{centroid.X, centroid.Y, centroid.Z, dir.X, dir.Y, dir.Z}
	if !finiteCoefficients(refined) {
		return c
	}
	return refined
}
