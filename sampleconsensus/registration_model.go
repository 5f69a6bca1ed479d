package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// RegistrationModel fits rigid transforms mapping source points onto their paired target points.
// Coefficients hold the 4x4 transform in row major order. Active indices are source indices that
// have a target pair.
type RegistrationModel struct {
	*baseModel
	target pointcloud.PointCloud
	pairs  map[int]int
	// paired source indices in first occurrence order
	paired []int
	// minimum squared distance between consecutive sample points
	sampleDistance float64
}

// NewRegistrationModel pairs sourceIndices[i] with targetIndices[i]. When a source index appears
// more than once, the last pair wins.
func NewRegistrationModel(source, target pointcloud.PointCloud, sourceIndices, targetIndices []int) (*RegistrationModel, error) {
	if source == nil || target == nil {
		return nil, utils.NewConfigurationError("registration model", "source and target clouds are required")
	}
	if len(sourceIndices) != len(targetIndices) {
		return nil, utils.NewConfigurationError("registration model",
			"got %d source indices and %d target indices", len(sourceIndices), len(targetIndices))
	}
	m := &RegistrationModel{
		baseModel: newBaseModel(Registration, source),
		target:    target,
		pairs:     make(map[int]int, len(sourceIndices)),
	}
	active := make([]int, 0, len(sourceIndices))
	for i, src := range sourceIndices {
		tgt := targetIndices[i]
		if src < 0 || src >= source.Size() || tgt < 0 || tgt >= target.Size() {
			return nil, utils.NewConfigurationError("registration model", "pair (%d, %d) out of range", src, tgt)
		}
		if _, seen := m.pairs[src]; !seen {
			active = append(active, src)
		}
		m.pairs[src] = tgt
	}
	m.paired = active
	if err := m.baseModel.SetIndices(active); err != nil {
		return nil, err
	}
	m.isSampleGood = m.sampleGood
	m.distanceFor = m.transformDistance
	m.computeSampleDistance()
	return m, nil
}

// Target returns the cloud the source points are registered against.
func (m *RegistrationModel) Target() pointcloud.PointCloud {
	return m.target
}

// SetIndices restricts the active set to paired source indices. A nil slice selects every pair.
func (m *RegistrationModel) SetIndices(indices []int) error {
	if indices == nil {
		indices = m.paired
	}
	for _, idx := range indices {
		if _, ok := m.pairs[idx]; !ok {
			return utils.NewConfigurationError("registration model", "source index %d has no target pair", idx)
		}
	}
	if err := m.baseModel.SetIndices(indices); err != nil {
		return err
	}
	m.computeSampleDistance()
	return nil
}

// computeSampleDistance derives the minimum sample spacing from the spread of the active source
// points: the square of the mean standard deviation along the principal axes.
func (m *RegistrationModel) computeSampleDistance() {
	m.sampleDistance = 0
	if len(m.indices) < 3 {
		return
	}
	pts := m.points(m.indices)
	data := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
		data.Set(i, 2, p.Z)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	var eig mat.EigenSym
	if !eig.Factorize(&cov, false) {
		return
	}
	spread := 0.
	for _, v := range eig.Values(nil) {
		spread += math.Sqrt(math.Max(v, 0))
	}
	spread /= 3
	if !math.IsNaN(spread) {
		m.sampleDistance = spread * spread
	}
}

func (m *RegistrationModel) pair(src int) r3.Vector {
	return m.target.At(m.pairs[src])
}

func (m *RegistrationModel) sampleGood(sample []int) bool {
	for _, idx := range sample {
		if !pointcloud.IsFinite(m.pair(idx)) {
			return false
		}
	}
	p0, p1, p2 := m.point(sample[0]), m.point(sample[1]), m.point(sample[2])
	return p1.Sub(p0).Norm2() > m.sampleDistance &&
		p2.Sub(p1).Norm2() > m.sampleDistance &&
		p0.Sub(p2).Norm2() > m.sampleDistance
}

// ComputeModelCoefficients estimates the rigid transform of a three pair sample.
func (m *RegistrationModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	if len(sample) != 3 {
		return nil, false
	}
	return m.estimate(sample)
}

func (m *RegistrationModel) estimate(indices []int) (Coefficients, bool) {
	src := m.points(indices)
	dst := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		dst[i] = m.pair(idx)
	}
	t, err := spatialmath.EstimateRigidTransform(src, dst)
	if err != nil || !t.IsFinite() {
		return nil, false
	}
	return Coefficients(t.RowMajor()), true
}

func (m *RegistrationModel) transformDistance(c Coefficients) pointDistance {
	if len(c) != 16 {
		return nil
	}
	t, err := spatialmath.NewTransformFromRowMajor(c)
	if err != nil {
		return nil
	}
	return func(idx int) float64 {
		return t.Apply(m.point(idx)).Sub(m.pair(idx)).Norm()
	}
}

// OptimizeModelCoefficients re-estimates the transform over every inlier pair.
func (m *RegistrationModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	if len(c) != 16 || len(inliers) < 3 {
		return c
	}
	for _, idx := range inliers {
		if _, ok := m.pairs[idx]; !ok {
			return c
		}
	}
	refined, ok := m.estimate(inliers)
	if !ok {
		return c
	}
	return refined
}
