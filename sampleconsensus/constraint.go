package sampleconsensus

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// Predicate accepts or rejects coefficients of a model.
type Predicate func(c Coefficients) bool

// parallelTunable is implemented by models whose distance scans can be sharded.
type parallelTunable interface {
	setParallelThreshold(n int)
}

// progressiveSampler is implemented by models that can draw from a prefix of their active set.
type progressiveSampler interface {
	progressiveSamples(rng *rand.Rand, poolSize int, forced bool) ([]int, error)
}

// ConstrainedModel decorates a model with a predicate on its coefficients. Hypotheses and
// refinements that fail the predicate are rejected, and no point is within distance of them.
type ConstrainedModel struct {
	Model
	modelType ModelType
	accept    Predicate
}

// Constrain wraps model so that only coefficients accepted by pred are valid. The decorated model
// reports t as its type.
func Constrain(model Model, t ModelType, pred Predicate) *ConstrainedModel {
	return &ConstrainedModel{Model: model, modelType: t, accept: pred}
}

// Type returns the type given to Constrain.
func (m *ConstrainedModel) Type() ModelType {
	return m.modelType
}

// ComputeModelCoefficients fits the inner model and applies the predicate.
func (m *ConstrainedModel) ComputeModelCoefficients(sample []int) (Coefficients, bool) {
	c, ok := m.Model.ComputeModelCoefficients(sample)
	if !ok || !m.accept(c) {
		return nil, false
	}
	return c, true
}

// DistancesToModel returns nil for coefficients the predicate rejects.
func (m *ConstrainedModel) DistancesToModel(c Coefficients) []float64 {
	if !m.accept(c) {
		return nil
	}
	return m.Model.DistancesToModel(c)
}

// SelectWithinDistance returns nil for coefficients the predicate rejects.
func (m *ConstrainedModel) SelectWithinDistance(c Coefficients, threshold float64) []int {
	if !m.accept(c) {
		return nil
	}
	return m.Model.SelectWithinDistance(c, threshold)
}

// CountWithinDistance returns 0 for coefficients the predicate rejects.
func (m *ConstrainedModel) CountWithinDistance(c Coefficients, threshold float64) int {
	if !m.accept(c) {
		return 0
	}
	return m.Model.CountWithinDistance(c, threshold)
}

// OptimizeModelCoefficients keeps c when the refined coefficients fail the predicate.
func (m *ConstrainedModel) OptimizeModelCoefficients(inliers []int, c Coefficients) Coefficients {
	refined := m.Model.OptimizeModelCoefficients(inliers, c)
	if !m.accept(refined) {
		return c
	}
	return refined
}

// DoSamplesVerifyModel fails for coefficients the predicate rejects.
func (m *ConstrainedModel) DoSamplesVerifyModel(indices []int, c Coefficients, threshold float64) bool {
	return m.accept(c) && m.Model.DoSamplesVerifyModel(indices, c, threshold)
}

func (m *ConstrainedModel) setParallelThreshold(n int) {
	if inner, ok := m.Model.(parallelTunable); ok {
		inner.setParallelThreshold(n)
	}
}

func (m *ConstrainedModel) progressiveSamples(rng *rand.Rand, poolSize int, forced bool) ([]int, error) {
	if inner, ok := m.Model.(progressiveSampler); ok {
		return inner.progressiveSamples(rng, poolSize, forced)
	}
	return m.Model.Samples(rng)
}

// LineParallelTo accepts lines whose direction is within eps radians of axis. A non-positive eps
// accepts every line.
func LineParallelTo(axis r3.Vector, eps float64) Predicate {
	return func(c Coefficients) bool {
		if len(c) != 6 {
			return false
		}
		return eps <= 0 || angleBetweenLines(vec(c, 3), axis) <= eps
	}
}

// PlaneNormalParallelTo accepts planes whose normal is within eps radians of axis, that is planes
// perpendicular to axis. A non-positive eps accepts every plane.
func PlaneNormalParallelTo(axis r3.Vector, eps float64) Predicate {
	return func(c Coefficients) bool {
		if len(c) != 4 {
			return false
		}
		return eps <= 0 || angleBetweenLines(vec(c, 0), axis) <= eps
	}
}

// PlaneParallelTo accepts planes whose normal is within eps radians of perpendicular to axis. A
// non-positive eps accepts every plane.
func PlaneParallelTo(axis r3.Vector, eps float64) Predicate {
	return func(c Coefficients) bool {
		if len(c) != 4 {
			return false
		}
		return eps <= 0 || math.Pi/2-angleBetweenLines(vec(c, 0), axis) <= eps
	}
}

// PlaneDistanceFromOrigin accepts planes whose distance to the origin is within eps of dist.
func PlaneDistanceFromOrigin(dist, eps float64) Predicate {
	return func(c Coefficients) bool {
		if len(c) != 4 {
			return false
		}
		return math.Abs(math.Abs(c[3])-dist) <= eps
	}
}

// All accepts coefficients accepted by every predicate.
func All(preds ...Predicate) Predicate {
	return func(c Coefficients) bool {
		for _, pred := range preds {
			if !pred(c) {
				return false
			}
		}
		return true
	}
}
