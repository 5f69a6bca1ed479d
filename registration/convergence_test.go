package registration

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
)

func TestConvergenceIterations(t *testing.T) {
	step := spatialmath.NewTranslation(r3.Vector{X: 1})
	c := NewConvergenceCriteria()
	c.MaxIterations = 3
	for i := 1; i < 3; i++ {
		test.That(t, c.HasConverged(i, step, Correspondences{{Distance: float64(10 * i)}}), test.ShouldBeFalse)
		test.That(t, c.State(), test.ShouldEqual, NotConverged)
	}
	test.That(t, c.PreviousMSE(), test.ShouldEqual, 20)
	test.That(t, c.HasConverged(3, step, Correspondences{{Distance: 40}}), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, ConvergedIterations)

	c.Reset()
	test.That(t, c.State(), test.ShouldEqual, NotConverged)
	test.That(t, c.PreviousMSE(), test.ShouldEqual, math.MaxFloat64)

	c.FailureAfterMaxIterations = true
	test.That(t, c.HasConverged(3, step, Correspondences{{Distance: 40}}), test.ShouldBeFalse)
	test.That(t, c.State(), test.ShouldEqual, FailureAfterMaxIterations)
}

func TestConvergenceTransform(t *testing.T) {
	identity := spatialmath.NewIdentityTransform()
	c := NewConvergenceCriteria()
	test.That(t, c.HasConverged(1, identity, Correspondences{{Distance: 1}}), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, ConvergedTransform)

	c.Reset()
	c.MaxIterationsSimilarTransforms = 2
	test.That(t, c.HasConverged(1, identity, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(2, identity, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(3, identity, Correspondences{{Distance: 1}}), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, ConvergedTransform)

	// a dissimilar iteration resets the similar count
	c.Reset()
	moved := spatialmath.NewTranslation(r3.Vector{Y: 1})
	test.That(t, c.HasConverged(1, identity, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(2, moved, Correspondences{{Distance: 5}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(3, identity, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(4, identity, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(5, identity, Correspondences{{Distance: 1}}), test.ShouldBeTrue)
}

func TestConvergenceMSE(t *testing.T) {
	moved := spatialmath.NewTranslation(r3.Vector{Z: 1})

	c := NewConvergenceCriteria()
	test.That(t, c.HasConverged(1, moved, Correspondences{{Distance: 2}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(2, moved, Correspondences{{Distance: 2}}), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, ConvergedAbsoluteMSE)

	c = NewConvergenceCriteria()
	test.That(t, c.HasConverged(1, moved, Correspondences{{Distance: 2}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(2, moved, Correspondences{{Distance: 2.000001}}), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, ConvergedRelativeMSE)

	c = NewConvergenceCriteria()
	test.That(t, c.HasConverged(1, moved, Correspondences{{Distance: 2}}), test.ShouldBeFalse)
	test.That(t, c.HasConverged(2, moved, Correspondences{{Distance: 1}}), test.ShouldBeFalse)
}

func TestRelativeChange(t *testing.T) {
	test.That(t, relativeChange(0, 0), test.ShouldEqual, 0)
	test.That(t, math.IsInf(relativeChange(1, 0), 1), test.ShouldBeTrue)
	test.That(t, relativeChange(1, 2), test.ShouldEqual, 0.5)
}
