package registration

import (
	"math"

	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
)

// ConvergenceState records which test ended an alignment.
type ConvergenceState int

// Convergence states.
const (
	NotConverged ConvergenceState = iota
	ConvergedIterations
	ConvergedTransform
	ConvergedAbsoluteMSE
	ConvergedRelativeMSE
	FailureAfterMaxIterations
)

// String implements fmt.Stringer.
func (s ConvergenceState) String() string {
	switch s {
	case NotConverged:
		return "not_converged"
	case ConvergedIterations:
		return "iterations"
	case ConvergedTransform:
		return "transform"
	case ConvergedAbsoluteMSE:
		return "absolute_mse"
	case ConvergedRelativeMSE:
		return "relative_mse"
	case FailureAfterMaxIterations:
		return "failure_after_max_iterations"
	default:
		return "unknown"
	}
}

// Default convergence thresholds.
const (
	DefaultMaxIterations        = 10
	DefaultRotationThreshold    = 0.99999
	DefaultTranslationThreshold = 3e-4 * 3e-4
	DefaultRelativeMSE          = 1e-5
	DefaultAbsoluteMSE          = 1e-12
)

// ConvergenceCriteria decides when the alignment loop stops. It is checked once per iteration
// with the incremental transform of that iteration and the correspondences it was solved from.
type ConvergenceCriteria struct {
	MaxIterations int
	// RotationThreshold is the smallest cosine of the incremental rotation angle that counts as
	// no rotation.
	RotationThreshold float64
	// TranslationThreshold is the largest squared incremental translation that counts as no motion.
	TranslationThreshold float64
	RelativeMSE          float64
	AbsoluteMSE          float64
	// MaxIterationsSimilarTransforms is the number of consecutive similar iterations required
	// before the transform or MSE tests may stop the loop.
	MaxIterationsSimilarTransforms int
	// FailureAfterMaxIterations turns hitting MaxIterations into a failure.
	FailureAfterMaxIterations bool

	state   ConvergenceState
	prevMSE float64
	similar int
}

// NewConvergenceCriteria returns criteria with the default thresholds.
func NewConvergenceCriteria() *ConvergenceCriteria {
	c := &ConvergenceCriteria{
		MaxIterations:        DefaultMaxIterations,
		RotationThreshold:    DefaultRotationThreshold,
		TranslationThreshold: DefaultTranslationThreshold,
		RelativeMSE:          DefaultRelativeMSE,
		AbsoluteMSE:          DefaultAbsoluteMSE,
	}
	c.Reset()
	return c
}

// Reset clears the state kept between iterations.
func (c *ConvergenceCriteria) Reset() {
	c.state = NotConverged
	c.prevMSE = math.MaxFloat64
	c.similar = 0
}

// State returns the outcome of the last check.
func (c *ConvergenceCriteria) State() ConvergenceState {
	return c.state
}

// PreviousMSE returns the mean squared correspondence distance of the last non final check.
func (c *ConvergenceCriteria) PreviousMSE() float64 {
	return c.prevMSE
}

// HasConverged checks the criteria after the given number of completed iterations.
func (c *ConvergenceCriteria) HasConverged(iterations int, delta spatialmath.Transform, corr Correspondences) bool {
	if c.state != NotConverged {
		c.similar = 0
		c.state = NotConverged
	}

	isSimilar := false
	if iterations >= c.MaxIterations {
		if !c.FailureAfterMaxIterations {
			c.state = ConvergedIterations
			return true
		}
		c.state = FailureAfterMaxIterations
	}

	t := delta.Translation()
	if delta.RotationCos() >= c.RotationThreshold && t.Norm2() <= c.TranslationThreshold {
		if c.similar >= c.MaxIterationsSimilarTransforms {
			c.state = ConvergedTransform
			return true
		}
		isSimilar = true
	}

	mse := corr.MSE()
	if math.Abs(mse-c.prevMSE) < c.AbsoluteMSE {
		if c.similar >= c.MaxIterationsSimilarTransforms {
			c.state = ConvergedAbsoluteMSE
			return true
		}
		isSimilar = true
	}
	if relativeChange(mse, c.prevMSE) < c.RelativeMSE {
		if c.similar >= c.MaxIterationsSimilarTransforms {
			c.state = ConvergedRelativeMSE
			return true
		}
		isSimilar = true
	}

	if isSimilar {
		c.similar++
	} else {
		c.similar = 0
	}
	c.prevMSE = mse
	return false
}

// relativeChange returns |cur - prev| / prev, clamped to 0 or +Inf when prev is zero.
func relativeChange(cur, prev float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(cur-prev) / prev
}
