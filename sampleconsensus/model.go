// Package sampleconsensus fits geometric models to point clouds with the RANSAC family of
// estimators. A Model turns minimal samples into coefficients and measures points against them;
// an Engine searches for the coefficients with the best penalty using one of several strategies.
package sampleconsensus

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// maxSampleChecks bounds the number of draws Samples makes before giving up on a degenerate cloud.
const maxSampleChecks = 1000

var (
	// ErrDegenerateSample is returned when no good minimal sample could be drawn.
	ErrDegenerateSample = errors.New("no non-degenerate sample found")
	// ErrExhausted is returned when the skip bound is reached before any valid model was computed.
	ErrExhausted = errors.New("sample consensus exhausted its skip budget without a valid model")
	// ErrNoModelFound is returned when no hypothesis ever improved on the initial penalty.
	ErrNoModelFound = errors.New("sample consensus found no model")
)

// Coefficients are the parameters of a model. Their layout depends on the ModelType.
type Coefficients []float64

// Model is a geometric model that can be fitted by sample consensus. Indices returned by the
// model always refer to points of Cloud.
type Model interface {
	// Type returns the registered type of the model.
	Type() ModelType
	// SampleSize is the number of points in a minimal sample.
	SampleSize() int
	// Cloud is the cloud the model measures against.
	Cloud() pointcloud.PointCloud
	// Indices is the active index set. It must not be modified by the caller.
	Indices() []int
	// SetIndices replaces the active index set. A nil slice selects every point.
	SetIndices(indices []int) error

	// Samples draws a good minimal sample from the active set.
	Samples(rng *rand.Rand) ([]int, error)
	// IsSampleGood reports whether a sample can determine a model.
	IsSampleGood(sample []int) bool
	// ComputeModelCoefficients fits coefficients to a minimal sample. The second return is false
	// when the sample does not yield a valid model.
	ComputeModelCoefficients(sample []int) (Coefficients, bool)

	// DistancesToModel returns one distance per active index.
	DistancesToModel(coeffs Coefficients) []float64
	// SelectWithinDistance returns the active indices within threshold of the model.
	SelectWithinDistance(coeffs Coefficients, threshold float64) []int
	// CountWithinDistance counts the active indices within threshold of the model.
	CountWithinDistance(coeffs Coefficients, threshold float64) int
	// OptimizeModelCoefficients refines coefficients on all inliers by least squares. It returns
	// the input coefficients when refinement is not possible.
	OptimizeModelCoefficients(inliers []int, coeffs Coefficients) Coefficients
	// DoSamplesVerifyModel reports whether every given index is within threshold of the model.
	DoSamplesVerifyModel(indices []int, coeffs Coefficients, threshold float64) bool
}
