package sampleconsensus

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// Method names a sample consensus strategy.
type Method string

// The supported strategies.
const (
	RANSAC  Method = "ransac"
	MSAC    Method = "msac"
	RMSAC   Method = "rmsac"
	RRANSAC Method = "rransac"
	LMedS   Method = "lmeds"
	MLESAC  Method = "mlesac"
	PROSAC  Method = "prosac"
)

// Methods lists every supported strategy.
var Methods = []Method{RANSAC, MSAC, RMSAC, RRANSAC, LMedS, MLESAC, PROSAC}

// Config configures an Engine.
type Config struct {
	Method Method `json:"method"`
	// Threshold is the inlier distance threshold.
	Threshold     float64 `json:"distance_threshold"`
	MaxIterations int     `json:"max_iterations"`
	// Probability of drawing at least one outlier free sample, used by the adaptive budget.
	Probability float64 `json:"probability"`
	// FractionPretest is the share of the active set checked by the randomized pre-test of
	// RMSAC and RRANSAC, at most three points.
	FractionPretest float64 `json:"fraction_pretest"`
	// Seed reseeds the engine random source at the start of every ComputeModel.
	Seed int64 `json:"seed"`
	// Optimize refines the best coefficients on all inliers.
	Optimize bool `json:"optimize_coefficients"`
	// ParallelThreshold is the active set size from which distance scans are sharded.
	ParallelThreshold int `json:"parallel_threshold"`
}

// DefaultConfig returns a RANSAC configuration with a 1cm threshold.
func DefaultConfig() Config {
	return Config{
		Method:            RANSAC,
		Threshold:         0.01,
		MaxIterations:     1000,
		Probability:       0.99,
		FractionPretest:   0.1,
		ParallelThreshold: defaultParallelThreshold,
	}
}

func (m Method) valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Validate checks every field and reports all problems at once.
func (cfg Config) Validate() error {
	var errs error
	if !cfg.Method.valid() {
		errs = multierr.Append(errs, errors.Errorf("unknown method %q, expected one of %v", cfg.Method, Methods))
	}
	if !(cfg.Threshold > 0) || math.IsInf(cfg.Threshold, 0) {
		errs = multierr.Append(errs, errors.Errorf("distance_threshold must be positive, got %v", cfg.Threshold))
	}
	if cfg.MaxIterations <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations))
	}
	if !(cfg.Probability > 0 && cfg.Probability < 1) {
		errs = multierr.Append(errs, errors.Errorf("probability must be in (0, 1), got %v", cfg.Probability))
	}
	if !(cfg.FractionPretest > 0 && cfg.FractionPretest <= 1) {
		errs = multierr.Append(errs, errors.Errorf("fraction_pretest must be in (0, 1], got %v", cfg.FractionPretest))
	}
	if cfg.ParallelThreshold < 0 {
		errs = multierr.Append(errs, errors.Errorf("parallel_threshold must not be negative, got %d", cfg.ParallelThreshold))
	}
	if errs != nil {
		return utils.NewConfigurationError("sample consensus", "%v", errs)
	}
	return nil
}
