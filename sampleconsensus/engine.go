package sampleconsensus

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// State is the phase of a ComputeModel call.
type State int

// The engine states.
const (
	StateInit State = iota
	StateSampling
	StateScoring
	StateUpdating
	StateConverged
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSampling:
		return "sampling"
	case StateScoring:
		return "scoring"
	case StateUpdating:
		return "updating"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// skipFactor bounds the number of failed coefficient computations relative to MaxIterations.
const skipFactor = 10

// Result is the outcome of a successful ComputeModel.
type Result struct {
	State        State
	Coefficients Coefficients
	// Sample is the minimal sample of the best hypothesis.
	Sample []int
	// Inliers are the active indices within the threshold of Coefficients.
	Inliers []int
	// Iterations counts scored and pre-test rejected hypotheses.
	Iterations int
	// Skipped counts samples that did not yield coefficients.
	Skipped int
	Penalty float64
	// Improvements holds the best penalty after every improvement.
	Improvements []float64
}

// An Engine runs sample consensus over a model. It is not safe for concurrent use.
type Engine struct {
	model  Model
	cfg    Config
	logger logging.Logger
	state  State
}

// NewEngine validates cfg against model.
func NewEngine(model Model, cfg Config, logger logging.Logger) (*Engine, error) {
	if model == nil {
		return nil, utils.NewConfigurationError("sample consensus", "no model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if expected := model.Type().SampleSize(); expected == 0 || model.SampleSize() != expected {
		return nil, utils.NewConfigurationError("sample consensus",
			"model %v has sample size %d, expected %d", model.Type(), model.SampleSize(), expected)
	}
	if logger == nil {
		logger = logging.NewBlankLogger("sample_consensus")
	}
	if cfg.ParallelThreshold > 0 {
		if tunable, ok := model.(parallelTunable); ok {
			tunable.setParallelThreshold(cfg.ParallelThreshold)
		}
	}
	return &Engine{
		model:  model,
		cfg:    cfg,
		logger: logger.Sublogger(string(cfg.Method)),
	}, nil
}

// Model returns the model the engine fits.
func (e *Engine) Model() Model {
	return e.model
}

// State returns the phase of the last or running ComputeModel.
func (e *Engine) State() State {
	return e.state
}

// ComputeModel searches for the coefficients with the lowest penalty. The random source is
// reseeded from Config.Seed on every call, so repeated calls return the same result.
func (e *Engine) ComputeModel(ctx context.Context) (*Result, error) {
	e.state = StateInit
	rng := rand.New(rand.NewSource(e.cfg.Seed)) //nolint:gosec
	strategy := newStrategy(e.cfg, e.model)
	total := len(e.model.Indices())

	var (
		best         Coefficients
		bestSample   []int
		bestPenalty  = math.Inf(1)
		improvements []float64
		budget       = math.Inf(1)
		iterations   int
		skipped      int
		sampleErr    error
	)
	maxSkip := skipFactor * e.cfg.MaxIterations
	for float64(iterations) < budget && iterations < e.cfg.MaxIterations && skipped < maxSkip {
		if err := ctx.Err(); err != nil {
			e.state = StateFailed
			return nil, errors.Wrapf(err, "%s stopped after %d iterations", strategy.Name, iterations)
		}
		e.state = StateSampling
		sample, err := strategy.Sample(e.model, rng, iterations)
		if err != nil {
			sampleErr = err
			break
		}
		coeffs, ok := e.model.ComputeModelCoefficients(sample)
		if !ok {
			skipped++
			continue
		}
		if strategy.PreTest != nil && !strategy.PreTest(e.model, coeffs, e.cfg.Threshold, rng) {
			iterations++
			continue
		}

		e.state = StateScoring
		penalty, inliers := strategy.Score(e.model, coeffs, e.cfg.Threshold)
		if penalty < bestPenalty {
			e.state = StateUpdating
			best, bestSample, bestPenalty = coeffs, sample, penalty
			improvements = append(improvements, penalty)
			budget = strategy.UpdateBudget(Improvement{
				Coefficients: coeffs,
				Penalty:      penalty,
				Inliers:      inliers,
				Total:        total,
				SampleSize:   e.model.SampleSize(),
				Probability:  e.cfg.Probability,
			})
			e.logger.Debugw("improved model",
				"iteration", iterations, "penalty", penalty, "inliers", inliers, "budget", budget)
		}
		iterations++
	}

	if best == nil {
		switch {
		case sampleErr != nil:
			e.state = StateFailed
			return nil, multierr.Combine(ErrNoModelFound, sampleErr)
		case skipped >= maxSkip:
			e.state = StateExhausted
			return nil, ErrExhausted
		default:
			e.state = StateFailed
			return nil, ErrNoModelFound
		}
	}
	if sampleErr != nil {
		e.logger.Warnw("stopped sampling early", "iteration", iterations, "error", sampleErr)
	}

	inliers := e.model.SelectWithinDistance(best, e.cfg.Threshold)
	if e.cfg.Optimize {
		refined := e.model.OptimizeModelCoefficients(inliers, best)
		if refinedInliers := e.model.SelectWithinDistance(refined, e.cfg.Threshold); refinedInliers != nil {
			best, inliers = refined, refinedInliers
		}
	}
	e.state = StateConverged
	e.logger.Debugw("model computed",
		"iterations", iterations, "skipped", skipped, "penalty", bestPenalty, "inliers", len(inliers))
	return &Result{
		State:        StateConverged,
		Coefficients: best,
		Sample:       bestSample,
		Inliers:      inliers,
		Iterations:   iterations,
		Skipped:      skipped,
		Penalty:      bestPenalty,
		Improvements: improvements,
	}, nil
}
