package registration

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// State is the phase of an alignment.
type State int

// Alignment phases. Converged and Failed are terminal.
const (
	StateIdle State = iota
	StateEstimating
	StateRejecting
	StateSolving
	StateCheckingConvergence
	StateConverged
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEstimating:
		return "estimating"
	case StateRejecting:
		return "rejecting"
	case StateSolving:
		return "solving"
	case StateCheckingConvergence:
		return "checking_convergence"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures an ICP.
type Config struct {
	MaxIterations int `json:"max_iterations"`
	// MaxCorrespondenceDistance bounds the distance of estimated correspondences.
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
	MinCorrespondences        int     `json:"min_correspondences"`
	// TransformationEpsilon is the largest squared incremental translation counted as no motion.
	TransformationEpsilon float64 `json:"transformation_epsilon"`
	// RotationEpsilon is the smallest cosine of the incremental rotation counted as no rotation.
	RotationEpsilon float64 `json:"rotation_epsilon"`
	// EuclideanFitnessEpsilon is the relative MSE change under which the loop stops.
	EuclideanFitnessEpsilon        float64 `json:"euclidean_fitness_epsilon"`
	AbsoluteMSE                    float64 `json:"absolute_mse"`
	MaxIterationsSimilarTransforms int     `json:"max_iterations_similar_transforms"`
	FailureAfterMaxIterations      bool    `json:"failure_after_max_iterations"`
	UseReciprocalCorrespondences   bool    `json:"use_reciprocal_correspondences"`
	// RANSACIterations enables a sample consensus rejector when positive.
	RANSACIterations      int     `json:"ransac_iterations"`
	RANSACInlierThreshold float64 `json:"ransac_inlier_threshold"`
	// MaxFitnessRange bounds the distances used for the fitness score, 0 means unbounded.
	MaxFitnessRange float64 `json:"max_fitness_range"`
	Seed            int64   `json:"seed"`
}

// DefaultConfig returns the usual point to point ICP setup.
func DefaultConfig() Config {
	return Config{
		MaxIterations:             DefaultMaxIterations,
		MaxCorrespondenceDistance: math.Sqrt(math.MaxFloat64),
		MinCorrespondences:        3,
		TransformationEpsilon:     DefaultTranslationThreshold,
		RotationEpsilon:           DefaultRotationThreshold,
		EuclideanFitnessEpsilon:   DefaultRelativeMSE,
		AbsoluteMSE:               DefaultAbsoluteMSE,
		RANSACInlierThreshold:     0.05,
	}
}

// Validate checks every field and reports all problems at once.
func (cfg Config) Validate() error {
	var errs error
	if cfg.MaxIterations <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations))
	}
	if !(cfg.MaxCorrespondenceDistance > 0) || math.IsInf(cfg.MaxCorrespondenceDistance, 0) {
		errs = multierr.Append(errs, errors.Errorf("max_correspondence_distance must be positive, got %v",
			cfg.MaxCorrespondenceDistance))
	}
	if cfg.MinCorrespondences < 3 {
		errs = multierr.Append(errs, errors.Errorf("min_correspondences must be at least 3, got %d", cfg.MinCorrespondences))
	}
	if cfg.TransformationEpsilon < 0 || cfg.EuclideanFitnessEpsilon < 0 || cfg.AbsoluteMSE < 0 {
		errs = multierr.Append(errs, errors.New("convergence thresholds must not be negative"))
	}
	if cfg.RotationEpsilon > 1 {
		errs = multierr.Append(errs, errors.Errorf("rotation_epsilon is a cosine, got %v", cfg.RotationEpsilon))
	}
	if cfg.MaxIterationsSimilarTransforms < 0 {
		errs = multierr.Append(errs, errors.Errorf("max_iterations_similar_transforms must not be negative, got %d",
			cfg.MaxIterationsSimilarTransforms))
	}
	if cfg.RANSACIterations < 0 {
		errs = multierr.Append(errs, errors.Errorf("ransac_iterations must not be negative, got %d", cfg.RANSACIterations))
	}
	if cfg.RANSACIterations > 0 && !(cfg.RANSACInlierThreshold > 0) {
		errs = multierr.Append(errs, errors.Errorf("ransac_inlier_threshold must be positive, got %v", cfg.RANSACInlierThreshold))
	}
	if cfg.MaxFitnessRange < 0 {
		errs = multierr.Append(errs, errors.Errorf("max_fitness_range must not be negative, got %v", cfg.MaxFitnessRange))
	}
	if errs != nil {
		return utils.NewConfigurationError("icp", "%v", errs)
	}
	return nil
}

func (cfg Config) criteria() *ConvergenceCriteria {
	c := NewConvergenceCriteria()
	c.MaxIterations = cfg.MaxIterations
	c.RotationThreshold = cfg.RotationEpsilon
	c.TranslationThreshold = cfg.TransformationEpsilon
	c.RelativeMSE = cfg.EuclideanFitnessEpsilon
	c.AbsoluteMSE = cfg.AbsoluteMSE
	c.MaxIterationsSimilarTransforms = cfg.MaxIterationsSimilarTransforms
	c.FailureAfterMaxIterations = cfg.FailureAfterMaxIterations
	return c
}

// Option customizes an ICP.
type Option func(*ICP)

// WithCorrespondenceEstimator replaces the nearest neighbour estimator.
func WithCorrespondenceEstimator(estimator CorrespondenceEstimator) Option {
	return func(icp *ICP) {
		icp.estimator = estimator
	}
}

// WithRejectors appends rejectors to the chain.
func WithRejectors(rejectors ...Rejector) Option {
	return func(icp *ICP) {
		icp.rejectors = append(icp.rejectors, rejectors...)
	}
}

// WithTransformationEstimator replaces the SVD estimator.
func WithTransformationEstimator(estimator TransformationEstimator) Option {
	return func(icp *ICP) {
		icp.solver = estimator
	}
}

// WithConvergenceCriteria replaces the criteria derived from the config.
func WithConvergenceCriteria(criteria *ConvergenceCriteria) Option {
	return func(icp *ICP) {
		icp.criteria = criteria
	}
}

// Result is the outcome of a successful alignment.
type Result struct {
	// Transform maps the source onto the target, guess included.
	Transform   spatialmath.Transform
	Iterations  int
	State       State
	Convergence ConvergenceState
	// MSE is the mean squared distance of the correspondences of the last iteration.
	MSE float64
	// Fitness is the mean squared nearest neighbour distance of the aligned source.
	Fitness         float64
	Correspondences Correspondences
	// History holds the correspondence MSE of every iteration.
	History []float64
}

// ICP aligns source clouds onto a fixed target. An ICP runs one alignment at a time.
type ICP struct {
	cfg       Config
	target    pointcloud.PointCloud
	index     *pointcloud.KDTree
	estimator CorrespondenceEstimator
	rejectors Chain
	solver    TransformationEstimator
	criteria  *ConvergenceCriteria
	logger    logging.Logger
	state     State
}

// NewICP validates cfg and builds the default pipeline around target: nearest neighbour
// correspondences, the configured rejectors, and an SVD solver.
func NewICP(cfg Config, target pointcloud.PointCloud, logger logging.Logger, opts ...Option) (*ICP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if target == nil || target.Size() == 0 {
		return nil, utils.NewConfigurationError("icp", "target cloud is empty")
	}
	logger = loggerOrBlank(logger, "icp")
	icp := &ICP{
		cfg:      cfg,
		target:   target,
		index:    pointcloud.NewKDTree(target),
		solver:   SVDEstimator{},
		criteria: cfg.criteria(),
		logger:   logger,
	}
	icp.estimator = NewNearestNeighborEstimator(target, logger).WithSpatialIndex(icp.index)
	if cfg.RANSACIterations > 0 {
		icp.rejectors = append(icp.rejectors, SampleConsensusRejector{
			InlierThreshold: cfg.RANSACInlierThreshold,
			MaxIterations:   cfg.RANSACIterations,
			Seed:            cfg.Seed,
			Logger:          logger,
		})
	}
	for _, opt := range opts {
		opt(icp)
	}
	if cfg.UseReciprocalCorrespondences {
		if _, ok := icp.estimator.(ReciprocalEstimator); !ok {
			return nil, utils.NewConfigurationError("icp", "correspondence estimator does not support reciprocal search")
		}
	}
	if icp.needsNormals(false) && !target.HasNormals() {
		return nil, errors.Wrap(ErrMissingNormals, "the configured pipeline reads target normals")
	}
	return icp, nil
}

// State returns the phase of the running or last alignment.
func (icp *ICP) State() State {
	return icp.state
}

func (icp *ICP) components() []interface{} {
	out := []interface{}{icp.estimator, icp.solver}
	for _, r := range icp.rejectors {
		out = append(out, r)
	}
	return out
}

func (icp *ICP) needsNormals(source bool) bool {
	for _, c := range icp.components() {
		req, ok := c.(NormalsRequirement)
		if !ok {
			continue
		}
		s, t := req.RequiresNormals()
		if (source && s) || (!source && t) {
			return true
		}
	}
	return false
}

func (icp *ICP) fail(err error) (*Result, error) {
	icp.state = StateFailed
	return nil, err
}

// Align estimates the transform mapping source onto the target, starting from guess. Structural
// failures return no result.
func (icp *ICP) Align(ctx context.Context, source pointcloud.PointCloud, guess spatialmath.Transform) (*Result, error) {
	icp.state = StateIdle
	if source == nil || source.Size() == 0 {
		return icp.fail(utils.NewConfigurationError("icp", "source cloud is empty"))
	}
	if !guess.IsFinite() || !guess.IsRigid(1e-6) {
		return icp.fail(utils.NewConfigurationError("icp", "initial guess is not a rigid transform"))
	}
	if icp.needsNormals(true) && !source.HasNormals() {
		return icp.fail(errors.Wrap(ErrMissingNormals, "the configured pipeline reads source normals"))
	}

	current := guess
	icp.criteria.Reset()
	var corr Correspondences
	var history []float64
	iterations := 0
	for {
		if err := ctx.Err(); err != nil {
			return icp.fail(err)
		}
		aligned := pointcloud.TransformCloud(source, current).Cloud

		icp.state = StateEstimating
		var err error
		if reciprocal, ok := icp.estimator.(ReciprocalEstimator); ok && icp.cfg.UseReciprocalCorrespondences {
			corr, err = reciprocal.DetermineReciprocal(ctx, aligned, icp.cfg.MaxCorrespondenceDistance)
		} else {
			corr, err = icp.estimator.Determine(ctx, aligned, icp.cfg.MaxCorrespondenceDistance)
		}
		if err != nil {
			return icp.fail(err)
		}

		icp.state = StateRejecting
		estimated := len(corr)
		corr = icp.rejectors.Reject(CloudPair{Source: aligned, Target: icp.target}, corr)
		if len(corr) < icp.cfg.MinCorrespondences {
			return icp.fail(&InsufficientCorrespondencesError{
				Iteration: iterations,
				Found:     len(corr),
				Required:  icp.cfg.MinCorrespondences,
			})
		}

		icp.state = StateSolving
		delta, err := icp.solver.Estimate(aligned, icp.target, corr)
		if err != nil {
			return icp.fail(errors.Wrapf(err, "iteration %d", iterations))
		}
		if !delta.IsFinite() {
			return icp.fail(errors.Errorf("iteration %d: incremental transform is not finite", iterations))
		}
		current = delta.Compose(current)
		iterations++
		history = append(history, corr.MSE())

		icp.state = StateCheckingConvergence
		converged := icp.criteria.HasConverged(iterations, delta, corr)
		icp.logger.Debugw("icp iteration",
			"iteration", iterations,
			"estimated", estimated,
			"kept", len(corr),
			"mse", corr.MSE(),
			"delta", delta.String(),
		)
		if converged || icp.criteria.State() != NotConverged {
			break
		}
	}

	if icp.criteria.State() == FailureAfterMaxIterations {
		return icp.fail(errors.Wrapf(ErrNotConverged, "after %d iterations", iterations))
	}
	if !current.IsFinite() || !current.IsRigid(1e-6) {
		return icp.fail(errors.New("final transform is not a finite rigid motion"))
	}
	icp.state = StateConverged
	res := &Result{
		Transform:       current,
		Iterations:      iterations,
		State:           icp.state,
		Convergence:     icp.criteria.State(),
		MSE:             corr.MSE(),
		Correspondences: corr,
		History:         history,
	}
	fitness, err := icp.Fitness(ctx, source, current)
	if err != nil {
		return icp.fail(err)
	}
	res.Fitness = fitness
	icp.logger.Debugw("icp finished", "iterations", iterations, "convergence", res.Convergence, "fitness", fitness)
	return res, nil
}

// Fitness returns the mean squared distance from every finite point of source, moved by t, to
// its nearest target point. Points further than MaxFitnessRange are left out. It is
// math.MaxFloat64 when no point is in range.
func (icp *ICP) Fitness(ctx context.Context, source pointcloud.PointCloud, t spatialmath.Transform) (float64, error) {
	limit := math.Inf(1)
	if icp.cfg.MaxFitnessRange > 0 {
		limit = icp.cfg.MaxFitnessRange * icp.cfg.MaxFitnessRange
	}
	dists := make([]float64, source.Size())
	if err := utils.ParallelForEach(ctx, source.Size(), minParallelQueries, func(i int) {
		dists[i] = -1
		p := source.At(i)
		if !pointcloud.IsFinite(p) {
			return
		}
		if nearest, ok := icp.index.Nearest(t.Apply(p)); ok && nearest.SquaredDistance <= limit {
			dists[i] = nearest.SquaredDistance
		}
	}); err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for _, d := range dists {
		if d >= 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return math.MaxFloat64, nil
	}
	return sum / float64(n), nil
}
