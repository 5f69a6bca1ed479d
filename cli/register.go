package cli

import (
	"fmt"
	"io"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/registration"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// Transformation estimators selectable with --estimator.
const (
	estimatorSVD            = "svd"
	estimatorPointToPlane   = "point-to-plane"
	estimatorLM             = "lm"
	estimatorLMPointToPlane = "lm-point-to-plane"
	defaultRANSACIterations = 1000

	histogramBins  = 10
	histogramWidth = 40
)

func transformationEstimator(name string) (registration.TransformationEstimator, error) {
	switch name {
	case estimatorSVD:
		return registration.SVDEstimator{}, nil
	case estimatorPointToPlane:
		return registration.PointToPlaneLLSEstimator{}, nil
	case estimatorLM:
		return registration.LMEstimator{Residual: registration.PointToPoint}, nil
	case estimatorLMPointToPlane:
		return registration.LMEstimator{Residual: registration.PointToPlane}, nil
	default:
		return nil, errors.Errorf("unknown estimator %q, expected one of %v", name,
			[]string{estimatorSVD, estimatorPointToPlane, estimatorLM, estimatorLMPointToPlane})
	}
}

// rejectors builds the rejector chain from the command line flags, in a fixed order.
func rejectors(c *cli.Context) []registration.Rejector {
	var out []registration.Rejector
	if c.IsSet(registerFlagMedianFactor) {
		out = append(out, registration.MedianDistanceRejector{Factor: c.Float64(registerFlagMedianFactor)})
	}
	if c.IsSet(registerFlagNormalAngle) {
		out = append(out, registration.SurfaceNormalRejector{MaxAngle: utils.DegToRad(c.Float64(registerFlagNormalAngle))})
	}
	if c.Bool(registerFlagOneToOne) {
		out = append(out, registration.OneToOneRejector{})
	}
	if c.IsSet(registerFlagTrimRatio) {
		out = append(out, registration.TrimmedRejector{OverlapRatio: c.Float64(registerFlagTrimRatio), MinCorrespondences: 3})
	}
	return out
}

func registrationConfig(c *cli.Context, fc *fileConfig) (registration.Config, error) {
	cfg, err := fc.registrationConfig()
	if err != nil {
		return registration.Config{}, err
	}
	if c.IsSet(flagMaxIterations) {
		cfg.MaxIterations = c.Int(flagMaxIterations)
	}
	if c.IsSet(registerFlagMaxDistance) {
		cfg.MaxCorrespondenceDistance = c.Float64(registerFlagMaxDistance)
	}
	if c.IsSet(registerFlagReciprocal) {
		cfg.UseReciprocalCorrespondences = c.Bool(registerFlagReciprocal)
	}
	if c.IsSet(registerFlagRANSACIters) {
		cfg.RANSACIterations = c.Int(registerFlagRANSACIters)
	}
	if c.IsSet(registerFlagRANSACThreshold) {
		cfg.RANSACInlierThreshold = c.Float64(registerFlagRANSACThreshold)
		if cfg.RANSACIterations == 0 {
			cfg.RANSACIterations = defaultRANSACIterations
		}
	}
	if c.IsSet(flagSeed) {
		cfg.Seed = c.Int64(flagSeed)
	}
	return cfg, nil
}

func initialGuess(c *cli.Context) (spatialmath.Transform, error) {
	if !c.IsSet(registerFlagGuess) {
		return spatialmath.NewIdentityTransform(), nil
	}
	guess, err := spatialmath.NewTransformFromRowMajor(c.Float64Slice(registerFlagGuess))
	return guess, errors.Wrap(err, "invalid --guess")
}

// RegisterAction aligns the source cloud onto the target cloud and prints the transform.
func RegisterAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("register expects a source and a target point cloud file")
	}
	fc, err := readConfigFile(c.Path(generalFlagConfig))
	if err != nil {
		return err
	}
	cfg, err := registrationConfig(c, fc)
	if err != nil {
		return err
	}
	estimator, err := transformationEstimator(c.String(registerFlagEstimator))
	if err != nil {
		return err
	}
	guess, err := initialGuess(c)
	if err != nil {
		return err
	}
	source, err := pointcloud.NewFromFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	target, err := pointcloud.NewFromFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	// registration works on the finite points only
	source = pointcloud.RemoveNaN(source).Cloud
	target = pointcloud.RemoveNaN(target).Cloud

	logger := newLogger(c)
	icp, err := registration.NewICP(cfg, target, logger,
		registration.WithTransformationEstimator(estimator),
		registration.WithRejectors(rejectors(c)...),
	)
	if err != nil {
		return err
	}
	res, err := icp.Align(c.Context, source, guess)
	if err != nil {
		return errors.Wrap(err, "registration failed")
	}

	printf(c.App.Writer, "%s", registrationTable(res))
	printf(c.App.Writer, "%s", matrixTable(res.Transform))
	if c.Bool(registerFlagHistogram) {
		if err := distanceHistogram(c.App.Writer, res.Correspondences); err != nil {
			return err
		}
	}
	if path := c.Path(flagPlot); path != "" {
		if err := savePlot(path, "registration", "mse", res.History); err != nil {
			return err
		}
	}
	if out := c.Path(flagOutput); out != "" {
		aligned := pointcloud.TransformCloud(source, res.Transform).Cloud
		if err := saveCloud(aligned, out); err != nil {
			return errors.Wrap(err, "writing aligned cloud")
		}
		printf(c.App.Writer, "wrote aligned source to %s", out)
	}
	logger.Debugw("registration done", "transform", res.Transform.String())
	return nil
}

func registrationTable(res *registration.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"State", "Convergence", "Iterations", "Correspondences", "MSE", "Fitness", "Rotation (deg)", "Translation"})
	t.AppendRow(table.Row{
		res.State.String(),
		res.Convergence.String(),
		res.Iterations,
		len(res.Correspondences),
		fmt.Sprintf("%.6g", res.MSE),
		fmt.Sprintf("%.6g", res.Fitness),
		fmt.Sprintf("%.4f", utils.RadToDeg(res.Transform.RotationAngle())),
		fmt.Sprintf("%.6g", res.Transform.Translation().Norm()),
	})
	return t.Render()
}

func matrixTable(transform spatialmath.Transform) string {
	t := table.NewWriter()
	values := transform.RowMajor()
	for r := 0; r < 4; r++ {
		row := make(table.Row, 4)
		for col := range row {
			row[col] = fmt.Sprintf("%.9f", values[r*4+col])
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// distanceHistogram prints the distribution of the correspondence distances.
func distanceHistogram(w io.Writer, corr registration.Correspondences) error {
	if len(corr) == 0 {
		return nil
	}
	dists := lo.Map(corr, func(c registration.Correspondence, _ int) float64 { return math.Sqrt(c.Distance) })
	printf(w, "correspondence distances:")
	return histogram.Fprint(w, histogram.Hist(histogramBins, dists), histogram.Linear(histogramWidth))
}
