package registration

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/rimage/transform"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

func TestICPIdenticalClouds(t *testing.T) {
	cloud, _, _ := randomScene(t, 100, 0)
	icp, err := NewICP(DefaultConfig(), cloud, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, icp.State(), test.ShouldEqual, StateIdle)

	res, err := icp.Align(context.Background(), cloud, spatialmath.NewIdentityTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.State, test.ShouldEqual, StateConverged)
	test.That(t, icp.State(), test.ShouldEqual, StateConverged)
	test.That(t, res.Iterations, test.ShouldEqual, 1)
	test.That(t, res.History, test.ShouldHaveLength, 1)
	test.That(t, res.Convergence, test.ShouldEqual, ConvergedTransform)
	test.That(t, res.MSE, test.ShouldAlmostEqual, 0)
	test.That(t, res.Fitness, test.ShouldAlmostEqual, 0)
	test.That(t, res.Correspondences, test.ShouldHaveLength, 100)
	test.That(t, res.Transform.AlmostEqual(spatialmath.NewIdentityTransform(), 1e-9), test.ShouldBeTrue)
}

func TestICPRecoversMotion(t *testing.T) {
	source, target, motion := randomScene(t, 100, 0.02)
	cfg := DefaultConfig()
	cfg.MaxIterations = 50

	for name, opts := range map[string][]Option{
		"svd":            nil,
		"point_to_plane": {WithTransformationEstimator(PointToPlaneLLSEstimator{})},
		"lm":             {WithTransformationEstimator(LMEstimator{Residual: PointToPoint})},
		"one_to_one":     {WithRejectors(OneToOneRejector{}, MedianDistanceRejector{Factor: 9})},
	} {
		t.Run(name, func(t *testing.T) {
			icp, err := NewICP(cfg, target, logging.NewTestLogger(t), opts...)
			test.That(t, err, test.ShouldBeNil)
			res, err := icp.Align(context.Background(), source, spatialmath.NewIdentityTransform())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, res.State, test.ShouldEqual, StateConverged)
			test.That(t, res.Iterations, test.ShouldBeLessThanOrEqualTo, cfg.MaxIterations)
			test.That(t, res.History, test.ShouldHaveLength, res.Iterations)
			test.That(t, res.Transform.AlmostEqual(motion, 1e-3), test.ShouldBeTrue)
			test.That(t, res.Transform.IsRigid(1e-9), test.ShouldBeTrue)
			test.That(t, res.Fitness, test.ShouldBeLessThan, 1e-5)
		})
	}
}

func TestICPGuess(t *testing.T) {
	source, target, motion := randomScene(t, 100, 0.5)
	icp, err := NewICP(DefaultConfig(), target, nil)
	test.That(t, err, test.ShouldBeNil)

	res, err := icp.Align(context.Background(), source, motion)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Iterations, test.ShouldEqual, 1)
	test.That(t, res.Transform.AlmostEqual(motion, 1e-9), test.ShouldBeTrue)

	_, err = icp.Align(context.Background(), source, spatialmath.Transform{})
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
}

func TestICPReciprocal(t *testing.T) {
	source, target, motion := randomScene(t, 200, 0.01)
	cfg := DefaultConfig()
	cfg.MaxIterations = 50
	cfg.UseReciprocalCorrespondences = true
	icp, err := NewICP(cfg, target, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res, err := icp.Align(context.Background(), source, spatialmath.NewIdentityTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(motion, 1e-3), test.ShouldBeTrue)

	intrinsics := &transform.PinholeCameraIntrinsics{Width: 2, Height: 1, Fx: 1, Fy: 1}
	organized, err := pointcloud.NewOrganized(2, 1, []r3.Vector{{Z: 1}, {X: 1, Z: 1}}, nil)
	test.That(t, err, test.ShouldBeNil)
	projection, err := NewOrganizedProjectionEstimator(organized, intrinsics, spatialmath.NewIdentityTransform(), 0.1, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewICP(cfg, organized, nil, WithCorrespondenceEstimator(projection))
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
}

func TestICPSampleConsensusRejection(t *testing.T) {
	source, target, motion := randomScene(t, 100, 0.02)
	cfg := DefaultConfig()
	cfg.MaxIterations = 50
	cfg.RANSACIterations = 200
	cfg.RANSACInlierThreshold = 0.02
	cfg.Seed = 1
	icp, err := NewICP(cfg, target, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res, err := icp.Align(context.Background(), source, spatialmath.NewIdentityTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(motion, 1e-3), test.ShouldBeTrue)
}

func TestICPFailures(t *testing.T) {
	logger := logging.NewTestLogger(t)
	source, target, _ := randomScene(t, 50, 0.3)

	t.Run("insufficient correspondences", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxCorrespondenceDistance = 1e-6
		icp, err := NewICP(cfg, target, logger)
		test.That(t, err, test.ShouldBeNil)
		res, err := icp.Align(context.Background(), source, spatialmath.NewIdentityTransform())
		test.That(t, res, test.ShouldBeNil)
		test.That(t, IsInsufficientCorrespondences(err), test.ShouldBeTrue)
		var insufficient *InsufficientCorrespondencesError
		test.That(t, errors.As(err, &insufficient), test.ShouldBeTrue)
		test.That(t, insufficient.Required, test.ShouldEqual, 3)
		test.That(t, icp.State(), test.ShouldEqual, StateFailed)
	})

	t.Run("failure after max iterations", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxIterations = 1
		cfg.FailureAfterMaxIterations = true
		icp, err := NewICP(cfg, target, logger)
		test.That(t, err, test.ShouldBeNil)
		res, err := icp.Align(context.Background(), source, spatialmath.NewIdentityTransform())
		test.That(t, res, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrNotConverged), test.ShouldBeTrue)
	})

	t.Run("missing target normals", func(t *testing.T) {
		bare := pointcloud.NewFromPoints(pointcloud.Points(target, nil))
		_, err := NewICP(DefaultConfig(), bare, logger, WithTransformationEstimator(PointToPlaneLLSEstimator{}))
		test.That(t, errors.Is(err, ErrMissingNormals), test.ShouldBeTrue)
	})

	t.Run("missing source normals", func(t *testing.T) {
		shooting, err := NewNormalShootingEstimator(target, 5, logger)
		test.That(t, err, test.ShouldBeNil)
		icp, err := NewICP(DefaultConfig(), target, logger, WithCorrespondenceEstimator(shooting))
		test.That(t, err, test.ShouldBeNil)
		bare := pointcloud.NewFromPoints(pointcloud.Points(source, nil))
		_, err = icp.Align(context.Background(), bare, spatialmath.NewIdentityTransform())
		test.That(t, errors.Is(err, ErrMissingNormals), test.ShouldBeTrue)
	})

	t.Run("canceled", func(t *testing.T) {
		icp, err := NewICP(DefaultConfig(), target, logger)
		test.That(t, err, test.ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = icp.Align(ctx, source, spatialmath.NewIdentityTransform())
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})

	t.Run("empty clouds", func(t *testing.T) {
		_, err := NewICP(DefaultConfig(), pointcloud.New(), logger)
		test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
		icp, err := NewICP(DefaultConfig(), target, logger)
		test.That(t, err, test.ShouldBeNil)
		_, err = icp.Align(context.Background(), pointcloud.New(), spatialmath.NewIdentityTransform())
		test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	})
}

func TestICPConfigValidation(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	cfg.MinCorrespondences = 2
	cfg.MaxCorrespondenceDistance = math.Inf(1)
	cfg.RANSACIterations = 10
	cfg.RANSACInlierThreshold = 0
	err := cfg.Validate()
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_iterations")
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_correspondences")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_correspondence_distance")
	test.That(t, err.Error(), test.ShouldContainSubstring, "ransac_inlier_threshold")
}

func TestICPFitness(t *testing.T) {
	target := pointcloud.NewFromPoints([]r3.Vector{{}, {X: 1}, {Y: 1}})
	source := pointcloud.NewFromPoints([]r3.Vector{{X: 0.1}, {X: 1, Y: 0.2}, {Z: 5}, {X: math.NaN()}})
	cfg := DefaultConfig()
	icp, err := NewICP(cfg, target, nil)
	test.That(t, err, test.ShouldBeNil)
	fitness, err := icp.Fitness(context.Background(), source, spatialmath.NewIdentityTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fitness, test.ShouldAlmostEqual, (0.01+0.04+25)/3)

	cfg.MaxFitnessRange = 1
	icp, err = NewICP(cfg, target, nil)
	test.That(t, err, test.ShouldBeNil)
	fitness, err = icp.Fitness(context.Background(), source, spatialmath.NewIdentityTransform())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fitness, test.ShouldAlmostEqual, 0.025)

	fitness, err = icp.Fitness(context.Background(), source, spatialmath.NewTranslation(r3.Vector{Z: 100}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fitness, test.ShouldEqual, math.MaxFloat64)
}
