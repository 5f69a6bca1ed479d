package sampleconsensus

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

func fit(t *testing.T, model Model, threshold float64) *Result {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Threshold = threshold
	cfg.Seed = 1
	engine, err := NewEngine(model, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res, err := engine.ComputeModel(context.Background())
	test.That(t, err, test.ShouldBeNil)
	return res
}

func TestBaseModelIndices(t *testing.T) {
	model := NewPlaneModel(planeWithOutliers())
	test.That(t, model.Indices(), test.ShouldHaveLength, 110)
	test.That(t, model.Type(), test.ShouldEqual, Plane)
	test.That(t, model.SampleSize(), test.ShouldEqual, 3)

	err := model.SetIndices([]int{0, 1, 500})
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, model.Indices(), test.ShouldHaveLength, 110)

	test.That(t, model.SetIndices([]int{0, 1, 2, 3, 100, 101}), test.ShouldBeNil)
	plane := Coefficients{0, 0, 1, 0}
	test.That(t, model.SelectWithinDistance(plane, 0.01), test.ShouldResemble, []int{0, 1, 2, 3})
	test.That(t, model.CountWithinDistance(plane, 0.01), test.ShouldEqual, 4)
	test.That(t, model.DistancesToModel(plane), test.ShouldResemble, []float64{0, 0, 0, 0, 5, 5})
	test.That(t, model.DoSamplesVerifyModel([]int{0, 1}, plane, 0.01), test.ShouldBeTrue)
	test.That(t, model.DoSamplesVerifyModel([]int{0, 100}, plane, 0.01), test.ShouldBeFalse)

	// malformed coefficients select nothing
	test.That(t, model.SelectWithinDistance(Coefficients{1, 2}, 0.01), test.ShouldBeNil)
	test.That(t, model.CountWithinDistance(Coefficients{1, 2}, 0.01), test.ShouldEqual, 0)

	test.That(t, model.SetIndices(nil), test.ShouldBeNil)
	test.That(t, model.Indices(), test.ShouldHaveLength, 110)
}

func TestSamples(t *testing.T) {
	cloud := planeWithOutliers()
	cloud.Append(r3.Vector{X: math.NaN()})
	model := NewPlaneModel(cloud)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		sample, err := model.Samples(rng)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sample, test.ShouldHaveLength, 3)
		test.That(t, sample[0] != sample[1] && sample[1] != sample[2] && sample[0] != sample[2], test.ShouldBeTrue)
		test.That(t, model.IsSampleGood(sample), test.ShouldBeTrue)
	}
	// earlier draws leave no trace on later ones
	first, err := model.Samples(rand.New(rand.NewSource(7)))
	test.That(t, err, test.ShouldBeNil)
	second, err := model.Samples(rand.New(rand.NewSource(7)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldResemble, first)

	test.That(t, model.IsSampleGood([]int{0, 1, 110}), test.ShouldBeFalse)
	test.That(t, model.IsSampleGood([]int{0, 1}), test.ShouldBeFalse)

	pool, err := model.progressiveSamples(rng, 5, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pool[2], test.ShouldEqual, 4)
	test.That(t, pool[0], test.ShouldBeLessThan, 4)
	test.That(t, pool[1], test.ShouldBeLessThan, 4)
}

func TestLineModel(t *testing.T) {
	cloud := pointcloud.New()
	for i := 0; i < 40; i++ {
		cloud.Append(r3.Vector{X: 1 + float64(i)*0.1, Y: 2 + float64(i)*0.2, Z: 3})
	}
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 10; i++ {
		cloud.Append(r3.Vector{X: r.Float64() * 5, Y: r.Float64() * 5, Z: r.Float64() * 5})
	}
	res := fit(t, NewLineModel(cloud), 0.001)
	dir := vec(res.Coefficients, 3)
	test.That(t, angleBetweenLines(dir, r3.Vector{X: 1, Y: 2}), test.ShouldBeLessThan, 1e-6)
	test.That(t, dir.Norm(), test.ShouldAlmostEqual, 1)
	test.That(t, len(res.Inliers), test.ShouldBeGreaterThanOrEqualTo, 40)

	model := NewLineModel(cloud)
	refined := model.OptimizeModelCoefficients(res.Inliers[:40], res.Coefficients)
	test.That(t, pointToLineDistance(r3.Vector{X: 1, Y: 2, Z: 3}, vec(refined, 0), vec(refined, 3)), test.ShouldBeLessThan, 1e-9)
	test.That(t, vec(refined, 3).Dot(dir), test.ShouldBeGreaterThan, 0)
}

func TestCircleModels(t *testing.T) {
	t.Run("2d", func(t *testing.T) {
		cloud := pointcloud.New()
		for i := 0; i < 36; i++ {
			theta := float64(i) * math.Pi / 18
			cloud.Append(r3.Vector{X: 1 + 2*math.Cos(theta), Y: -1 + 2*math.Sin(theta), Z: float64(i % 3)})
		}
		res := fit(t, NewCircle2DModel(cloud, RadiusLimits{}), 1e-6)
		test.That(t, res.Coefficients[0], test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, res.Coefficients[1], test.ShouldAlmostEqual, -1, 1e-9)
		test.That(t, res.Coefficients[2], test.ShouldAlmostEqual, 2, 1e-9)
		test.That(t, res.Inliers, test.ShouldHaveLength, 36)

		model := NewCircle2DModel(cloud, RadiusLimits{Min: 3})
		_, ok := model.ComputeModelCoefficients([]int{0, 5, 10})
		test.That(t, ok, test.ShouldBeFalse)

		perturbed := Coefficients{1.05, -0.95, 2.1}
		refined := model.OptimizeModelCoefficients(res.Inliers, perturbed)
		test.That(t, refined, test.ShouldResemble, perturbed)
		refined = NewCircle2DModel(cloud, RadiusLimits{}).OptimizeModelCoefficients(res.Inliers, perturbed)
		test.That(t, refined[2], test.ShouldAlmostEqual, 2, 1e-4)
	})

	t.Run("3d", func(t *testing.T) {
		normal := r3.Vector{X: 1, Y: 1, Z: 1}.Normalize()
		u := normal.Ortho()
		v := normal.Cross(u)
		center := r3.Vector{X: 0.5, Y: -2, Z: 1}
		cloud := pointcloud.New()
		for i := 0; i < 24; i++ {
			theta := float64(i) * math.Pi / 12
			cloud.Append(center.Add(u.Mul(1.5 * math.Cos(theta))).Add(v.Mul(1.5 * math.Sin(theta))))
		}
		cloud.Append(center)
		res := fit(t, NewCircle3DModel(cloud, RadiusLimits{}), 1e-6)
		test.That(t, vec(res.Coefficients, 0).Sub(center).Norm(), test.ShouldBeLessThan, 1e-9)
		test.That(t, res.Coefficients[3], test.ShouldAlmostEqual, 1.5, 1e-9)
		test.That(t, angleBetweenLines(vec(res.Coefficients, 4), normal), test.ShouldBeLessThan, 1e-9)
		test.That(t, res.Inliers, test.ShouldHaveLength, 24)

		// the center is equidistant from the whole circle
		d := circle3DDistance(center.Add(normal.Mul(2)), center, 1.5, normal)
		test.That(t, d, test.ShouldAlmostEqual, 2.5)
		for _, height := range []float64{-3, 0.1, 1, 2, 7.5} {
			onAxis := center.Add(normal.Mul(height))
			test.That(t, circle3DDistance(onAxis, center, 1.5, normal), test.ShouldAlmostEqual, math.Hypot(1.5, height), 1e-9)
		}
		d = circle3DDistance(center.Add(u.Mul(4)).Add(normal.Mul(-1)), center, 1.5, normal)
		test.That(t, d, test.ShouldAlmostEqual, math.Hypot(2.5, 1), 1e-9)
	})
}

func TestSphereModel(t *testing.T) {
	center := r3.Vector{X: 1, Y: 2, Z: -1}
	r := rand.New(rand.NewSource(8))
	cloud := pointcloud.New()
	for i := 0; i < 80; i++ {
		dir := r3.Vector{X: r.NormFloat64(), Y: r.NormFloat64(), Z: r.NormFloat64()}.Normalize()
		cloud.Append(center.Add(dir.Mul(0.75)))
	}
	for i := 0; i < 20; i++ {
		cloud.Append(r3.Vector{X: r.Float64() * 4, Y: r.Float64() * 4, Z: r.Float64() * 4})
	}
	res := fit(t, NewSphereModel(cloud, RadiusLimits{Min: 0.5, Max: 1}), 1e-6)
	test.That(t, vec(res.Coefficients, 0).Sub(center).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, res.Coefficients[3], test.ShouldAlmostEqual, 0.75, 1e-6)
	test.That(t, len(res.Inliers), test.ShouldBeGreaterThanOrEqualTo, 80)

	coplanar := pointcloud.NewFromPoints([]r3.Vector{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}})
	test.That(t, NewSphereModel(coplanar, RadiusLimits{}).IsSampleGood([]int{0, 1, 2, 3}), test.ShouldBeFalse)
}

func cylinderCloud(t *testing.T) *pointcloud.Basic {
	t.Helper()
	var pts, normals []r3.Vector
	for i := 0; i < 60; i++ {
		theta := float64(i) * 2 * math.Pi / 20
		radial := r3.Vector{X: math.Cos(theta), Y: math.Sin(theta)}
		pts = append(pts, radial.Add(r3.Vector{Z: float64(i) * 0.05}))
		normals = append(normals, radial)
	}
	cloud, err := pointcloud.NewWithNormals(pts, normals)
	test.That(t, err, test.ShouldBeNil)
	return cloud
}

func TestCylinderModel(t *testing.T) {
	cloud := cylinderCloud(t)
	model := NewCylinderModel(cloud, RadiusLimits{}, 0.1)
	c, ok := model.ComputeModelCoefficients([]int{0, 5})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, angleBetweenLines(vec(c, 3), r3.Vector{Z: 1}), test.ShouldBeLessThan, 1e-9)
	test.That(t, c[6], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, pointToLineDistance(r3.Vector{}, vec(c, 0), vec(c, 3)), test.ShouldBeLessThan, 1e-9)
	for _, d := range model.DistancesToModel(c) {
		test.That(t, d, test.ShouldAlmostEqual, 0, 1e-9)
	}

	_, ok = NewCylinderModel(cloud, RadiusLimits{Max: 0.5}, 0).ComputeModelCoefficients([]int{0, 5})
	test.That(t, ok, test.ShouldBeFalse)

	res := fit(t, model, 1e-6)
	test.That(t, res.Coefficients[6], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, res.Inliers, test.ShouldHaveLength, 60)

	// a point on the surface with a tangential normal deviates by the full right angle
	tilted, err := pointcloud.NewWithNormals([]r3.Vector{{X: 1}}, []r3.Vector{{Y: 1}})
	test.That(t, err, test.ShouldBeNil)
	d := NewCylinderModel(tilted, RadiusLimits{}, 0.5).DistancesToModel(c)
	test.That(t, d[0], test.ShouldAlmostEqual, 0.5*math.Pi/2, 1e-9)
}

func TestConeModel(t *testing.T) {
	alpha := math.Pi / 6
	var pts, normals []r3.Vector
	for i := 0; i < 30; i++ {
		theta := float64(i) * 2 * math.Pi / 7
		h := 0.5 + float64(i)*0.1
		radial := r3.Vector{X: math.Cos(theta), Y: math.Sin(theta)}
		pts = append(pts, radial.Mul(h*math.Tan(alpha)).Add(r3.Vector{Z: h}))
		normals = append(normals, radial.Mul(math.Cos(alpha)).Sub(r3.Vector{Z: math.Sin(alpha)}))
	}
	cloud, err := pointcloud.NewWithNormals(pts, normals)
	test.That(t, err, test.ShouldBeNil)

	model := NewConeModel(cloud, 0, 0, 0.1)
	c, ok := model.ComputeModelCoefficients([]int{0, 1, 3})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, vec(c, 0).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, vec(c, 3).Sub(r3.Vector{Z: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, c[6], test.ShouldAlmostEqual, alpha, 1e-9)
	for _, d := range model.DistancesToModel(c) {
		test.That(t, d, test.ShouldAlmostEqual, 0, 1e-9)
	}

	_, ok = NewConeModel(cloud, math.Pi/4, 0, 0).ComputeModelCoefficients([]int{0, 1, 3})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = NewConeModel(cloud, 0, math.Pi/8, 0).ComputeModelCoefficients([]int{0, 1, 3})
	test.That(t, ok, test.ShouldBeFalse)

	res := fit(t, model, 1e-6)
	test.That(t, res.Coefficients[6], test.ShouldAlmostEqual, alpha, 1e-6)
	test.That(t, res.Inliers, test.ShouldHaveLength, 30)
}

func TestNormalPlaneModel(t *testing.T) {
	cloud, err := pointcloud.NewWithNormals(
		[]r3.Vector{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}},
		[]r3.Vector{{Z: 1}, {Z: -1}, {X: 1}, {X: math.NaN()}},
	)
	test.That(t, err, test.ShouldBeNil)
	model := NewNormalPlaneModel(cloud, 0.2)
	test.That(t, model.Type(), test.ShouldEqual, NormalPlane)
	d := model.DistancesToModel(Coefficients{0, 0, 1, 0})
	test.That(t, d[0], test.ShouldAlmostEqual, 0)
	// normals are undirected
	test.That(t, d[1], test.ShouldAlmostEqual, 0)
	test.That(t, d[2], test.ShouldAlmostEqual, 0.2*math.Pi/2)
	test.That(t, d[3], test.ShouldAlmostEqual, 0.2*math.Pi/2)
}

func TestRegistrationModel(t *testing.T) {
	r := rand.New(rand.NewSource(21))
	aa := spatialmath.R4AA{Theta: 0.4, RX: 0.2, RY: 1, RZ: -0.3}
	truth, err := spatialmath.NewTransformFromAxisAngle(aa, r3.Vector{X: 0.3, Y: -0.1, Z: 0.8})
	test.That(t, err, test.ShouldBeNil)

	source := pointcloud.New()
	target := pointcloud.New()
	var srcIdx, tgtIdx []int
	for i := 0; i < 60; i++ {
		p := r3.Vector{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
		source.Append(p)
		q := truth.Apply(p)
		if i%6 == 0 {
			q = q.Add(r3.Vector{X: 1 + r.Float64()})
		}
		target.Append(q)
		srcIdx = append(srcIdx, i)
		tgtIdx = append(tgtIdx, i)
	}

	_, err = NewRegistrationModel(source, target, srcIdx, tgtIdx[:3])
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)

	model, err := NewRegistrationModel(source, target, srcIdx, tgtIdx)
	test.That(t, err, test.ShouldBeNil)
	res := fit(t, model, 1e-6)
	test.That(t, res.Inliers, test.ShouldHaveLength, 50)
	for _, idx := range res.Inliers {
		test.That(t, idx%6, test.ShouldNotEqual, 0)
	}
	found, err := spatialmath.NewTransformFromRowMajor(res.Coefficients)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, found.AlmostEqual(truth, 1e-9), test.ShouldBeTrue)

	refined := model.OptimizeModelCoefficients(res.Inliers, res.Coefficients)
	test.That(t, refined, test.ShouldHaveLength, 16)

	test.That(t, utils.IsConfigurationError(model.SetIndices([]int{0, 1, 2, 999})), test.ShouldBeTrue)
	test.That(t, model.SetIndices([]int{1, 2, 3, 4}), test.ShouldBeNil)
	test.That(t, model.Indices(), test.ShouldResemble, []int{1, 2, 3, 4})
	test.That(t, model.SetIndices(nil), test.ShouldBeNil)
	test.That(t, model.Indices(), test.ShouldHaveLength, 60)
}

func TestRegistrationModelDuplicates(t *testing.T) {
	source := pointcloud.NewFromPoints([]r3.Vector{{}, {X: 1}, {Y: 1}})
	target := pointcloud.NewFromPoints([]r3.Vector{{}, {X: 1}, {Y: 1}, {Z: 7}})
	model, err := NewRegistrationModel(source, target, []int{0, 1, 2, 0}, []int{3, 1, 2, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Indices(), test.ShouldResemble, []int{0, 1, 2})
	test.That(t, model.DistancesToModel(Coefficients(spatialmath.NewIdentityTransform().RowMajor())),
		test.ShouldResemble, []float64{0, 0, 0})
}

func TestScanWorkerPanic(t *testing.T) {
	prevFactor := utils.ParallelFactor
	utils.ParallelFactor = 4
	defer func() { utils.ParallelFactor = prevFactor }()

	model := NewPlaneModel(planeWithOutliers())
	model.setParallelThreshold(8)
	coeffs := Coefficients{0, 0, 1, 0}
	test.That(t, model.CountWithinDistance(coeffs, 0.05), test.ShouldEqual, 100)
	test.That(t, model.SelectWithinDistance(coeffs, 0.05), test.ShouldHaveLength, 100)

	distanceFor := model.distanceFor
	model.distanceFor = func(c Coefficients) pointDistance {
		dist := distanceFor(c)
		return func(idx int) float64 {
			if idx == 105 {
				panic("bad point")
			}
			return dist(idx)
		}
	}
	test.That(t, func() { model.DistancesToModel(coeffs) }, test.ShouldPanic)
	test.That(t, func() { model.SelectWithinDistance(coeffs, 0.05) }, test.ShouldPanic)
	test.That(t, func() { model.CountWithinDistance(coeffs, 0.05) }, test.ShouldPanic)
}
