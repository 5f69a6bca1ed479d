package sampleconsensus

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

func TestModelTypes(t *testing.T) {
	types := ModelTypes()
	test.That(t, types, test.ShouldHaveLength, 13)
	test.That(t, types[0], test.ShouldEqual, Plane)
	test.That(t, types[len(types)-1], test.ShouldEqual, Registration)

	sizes := map[ModelType]int{
		Plane: 3, Line: 2, Circle2D: 3, Circle3D: 3, Sphere: 4, Cylinder: 2, Cone: 3,
		ParallelLine: 2, ParallelPlane: 3, PerpendicularPlane: 3, NormalPlane: 3, NormalParallelPlane: 3,
		Registration: 3,
	}
	for _, mt := range types {
		test.That(t, mt.SampleSize(), test.ShouldEqual, sizes[mt])
		parsed, err := ParseModelType(mt.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, mt)
	}
	test.That(t, Cylinder.NeedsNormals(), test.ShouldBeTrue)
	test.That(t, Plane.NeedsNormals(), test.ShouldBeFalse)
	test.That(t, ModelType(99).String(), test.ShouldEqual, "ModelType(99)")
	test.That(t, ModelType(99).SampleSize(), test.ShouldEqual, 0)

	parsed, err := ParseModelType(" Normal_Plane ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, NormalPlane)
	_, err = ParseModelType("torus")
	test.That(t, err, test.ShouldNotBeNil)

	text, err := Sphere.MarshalText()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(text), test.ShouldEqual, "sphere")
	_, err = ModelType(99).MarshalText()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewModel(t *testing.T) {
	plain := planeWithOutliers()
	withNormals := cylinderCloud(t)

	for _, mt := range ModelTypes() {
		if mt == Registration {
			continue
		}
		cfg := ModelConfig{Type: mt, Axis: []float64{0, 0, 1}, EpsAngle: 0.1}
		cloud := pointcloud.PointCloud(plain)
		if mt.NeedsNormals() {
			_, err := NewModel(cfg, plain)
			test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, "normals")
			cloud = withNormals
		}
		model, err := NewModel(cfg, cloud)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, model.Type(), test.ShouldEqual, mt)
		test.That(t, model.SampleSize(), test.ShouldEqual, mt.SampleSize())
	}

	_, err := NewModel(ModelConfig{Type: Registration}, plain)
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	_, err = NewModel(ModelConfig{Type: ParallelLine}, plain)
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	_, err = NewModel(ModelConfig{Type: Plane}, nil)
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)

	err = ModelConfig{Type: Sphere, RadiusMin: 2, RadiusMax: 1, NormalDistanceWeight: 2}.Validate()
	test.That(t, utils.IsConfigurationError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "radius")
	test.That(t, err.Error(), test.ShouldContainSubstring, "normal_distance_weight")
}

func TestModelConfigAttributes(t *testing.T) {
	var cfg ModelConfig
	err := utils.DecodeAttributes(utils.AttributeMap{
		"type":          "parallel_line",
		"axis":          []interface{}{0, 0, 1},
		"eps_angle_rad": 0.2,
	}, &cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Type, test.ShouldEqual, ParallelLine)
	test.That(t, cfg.Axis, test.ShouldResemble, []float64{0, 0, 1})
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	err = utils.DecodeAttributes(utils.AttributeMap{"type": "plane", "radius": 3}, &cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown attributes")
}

func TestConstraints(t *testing.T) {
	z := r3.Vector{Z: 1}
	parallel := LineParallelTo(z, 0.1)
	test.That(t, parallel(Coefficients{0, 0, 0, 0, 0.05, 1}), test.ShouldBeTrue)
	test.That(t, parallel(Coefficients{0, 0, 0, 0, 0, -1}), test.ShouldBeTrue)
	test.That(t, parallel(Coefficients{0, 0, 0, 1, 0, 1}), test.ShouldBeFalse)
	test.That(t, parallel(Coefficients{0, 0, 1}), test.ShouldBeFalse)
	test.That(t, LineParallelTo(z, 0)(Coefficients{0, 0, 0, 1, 0, 0}), test.ShouldBeTrue)

	perpendicular := PlaneNormalParallelTo(z, 0.1)
	test.That(t, perpendicular(Coefficients{0, 0, 1, 3}), test.ShouldBeTrue)
	test.That(t, perpendicular(Coefficients{1, 0, 0, 3}), test.ShouldBeFalse)

	parallelPlane := PlaneParallelTo(z, 0.1)
	test.That(t, parallelPlane(Coefficients{1, 0, 0, 3}), test.ShouldBeTrue)
	test.That(t, parallelPlane(Coefficients{0, 0, 1, 3}), test.ShouldBeFalse)

	offset := PlaneDistanceFromOrigin(2, 0.5)
	test.That(t, offset(Coefficients{0, 0, 1, -2.2}), test.ShouldBeTrue)
	test.That(t, offset(Coefficients{0, 0, 1, 1}), test.ShouldBeFalse)

	both := All(perpendicular, offset)
	test.That(t, both(Coefficients{0, 0, 1, 2}), test.ShouldBeTrue)
	test.That(t, both(Coefficients{0, 0, 1, 0}), test.ShouldBeFalse)
	test.That(t, All()(Coefficients{}), test.ShouldBeTrue)
}

func TestConstrainedLine(t *testing.T) {
	cloud := pointcloud.New()
	for i := 0; i < 30; i++ {
		cloud.Append(r3.Vector{X: float64(i) * 0.1})
	}
	for i := 0; i < 15; i++ {
		cloud.Append(r3.Vector{X: 5, Y: 5, Z: float64(i) * 0.1})
	}

	free := fit(t, NewLineModel(cloud), 1e-6)
	test.That(t, angleBetweenLines(vec(free.Coefficients, 3), r3.Vector{X: 1}), test.ShouldBeLessThan, 1e-9)
	test.That(t, free.Inliers, test.ShouldHaveLength, 30)

	model, err := NewModel(ModelConfig{Type: ParallelLine, Axis: []float64{0, 0, 2}, EpsAngle: 0.1}, cloud)
	test.That(t, err, test.ShouldBeNil)
	constrained := fit(t, model, 1e-6)
	test.That(t, angleBetweenLines(vec(constrained.Coefficients, 3), r3.Vector{Z: 1}), test.ShouldBeLessThan, 1e-9)
	test.That(t, constrained.Inliers, test.ShouldHaveLength, 15)
	for _, idx := range constrained.Inliers {
		test.That(t, idx, test.ShouldBeGreaterThanOrEqualTo, 30)
	}

	// coefficients rejected by the predicate select nothing
	xLine := Coefficients{0, 0, 0, 1, 0, 0}
	test.That(t, model.SelectWithinDistance(xLine, 1e-6), test.ShouldBeNil)
	test.That(t, model.CountWithinDistance(xLine, 1e-6), test.ShouldEqual, 0)
	test.That(t, model.DistancesToModel(xLine), test.ShouldBeNil)
	test.That(t, model.DoSamplesVerifyModel([]int{0, 1}, xLine, 1e-6), test.ShouldBeFalse)
	test.That(t, model.OptimizeModelCoefficients([]int{0, 1, 2}, constrained.Coefficients), test.ShouldResemble, constrained.Coefficients)
}

func TestNormalParallelPlaneWindow(t *testing.T) {
	var pts, normals []r3.Vector
	for i := 0; i < 25; i++ {
		pts = append(pts, r3.Vector{X: float64(i%5) + 0.01*float64(i), Y: float64(i / 5), Z: 1})
		normals = append(normals, r3.Vector{Z: 1})
	}
	for i := 0; i < 40; i++ {
		pts = append(pts, r3.Vector{X: float64(i%8) + 0.01*float64(i), Y: float64(i / 8), Z: 3})
		normals = append(normals, r3.Vector{Z: 1})
	}
	cloud, err := pointcloud.NewWithNormals(pts, normals)
	test.That(t, err, test.ShouldBeNil)

	model, err := NewModel(ModelConfig{
		Type:               NormalParallelPlane,
		Axis:               []float64{0, 0, 1},
		EpsAngle:           0.05,
		DistanceFromOrigin: 1,
		EpsDist:            0.1,
	}, cloud)
	test.That(t, err, test.ShouldBeNil)
	res := fit(t, model, 1e-6)
	test.That(t, math.Abs(res.Coefficients[3]), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, res.Inliers, test.ShouldHaveLength, 25)
}
