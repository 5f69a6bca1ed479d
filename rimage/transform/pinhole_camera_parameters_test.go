package transform

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 2, Fy: 2, Ppx: 2, Ppy: 1}
}

func TestCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilParams.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, testIntrinsics().CheckValid(), test.ShouldBeNil)

	bad := testIntrinsics()
	bad.Fx = 0
	test.That(t, bad.CheckValid().Error(), test.ShouldContainSubstring, "Fx")
	bad = testIntrinsics()
	bad.Width = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestPixelPointRoundTrip(t *testing.T) {
	params := testIntrinsics()
	x, y, z := params.PixelToPoint(3, 2, 4)
	test.That(t, x, test.ShouldEqual, 2.)
	test.That(t, y, test.ShouldEqual, 2.)
	test.That(t, z, test.ShouldEqual, 4.)
	u, v := params.PointToPixel(x, y, z)
	test.That(t, u, test.ShouldEqual, 3.)
	test.That(t, v, test.ShouldEqual, 2.)

	u, v = params.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.)
	test.That(t, v, test.ShouldEqual, -1.)
}

func TestProjectToPixel(t *testing.T) {
	params := testIntrinsics()
	u, v, ok := params.ProjectToPixel(r3.Vector{X: 0, Y: 0, Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldEqual, 2)
	test.That(t, v, test.ShouldEqual, 1)

	_, _, ok = params.ProjectToPixel(r3.Vector{Z: -1})
	test.That(t, ok, test.ShouldBeFalse)
	_, _, ok = params.ProjectToPixel(r3.Vector{X: 10, Z: 1})
	test.That(t, ok, test.ShouldBeFalse)
	_, _, ok = params.ProjectToPixel(r3.Vector{X: math.NaN(), Z: 1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDepthToOrganizedCloud(t *testing.T) {
	params := testIntrinsics()
	depth := make([]float64, 12)
	for i := range depth {
		depth[i] = 2
	}
	depth[5] = 0
	cloud, err := params.DepthToOrganizedCloud(depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Width(), test.ShouldEqual, 4)
	_, ok := cloud.AtPixel(1, 1)
	test.That(t, ok, test.ShouldBeFalse)
	p, ok := cloud.AtPixel(3, 2)
	test.That(t, ok, test.ShouldBeTrue)
	u, v, ok := params.ProjectToPixel(p)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldEqual, 3)
	test.That(t, v, test.ShouldEqual, 2)

	_, err = params.DepthToOrganizedCloud(depth[:3])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "intrinsics.json")
	err := os.WriteFile(fn, []byte(`{"width_px": 640, "height_px": 480, "fx": 525, "fy": 525, "ppx": 319.5, "ppy": 239.5}`), 0o600)
	test.That(t, err, test.ShouldBeNil)
	params, err := NewPinholeCameraIntrinsicsFromJSONFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Width, test.ShouldEqual, 640)
	test.That(t, params.Ppy, test.ShouldEqual, 239.5)
	test.That(t, params.CheckValid(), test.ShouldBeNil)
	test.That(t, params.GetCameraMatrix().At(0, 2), test.ShouldEqual, 319.5)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
