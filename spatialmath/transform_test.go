package spatialmath

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestIdentity(t *testing.T) {
	id := NewIdentityTransform()
	p := r3.Vector{X: 1, Y: -2, Z: 3}
	test.That(t, id.Apply(p), test.ShouldResemble, p)
	test.That(t, id.RotationCos(), test.ShouldEqual, 1.)
	test.That(t, id.IsRigid(1e-12), test.ShouldBeTrue)
	test.That(t, id.Quaternion(), test.ShouldResemble, quat.Number{Real: 1})
}

func TestAxisAngleRoundTrip(t *testing.T) {
	tf, err := NewTransformFromAxisAngle(R4AA{Theta: math.Pi / 2, RZ: 1}, r3.Vector{X: 1})
	test.That(t, err, test.ShouldBeNil)
	out := tf.Apply(r3.Vector{X: 1})
	test.That(t, out.X, test.ShouldAlmostEqual, 1.)
	test.That(t, out.Y, test.ShouldAlmostEqual, 1.)
	test.That(t, out.Z, test.ShouldAlmostEqual, 0.)
	test.That(t, tf.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2)

	q := tf.Quaternion()
	back := NewTransformFromQuaternion(q, tf.Translation())
	test.That(t, back.AlmostEqual(tf, 1e-9), test.ShouldBeTrue)

	_, err = NewTransformFromAxisAngle(R4AA{Theta: 1}, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComposeAndInverse(t *testing.T) {
	a, err := NewTransformFromAxisAngle(R4AA{Theta: 0.3, RX: 1, RY: 1}, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, err, test.ShouldBeNil)
	b, err := NewTransformFromAxisAngle(R4AA{Theta: -1.1, RZ: 1}, r3.Vector{Z: -4})
	test.That(t, err, test.ShouldBeNil)

	p := r3.Vector{X: 0.5, Y: -0.25, Z: 2}
	ab := a.Compose(b)
	expected := a.Apply(b.Apply(p))
	got := ab.Apply(p)
	test.That(t, got.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-9)

	test.That(t, a.Compose(a.Inverse()).AlmostEqual(NewIdentityTransform(), 1e-9), test.ShouldBeTrue)
}

func TestComposeStaysOrthonormal(t *testing.T) {
	step, err := NewTransformFromAxisAngle(R4AA{Theta: 0.001, RX: 0.2, RY: 0.3, RZ: 0.9}, r3.Vector{X: 0.01})
	test.That(t, err, test.ShouldBeNil)
	acc := NewIdentityTransform()
	for i := 0; i < 10000; i++ {
		acc = acc.Compose(step)
	}
	test.That(t, acc.IsRigid(1e-10), test.ShouldBeTrue)
}

func TestOrthonormalize(t *testing.T) {
	rot := QuatToRotation(quat.Number{Real: 0.9, Imag: 0.1, Jmag: -0.3, Kmag: 0.2})
	noisy := rot
	noisy.Set(0, 1, noisy.At(0, 1)+1e-4)
	fixed := Orthonormalize(noisy)
	gram := fixed.Transpose().Mul3(fixed)
	ident := mgl64.Ident3()
	test.That(t, maxAbsDiff(gram[:], ident[:]), test.ShouldBeLessThan, 1e-12)
	test.That(t, maxAbsDiff(fixed[:], rot[:]), test.ShouldBeLessThan, 1e-3)
}

func TestRowMajor(t *testing.T) {
	tf, err := NewTransformFromAxisAngle(R4AA{Theta: 0.7, RY: 1}, r3.Vector{X: 3, Y: 2, Z: 1})
	test.That(t, err, test.ShouldBeNil)
	vals := tf.RowMajor()
	test.That(t, vals[3], test.ShouldEqual, 3.)
	test.That(t, vals[15], test.ShouldEqual, 1.)
	parsed, err := NewTransformFromRowMajor(vals)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed.AlmostEqual(tf, 1e-12), test.ShouldBeTrue)

	// the nine decimal matrix printed by pcreg parses back
	printed := make([]float64, len(vals))
	for i, v := range vals {
		printed[i], err = strconv.ParseFloat(fmt.Sprintf("%.9f", v), 64)
		test.That(t, err, test.ShouldBeNil)
	}
	reparsed, err := NewTransformFromRowMajor(printed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reparsed.AlmostEqual(tf, 1e-8), test.ShouldBeTrue)

	_, err = NewTransformFromRowMajor(vals[:15])
	test.That(t, err, test.ShouldNotBeNil)
	vals[0] = 2
	_, err = NewTransformFromRowMajor(vals)
	test.That(t, err.Error(), test.ShouldContainSubstring, "orthonormal")
	vals[0] = math.NaN()
	_, err = NewTransformFromRowMajor(vals)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-finite")
}

func TestEstimateRigidTransform(t *testing.T) {
	truth, err := NewTransformFromAxisAngle(R4AA{Theta: 0.4, RX: 0.1, RY: -0.7, RZ: 0.2}, r3.Vector{X: -1, Y: 0.5, Z: 2})
	test.That(t, err, test.ShouldBeNil)
	r := rand.New(rand.NewSource(3))
	src := make([]r3.Vector, 50)
	dst := make([]r3.Vector, 50)
	for i := range src {
		src[i] = r3.Vector{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
		dst[i] = truth.Apply(src[i])
	}
	est, err := EstimateRigidTransform(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.AlmostEqual(truth, 1e-9), test.ShouldBeTrue)
	test.That(t, est.IsRigid(1e-9), test.ShouldBeTrue)

	_, err = EstimateRigidTransform(src[:2], dst[:2])
	test.That(t, err, test.ShouldNotBeNil)
	line := []r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	_, err = EstimateRigidTransform(line, line)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateRigidTransform(src[:3], dst[:4])
	test.That(t, err.Error(), test.ShouldContainSubstring, "mismatched")
}

func TestEstimateRigidTransformPlanarNoReflection(t *testing.T) {
	// planar configurations are where a naive SVD solution can return a reflection
	src := []r3.Vector{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	truth, err := NewTransformFromAxisAngle(R4AA{Theta: 2.5, RX: 1}, r3.Vector{Z: 1})
	test.That(t, err, test.ShouldBeNil)
	dst := make([]r3.Vector, len(src))
	for i, p := range src {
		dst[i] = truth.Apply(p)
	}
	est, err := EstimateRigidTransform(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Rotation().Det(), test.ShouldAlmostEqual, 1.)
	test.That(t, est.AlmostEqual(truth, 1e-9), test.ShouldBeTrue)
}

func TestAlmostEqualIsAbsolute(t *testing.T) {
	id := NewIdentityTransform()
	vals := id.RowMajor()
	vals[1] = 1e-15
	nearID := Transform{}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			nearID.m.Set(r, c, vals[r*4+c])
		}
	}
	test.That(t, nearID.AlmostEqual(id, 1e-9), test.ShouldBeTrue)

	a, err := NewTransformFromAxisAngle(R4AA{Theta: 1.3, RX: 0.3, RY: -0.2, RZ: 0.9}, r3.Vector{X: 7, Y: -3, Z: 0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Compose(a.Inverse()).AlmostEqual(id, 1e-9), test.ShouldBeTrue)

	far := NewTranslation(r3.Vector{X: 1000})
	farther := NewTranslation(r3.Vector{X: 1000.5})
	test.That(t, far.AlmostEqual(farther, 1e-3), test.ShouldBeFalse)
	test.That(t, far.AlmostEqual(farther, 0.5), test.ShouldBeTrue)

	nan := NewTranslation(r3.Vector{X: math.NaN()})
	test.That(t, nan.AlmostEqual(nan, 1), test.ShouldBeFalse)
}

func TestIsRigidTolerance(t *testing.T) {
	tf, err := NewTransformFromAxisAngle(R4AA{Theta: 0.9, RX: 1, RY: 2, RZ: 3}, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	rot := tf.Rotation()
	rot.Set(0, 0, rot.At(0, 0)+1e-9)
	nearly := NewTransformFromRotation(rot, r3.Vector{})
	test.That(t, nearly.IsRigid(1e-6), test.ShouldBeTrue)
	test.That(t, nearly.IsRigid(1e-12), test.ShouldBeFalse)

	rot.Set(0, 0, rot.At(0, 0)+0.01)
	test.That(t, NewTransformFromRotation(rot, r3.Vector{}).IsRigid(1e-3), test.ShouldBeFalse)
}
