// Package spatialmath defines the rigid transform type and the rigid fitting routines used by
// registration.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a 4x4 homogeneous rigid motion. The zero value is not a valid transform; use
// NewIdentityTransform.
type Transform struct {
	m mgl64.Mat4
}

// NewIdentityTransform returns the transform that maps every point onto itself.
func NewIdentityTransform() Transform {
	return Transform{m: mgl64.Ident4()}
}

// NewTranslation returns a pure translation.
func NewTranslation(t r3.Vector) Transform {
	return Transform{m: mgl64.Translate3D(t.X, t.Y, t.Z)}
}

// NewTransformFromRotation builds a transform from a row-indexed 3x3 rotation and a translation.
func NewTransformFromRotation(rot mgl64.Mat3, t r3.Vector) Transform {
	m := mgl64.Ident4()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, rot.At(r, c))
		}
	}
	m.Set(0, 3, t.X)
	m.Set(1, 3, t.Y)
	m.Set(2, 3, t.Z)
	return Transform{m: m}
}

// NewTransformFromQuaternion builds a transform from a rotation quaternion and a translation.
// The quaternion is normalized first.
func NewTransformFromQuaternion(q quat.Number, t r3.Vector) Transform {
	return NewTransformFromRotation(QuatToRotation(q), t)
}

// rowMajorTolerance is the absolute tolerance of the rigidity checks on parsed matrices. Values
// printed with 9 decimals pass it.
const rowMajorTolerance = 1e-6

// NewTransformFromRowMajor parses 16 row-major values. The last row must be [0 0 0 1] and the
// rotation block must be orthonormal within tolerance.
func NewTransformFromRowMajor(values []float64) (Transform, error) {
	if len(values) != 16 {
		return Transform{}, errors.Errorf("expected 16 values for a 4x4 transform, got %d", len(values))
	}
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, values[r*4+c])
		}
	}
	t := Transform{m: m}
	if !t.IsFinite() {
		return Transform{}, errors.New("transform contains non-finite values")
	}
	lastRow := []float64{m.At(3, 0), m.At(3, 1), m.At(3, 2), m.At(3, 3)}
	if maxAbsDiff(lastRow, []float64{0, 0, 0, 1}) > rowMajorTolerance {
		return Transform{}, errors.New("last row of a rigid transform must be [0 0 0 1]")
	}
	if !t.IsRigid(rowMajorTolerance) {
		return Transform{}, errors.New("rotation block is not orthonormal")
	}
	return t, nil
}

// At returns the entry at the given row and column.
func (t Transform) At(row, col int) float64 {
	return t.m.At(row, col)
}

// RowMajor returns the 16 entries in row-major order.
func (t Transform) RowMajor() []float64 {
	out := make([]float64, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = t.m.At(r, c)
		}
	}
	return out
}

// Rotation returns the 3x3 rotation block.
func (t Transform) Rotation() mgl64.Mat3 {
	return t.m.Mat3()
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vector {
	return r3.Vector{X: t.m.At(0, 3), Y: t.m.At(1, 3), Z: t.m.At(2, 3)}
}

// Quaternion returns the rotation as a unit quaternion with non-negative real part.
func (t Transform) Quaternion() quat.Number {
	q := mgl64.Mat4ToQuat(t.m).Normalize()
	out := quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
	if out.Real < 0 {
		out = quat.Scale(-1, out)
	}
	return out
}

// Apply maps a point.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	v := t.m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// Rotate applies only the rotation block, as needed for normals and directions.
func (t Transform) Rotate(v r3.Vector) r3.Vector {
	out := t.m.Mat3().Mul3x1(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}

// Compose returns t * other, the transform that first applies other and then t. The rotation
// block of the result is re-orthonormalized so that drift does not accumulate across many
// incremental updates.
func (t Transform) Compose(other Transform) Transform {
	composed := Transform{m: t.m.Mul4(other.m)}
	return NewTransformFromRotation(Orthonormalize(composed.Rotation()), composed.Translation())
}

// Inverse returns the inverse rigid motion.
func (t Transform) Inverse() Transform {
	rt := t.Rotation().Transpose()
	tr := rt.Mul3x1(mgl64.Vec3{t.m.At(0, 3), t.m.At(1, 3), t.m.At(2, 3)})
	return NewTransformFromRotation(rt, r3.Vector{X: -tr[0], Y: -tr[1], Z: -tr[2]})
}

// RotationCos returns the cosine of the rotation angle, 0.5 * (trace(R) - 1).
func (t Transform) RotationCos() float64 {
	return 0.5 * (t.m.At(0, 0) + t.m.At(1, 1) + t.m.At(2, 2) - 1)
}

// RotationAngle returns the rotation angle in radians.
func (t Transform) RotationAngle() float64 {
	return math.Acos(math.Max(-1, math.Min(1, t.RotationCos())))
}

// IsFinite returns false if any entry is NaN or infinite.
func (t Transform) IsFinite() bool {
	for _, v := range t.m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsRigid checks that every entry of R^T R is within tol of the identity and that det(R) is
// within tol of +1.
func (t Transform) IsRigid(tol float64) bool {
	rot := t.Rotation()
	gram := rot.Transpose().Mul3(rot)
	ident := mgl64.Ident3()
	if maxAbsDiff(gram[:], ident[:]) > tol {
		return false
	}
	return math.Abs(rot.Det()-1) <= tol
}

// AlmostEqual reports whether every entry differs from the matching entry of other by at most
// tol.
func (t Transform) AlmostEqual(other Transform, tol float64) bool {
	return maxAbsDiff(t.m[:], other.m[:]) <= tol
}

// maxAbsDiff returns the largest absolute entry-wise difference. NaN entries never compare
// equal.
func maxAbsDiff(a, b []float64) float64 {
	if floats.HasNaN(a) || floats.HasNaN(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, math.Inf(1))
}

func (t Transform) String() string {
	q := t.Quaternion()
	tr := t.Translation()
	return fmt.Sprintf("T{t:(%.6g, %.6g, %.6g) q:(%.6g, %.6g, %.6g, %.6g)}", tr.X, tr.Y, tr.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
}

// QuatToRotation converts a quaternion to a rotation matrix. The quaternion is normalized first;
// a zero quaternion maps to the identity.
func QuatToRotation(q quat.Number) mgl64.Mat3 {
	n := quat.Abs(q)
	if n == 0 {
		return mgl64.Ident3()
	}
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n
	var m mgl64.Mat3
	m.Set(0, 0, 1-2*(y*y+z*z))
	m.Set(0, 1, 2*(x*y-w*z))
	m.Set(0, 2, 2*(x*z+w*y))
	m.Set(1, 0, 2*(x*y+w*z))
	m.Set(1, 1, 1-2*(x*x+z*z))
	m.Set(1, 2, 2*(y*z-w*x))
	m.Set(2, 0, 2*(x*z-w*y))
	m.Set(2, 1, 2*(y*z+w*x))
	m.Set(2, 2, 1-2*(x*x+y*y))
	return m
}

// Orthonormalize returns the rotation closest to m in the Frobenius norm, U V^T from the SVD of
// m with the sign of the last singular direction flipped if needed so that det = +1.
func Orthonormalize(m mgl64.Mat3) mgl64.Mat3 {
	dense := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dense.Set(r, c, m.At(r, c))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(dense, mat.SVDFull) {
		return m
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		rot.Mul(&u, v.T())
	}
	var out mgl64.Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Set(r, c, rot.At(r, c))
		}
	}
	return out
}
