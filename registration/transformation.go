package registration

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
)

// A TransformationEstimator computes the rigid motion that best maps the paired source points
// onto their target points.
type TransformationEstimator interface {
	Estimate(source, target pointcloud.PointCloud, corr Correspondences) (spatialmath.Transform, error)
}

// pairedPoints resolves correspondences to point pairs, checking every index.
func pairedPoints(source, target pointcloud.PointCloud, corr Correspondences) ([]r3.Vector, []r3.Vector, error) {
	src := make([]r3.Vector, 0, len(corr))
	dst := make([]r3.Vector, 0, len(corr))
	for _, c := range corr {
		if c.Query < 0 || c.Query >= source.Size() || c.Match < 0 || c.Match >= target.Size() {
			return nil, nil, errors.Wrapf(ErrMismatchedSizes, "correspondence %v is out of range for clouds of %d and %d points",
				c, source.Size(), target.Size())
		}
		src = append(src, source.At(c.Query))
		dst = append(dst, target.At(c.Match))
	}
	return src, dst, nil
}

// SVDEstimator solves the point to point problem in closed form.
type SVDEstimator struct{}

// Estimate implements TransformationEstimator.
func (SVDEstimator) Estimate(source, target pointcloud.PointCloud, corr Correspondences) (spatialmath.Transform, error) {
	src, dst, err := pairedPoints(source, target, corr)
	if err != nil {
		return spatialmath.Transform{}, err
	}
	return spatialmath.EstimateRigidTransform(src, dst)
}

// PointToPlaneLLSEstimator minimizes the point to plane error linearized around the identity,
// solving a 6x6 linear least squares problem for small rotation angles and a translation.
type PointToPlaneLLSEstimator struct{}

// RequiresNormals reports that target normals are read.
func (PointToPlaneLLSEstimator) RequiresNormals() (bool, bool) {
	return false, true
}

// Estimate implements TransformationEstimator.
func (PointToPlaneLLSEstimator) Estimate(
	source, target pointcloud.PointCloud,
	corr Correspondences,
) (spatialmath.Transform, error) {
	if !target.HasNormals() {
		return spatialmath.Transform{}, errors.Wrap(ErrMissingNormals, "point to plane estimation reads target normals")
	}
	src, dst, err := pairedPoints(source, target, corr)
	if err != nil {
		return spatialmath.Transform{}, err
	}
	rows := make([]float64, 0, 6*len(corr))
	rhs := make([]float64, 0, len(corr))
	for i, c := range corr {
		n, ok := target.Normal(c.Match)
		if !ok {
			continue
		}
		pn := src[i].Cross(n)
		rows = append(rows, pn.X, pn.Y, pn.Z, n.X, n.Y, n.Z)
		rhs = append(rhs, dst[i].Sub(src[i]).Dot(n))
	}
	if len(rhs) < 6 {
		return spatialmath.Transform{}, errors.Wrapf(spatialmath.ErrDegenerateRigidFit,
			"point to plane estimation needs 6 correspondences with normals, got %d", len(rhs))
	}
	a := mat.NewDense(len(rhs), 6, rows)
	b := mat.NewVecDense(len(rhs), rhs)
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return spatialmath.Transform{}, errors.Wrap(spatialmath.ErrDegenerateRigidFit, err.Error())
	}
	rot := mgl64.Rotate3DZ(x.AtVec(2)).Mul3(mgl64.Rotate3DY(x.AtVec(1))).Mul3(mgl64.Rotate3DX(x.AtVec(0)))
	t := spatialmath.NewTransformFromRotation(rot, r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)})
	if !t.IsFinite() {
		return spatialmath.Transform{}, errors.New("point to plane solution is not finite")
	}
	return t, nil
}

// Residual selects the error an LMEstimator minimizes.
type Residual int

// Residuals.
const (
	PointToPoint Residual = iota
	PointToPlane
)

// String implements fmt.Stringer.
func (r Residual) String() string {
	switch r {
	case PointToPoint:
		return "point_to_point"
	case PointToPlane:
		return "point_to_plane"
	default:
		return "unknown"
	}
}

const (
	defaultLMIterations = 100
	lmInitialDamping    = 1e-3
	lmMaxDamping        = 1e10
	lmStepTolerance     = 1e-12
)

// LMEstimator minimizes the squared residuals with Levenberg-Marquardt over a translation and
// the vector part of a unit quaternion, starting at the identity.
type LMEstimator struct {
	Residual      Residual
	MaxIterations int
}

// RequiresNormals reports that target normals are read for the point to plane residual.
func (e LMEstimator) RequiresNormals() (bool, bool) {
	return false, e.Residual == PointToPlane
}

// lmTransform maps [tx ty tz qx qy qz] to a transform. The real part of the quaternion is
// sqrt(1 - |q|^2); a vector part longer than one is scaled back onto the unit sphere.
func lmTransform(x []float64) spatialmath.Transform {
	q := quat.Number{Imag: x[3], Jmag: x[4], Kmag: x[5]}
	if s := x[3]*x[3] + x[4]*x[4] + x[5]*x[5]; s <= 1 {
		q.Real = math.Sqrt(1 - s)
	}
	return spatialmath.NewTransformFromQuaternion(q, r3.Vector{X: x[0], Y: x[1], Z: x[2]})
}

// Estimate implements TransformationEstimator.
func (e LMEstimator) Estimate(source, target pointcloud.PointCloud, corr Correspondences) (spatialmath.Transform, error) {
	src, dst, err := pairedPoints(source, target, corr)
	if err != nil {
		return spatialmath.Transform{}, err
	}
	var normals []r3.Vector
	if e.Residual == PointToPlane {
		if !target.HasNormals() {
			return spatialmath.Transform{}, errors.Wrap(ErrMissingNormals, "point to plane residual reads target normals")
		}
		keptSrc, keptDst := src[:0:0], dst[:0:0]
		for i, c := range corr {
			if n, ok := target.Normal(c.Match); ok {
				keptSrc = append(keptSrc, src[i])
				keptDst = append(keptDst, dst[i])
				normals = append(normals, n)
			}
		}
		src, dst = keptSrc, keptDst
	}
	size := 3 * len(src)
	if e.Residual == PointToPlane {
		size = len(src)
	}
	if size < 6 {
		return spatialmath.Transform{}, errors.Wrapf(spatialmath.ErrDegenerateRigidFit,
			"%v estimation needs 6 residuals, got %d", e.Residual, size)
	}

	residuals := func(y, x []float64) {
		t := lmTransform(x)
		for i := range src {
			d := t.Apply(src[i]).Sub(dst[i])
			if normals != nil {
				y[i] = d.Dot(normals[i])
				continue
			}
			y[3*i], y[3*i+1], y[3*i+2] = d.X, d.Y, d.Z
		}
	}
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultLMIterations
	}

	x := make([]float64, 6)
	r := make([]float64, size)
	trial := make([]float64, size)
	residuals(r, x)
	cost := floats.Dot(r, r)
	jac := mat.NewDense(size, 6, nil)
	lambda := lmInitialDamping
	for iter := 0; iter < maxIter && cost > 0; iter++ {
		fd.Jacobian(jac, residuals, x, &fd.JacobianSettings{Formula: fd.Central, OriginValue: r})
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(size, r))
		grad.ScaleVec(-1, &grad)

		improved := false
		for !improved && lambda < lmMaxDamping {
			damped := mat.DenseCopyOf(&jtj)
			for i := 0; i < 6; i++ {
				damped.Set(i, i, jtj.At(i, i)*(1+lambda))
			}
			var step mat.VecDense
			if err := step.SolveVec(damped, &grad); err != nil {
				lambda *= 10
				continue
			}
			next := make([]float64, 6)
			floats.AddTo(next, x, step.RawVector().Data)
			residuals(trial, next)
			if nextCost := floats.Dot(trial, trial); nextCost < cost {
				improved = true
				x = next
				r, trial = trial, r
				cost = nextCost
				lambda = math.Max(lambda/10, 1e-12)
				if floats.Norm(step.RawVector().Data, 2) < lmStepTolerance {
					iter = maxIter
				}
			} else {
				lambda *= 10
			}
		}
		if !improved {
			break
		}
	}
	t := lmTransform(x)
	if !t.IsFinite() {
		return spatialmath.Transform{}, errors.New("levenberg-marquardt solution is not finite")
	}
	return t, nil
}
