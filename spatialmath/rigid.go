package spatialmath

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateRigidFit is returned when the point sets do not constrain a rotation, for example
// fewer than three points or all points collinear.
var ErrDegenerateRigidFit = errors.New("point sets do not determine a rigid transform")

// Centroid returns the mean of the points.
func Centroid(pts []r3.Vector) r3.Vector {
	var c r3.Vector
	if len(pts) == 0 {
		return c
	}
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(pts)))
}

// EstimateRigidTransform returns the rotation and translation minimizing
// sum |R src_i + t - dst_i|^2 (Kabsch/Umeyama without scale). src and dst are paired by index.
func EstimateRigidTransform(src, dst []r3.Vector) (Transform, error) {
	if len(src) != len(dst) {
		return Transform{}, errors.Errorf("mismatched point counts %d and %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return Transform{}, errors.Wrapf(ErrDegenerateRigidFit, "need at least 3 pairs, got %d", len(src))
	}
	cs, cd := Centroid(src), Centroid(dst)

	// H = sum (s - cs)(d - cd)^T
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return Transform{}, errors.Wrap(ErrDegenerateRigidFit, "svd failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[1] <= values[0]*1e-12 {
		return Transform{}, errors.Wrap(ErrDegenerateRigidFit, "points are collinear or coincident")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, det(V U^T)) U^T
	var vut mat.Dense
	vut.Mul(&v, u.T())
	if mat.Det(&vut) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
	}
	var rd mat.Dense
	rd.Mul(&v, u.T())

	var rot mgl64.Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rot.Set(r, c, rd.At(r, c))
		}
	}
	rcs := rot.Mul3x1(mgl64.Vec3{cs.X, cs.Y, cs.Z})
	t := r3.Vector{X: cd.X - rcs[0], Y: cd.Y - rcs[1], Z: cd.Z - rcs[2]}
	return NewTransformFromRotation(rot, t), nil
}
