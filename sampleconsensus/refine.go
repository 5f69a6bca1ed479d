package sampleconsensus

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// principalAxes returns the centroid of pts and the eigenvectors of their covariance, ordered by
// ascending eigenvalue.
func principalAxes(pts []r3.Vector) (r3.Vector, [3]r3.Vector, bool) {
	var axes [3]r3.Vector
	if len(pts) < 2 {
		return r3.Vector{}, axes, false
	}
	data := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
		data.Set(i, 2, p.Z)
	}
	centroid := r3.Vector{
		X: stat.Mean(mat.Col(nil, 0, data), nil),
		Y: stat.Mean(mat.Col(nil, 1, data), nil),
		Z: stat.Mean(mat.Col(nil, 2, data), nil),
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return r3.Vector{}, axes, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for i := 0; i < 3; i++ {
		axes[i] = r3.Vector{X: vecs.At(0, i), Y: vecs.At(1, i), Z: vecs.At(2, i)}.Normalize()
	}
	return centroid, axes, true
}

// minimizeResiduals refines x0 with Nelder-Mead on the given cost. It returns a copy of x0 when
// the optimizer does not improve the cost.
func minimizeResiduals(x0 []float64, residuals func(x []float64) float64) []float64 {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			cost := residuals(x)
			if math.IsNaN(cost) {
				return math.Inf(1)
			}
			return cost
		},
	}
	start := problem.Func(x0)
	// hitting the iteration limit is reported as an error but still yields the best point so far
	result, _ := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations: 2000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-12, Iterations: 50},
	}, &optimize.NelderMead{})
	if result == nil || !(result.F < start) {
		return append([]float64(nil), x0...)
	}
	return result.X
}

// angleBetweenLines returns the angle between two undirected lines, in [0, pi/2].
func angleBetweenLines(a, b r3.Vector) float64 {
	angle := float64(a.Angle(b))
	return math.Min(angle, math.Pi-angle)
}

func vec(c Coefficients, from int) r3.Vector {
	return r3.Vector{X: c[from], Y: c[from+1], Z: c[from+2]}
}

// pointToLineDistance is the distance from p to the line through origin with unit direction dir.
func pointToLineDistance(p, origin, dir r3.Vector) float64 {
	return p.Sub(origin).Cross(dir).Norm()
}

func finiteCoefficients(c Coefficients) bool {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
