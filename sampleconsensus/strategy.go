package sampleconsensus

import (
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// Improvement describes a hypothesis that beat the best penalty so far.
type Improvement struct {
	Coefficients Coefficients
	Penalty      float64
	// Inliers is the number of active points within the threshold of the hypothesis.
	Inliers int
	// Total is the size of the active set.
	Total       int
	SampleSize  int
	Probability float64
}

// Strategy is the pluggable part of the sample consensus loop.
type Strategy struct {
	Name Method
	// Score returns the penalty of coefficients, lower is better, and their inlier count.
	Score func(m Model, c Coefficients, threshold float64) (penalty float64, inliers int)
	// PreTest, when set, rejects hypotheses before they are scored.
	PreTest func(m Model, c Coefficients, threshold float64, rng *rand.Rand) bool
	// UpdateBudget returns the number of iterations needed after an improvement.
	UpdateBudget func(imp Improvement) float64
	// Sample draws the minimal sample for the given iteration.
	Sample func(m Model, rng *rand.Rand, iteration int) ([]int, error)
}

// newStrategy builds the strategy for cfg.Method. Strategies may keep state and serve a single
// ComputeModel call.
func newStrategy(cfg Config, model Model) *Strategy {
	s := &Strategy{
		Name:         cfg.Method,
		Score:        scoreRANSAC,
		UpdateBudget: adaptiveBudget,
		Sample:       uniformSample,
	}
	switch cfg.Method {
	case MSAC:
		s.Score = scoreMSAC
	case RRANSAC:
		s.PreTest = newPreTest(cfg.FractionPretest)
	case RMSAC:
		s.Score = scoreMSAC
		s.PreTest = newPreTest(cfg.FractionPretest)
	case LMedS:
		s.Score = scoreLMedS
		maxIterations := float64(cfg.MaxIterations)
		s.UpdateBudget = func(Improvement) float64 { return maxIterations }
	case MLESAC:
		s.Score = newMLESACScore(model, cfg.Threshold)
	case PROSAC:
		p := newProsac(model)
		s.Score = p.score
		s.UpdateBudget = p.updateBudget
		s.Sample = p.sample
	case RANSAC:
	}
	return s
}

func uniformSample(m Model, rng *rand.Rand, _ int) ([]int, error) {
	return m.Samples(rng)
}

// adaptiveBudget is k = log(1-p) / log(1-w^n) for inlier ratio w and sample size n.
func adaptiveBudget(imp Improvement) float64 {
	if imp.Total == 0 {
		return math.Inf(1)
	}
	w := float64(imp.Inliers) / float64(imp.Total)
	pNoOutliers := 1 - math.Pow(w, float64(imp.SampleSize))
	pNoOutliers = utils.Clamp(pNoOutliers, machineEpsilon, 1-machineEpsilon)
	return math.Log(1-imp.Probability) / math.Log(pNoOutliers)
}

const machineEpsilon = 2.220446049250313e-16

func scoreRANSAC(m Model, c Coefficients, threshold float64) (float64, int) {
	inliers := m.CountWithinDistance(c, threshold)
	return float64(len(m.Indices()) - inliers), inliers
}

func scoreMSAC(m Model, c Coefficients, threshold float64) (float64, int) {
	distances := m.DistancesToModel(c)
	if distances == nil {
		return math.Inf(1), 0
	}
	penalty, inliers := 0., 0
	maxPenalty := threshold * threshold
	for _, d := range distances {
		if d <= threshold {
			inliers++
		}
		penalty += math.Min(d*d, maxPenalty)
	}
	return penalty, inliers
}

func scoreLMedS(m Model, c Coefficients, threshold float64) (float64, int) {
	distances := m.DistancesToModel(c)
	if len(distances) == 0 {
		return math.Inf(1), 0
	}
	squared := make(stats.Float64Data, len(distances))
	inliers := 0
	for i, d := range distances {
		if d <= threshold {
			inliers++
		}
		squared[i] = d * d
	}
	median, err := squared.Median()
	if err != nil || math.IsNaN(median) {
		return math.Inf(1), 0
	}
	return median, inliers
}

// maxPreTestPoints caps d in the Td,d pre-test. A correct hypothesis with inlier ratio w passes
// with probability w^d.
const maxPreTestPoints = 3

// newPreTest returns the Td,d test: a hypothesis survives only if d random points of the active
// set are all within the threshold. d is the fraction of the active set, clamped to
// [1, maxPreTestPoints].
func newPreTest(fraction float64) func(Model, Coefficients, float64, *rand.Rand) bool {
	var scratch []int
	return func(m Model, c Coefficients, threshold float64, rng *rand.Rand) bool {
		active := m.Indices()
		if len(active) == 0 {
			return true
		}
		n := int(math.Round(float64(len(active)) * fraction))
		n = lo.Clamp(n, 1, min(maxPreTestPoints, len(active)))
		if len(scratch) != len(active) {
			scratch = make([]int, len(active))
			for i := range scratch {
				scratch[i] = i
			}
		}
		positions := utils.SampleWithoutReplacement(scratch, n, rng)
		subset := make([]int, n)
		for i, pos := range positions {
			subset[i] = active[pos]
		}
		return m.DoSamplesVerifyModel(subset, c, threshold)
	}
}

// mlesacEMIterations is the number of expectation maximization rounds for the mixing parameter.
const mlesacEMIterations = 3

// newMLESACScore scores hypotheses by the negative log likelihood of a mixture of gaussian
// inliers and uniform outliers over the bounding box diagonal.
func newMLESACScore(m Model, threshold float64) func(Model, Coefficients, float64) (float64, int) {
	sigma := math.Max(threshold*medianAbsoluteDeviation(m), threshold*1e-6)
	v := m.Cloud().MetaData().Diagonal()
	if !(v > 0) {
		v = 1
	}
	return func(m Model, c Coefficients, _ float64) (float64, int) {
		distances := m.DistancesToModel(c)
		if len(distances) == 0 {
			return math.Inf(1), 0
		}
		pInlier := make([]float64, len(distances))
		var pOutlier float64
		gamma := 0.5
		norm := math.Sqrt(2*math.Pi) * sigma
		for iter := 0; iter < mlesacEMIterations; iter++ {
			for i, d := range distances {
				pInlier[i] = gamma * math.Exp(-(d*d)/(2*sigma*sigma)) / norm
			}
			pOutlier = (1 - gamma) / v
			gamma = 0
			for _, p := range pInlier {
				gamma += p / (p + pOutlier)
			}
			gamma /= float64(len(distances))
		}
		penalty, inliers := 0., 0
		for i, d := range distances {
			penalty -= math.Log(pInlier[i] + pOutlier)
			if d <= 2*sigma {
				inliers++
			}
		}
		return penalty, inliers
	}
}

// medianAbsoluteDeviation is the median distance of the active points to their coordinate wise
// median.
func medianAbsoluteDeviation(m Model) float64 {
	pts := make([][3]float64, 0, len(m.Indices()))
	for _, idx := range m.Indices() {
		p := m.Cloud().At(idx)
		if utils.IsFinite(p.X) && utils.IsFinite(p.Y) && utils.IsFinite(p.Z) {
			pts = append(pts, [3]float64{p.X, p.Y, p.Z})
		}
	}
	if len(pts) == 0 {
		return 0
	}
	var median [3]float64
	for axis := range median {
		coords := make(stats.Float64Data, len(pts))
		for i, p := range pts {
			coords[i] = p[axis]
		}
		median[axis], _ = coords.Median()
	}
	deviations := make(stats.Float64Data, len(pts))
	for i, p := range pts {
		dx, dy, dz := p[0]-median[0], p[1]-median[1], p[2]-median[2]
		deviations[i] = math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	mad, _ := deviations.Median()
	return mad
}

// prosacTN is the number of samples after which PROSAC draws from the whole active set.
const prosacTN = 200000

// prosac draws samples from a growing prefix of the active set, which must be sorted by
// decreasing quality.
type prosac struct {
	m, total int
	// current pool size and its growth schedule
	n            int
	tn, tnPrime  float64
	nStar        int
	epsilonNStar float64
	kNStar       float64
	// sorted active positions of the inliers of the last scored hypothesis
	lastInliers []int
}

func newProsac(model Model) *prosac {
	m, total := model.SampleSize(), len(model.Indices())
	tn := float64(prosacTN)
	for i := 0; i < m; i++ {
		tn *= float64(m-i) / float64(total-i)
	}
	return &prosac{
		m:       m,
		total:   total,
		n:       m,
		tn:      tn,
		tnPrime: 1,
		nStar:   total,
		kNStar:  prosacTN,
	}
}

func (p *prosac) sample(model Model, rng *rand.Rand, iteration int) ([]int, error) {
	for float64(iteration) >= p.tnPrime && p.n < p.nStar {
		p.n++
		previous := p.tn
		p.tn *= float64(p.n+1) / float64(p.n+1-p.m)
		p.tnPrime += math.Max(1, math.Ceil(p.tn-previous))
	}
	sampler, ok := model.(progressiveSampler)
	if !ok {
		return model.Samples(rng)
	}
	for {
		sample, err := sampler.progressiveSamples(rng, p.n, p.tnPrime < float64(iteration))
		if !errors.Is(err, ErrDegenerateSample) || p.n >= p.total {
			return sample, err
		}
		// the pool is degenerate, widen it
		p.n++
	}
}

func (p *prosac) score(model Model, c Coefficients, threshold float64) (float64, int) {
	distances := model.DistancesToModel(c)
	if distances == nil {
		return math.Inf(1), 0
	}
	p.lastInliers = p.lastInliers[:0]
	for pos, d := range distances {
		if d <= threshold {
			p.lastInliers = append(p.lastInliers, pos)
		}
	}
	return float64(len(distances) - len(p.lastInliers)), len(p.lastInliers)
}

// updateBudget looks for the prefix length n* maximizing the inlier ratio that still passes the
// non randomness test, and returns the number of samples k_n* it requires.
func (p *prosac) updateBudget(imp Improvement) float64 {
	inliers := p.lastInliers
	sort.Ints(inliers)
	bestN, bestEpsilon := p.total, float64(len(inliers))/float64(p.total)
	count := len(inliers)
	for i := len(inliers) - 1; i >= 0; i, count = i-1, count-1 {
		candidate := inliers[i] + 1
		if candidate <= p.m {
			break
		}
		epsilon := float64(count) / float64(candidate)
		if epsilon > p.epsilonNStar && epsilon > bestEpsilon {
			minInliers := p.m + int(math.Ceil(binomialQuantile(candidate, 0.1, 0.95)))
			if count < minInliers {
				break
			}
			bestN, bestEpsilon = candidate, epsilon
		}
	}
	if bestEpsilon > p.epsilonNStar {
		p.epsilonNStar = bestEpsilon
		p.nStar = bestN
		bottom := 1 - math.Pow(bestEpsilon, float64(p.m))
		switch {
		case bottom <= 0:
			p.kNStar = 1
		case bottom >= 1:
			p.kNStar = prosacTN
		default:
			p.kNStar = math.Ceil(math.Log(1-imp.Probability) / math.Log(bottom))
		}
		p.kNStar = math.Max(p.kNStar, float64(2*p.m))
	}
	return p.kNStar
}

// binomialQuantile returns the smallest k with P(X <= k) >= q for X ~ B(n, prob).
func binomialQuantile(n int, prob, q float64) float64 {
	dist := distuv.Binomial{N: float64(n), P: prob}
	mean := float64(n) * prob
	sd := math.Sqrt(mean * (1 - prob))
	// start from the normal approximation and walk to the exact quantile
	k := math.Floor(utils.Clamp(mean+1.6449*sd, 0, float64(n)))
	for k > 0 && dist.CDF(k-1) >= q {
		k--
	}
	for k < float64(n) && dist.CDF(k) < q {
		k++
	}
	return k
}
