package sampleconsensus

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// defaultParallelThreshold is the active set size above which distance scans are sharded.
const defaultParallelThreshold = 10000

// pointDistance measures one cloud index against fixed coefficients.
type pointDistance func(idx int) float64

// baseModel owns the cloud view, the active index set, sampling and the distance scans shared by
// every model. Concrete models install isSampleGood and distanceFor.
type baseModel struct {
	modelType         ModelType
	cloud             pointcloud.PointCloud
	indices           []int
	parallelThreshold int
	scratch           []int

	isSampleGood func(sample []int) bool
	// distanceFor returns nil when the coefficients are malformed.
	distanceFor func(coeffs Coefficients) pointDistance
}

func newBaseModel(t ModelType, cloud pointcloud.PointCloud) *baseModel {
	b := &baseModel{modelType: t, cloud: cloud, parallelThreshold: defaultParallelThreshold}
	b.resetIndices()
	return b
}

func (b *baseModel) resetIndices() {
	b.indices = make([]int, b.cloud.Size())
	for i := range b.indices {
		b.indices[i] = i
	}
	b.scratch = nil
}

func (b *baseModel) Type() ModelType {
	return b.modelType
}

func (b *baseModel) SampleSize() int {
	return b.modelType.SampleSize()
}

func (b *baseModel) Cloud() pointcloud.PointCloud {
	return b.cloud
}

func (b *baseModel) Indices() []int {
	return b.indices
}

func (b *baseModel) SetIndices(indices []int) error {
	if indices == nil {
		b.resetIndices()
		return nil
	}
	for _, idx := range indices {
		if idx < 0 || idx >= b.cloud.Size() {
			return utils.NewConfigurationError(b.modelType.String()+" model", "index %d out of range for cloud of size %d", idx, b.cloud.Size())
		}
	}
	b.indices = append([]int(nil), indices...)
	b.scratch = nil
	return nil
}

func (b *baseModel) setParallelThreshold(n int) {
	if n > 0 {
		b.parallelThreshold = n
	}
}

// Samples draws distinct positions of the active set until the model accepts the sample.
func (b *baseModel) Samples(rng *rand.Rand) ([]int, error) {
	n := b.SampleSize()
	if len(b.indices) < n {
		return nil, ErrDegenerateSample
	}
	if len(b.scratch) != len(b.indices) {
		b.scratch = make([]int, len(b.indices))
		for i := range b.scratch {
			b.scratch[i] = i
		}
	}
	for check := 0; check < maxSampleChecks; check++ {
		positions := utils.SampleWithoutReplacement(b.scratch, n, rng)
		sample := make([]int, n)
		for i, pos := range positions {
			sample[i] = b.indices[pos]
		}
		if b.IsSampleGood(sample) {
			return sample, nil
		}
	}
	return nil, ErrDegenerateSample
}

// progressiveSamples draws a sample from the first poolSize active positions. When forced is
// true the last element is the position poolSize-1 and the others come from the positions before it.
func (b *baseModel) progressiveSamples(rng *rand.Rand, poolSize int, forced bool) ([]int, error) {
	n := b.SampleSize()
	if poolSize > len(b.indices) || poolSize < n {
		return nil, ErrDegenerateSample
	}
	draw, limit := n, poolSize
	if forced {
		draw, limit = n-1, poolSize-1
	}
	for check := 0; check < maxSampleChecks; check++ {
		sample := make([]int, 0, n)
		used := make(map[int]struct{}, n)
		for len(sample) < draw {
			pos := rng.Intn(limit)
			if _, dup := used[pos]; dup {
				continue
			}
			used[pos] = struct{}{}
			sample = append(sample, b.indices[pos])
		}
		if forced {
			sample = append(sample, b.indices[poolSize-1])
		}
		if b.IsSampleGood(sample) {
			return sample, nil
		}
	}
	return nil, ErrDegenerateSample
}

func (b *baseModel) IsSampleGood(sample []int) bool {
	if len(sample) != b.SampleSize() {
		return false
	}
	for _, idx := range sample {
		if !pointcloud.IsFinite(b.cloud.At(idx)) {
			return false
		}
	}
	if b.isSampleGood == nil {
		return true
	}
	return b.isSampleGood(sample)
}

// scan calls fn for every active position, sharded when the active set is large. fn must only
// write to state owned by its position. A panic in a worker is raised again on the caller.
func (b *baseModel) scan(fn func(pos int)) {
	mustFinish(utils.ParallelForEach(context.Background(), len(b.indices), b.parallelThreshold, fn))
}

// mustFinish panics with a worker pool error. Distance scans never block and cannot be canceled,
// so the only error is a recovered worker panic.
func mustFinish(err error) {
	if err != nil {
		panic(errors.Wrap(err, "distance scan failed"))
	}
}

func (b *baseModel) DistancesToModel(coeffs Coefficients) []float64 {
	dist := b.distanceFor(coeffs)
	if dist == nil {
		return nil
	}
	out := make([]float64, len(b.indices))
	b.scan(func(pos int) {
		out[pos] = dist(b.indices[pos])
	})
	return out
}

func (b *baseModel) SelectWithinDistance(coeffs Coefficients, threshold float64) []int {
	dist := b.distanceFor(coeffs)
	if dist == nil {
		return nil
	}
	keep := make([]bool, len(b.indices))
	b.scan(func(pos int) {
		keep[pos] = dist(b.indices[pos]) <= threshold
	})
	inliers := make([]int, 0, len(b.indices))
	for pos, ok := range keep {
		if ok {
			inliers = append(inliers, b.indices[pos])
		}
	}
	return inliers
}

func (b *baseModel) CountWithinDistance(coeffs Coefficients, threshold float64) int {
	dist := b.distanceFor(coeffs)
	if dist == nil {
		return 0
	}
	if len(b.indices) < b.parallelThreshold || utils.ParallelFactor == 1 {
		count := 0
		for _, idx := range b.indices {
			if dist(idx) <= threshold {
				count++
			}
		}
		return count
	}
	var mu sync.Mutex
	total := 0
	mustFinish(utils.GroupWorkParallel(context.Background(), len(b.indices), func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		partial := 0
		return func(_, pos int) {
				if dist(b.indices[pos]) <= threshold {
					partial++
				}
			}, func() {
				mu.Lock()
				total += partial
				mu.Unlock()
			}
	}))
	return total
}

func (b *baseModel) DoSamplesVerifyModel(indices []int, coeffs Coefficients, threshold float64) bool {
	dist := b.distanceFor(coeffs)
	if dist == nil {
		return false
	}
	for _, idx := range indices {
		if dist(idx) > threshold {
			return false
		}
	}
	return true
}

func (b *baseModel) point(idx int) r3.Vector {
	return b.cloud.At(idx)
}

func (b *baseModel) points(indices []int) []r3.Vector {
	return pointcloud.Points(b.cloud, indices)
}

// weightedByNormal blends a euclidean distance with the angle between the normal of point idx and
// the expected surface normal. Points without a normal count as maximally deviating.
func (b *baseModel) weightedByNormal(weight float64, idx int, euclid float64, expected r3.Vector) float64 {
	deviation := math.Pi / 2
	if n, ok := b.cloud.Normal(idx); ok && n.Norm() > 0 && expected.Norm() > 0 {
		deviation = angleBetweenLines(n, expected)
	}
	return math.Abs(weight*deviation + (1-weight)*euclid)
}

// RadiusLimits bounds the radius of round models. A zero Max means unlimited.
type RadiusLimits struct {
	Min, Max float64
}

func (l RadiusLimits) allows(r float64) bool {
	if r < l.Min {
		return false
	}
	return l.Max <= 0 || r <= l.Max
}
