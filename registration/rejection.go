package registration

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/sampleconsensus"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
)

// A Rejector filters correspondences. Reject must not modify its input and must not keep state
// between calls.
type Rejector interface {
	Name() string
	Reject(pair CloudPair, in Correspondences) Correspondences
}

// Chain applies rejectors in order, each one to the survivors of the previous one.
type Chain []Rejector

// Name lists the chained rejectors.
func (chain Chain) Name() string {
	names := lo.Map(chain, func(r Rejector, _ int) string { return r.Name() })
	return "chain(" + strings.Join(names, ", ") + ")"
}

// Reject runs every rejector of the chain.
func (chain Chain) Reject(pair CloudPair, in Correspondences) Correspondences {
	out := in.Clone()
	for _, r := range chain {
		out = r.Reject(pair, out)
	}
	return out
}

// RejectorFunc adapts a function to the Rejector interface. The function receives a copy of the
// input.
type RejectorFunc func(pair CloudPair, in Correspondences) Correspondences

// Name implements Rejector.
func (f RejectorFunc) Name() string {
	return "custom"
}

// Reject implements Rejector.
func (f RejectorFunc) Reject(pair CloudPair, in Correspondences) Correspondences {
	return f(pair, in.Clone())
}

// DistanceRejector drops correspondences further apart than a fixed distance.
type DistanceRejector struct {
	maxSquared float64
}

// NewDistanceRejector rejects correspondences whose distance exceeds maxDistance.
func NewDistanceRejector(maxDistance float64) *DistanceRejector {
	return &DistanceRejector{maxSquared: maxDistance * maxDistance}
}

// Name implements Rejector.
func (r *DistanceRejector) Name() string {
	return "distance"
}

// MaxDistance returns the distance threshold.
func (r *DistanceRejector) MaxDistance() float64 {
	return math.Sqrt(r.maxSquared)
}

// Reject implements Rejector.
func (r *DistanceRejector) Reject(_ CloudPair, in Correspondences) Correspondences {
	return lo.Filter(in, func(c Correspondence, _ int) bool { return c.Distance <= r.maxSquared })
}

// MedianDistanceRejector drops correspondences whose squared distance exceeds Factor times the
// median squared distance of the input.
type MedianDistanceRejector struct {
	Factor float64
}

// Name implements Rejector.
func (r MedianDistanceRejector) Name() string {
	return "median_distance"
}

// Reject implements Rejector.
func (r MedianDistanceRejector) Reject(_ CloudPair, in Correspondences) Correspondences {
	if len(in) == 0 {
		return Correspondences{}
	}
	median, err := stats.Median(lo.Map(in, func(c Correspondence, _ int) float64 { return c.Distance }))
	if err != nil {
		return in.Clone()
	}
	limit := r.Factor * median
	return lo.Filter(in, func(c Correspondence, _ int) bool { return c.Distance <= limit })
}

// OneToOneRejector keeps, for every target index, only the closest correspondence. Ties keep the
// earliest one.
type OneToOneRejector struct{}

// Name implements Rejector.
func (OneToOneRejector) Name() string {
	return "one_to_one"
}

// Reject implements Rejector.
func (OneToOneRejector) Reject(_ CloudPair, in Correspondences) Correspondences {
	best := make(map[int]int, len(in))
	for i, c := range in {
		if prev, ok := best[c.Match]; !ok || c.Distance < in[prev].Distance {
			best[c.Match] = i
		}
	}
	return lo.Filter(in, func(c Correspondence, i int) bool { return best[c.Match] == i })
}

// TrimmedRejector keeps the OverlapRatio share of the closest correspondences, and never fewer
// than MinCorrespondences.
type TrimmedRejector struct {
	OverlapRatio       float64
	MinCorrespondences int
}

// Name implements Rejector.
func (r TrimmedRejector) Name() string {
	return "trimmed"
}

// Reject implements Rejector.
func (r TrimmedRejector) Reject(_ CloudPair, in Correspondences) Correspondences {
	keep := int(math.Floor(r.OverlapRatio * float64(len(in))))
	keep = lo.Clamp(keep, r.MinCorrespondences, len(in))
	if keep >= len(in) {
		return in.Clone()
	}
	order := make([]int, len(in))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return in[order[a]].Distance < in[order[b]].Distance })
	kept := make([]bool, len(in))
	for _, i := range order[:keep] {
		kept[i] = true
	}
	return lo.Filter(in, func(_ Correspondence, i int) bool { return kept[i] })
}

// SurfaceNormalRejector drops correspondences whose source and target normals differ by more
// than MaxAngle radians. Normals are treated as undirected, pairs without normals are dropped.
type SurfaceNormalRejector struct {
	MaxAngle float64
}

// Name implements Rejector.
func (r SurfaceNormalRejector) Name() string {
	return "surface_normal"
}

// RequiresNormals reports that both clouds need normals.
func (r SurfaceNormalRejector) RequiresNormals() (bool, bool) {
	return true, true
}

// Reject implements Rejector.
func (r SurfaceNormalRejector) Reject(pair CloudPair, in Correspondences) Correspondences {
	return lo.Filter(in, func(c Correspondence, _ int) bool {
		ns, ok := pair.Source.Normal(c.Query)
		if !ok {
			return false
		}
		nt, ok := pair.Target.Normal(c.Match)
		if !ok {
			return false
		}
		angle := float64(ns.Angle(nt))
		return math.Min(angle, math.Pi-angle) <= r.MaxAngle
	})
}

// SampleConsensusRejector fits a rigid transform to the correspondences with RANSAC and keeps
// those consistent with it.
type SampleConsensusRejector struct {
	// InlierThreshold is the largest residual distance of a kept correspondence.
	InlierThreshold float64
	MaxIterations   int
	Seed            int64
	Logger          logging.Logger
}

// Name implements Rejector.
func (r SampleConsensusRejector) Name() string {
	return "sample_consensus"
}

// Reject implements Rejector. The input is returned unchanged when no transform can be fitted.
func (r SampleConsensusRejector) Reject(pair CloudPair, in Correspondences) Correspondences {
	kept, _, err := r.Estimate(context.Background(), pair, in)
	if err != nil {
		return in.Clone()
	}
	return kept
}

// Estimate returns the consistent correspondences and the transform they agree on.
func (r SampleConsensusRejector) Estimate(
	ctx context.Context,
	pair CloudPair,
	in Correspondences,
) (Correspondences, spatialmath.Transform, error) {
	logger := loggerOrBlank(r.Logger, "sample_consensus_rejector")
	model, err := sampleconsensus.NewRegistrationModel(pair.Source, pair.Target, in.Queries(), in.Matches())
	if err != nil {
		return nil, spatialmath.Transform{}, err
	}
	cfg := sampleconsensus.DefaultConfig()
	cfg.Threshold = r.InlierThreshold
	cfg.Seed = r.Seed
	if r.MaxIterations > 0 {
		cfg.MaxIterations = r.MaxIterations
	}
	engine, err := sampleconsensus.NewEngine(model, cfg, logger)
	if err != nil {
		return nil, spatialmath.Transform{}, err
	}
	res, err := engine.ComputeModel(ctx)
	if err != nil {
		logger.Debugw("no consistent transform, keeping every correspondence", "error", err)
		return nil, spatialmath.Transform{}, err
	}
	best, err := spatialmath.NewTransformFromRowMajor(res.Coefficients)
	if err != nil {
		return nil, spatialmath.Transform{}, err
	}
	kept := lo.Filter(in, func(c Correspondence, _ int) bool {
		return best.Apply(pair.Source.At(c.Query)).Sub(pair.Target.At(c.Match)).Norm() <= r.InlierThreshold
	})
	logger.Debugw("rejected inconsistent correspondences", "in", len(in), "kept", len(kept))
	return kept, best, nil
}
