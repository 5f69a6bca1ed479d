// Package registration aligns a source point cloud onto a target point cloud with iterative
// closest point: correspondences are estimated, filtered by a chain of rejectors, turned into a
// rigid transform and accumulated until the convergence criteria hold.
package registration

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
)

// Correspondence pairs the source point Query with the target point Match. Distance is their
// squared euclidean distance.
type Correspondence struct {
	Query    int
	Match    int
	Distance float64
}

func (c Correspondence) String() string {
	return fmt.Sprintf("(%d, %d, %g)", c.Query, c.Match, c.Distance)
}

// Correspondences is an ordered list of correspondences. Every operation in this package keeps
// the relative order of the surviving entries.
type Correspondences []Correspondence

// Queries returns the source indices in order.
func (cs Correspondences) Queries() []int {
	return lo.Map(cs, func(c Correspondence, _ int) int { return c.Query })
}

// Matches returns the target indices in order.
func (cs Correspondences) Matches() []int {
	return lo.Map(cs, func(c Correspondence, _ int) int { return c.Match })
}

// MSE returns the mean of the squared distances, or 0 for an empty list.
func (cs Correspondences) MSE() float64 {
	if len(cs) == 0 {
		return 0
	}
	return lo.SumBy(cs, func(c Correspondence) float64 { return c.Distance }) / float64(len(cs))
}

// Clone returns a copy that shares no memory with cs.
func (cs Correspondences) Clone() Correspondences {
	if cs == nil {
		return nil
	}
	return append(Correspondences(nil), cs...)
}

// CloudPair is the source and target a set of correspondences refers to. Rejectors that look at
// geometry, like normals, read it.
type CloudPair struct {
	Source pointcloud.PointCloud
	Target pointcloud.PointCloud
}
