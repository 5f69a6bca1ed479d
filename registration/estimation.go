package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/yxlao/StanfordPCL-sub001/logging"
	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/rimage/transform"
	"github.com/yxlao/StanfordPCL-sub001/spatialmath"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// minParallelQueries is the source size from which per point searches are spread over workers.
const minParallelQueries = 512

// CorrespondenceEstimator pairs source points with target points no further than maxDistance apart.
type CorrespondenceEstimator interface {
	Determine(ctx context.Context, source pointcloud.PointCloud, maxDistance float64) (Correspondences, error)
}

// ReciprocalEstimator can additionally keep only mutual nearest neighbours.
type ReciprocalEstimator interface {
	CorrespondenceEstimator
	DetermineReciprocal(ctx context.Context, source pointcloud.PointCloud, maxDistance float64) (Correspondences, error)
}

// NormalsRequirement is implemented by components that read normals. It reports which of the
// source and target clouds must carry them.
type NormalsRequirement interface {
	RequiresNormals() (source, target bool)
}

func loggerOrBlank(logger logging.Logger, name string) logging.Logger {
	if logger == nil {
		return logging.NewBlankLogger(name)
	}
	return logger.Sublogger(name)
}

func checkMaxDistance(component string, maxDistance float64) error {
	if !(maxDistance > 0) {
		return utils.NewConfigurationError(component, "max correspondence distance must be positive, got %v", maxDistance)
	}
	return nil
}

// searchEach runs match for every source index and keeps the accepted results in source order.
func searchEach(
	ctx context.Context,
	size int,
	match func(i int) (Correspondence, bool),
) (Correspondences, error) {
	found := make([]Correspondence, size)
	ok := make([]bool, size)
	if err := utils.ParallelForEach(ctx, size, minParallelQueries, func(i int) {
		found[i], ok[i] = match(i)
	}); err != nil {
		return nil, err
	}
	out := make(Correspondences, 0, size)
	for i, accepted := range ok {
		if accepted {
			out = append(out, found[i])
		}
	}
	return out, nil
}

// NearestNeighborEstimator pairs every finite source point with its nearest target point.
type NearestNeighborEstimator struct {
	target pointcloud.PointCloud
	index  pointcloud.SpatialIndex
	logger logging.Logger
}

// NewNearestNeighborEstimator indexes target in a k-d tree.
func NewNearestNeighborEstimator(target pointcloud.PointCloud, logger logging.Logger) *NearestNeighborEstimator {
	return &NearestNeighborEstimator{
		target: target,
		index:  pointcloud.NewKDTree(target),
		logger: loggerOrBlank(logger, "nearest_neighbor"),
	}
}

// WithSpatialIndex replaces the k-d tree with an index over the same target.
func (e *NearestNeighborEstimator) WithSpatialIndex(index pointcloud.SpatialIndex) *NearestNeighborEstimator {
	e.index = index
	return e
}

// Determine returns one correspondence per finite source point whose nearest target point is
// within maxDistance.
func (e *NearestNeighborEstimator) Determine(
	ctx context.Context,
	source pointcloud.PointCloud,
	maxDistance float64,
) (Correspondences, error) {
	if err := checkMaxDistance("nearest neighbor estimation", maxDistance); err != nil {
		return nil, err
	}
	maxSquared := maxDistance * maxDistance
	return searchEach(ctx, source.Size(), func(i int) (Correspondence, bool) {
		nearest := e.index.NearestK(source.At(i), 1)
		if len(nearest) == 0 || nearest[0].SquaredDistance > maxSquared {
			return Correspondence{}, false
		}
		return Correspondence{Query: i, Match: nearest[0].Index, Distance: nearest[0].SquaredDistance}, true
	})
}

// DetermineReciprocal keeps a correspondence (i, j) only if i is also the nearest source point of j.
func (e *NearestNeighborEstimator) DetermineReciprocal(
	ctx context.Context,
	source pointcloud.PointCloud,
	maxDistance float64,
) (Correspondences, error) {
	forward, err := e.Determine(ctx, source, maxDistance)
	if err != nil {
		return nil, err
	}
	sourceIndex := pointcloud.NewKDTree(source)
	reciprocal, err := searchEach(ctx, len(forward), func(k int) (Correspondence, bool) {
		c := forward[k]
		back := sourceIndex.NearestK(e.target.At(c.Match), 1)
		return c, len(back) == 1 && back[0].Index == c.Query
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("reciprocal correspondences", "forward", len(forward), "reciprocal", len(reciprocal))
	return reciprocal, nil
}

// NormalShootingEstimator pairs every source point with the candidate, among its k nearest target
// points, that lies closest in angle to the line along the source normal.
type NormalShootingEstimator struct {
	target pointcloud.PointCloud
	index  pointcloud.SpatialIndex
	k      int
	logger logging.Logger
}

// NewNormalShootingEstimator indexes target in a k-d tree. k is the number of candidates per
// source point.
func NewNormalShootingEstimator(target pointcloud.PointCloud, k int, logger logging.Logger) (*NormalShootingEstimator, error) {
	if k <= 0 {
		return nil, utils.NewConfigurationError("normal shooting estimation", "k must be positive, got %d", k)
	}
	return &NormalShootingEstimator{target: target, index: pointcloud.NewKDTree(target), k: k, logger: loggerOrBlank(logger, "normal_shooting")}, nil
}

// RequiresNormals reports that source normals are read.
func (e *NormalShootingEstimator) RequiresNormals() (bool, bool) {
	return true, false
}

// Determine fails with ErrMissingNormals before any search if source has no normals. Source
// points without a finite normal are skipped.
func (e *NormalShootingEstimator) Determine(
	ctx context.Context,
	source pointcloud.PointCloud,
	maxDistance float64,
) (Correspondences, error) {
	if err := checkMaxDistance("normal shooting estimation", maxDistance); err != nil {
		return nil, err
	}
	if !source.HasNormals() {
		return nil, errors.Wrap(ErrMissingNormals, "normal shooting needs source normals")
	}
	maxSquared := maxDistance * maxDistance
	found, err := searchEach(ctx, source.Size(), func(i int) (Correspondence, bool) {
		normal, ok := source.Normal(i)
		if !ok || normal.Norm() == 0 {
			return Correspondence{}, false
		}
		p := source.At(i)
		best, bestAngle := -1, math.Inf(1)
		var bestDistance float64
		for _, candidate := range e.index.NearestK(p, e.k) {
			angle := shootingAngle(e.target.At(candidate.Index).Sub(p), normal)
			if angle < bestAngle {
				best, bestAngle, bestDistance = candidate.Index, angle, candidate.SquaredDistance
			}
		}
		if best < 0 || bestDistance > maxSquared {
			return Correspondence{}, false
		}
		return Correspondence{Query: i, Match: best, Distance: bestDistance}, true
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("normal shooting correspondences", "source", source.Size(), "found", len(found))
	return found, nil
}

// shootingAngle is the angle between the connecting vector and the undirected normal line.
func shootingAngle(connecting, normal r3.Vector) float64 {
	if connecting.Norm() == 0 {
		return 0
	}
	angle := float64(connecting.Angle(normal))
	return math.Min(angle, math.Pi-angle)
}

// OrganizedProjectionEstimator projects source points into an organized target through a pinhole
// camera and pairs them with the target point at the resulting pixel.
type OrganizedProjectionEstimator struct {
	target         pointcloud.Organized
	intrinsics     *transform.PinholeCameraIntrinsics
	extrinsics     spatialmath.Transform
	depthThreshold float64
	logger         logging.Logger
}

// NewOrganizedProjectionEstimator requires an organized target laid out like the camera image.
// extrinsics maps source coordinates into the camera frame of the target.
func NewOrganizedProjectionEstimator(
	target pointcloud.PointCloud,
	intrinsics *transform.PinholeCameraIntrinsics,
	extrinsics spatialmath.Transform,
	depthThreshold float64,
	logger logging.Logger,
) (*OrganizedProjectionEstimator, error) {
	organized, ok := target.(pointcloud.Organized)
	if !ok {
		return nil, ErrUnorganizedTarget
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, utils.NewConfigurationError("organized projection estimation", "%v", err)
	}
	if organized.Width() != intrinsics.Width || organized.Height() != intrinsics.Height {
		return nil, utils.NewConfigurationError("organized projection estimation",
			"target is %dx%d but the camera image is %dx%d",
			organized.Width(), organized.Height(), intrinsics.Width, intrinsics.Height)
	}
	if !(depthThreshold > 0) {
		return nil, utils.NewConfigurationError("organized projection estimation",
			"depth threshold must be positive, got %v", depthThreshold)
	}
	if !extrinsics.IsFinite() {
		return nil, utils.NewConfigurationError("organized projection estimation", "extrinsics are not finite")
	}
	return &OrganizedProjectionEstimator{
		target:         organized,
		intrinsics:     intrinsics,
		extrinsics:     extrinsics,
		depthThreshold: depthThreshold,
		logger:         loggerOrBlank(logger, "organized_projection"),
	}, nil
}

// Determine accepts a projected pair only when the depths agree within the depth threshold and
// the points are within maxDistance.
func (e *OrganizedProjectionEstimator) Determine(
	ctx context.Context,
	source pointcloud.PointCloud,
	maxDistance float64,
) (Correspondences, error) {
	if err := checkMaxDistance("organized projection estimation", maxDistance); err != nil {
		return nil, err
	}
	maxSquared := maxDistance * maxDistance
	width := e.target.Width()
	found, err := searchEach(ctx, source.Size(), func(i int) (Correspondence, bool) {
		p := e.extrinsics.Apply(source.At(i))
		u, v, ok := e.intrinsics.ProjectToPixel(p)
		if !ok {
			return Correspondence{}, false
		}
		q, ok := e.target.AtPixel(u, v)
		if !ok || math.Abs(p.Z-q.Z) > e.depthThreshold {
			return Correspondence{}, false
		}
		d := p.Sub(q).Norm2()
		if d > maxSquared {
			return Correspondence{}, false
		}
		return Correspondence{Query: i, Match: v*width + u, Distance: d}, true
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("projected correspondences", "source", source.Size(), "found", len(found))
	return found, nil
}
