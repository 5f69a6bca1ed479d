package sampleconsensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/yxlao/StanfordPCL-sub001/pointcloud"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// ModelType enumerates the supported models.
type ModelType int

// The registered model types.
const (
	Plane ModelType = iota
	Line
	Circle2D
	Circle3D
	Sphere
	Cylinder
	Cone
	ParallelLine
	ParallelPlane
	PerpendicularPlane
	NormalPlane
	NormalParallelPlane
	Registration
)

type modelTypeInfo struct {
	name         string
	sampleSize   int
	needsNormals bool
}

var registry = map[ModelType]modelTypeInfo{
	Plane:               {"plane", 3, false},
	Line:                {"line", 2, false},
	Circle2D:            {"circle2d", 3, false},
	Circle3D:            {"circle3d", 3, false},
	Sphere:              {"sphere", 4, false},
	Cylinder:            {"cylinder", 2, true},
	Cone:                {"cone", 3, true},
	ParallelLine:        {"parallel_line", 2, false},
	ParallelPlane:       {"parallel_plane", 3, false},
	PerpendicularPlane:  {"perpendicular_plane", 3, false},
	NormalPlane:         {"normal_plane", 3, true},
	NormalParallelPlane: {"normal_parallel_plane", 3, true},
	Registration:        {"registration", 3, false},
}

// ModelTypes returns every registered model type in declaration order.
func ModelTypes() []ModelType {
	types := lo.Keys(registry)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (t ModelType) String() string {
	if info, ok := registry[t]; ok {
		return info.name
	}
	return fmt.Sprintf("ModelType(%d)", int(t))
}

// SampleSize returns the minimal sample size of the model type, or 0 if it is not registered.
func (t ModelType) SampleSize() int {
	return registry[t].sampleSize
}

// NeedsNormals reports whether the model type reads point normals.
func (t ModelType) NeedsNormals() bool {
	return registry[t].needsNormals
}

// ParseModelType parses the name of a registered model type, case insensitively.
func ParseModelType(name string) (ModelType, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for t, info := range registry {
		if info.name == needle {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown model type %q, expected one of %v", name, ModelTypes())
}

// MarshalText implements encoding.TextMarshaler.
func (t ModelType) MarshalText() ([]byte, error) {
	if _, ok := registry[t]; !ok {
		return nil, errors.Errorf("unknown model type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ModelType) UnmarshalText(text []byte) error {
	parsed, err := ParseModelType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ModelConfig describes a model to build with NewModel. Fields that do not apply to Type are
// ignored.
type ModelConfig struct {
	Type ModelType `json:"type"`

	// Axis and EpsAngle constrain the orientation of parallel and perpendicular variants.
	Axis     []float64 `json:"axis,omitempty"`
	EpsAngle float64   `json:"eps_angle_rad,omitempty"`

	// Radius limits for circles, spheres and cylinders. Zero RadiusMax means unlimited.
	RadiusMin float64 `json:"radius_min,omitempty"`
	RadiusMax float64 `json:"radius_max,omitempty"`

	// Opening angle limits for cones. Zero MaxOpeningAngle means unlimited.
	MinOpeningAngle float64 `json:"min_opening_angle_rad,omitempty"`
	MaxOpeningAngle float64 `json:"max_opening_angle_rad,omitempty"`

	// NormalDistanceWeight blends the angular deviation of point normals into the distance of
	// models that read normals.
	NormalDistanceWeight float64 `json:"normal_distance_weight,omitempty"`

	// DistanceFromOrigin and EpsDist optionally constrain the offset of normal parallel planes.
	DistanceFromOrigin float64 `json:"distance_from_origin,omitempty"`
	EpsDist            float64 `json:"eps_dist,omitempty"`
}

// Validate checks the configuration against the model type.
func (cfg ModelConfig) Validate() error {
	if _, ok := registry[cfg.Type]; !ok {
		return utils.NewConfigurationError("model", "unknown model type %d", int(cfg.Type))
	}
	var errs error
	if cfg.RadiusMin < 0 || cfg.RadiusMax < 0 || (cfg.RadiusMax > 0 && cfg.RadiusMin > cfg.RadiusMax) {
		errs = multierr.Append(errs, errors.Errorf("invalid radius limits [%v, %v]", cfg.RadiusMin, cfg.RadiusMax))
	}
	if cfg.MinOpeningAngle < 0 || cfg.MaxOpeningAngle < 0 || cfg.MaxOpeningAngle > math.Pi/2 ||
		(cfg.MaxOpeningAngle > 0 && cfg.MinOpeningAngle > cfg.MaxOpeningAngle) {
		errs = multierr.Append(errs, errors.Errorf("invalid opening angle limits [%v, %v]", cfg.MinOpeningAngle, cfg.MaxOpeningAngle))
	}
	if cfg.NormalDistanceWeight < 0 || cfg.NormalDistanceWeight > 1 {
		errs = multierr.Append(errs, errors.Errorf("normal_distance_weight must be in [0, 1], got %v", cfg.NormalDistanceWeight))
	}
	if cfg.EpsAngle < 0 || cfg.EpsDist < 0 {
		errs = multierr.Append(errs, errors.New("eps_angle_rad and eps_dist must not be negative"))
	}
	switch cfg.Type {
	case ParallelLine, ParallelPlane, PerpendicularPlane, NormalParallelPlane:
		if _, err := cfg.axis(); err != nil {
			errs = multierr.Append(errs, err)
		}
	case Registration:
		errs = multierr.Append(errs, errors.New("registration models need a target, use NewRegistrationModel"))
	case Plane, Line, Circle2D, Circle3D, Sphere, Cylinder, Cone, NormalPlane:
	}
	if errs != nil {
		return utils.NewConfigurationError(cfg.Type.String()+" model", "%v", errs)
	}
	return nil
}

func (cfg ModelConfig) axis() (r3.Vector, error) {
	if len(cfg.Axis) != 3 {
		return r3.Vector{}, errors.Errorf("axis must have 3 components, got %d", len(cfg.Axis))
	}
	axis := r3.Vector{X: cfg.Axis[0], Y: cfg.Axis[1], Z: cfg.Axis[2]}
	if axis.Norm() == 0 || !pointcloud.IsFinite(axis) {
		return r3.Vector{}, errors.New("axis must be a finite non-zero vector")
	}
	return axis.Normalize(), nil
}

// NewModel builds the model described by cfg over cloud.
func NewModel(cfg ModelConfig, cloud pointcloud.PointCloud) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cloud == nil {
		return nil, utils.NewConfigurationError(cfg.Type.String()+" model", "no input cloud")
	}
	if cfg.Type.NeedsNormals() && !cloud.HasNormals() {
		return nil, utils.NewConfigurationError(cfg.Type.String()+" model", "input cloud has no normals")
	}
	radius := RadiusLimits{Min: cfg.RadiusMin, Max: cfg.RadiusMax}
	switch cfg.Type {
	case Plane:
		return NewPlaneModel(cloud), nil
	case Line:
		return NewLineModel(cloud), nil
	case Circle2D:
		return NewCircle2DModel(cloud, radius), nil
	case Circle3D:
		return NewCircle3DModel(cloud, radius), nil
	case Sphere:
		return NewSphereModel(cloud, radius), nil
	case Cylinder:
		return NewCylinderModel(cloud, radius, cfg.NormalDistanceWeight), nil
	case Cone:
		return NewConeModel(cloud, cfg.MinOpeningAngle, cfg.MaxOpeningAngle, cfg.NormalDistanceWeight), nil
	case NormalPlane:
		return NewNormalPlaneModel(cloud, cfg.NormalDistanceWeight), nil
	case ParallelLine:
		axis, _ := cfg.axis()
		return Constrain(NewLineModel(cloud), ParallelLine, LineParallelTo(axis, cfg.EpsAngle)), nil
	case PerpendicularPlane:
		axis, _ := cfg.axis()
		return Constrain(NewPlaneModel(cloud), PerpendicularPlane, PlaneNormalParallelTo(axis, cfg.EpsAngle)), nil
	case ParallelPlane:
		axis, _ := cfg.axis()
		return Constrain(NewPlaneModel(cloud), ParallelPlane, PlaneParallelTo(axis, cfg.EpsAngle)), nil
	case NormalParallelPlane:
		axis, _ := cfg.axis()
		pred := PlaneNormalParallelTo(axis, cfg.EpsAngle)
		if cfg.EpsDist > 0 {
			pred = All(pred, PlaneDistanceFromOrigin(cfg.DistanceFromOrigin, cfg.EpsDist))
		}
		return Constrain(NewNormalPlaneModel(cloud, cfg.NormalDistanceWeight), NormalParallelPlane, pred), nil
	case Registration:
	}
	return nil, utils.NewConfigurationError("model", "cannot build model type %v", cfg.Type)
}
