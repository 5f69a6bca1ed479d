package registration

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMissingNormals is returned when an estimator needs normals the cloud does not carry.
	ErrMissingNormals = errors.New("point cloud has no normals")
	// ErrUnorganizedTarget is returned when organized projection is used with an unorganized target.
	ErrUnorganizedTarget = errors.New("target point cloud is not organized")
	// ErrMismatchedSizes is returned when paired inputs have different lengths.
	ErrMismatchedSizes = errors.New("mismatched sizes")
)

// InsufficientCorrespondencesError is returned when fewer correspondences than required survive
// rejection.
type InsufficientCorrespondencesError struct {
	Iteration int
	Found     int
	Required  int
}

func (e *InsufficientCorrespondencesError) Error() string {
	return fmt.Sprintf("iteration %d: only %d correspondences left, need at least %d", e.Iteration, e.Found, e.Required)
}

// IsInsufficientCorrespondences returns whether err is, or wraps, an *InsufficientCorrespondencesError.
func IsInsufficientCorrespondences(err error) bool {
	var target *InsufficientCorrespondencesError
	return errors.As(err, &target)
}

// ErrNotConverged is returned when the alignment hit its iteration limit with
// FailureAfterMaxIterations set.
var ErrNotConverged = errors.New("alignment did not converge")
