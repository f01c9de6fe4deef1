package sfm

import (
	"errors"
	"fmt"
)

// Evaluation failures are never transient: a run is a deterministic function
// of its inputs, so errors are surfaced to the caller rather than retried.
var (
	// ErrInsufficientCorrespondences indicates too few matches to solve a
	// similarity transform.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences for similarity solve")

	// ErrDegenerateGeometry indicates that the matched points do not
	// constrain the rotation (coincident or collinear correspondences).
	ErrDegenerateGeometry = errors.New("degenerate correspondence geometry")
)

// MalformedInputError reports an invalid entity in one of the input sets.
type MalformedInputError struct {
	EntityID string
	Reason   string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input entity %q: %s", e.EntityID, e.Reason)
}

func pointID(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}
