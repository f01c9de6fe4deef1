// Package sfm implements the reconstruction evaluation pipeline: correspondence
// matching between a reconstructed model and synthetic ground truth, similarity
// alignment (absolute orientation), error metric computation and report assembly.
//
// All entities are immutable once constructed; one evaluation run is a pure
// function of its two input sets.
package sfm

import (
	"math"

	"github.com/golang/geo/r3"
)

// CameraPose is a single camera pose, either reconstructed or ground truth.
// Position and orientation are expressed in the world frame (Z-up).
type CameraPose struct {
	ID       string     `json:"id"`    // usually the source image filename
	Frame    int        `json:"frame"` // frame number derived from the filename, -1 if unknown
	Position r3.Vector  `json:"position"`
	Rotation Quaternion `json:"rotation"`

	// Optional intrinsics as reported by the SfM pipeline.
	FocalLength      float64 `json:"focal_length,omitempty"`
	RadialDistortion float64 `json:"radial_distortion,omitempty"`
}

// LookAt returns the camera viewing direction (the rotated -Z axis).
func (c CameraPose) LookAt() r3.Vector {
	return c.Rotation.Rotate(r3.Vector{X: 0, Y: 0, Z: -1})
}

// Validate checks the pose for non-finite coordinates and a non-unit rotation.
func (c CameraPose) Validate() error {
	if !isFiniteVec(c.Position) {
		return &MalformedInputError{EntityID: c.ID, Reason: "non-finite position"}
	}
	if !c.Rotation.IsUnit() {
		return &MalformedInputError{EntityID: c.ID, Reason: "rotation is not a unit quaternion"}
	}
	return nil
}

// PointSample is a single reconstructed or ground-truth 3D point.
// Color components are in range [0,1].
type PointSample struct {
	Position r3.Vector  `json:"position"`
	Color    [3]float64 `json:"color,omitempty"`
}

// Validate checks the sample for non-finite coordinates.
func (p PointSample) Validate(id string) error {
	if !isFiniteVec(p.Position) {
		return &MalformedInputError{EntityID: id, Reason: "non-finite point position"}
	}
	return nil
}

// GroundTruth holds the fully materialised reference data for one evaluation
// run: the per-frame render camera poses and the sampled scene geometry.
// Callers (loaders, generators) populate it before invoking the pipeline; the
// core never reads ambient state.
type GroundTruth struct {
	Cameras []CameraPose
	Points  []PointSample
}

// CameraByFrame returns the ground truth camera for a frame number, or nil.
func (g *GroundTruth) CameraByFrame(frame int) *CameraPose {
	for i := range g.Cameras {
		if g.Cameras[i].Frame == frame {
			return &g.Cameras[i]
		}
	}
	return nil
}

// Validate checks every camera and point of the set.
func (g *GroundTruth) Validate() error {
	for _, c := range g.Cameras {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for i, p := range g.Points {
		if err := p.Validate(pointID("gt_point", i)); err != nil {
			return err
		}
	}
	return nil
}

func isFiniteVec(v r3.Vector) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
