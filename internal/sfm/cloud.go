package sfm

import (
	"log"
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// PointCloud is a reconstructed 3D point cloud with per-point colors and an
// optional distance filter mask.
type PointCloud struct {
	Points []PointSample

	// Indices of points discarded by distance filtering, and the threshold
	// that produced them. Empty mask means no active filter.
	discarded       map[int]bool
	filterThreshold float64
}

// NewPointCloud creates a cloud from a sample slice.
func NewPointCloud(points []PointSample) *PointCloud {
	return &PointCloud{
		Points:          points,
		filterThreshold: math.Inf(1),
	}
}

// Len returns the full cloud size.
func (pc *PointCloud) Len() int { return len(pc.Points) }

// Centroid returns the centroid of the full cloud, computed on the fly.
func (pc *PointCloud) Centroid() r3.Vector {
	var sum r3.Vector
	if len(pc.Points) == 0 {
		return sum
	}
	for _, p := range pc.Points {
		sum = sum.Add(p.Position)
	}
	return sum.Mul(1 / float64(len(pc.Points)))
}

// FilterThreshold returns the distance threshold of the active filter, or +Inf
// when no filter is set.
func (pc *PointCloud) FilterThreshold() float64 { return pc.filterThreshold }

// HasFilter reports whether a distance filter is currently applied.
func (pc *PointCloud) HasFilter() bool { return len(pc.discarded) > 0 }

// Filter marks every point farther than threshold from its nearest ground
// truth point as discarded. Any previous filter is replaced. Returns the
// number of discarded points.
func (pc *PointCloud) Filter(gt *PointIndex, threshold float64) int {
	pc.discarded = make(map[int]bool)
	pc.filterThreshold = threshold
	for i, p := range pc.Points {
		if _, d := gt.Nearest(p.Position); d > threshold {
			pc.discarded[i] = true
		}
	}
	log.Printf("[PointCloud] Filtered cloud at threshold %.3f: discarded %d of %d points",
		threshold, len(pc.discarded), len(pc.Points))
	return len(pc.discarded)
}

// ClearFilter removes the distance filter and restores the full cloud.
func (pc *PointCloud) ClearFilter() {
	pc.discarded = nil
	pc.filterThreshold = math.Inf(1)
}

// FilteredPositions returns the positions that survive the active filter.
// With no filter the full cloud is returned.
func (pc *PointCloud) FilteredPositions() []r3.Vector {
	out := make([]r3.Vector, 0, len(pc.Points)-len(pc.discarded))
	for i, p := range pc.Points {
		if pc.discarded[i] {
			continue
		}
		out = append(out, p.Position)
	}
	return out
}

// Positions returns all point positions regardless of filtering.
func (pc *PointCloud) Positions() []r3.Vector {
	out := make([]r3.Vector, len(pc.Points))
	for i, p := range pc.Points {
		out[i] = p.Position
	}
	return out
}

// Model is a single reconstructed model: the reconstructed camera poses and
// the sparse point cloud parsed from one SfM pipeline output. Object names in
// output files are not unique, so each model carries a UUID.
type Model struct {
	Name    string
	UUID    string
	Cameras []CameraPose
	Cloud   *PointCloud
}

// NewModel creates an empty named model.
func NewModel(name string) *Model {
	return &Model{
		Name:  name,
		UUID:  uuid.New().String(),
		Cloud: NewPointCloud(nil),
	}
}

// Validate checks all cameras and points of the model.
func (m *Model) Validate() error {
	for _, c := range m.Cameras {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for i, p := range m.Cloud.Points {
		if err := p.Validate(pointID(m.Name+"_point", i)); err != nil {
			return err
		}
	}
	return nil
}
