package sfm

import (
	"fmt"
	"log"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// PipelineConfig bundles the tunables of one evaluation run.
type PipelineConfig struct {
	Matcher MatcherConfig
	Metrics MetricConfig
	ICP     ICPConfig

	// RefineWithICP refines the camera-based similarity alignment with
	// rigid ICP over the point clouds before computing metrics. Requires
	// both clouds to be non-empty.
	RefineWithICP bool

	// UseFilteredCloud evaluates only the points surviving the model's
	// distance filter.
	UseFilteredCloud bool

	// FilterThreshold applies a distance filter to the reconstructed cloud
	// before evaluation when positive.
	FilterThreshold float64
}

// DefaultPipelineConfig returns the run defaults used by the CLI.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Matcher:          DefaultMatcherConfig(),
		Metrics:          DefaultMetricConfig(),
		ICP:              DefaultICPConfig(),
		UseFilteredCloud: true,
	}
}

// ErrorReport is the complete, immutable result of one evaluation run.
// Correspondences and intermediate transforms are discarded once the report
// is assembled; only the final transform is retained for reproducibility.
type ErrorReport struct {
	RunID     string    `json:"run_id"`
	ModelName string    `json:"model_name"`
	ModelUUID string    `json:"model_uuid"`
	CreatedAt time.Time `json:"created_at"`

	Transform SimilarityTransform `json:"transform"`

	Cameras CameraMetrics `json:"cameras"`
	Cloud   *CloudMetrics `json:"cloud,omitempty"`

	// ICP refinement outcome when enabled.
	ICPError      float64 `json:"icp_error,omitempty"`
	ICPIterations int     `json:"icp_iterations,omitempty"`
	ICPConverged  bool    `json:"icp_converged,omitempty"`
}

// Evaluate runs the full pipeline on one ground truth / reconstruction pair:
// correspondence matching, similarity alignment, optional ICP refinement,
// metric computation and report assembly. It either returns a complete report
// or an error; partially populated reports are never produced.
func Evaluate(truth *GroundTruth, model *Model, cfg PipelineConfig) (*ErrorReport, error) {
	if err := truth.Validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	cs, err := MatchCameras(truth.Cameras, model.Cameras, cfg.Matcher)
	if err != nil {
		return nil, err
	}

	gtPositions := camPositions(truth.Cameras)
	reconPositions := camPositions(model.Cameras)
	transform, err := SolveCorrespondences(gtPositions, reconPositions, cs)
	if err != nil {
		return nil, err
	}
	log.Printf("[Evaluate] Similarity solve: scale=%.6f translation=(%.3f, %.3f, %.3f)",
		transform.Scale, transform.Translation.X, transform.Translation.Y, transform.Translation.Z)

	report := &ErrorReport{
		RunID:     uuid.New().String(),
		ModelName: model.Name,
		ModelUUID: model.UUID,
		CreatedAt: time.Now().UTC(),
	}

	var gtIndex *PointIndex
	if len(truth.Points) > 0 {
		gtIndex = NewPointIndex(samplePositions(truth.Points))
	}

	if cfg.FilterThreshold > 0 && gtIndex != nil {
		filterCloudAligned(model.Cloud, gtIndex, transform, cfg.FilterThreshold)
	}

	if cfg.RefineWithICP {
		if gtIndex == nil || model.Cloud.Len() == 0 {
			return nil, fmt.Errorf("ICP refinement requires ground truth and reconstructed clouds")
		}
		src := model.Cloud.Positions()
		if cfg.UseFilteredCloud && model.Cloud.HasFilter() {
			src = model.Cloud.FilteredPositions()
		}
		res, err := RefineAlignment(src, gtIndex, transform, cfg.ICP)
		if err != nil {
			return nil, err
		}
		transform = res.Transform
		report.ICPError = res.Error
		report.ICPIterations = res.Iterations
		report.ICPConverged = res.Converged
	}

	if err := transform.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	report.Transform = transform

	report.Cameras = EvaluateCameras(truth.Cameras, model.Cameras, cs, transform, cfg.Metrics)

	if gtIndex != nil && model.Cloud.Len() > 0 {
		useFiltered := cfg.UseFilteredCloud && model.Cloud.HasFilter()
		cm := EvaluateCloud(gtIndex, model.Cloud, transform, useFiltered, cfg.Metrics)
		report.Cloud = &cm
	}

	return report, nil
}

func camPositions(cams []CameraPose) []r3.Vector {
	out := make([]r3.Vector, len(cams))
	for i, c := range cams {
		out[i] = c.Position
	}
	return out
}

func samplePositions(points []PointSample) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = p.Position
	}
	return out
}

// filterCloudAligned applies the distance filter against the ground truth in
// aligned coordinates. The filter mask is derived run state, not part of the
// parsed cloud data.
func filterCloudAligned(cloud *PointCloud, gt *PointIndex, t SimilarityTransform, threshold float64) {
	cloud.discarded = make(map[int]bool)
	cloud.filterThreshold = threshold
	for i, p := range cloud.Points {
		if _, d := gt.Nearest(t.Apply(p.Position)); d > threshold {
			cloud.discarded[i] = true
		}
	}
	log.Printf("[Evaluate] Cloud filter at %.3f discarded %d of %d points",
		threshold, len(cloud.discarded), len(cloud.Points))
}
