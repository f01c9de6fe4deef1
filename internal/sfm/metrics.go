package sfm

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// DefaultOutlierMADScale is the default outlier threshold expressed as a
// multiple of the median absolute deviation above the median error.
const DefaultOutlierMADScale = 6.0

// MetricConfig controls error statistics computation.
type MetricConfig struct {
	// OutlierMADScale flags an entity as outlier when its error exceeds
	// median + scale*MAD. Zero or negative uses the default.
	OutlierMADScale float64

	// Robust excludes flagged outliers from the aggregate statistics.
	// Outliers are always flagged either way.
	Robust bool
}

// DefaultMetricConfig returns the metric defaults used by the CLI.
func DefaultMetricConfig() MetricConfig {
	return MetricConfig{OutlierMADScale: DefaultOutlierMADScale}
}

// Summary holds aggregate statistics over matched entities.
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	RMS    float64 `json:"rms"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Summarize computes a Summary over a value slice. Empty input yields the
// zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sumSq float64
	for _, v := range sorted {
		sumSq += v * v
	}
	s := Summary{
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		RMS:    math.Sqrt(sumSq / float64(len(sorted))),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// medianAbsDeviation returns the median and the median absolute deviation of
// a value slice.
func medianAbsDeviation(values []float64) (median, mad float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - median)
	}
	sort.Float64s(dev)
	mad = stat.Quantile(0.5, stat.Empirical, dev, nil)
	return median, mad
}

// flagOutliers marks entries whose value exceeds median + scale*MAD.
// A zero MAD (at least half the errors identical) flags nothing.
func flagOutliers(values []float64, scale float64) []bool {
	flags := make([]bool, len(values))
	if len(values) < 2 {
		return flags
	}
	if scale <= 0 {
		scale = DefaultOutlierMADScale
	}
	median, mad := medianAbsDeviation(values)
	if mad == 0 {
		return flags
	}
	limit := median + scale*mad
	for i, v := range values {
		flags[i] = v > limit
	}
	return flags
}

// CameraError holds per-camera error values for one matched pair.
type CameraError struct {
	ID          string  `json:"id"`
	Frame       int     `json:"frame"`
	Position    float64 `json:"position"`     // Euclidean distance after alignment
	RotationDeg float64 `json:"rotation_deg"` // smallest-angle orientation difference, [0,180]
	LookAtDeg   float64 `json:"lookat_deg"`   // non-oriented look-at direction difference
	Outlier     bool    `json:"outlier,omitempty"`
}

// CameraMetrics aggregates camera pose errors for one evaluation run.
// Statistics cover matched cameras only; unmatched entities contribute to the
// completeness denominator.
type CameraMetrics struct {
	Errors []CameraError `json:"errors"`

	Position Summary `json:"position"`
	Rotation Summary `json:"rotation"`
	LookAt   Summary `json:"lookat"`

	TruthCount   int     `json:"truth_count"`
	MatchedCount int     `json:"matched_count"`
	OutlierCount int     `json:"outlier_count"`
	Completeness float64 `json:"completeness"`
}

// EvaluateCameras applies the similarity transform to the matched
// reconstructed cameras and computes per-camera and aggregate errors against
// the ground truth.
func EvaluateCameras(truth, recon []CameraPose, cs *CorrespondenceSet, t SimilarityTransform, cfg MetricConfig) CameraMetrics {
	rotQ := t.RotationQuaternion()

	errs := make([]CameraError, len(cs.Pairs))
	posErrs := make([]float64, len(cs.Pairs))
	for i, pair := range cs.Pairs {
		gt := truth[pair.TruthIdx]
		rc := recon[pair.ReconIdx]

		pos := t.Apply(rc.Position)
		rot := rotQ.Mul(rc.Rotation)
		lookat := rot.Rotate(r3Forward)

		e := CameraError{
			ID:          rc.ID,
			Frame:       rc.Frame,
			Position:    pos.Sub(gt.Position).Norm(),
			RotationDeg: degrees(rot.AngleTo(gt.Rotation)),
			LookAtDeg:   degrees(AngleBetween(lookat, gt.LookAt())),
		}
		errs[i] = e
		posErrs[i] = e.Position
	}

	flags := flagOutliers(posErrs, cfg.OutlierMADScale)
	outliers := 0
	for i, f := range flags {
		errs[i].Outlier = f
		if f {
			outliers++
		}
	}

	var pos, rotD, look []float64
	for i, e := range errs {
		if cfg.Robust && flags[i] {
			continue
		}
		pos = append(pos, e.Position)
		rotD = append(rotD, e.RotationDeg)
		look = append(look, e.LookAtDeg)
	}

	m := CameraMetrics{
		Errors:       errs,
		Position:     Summarize(pos),
		Rotation:     Summarize(rotD),
		LookAt:       Summarize(look),
		TruthCount:   len(truth),
		MatchedCount: len(cs.Pairs),
		OutlierCount: outliers,
	}
	if len(truth) > 0 {
		m.Completeness = float64(len(cs.Pairs)) / float64(len(truth))
	}
	return m
}

// CloudMetrics aggregates point cloud distances against the ground truth
// geometry for one evaluation run.
type CloudMetrics struct {
	Distance Summary `json:"distance"`

	FullSize        int     `json:"full_size"`
	UsedSize        int     `json:"used_size"`
	UsedFraction    float64 `json:"used_fraction"`
	DiscardedPoints int     `json:"discarded_points"`
	OutlierCount    int     `json:"outlier_count"`

	UsedFilteredCloud bool    `json:"used_filtered_cloud"`
	FilterThreshold   float64 `json:"filter_threshold"`
}

// EvaluateCloud transforms the (optionally filtered) reconstructed cloud and
// measures per-point distances to the nearest ground truth point.
func EvaluateCloud(gtIndex *PointIndex, cloud *PointCloud, t SimilarityTransform, useFiltered bool, cfg MetricConfig) CloudMetrics {
	src := cloud.Positions()
	if useFiltered {
		src = cloud.FilteredPositions()
	}

	dists := make([]float64, 0, len(src))
	for _, p := range src {
		if _, d := gtIndex.Nearest(t.Apply(p)); isFinite(d) {
			dists = append(dists, d)
		}
	}

	flags := flagOutliers(dists, cfg.OutlierMADScale)
	outliers := 0
	used := dists
	if cfg.Robust {
		used = used[:0:0]
		for i, d := range dists {
			if flags[i] {
				outliers++
				continue
			}
			used = append(used, d)
		}
	} else {
		for _, f := range flags {
			if f {
				outliers++
			}
		}
	}

	m := CloudMetrics{
		Distance:          Summarize(used),
		FullSize:          cloud.Len(),
		UsedSize:          len(src),
		DiscardedPoints:   cloud.Len() - len(src),
		OutlierCount:      outliers,
		UsedFilteredCloud: useFiltered,
	}
	// Zero means no filter; the cloud threshold is +Inf when unset.
	if useFiltered && isFinite(cloud.FilterThreshold()) {
		m.FilterThreshold = cloud.FilterThreshold()
	}
	if cloud.Len() > 0 {
		m.UsedFraction = float64(len(src)) / float64(cloud.Len())
	}
	return m
}

// r3Forward is the camera viewing axis before rotation.
var r3Forward = r3.Vector{Z: -1}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
