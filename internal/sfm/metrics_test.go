package sfm

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4})

	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, 2.5, s.Median, 1e-12)
	assert.InDelta(t, 1.0, s.Min, 1e-12)
	assert.InDelta(t, 4.0, s.Max, 1e-12)
	assert.InDelta(t, math.Sqrt(30.0/4), s.RMS, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.Mean)
}

func TestSummarizeSingleValue(t *testing.T) {
	s := Summarize([]float64{2})
	assert.Equal(t, 1, s.Count)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.Zero(t, s.StdDev)
}

func TestFlagOutliers(t *testing.T) {
	// 9 tight values and one far, with the default MAD scale.
	values := []float64{1, 1.1, 0.9, 1.05, 0.95, 1, 1.02, 0.98, 1.01, 50}
	flags := flagOutliers(values, DefaultOutlierMADScale)

	require.Len(t, flags, len(values))
	for i := 0; i < 9; i++ {
		assert.False(t, flags[i], "value %d flagged", i)
	}
	assert.True(t, flags[9], "extreme value not flagged")
}

func TestFlagOutliersZeroSpread(t *testing.T) {
	// Identical values have zero MAD; nothing may be flagged.
	flags := flagOutliers([]float64{2, 2, 2, 2}, DefaultOutlierMADScale)
	for i, f := range flags {
		assert.False(t, f, "value %d flagged", i)
	}
}

func evaluationFixture() (truth, recon []CameraPose, cs *CorrespondenceSet) {
	truth = []CameraPose{
		poseAt(1, 0, 0, 0),
		poseAt(2, 10, 0, 0),
		poseAt(3, 20, 0, 0),
		poseAt(4, 30, 0, 0),
		poseAt(5, 40, 0, 0),
	}
	recon = append([]CameraPose(nil), truth[:4]...) // camera 5 not reconstructed
	cs = &CorrespondenceSet{
		Pairs: []Correspondence{
			{ReconIdx: 0, TruthIdx: 0},
			{ReconIdx: 1, TruthIdx: 1},
			{ReconIdx: 2, TruthIdx: 2},
			{ReconIdx: 3, TruthIdx: 3},
		},
		UnmatchedTruth: []int{4},
	}
	return truth, recon, cs
}

func TestEvaluateCamerasIdentity(t *testing.T) {
	truth, recon, cs := evaluationFixture()

	m := EvaluateCameras(truth, recon, cs, IdentityTransform(), DefaultMetricConfig())

	assert.Equal(t, 5, m.TruthCount)
	assert.Equal(t, 4, m.MatchedCount)
	assert.InDelta(t, 0.8, m.Completeness, 1e-12)
	assert.Equal(t, 0, m.OutlierCount)
	for _, e := range m.Errors {
		assert.InDelta(t, 0, e.Position, 1e-9)
		assert.InDelta(t, 0, e.RotationDeg, 1e-6)
		assert.InDelta(t, 0, e.LookAtDeg, 1e-6)
	}
	assert.InDelta(t, 0, m.Position.Mean, 1e-9)
}

func TestEvaluateCamerasPositionError(t *testing.T) {
	truth, recon, cs := evaluationFixture()
	// Displace one reconstructed camera by 2 units.
	recon[2].Position = recon[2].Position.Add(r3.Vector{Y: 2})

	m := EvaluateCameras(truth, recon, cs, IdentityTransform(), DefaultMetricConfig())

	assert.InDelta(t, 2.0, m.Errors[2].Position, 1e-9)
	assert.InDelta(t, 0.5, m.Position.Mean, 1e-9)
	assert.InDelta(t, 2.0, m.Position.Max, 1e-9)
}

func TestEvaluateCamerasRotationError(t *testing.T) {
	truth, recon, cs := evaluationFixture()
	// Rotate one reconstructed camera 10 degrees about Z.
	recon[1].Rotation = quatZ(10 * math.Pi / 180)

	m := EvaluateCameras(truth, recon, cs, IdentityTransform(), DefaultMetricConfig())

	assert.InDelta(t, 10.0, m.Errors[1].RotationDeg, 1e-6)
	// The look-at axis is -Z; rotation about Z leaves it unchanged.
	assert.InDelta(t, 0.0, m.Errors[1].LookAtDeg, 1e-6)
}

func TestEvaluateCamerasRobustExcludesOutliers(t *testing.T) {
	truth := make([]CameraPose, 12)
	recon := make([]CameraPose, 12)
	cs := &CorrespondenceSet{}
	var inlierSum float64
	for i := range truth {
		truth[i] = poseAt(i+1, float64(i*10), 0, 0)
		recon[i] = truth[i]
		// Small, varied displacements so the MAD is non-zero.
		displacement := 0.01 + 0.001*float64(i)
		recon[i].Position = recon[i].Position.Add(r3.Vector{Y: displacement})
		cs.Pairs = append(cs.Pairs, Correspondence{ReconIdx: i, TruthIdx: i})
		if i != 7 {
			inlierSum += displacement
		}
	}
	// One gross outlier.
	recon[7].Position = truth[7].Position.Add(r3.Vector{Z: 100})

	cfg := DefaultMetricConfig()
	m := EvaluateCameras(truth, recon, cs, IdentityTransform(), cfg)
	require.Equal(t, 1, m.OutlierCount)
	assert.True(t, m.Errors[7].Outlier)
	assert.Greater(t, m.Position.Mean, 1.0, "non-robust mean should absorb the outlier")

	cfg.Robust = true
	robust := EvaluateCameras(truth, recon, cs, IdentityTransform(), cfg)
	assert.Equal(t, 1, robust.OutlierCount)
	assert.InDelta(t, inlierSum/11, robust.Position.Mean, 1e-9)
	// Per-camera errors are retained even in robust mode.
	assert.Len(t, robust.Errors, 12)
}

func TestEvaluateCamerasAppliesTransform(t *testing.T) {
	truth, recon, cs := evaluationFixture()
	// Shift the whole reconstruction; the matching transform must cancel it.
	shift := SimilarityTransform{
		Scale:       1,
		Rotation:    IdentityTransform().Rotation,
		Translation: r3.Vector{X: -3},
	}
	for i := range recon {
		recon[i].Position = recon[i].Position.Add(r3.Vector{X: 3})
	}

	m := EvaluateCameras(truth, recon, cs, shift, DefaultMetricConfig())
	assert.InDelta(t, 0, m.Position.Mean, 1e-9)
}

func TestEvaluateCloud(t *testing.T) {
	gtIndex := NewPointIndex([]r3.Vector{
		{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4},
	})
	cloud := NewPointCloud([]PointSample{
		{Position: r3.Vector{X: 0.1}},
		{Position: r3.Vector{X: 1.1}},
		{Position: r3.Vector{X: 2.1}},
		{Position: r3.Vector{X: 3.1}},
	})

	m := EvaluateCloud(gtIndex, cloud, IdentityTransform(), false, DefaultMetricConfig())

	assert.Equal(t, 4, m.FullSize)
	assert.Equal(t, 4, m.UsedSize)
	assert.InDelta(t, 1.0, m.UsedFraction, 1e-12)
	assert.InDelta(t, 0.1, m.Distance.Mean, 1e-9)
	assert.Equal(t, 4, m.Distance.Count)
	assert.False(t, m.UsedFilteredCloud)
}

func TestEvaluateCloudFiltered(t *testing.T) {
	gtIndex := NewPointIndex([]r3.Vector{
		{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4},
	})
	cloud := NewPointCloud([]PointSample{
		{Position: r3.Vector{X: 0.05}},
		{Position: r3.Vector{X: 1.05}},
		{Position: r3.Vector{X: 2.05}},
		{Position: r3.Vector{X: 80}}, // filtered out
	})
	cloud.Filter(gtIndex, 0.5)

	m := EvaluateCloud(gtIndex, cloud, IdentityTransform(), true, DefaultMetricConfig())

	assert.Equal(t, 4, m.FullSize)
	assert.Equal(t, 3, m.UsedSize)
	assert.Equal(t, 1, m.DiscardedPoints)
	assert.InDelta(t, 0.75, m.UsedFraction, 1e-12)
	assert.True(t, m.UsedFilteredCloud)
	assert.InDelta(t, 0.5, m.FilterThreshold, 1e-12)
	assert.InDelta(t, 0.05, m.Distance.Mean, 1e-9)
}
