package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for evaluation parameters.
// All fields are optional; fields omitted from the JSON file fall back to
// their defaults, so partial configs are safe.
type TuningConfig struct {
	// Camera matching params
	MatchByFrameNumber *bool    `json:"match_by_frame_number,omitempty"`
	MatchDistanceMax   *float64 `json:"match_distance_max,omitempty"`
	MinCorrespondences *int     `json:"min_correspondences,omitempty"`

	// Metric params
	OutlierMADScale *float64 `json:"outlier_mad_scale,omitempty"`
	RobustStats     *bool    `json:"robust_stats,omitempty"`

	// Point cloud params
	UseFilteredCloud *bool    `json:"use_filtered_cloud,omitempty"`
	FilterThreshold  *float64 `json:"filter_threshold,omitempty"`

	// ICP refinement params
	ICPRefine        *bool    `json:"icp_refine,omitempty"`
	ICPMaxIterations *int     `json:"icp_max_iterations,omitempty"`
	ICPSamples       *int     `json:"icp_samples,omitempty"`
	ICPConvergence   *float64 `json:"icp_convergence,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its default value.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MatchByFrameNumber: ptrBool(true),
		MatchDistanceMax:   ptrFloat64(0),
		MinCorrespondences: ptrInt(sfm.DefaultMinCorrespondences),
		OutlierMADScale:    ptrFloat64(sfm.DefaultOutlierMADScale),
		RobustStats:        ptrBool(false),
		UseFilteredCloud:   ptrBool(true),
		FilterThreshold:    ptrFloat64(0),
		ICPRefine:          ptrBool(false),
		ICPMaxIterations:   ptrInt(sfm.DefaultICPMaxIterations),
		ICPSamples:         ptrInt(0),
		ICPConvergence:     ptrFloat64(sfm.DefaultICPConvergence),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MatchDistanceMax != nil && *c.MatchDistanceMax < 0 {
		return fmt.Errorf("match_distance_max must be non-negative, got %f", *c.MatchDistanceMax)
	}
	if c.MinCorrespondences != nil && *c.MinCorrespondences < sfm.DefaultMinCorrespondences {
		return fmt.Errorf("min_correspondences must be at least %d, got %d",
			sfm.DefaultMinCorrespondences, *c.MinCorrespondences)
	}
	if c.OutlierMADScale != nil && *c.OutlierMADScale <= 0 {
		return fmt.Errorf("outlier_mad_scale must be positive, got %f", *c.OutlierMADScale)
	}
	if c.FilterThreshold != nil && *c.FilterThreshold < 0 {
		return fmt.Errorf("filter_threshold must be non-negative, got %f", *c.FilterThreshold)
	}
	if c.ICPMaxIterations != nil && *c.ICPMaxIterations < 1 {
		return fmt.Errorf("icp_max_iterations must be at least 1, got %d", *c.ICPMaxIterations)
	}
	if c.ICPSamples != nil && *c.ICPSamples < 0 {
		return fmt.Errorf("icp_samples must be non-negative, got %d", *c.ICPSamples)
	}
	if c.ICPConvergence != nil && *c.ICPConvergence <= 0 {
		return fmt.Errorf("icp_convergence must be positive, got %f", *c.ICPConvergence)
	}
	return nil
}

// GetMatchByFrameNumber returns the match_by_frame_number value or the default.
func (c *TuningConfig) GetMatchByFrameNumber() bool {
	if c.MatchByFrameNumber == nil {
		return true // default
	}
	return *c.MatchByFrameNumber
}

// GetMatchDistanceMax returns the match_distance_max value or the default.
// Zero disables the distance gate.
func (c *TuningConfig) GetMatchDistanceMax() float64 {
	if c.MatchDistanceMax == nil {
		return 0
	}
	return *c.MatchDistanceMax
}

// GetMinCorrespondences returns the min_correspondences value or the default.
func (c *TuningConfig) GetMinCorrespondences() int {
	if c.MinCorrespondences == nil {
		return sfm.DefaultMinCorrespondences
	}
	return *c.MinCorrespondences
}

// GetOutlierMADScale returns the outlier_mad_scale value or the default.
func (c *TuningConfig) GetOutlierMADScale() float64 {
	if c.OutlierMADScale == nil {
		return sfm.DefaultOutlierMADScale
	}
	return *c.OutlierMADScale
}

// GetRobustStats returns the robust_stats value or the default.
func (c *TuningConfig) GetRobustStats() bool {
	if c.RobustStats == nil {
		return false
	}
	return *c.RobustStats
}

// GetUseFilteredCloud returns the use_filtered_cloud value or the default.
func (c *TuningConfig) GetUseFilteredCloud() bool {
	if c.UseFilteredCloud == nil {
		return true
	}
	return *c.UseFilteredCloud
}

// GetFilterThreshold returns the filter_threshold value or the default.
// Zero disables point cloud filtering.
func (c *TuningConfig) GetFilterThreshold() float64 {
	if c.FilterThreshold == nil {
		return 0
	}
	return *c.FilterThreshold
}

// GetICPRefine returns the icp_refine value or the default.
func (c *TuningConfig) GetICPRefine() bool {
	if c.ICPRefine == nil {
		return false
	}
	return *c.ICPRefine
}

// GetICPMaxIterations returns the icp_max_iterations value or the default.
func (c *TuningConfig) GetICPMaxIterations() int {
	if c.ICPMaxIterations == nil {
		return sfm.DefaultICPMaxIterations
	}
	return *c.ICPMaxIterations
}

// GetICPSamples returns the icp_samples value or the default.
// Zero uses every point.
func (c *TuningConfig) GetICPSamples() int {
	if c.ICPSamples == nil {
		return 0
	}
	return *c.ICPSamples
}

// GetICPConvergence returns the icp_convergence value or the default.
func (c *TuningConfig) GetICPConvergence() float64 {
	if c.ICPConvergence == nil {
		return sfm.DefaultICPConvergence
	}
	return *c.ICPConvergence
}

// PipelineConfig converts the tuning values into an evaluation pipeline
// configuration.
func (c *TuningConfig) PipelineConfig() sfm.PipelineConfig {
	cfg := sfm.DefaultPipelineConfig()
	cfg.Matcher.UseIdentifiers = c.GetMatchByFrameNumber()
	cfg.Matcher.DistanceThreshold = c.GetMatchDistanceMax()
	cfg.Matcher.MinCorrespondences = c.GetMinCorrespondences()
	cfg.Metrics.OutlierMADScale = c.GetOutlierMADScale()
	cfg.Metrics.Robust = c.GetRobustStats()
	cfg.UseFilteredCloud = c.GetUseFilteredCloud()
	cfg.FilterThreshold = c.GetFilterThreshold()
	cfg.RefineWithICP = c.GetICPRefine()
	cfg.ICP.MaxIterations = c.GetICPMaxIterations()
	cfg.ICP.Samples = c.GetICPSamples()
	cfg.ICP.Convergence = c.GetICPConvergence()
	return cfg
}

// ParamsJSON renders the effective parameter set (defaults overlaid with any
// explicit values) as a JSON blob for persistence alongside run results.
func (c *TuningConfig) ParamsJSON() (string, error) {
	full := DefaultTuningConfig()
	full.MatchByFrameNumber = ptrBool(c.GetMatchByFrameNumber())
	full.MatchDistanceMax = ptrFloat64(c.GetMatchDistanceMax())
	full.MinCorrespondences = ptrInt(c.GetMinCorrespondences())
	full.OutlierMADScale = ptrFloat64(c.GetOutlierMADScale())
	full.RobustStats = ptrBool(c.GetRobustStats())
	full.UseFilteredCloud = ptrBool(c.GetUseFilteredCloud())
	full.FilterThreshold = ptrFloat64(c.GetFilterThreshold())
	full.ICPRefine = ptrBool(c.GetICPRefine())
	full.ICPMaxIterations = ptrInt(c.GetICPMaxIterations())
	full.ICPSamples = ptrInt(c.GetICPSamples())
	full.ICPConvergence = ptrFloat64(c.GetICPConvergence())
	data, err := json.Marshal(full)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}
