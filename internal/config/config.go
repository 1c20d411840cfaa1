// Package config holds the validated pipeline configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExtractionConfig tunes the ideal and real contour extractors.
type ExtractionConfig struct {
	IdealAdaptiveBlockSize    int     `json:"ideal_adaptive_block_size" yaml:"ideal_adaptive_block_size"`
	IdealAdaptiveC            int     `json:"ideal_adaptive_c" yaml:"ideal_adaptive_c"`
	IdealCloseKernel          int     `json:"ideal_close_kernel" yaml:"ideal_close_kernel"`
	IdealDilateKernel         int     `json:"ideal_dilate_kernel" yaml:"ideal_dilate_kernel"`
	IdealMinAreaRatio         float64 `json:"ideal_min_area_ratio" yaml:"ideal_min_area_ratio"`
	LineRemovalMinLengthRatio float64 `json:"line_removal_min_length_ratio" yaml:"line_removal_min_length_ratio"`
	LineRemovalThickness      int     `json:"line_removal_thickness" yaml:"line_removal_thickness"`
	RealLabLThreshold         int     `json:"real_lab_l_threshold" yaml:"real_lab_l_threshold"`
	RealHSVVThreshold         int     `json:"real_hsv_v_threshold" yaml:"real_hsv_v_threshold"`
	RealCloseKernel           int     `json:"real_close_kernel" yaml:"real_close_kernel"`
	RealOpenKernel            int     `json:"real_open_kernel" yaml:"real_open_kernel"`
}

// RegistrationConfig tunes the three registration methods.
type RegistrationConfig struct {
	ORBNFeatures            int     `json:"orb_nfeatures" yaml:"orb_nfeatures"`
	KNNRatio                float64 `json:"knn_ratio" yaml:"knn_ratio"`
	RANSACReprojThreshold   float64 `json:"ransac_reproj_threshold" yaml:"ransac_reproj_threshold"`
	MinMatches              int     `json:"min_matches" yaml:"min_matches"`
	MinInlierRatio          float64 `json:"min_inlier_ratio" yaml:"min_inlier_ratio"`
	UseAxesFallback         bool    `json:"use_axes_fallback" yaml:"use_axes_fallback"`
	AxesCannyLow            int     `json:"axes_canny_low" yaml:"axes_canny_low"`
	AxesCannyHigh           int     `json:"axes_canny_high" yaml:"axes_canny_high"`
	AxesHoughThreshold      int     `json:"axes_hough_threshold" yaml:"axes_hough_threshold"`
	AxesSegmentMinLineRatio float64 `json:"axes_segment_min_line_ratio" yaml:"axes_segment_min_line_ratio"`
	AxesMaxLineGap          int     `json:"axes_max_line_gap" yaml:"axes_max_line_gap"`
	AxesAngleToleranceDeg   float64 `json:"axes_angle_tolerance_deg" yaml:"axes_angle_tolerance_deg"`
	AxesHorizontalROIMinY   float64 `json:"axes_horizontal_roi_min_y_ratio" yaml:"axes_horizontal_roi_min_y_ratio"`
	AxesVerticalROIMaxX     float64 `json:"axes_vertical_roi_max_x_ratio" yaml:"axes_vertical_roi_max_x_ratio"`
	UseECCFallback          bool    `json:"use_ecc_fallback" yaml:"use_ecc_fallback"`
	ECCMotion               string  `json:"ecc_motion" yaml:"ecc_motion"`
	ECCIterations           int     `json:"ecc_iterations" yaml:"ecc_iterations"`
	ECCEps                  float64 `json:"ecc_eps" yaml:"ecc_eps"`
}

// CalibrationConfig tunes the ruler-based mm-per-px estimator.
type CalibrationConfig struct {
	ManualMMPerPx     *float64 `json:"manual_mm_per_px" yaml:"manual_mm_per_px"`
	RulerMM           float64  `json:"ruler_mm" yaml:"ruler_mm"`
	CannyLow          int      `json:"canny_low" yaml:"canny_low"`
	CannyHigh         int      `json:"canny_high" yaml:"canny_high"`
	HoughThreshold    int      `json:"hough_threshold" yaml:"hough_threshold"`
	HoughMaxGap       int      `json:"hough_max_gap" yaml:"hough_max_gap"`
	RulerMinLineRatio float64  `json:"ruler_min_line_ratio" yaml:"ruler_min_line_ratio"`
}

// DistanceConfig tunes the raster distance transform and its cross-check.
type DistanceConfig struct {
	DrawThickness         int     `json:"draw_thickness" yaml:"draw_thickness"`
	UseBilinear           bool    `json:"use_bilinear" yaml:"use_bilinear"`
	ValidateWithTree      bool    `json:"validate_with_tree" yaml:"validate_with_tree"`
	ValidationTolerancePx float64 `json:"validation_tolerance_px" yaml:"validation_tolerance_px"`
}

// MetricsConfig holds the IPN scoring parameters.
type MetricsConfig struct {
	Tau       float64 `json:"tau" yaml:"tau"`
	ClampLow  float64 `json:"clamp_low" yaml:"clamp_low"`
	ClampHigh float64 `json:"clamp_high" yaml:"clamp_high"`
}

// SamplingConfig controls contour resampling density.
type SamplingConfig struct {
	StepPx    float64 `json:"step_px" yaml:"step_px"`
	NumPoints *int    `json:"num_points" yaml:"num_points"`
	MaxPoints int     `json:"max_points" yaml:"max_points"`
}

// AppConfig is the full configuration snapshot for one pipeline run.
type AppConfig struct {
	Extraction   ExtractionConfig   `json:"extraction" yaml:"extraction"`
	Registration RegistrationConfig `json:"registration" yaml:"registration"`
	Calibration  CalibrationConfig  `json:"calibration" yaml:"calibration"`
	Distance     DistanceConfig     `json:"distance" yaml:"distance"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Sampling     SamplingConfig     `json:"sampling" yaml:"sampling"`
}

// Default returns the configuration with every field at its tuned default.
func Default() AppConfig {
	return AppConfig{
		Extraction: ExtractionConfig{
			IdealAdaptiveBlockSize:    35,
			IdealAdaptiveC:            7,
			IdealCloseKernel:          5,
			IdealDilateKernel:         3,
			IdealMinAreaRatio:         0.001,
			LineRemovalMinLengthRatio: 0.3,
			LineRemovalThickness:      3,
			RealLabLThreshold:         95,
			RealHSVVThreshold:         90,
			RealCloseKernel:           5,
			RealOpenKernel:            3,
		},
		Registration: RegistrationConfig{
			ORBNFeatures:            3000,
			KNNRatio:                0.75,
			RANSACReprojThreshold:   3.0,
			MinMatches:              20,
			MinInlierRatio:          0.2,
			UseAxesFallback:         true,
			AxesCannyLow:            50,
			AxesCannyHigh:           150,
			AxesHoughThreshold:      120,
			AxesSegmentMinLineRatio: 0.05,
			AxesMaxLineGap:          15,
			AxesAngleToleranceDeg:   20.0,
			AxesHorizontalROIMinY:   0.65,
			AxesVerticalROIMaxX:     0.35,
			UseECCFallback:          true,
			ECCMotion:               "affine",
			ECCIterations:           1500,
			ECCEps:                  1e-6,
		},
		Calibration: CalibrationConfig{
			RulerMM:           120.0,
			CannyLow:          50,
			CannyHigh:         150,
			HoughThreshold:    80,
			HoughMaxGap:       10,
			RulerMinLineRatio: 0.2,
		},
		Distance: DistanceConfig{
			DrawThickness:         1,
			UseBilinear:           true,
			ValidateWithTree:      true,
			ValidationTolerancePx: 1.5,
		},
		Metrics: MetricsConfig{
			Tau:       0.02,
			ClampLow:  0.0,
			ClampHigh: 100.0,
		},
		Sampling: SamplingConfig{
			StepPx:    1.5,
			MaxPoints: 20000,
		},
	}
}

// ECCMotionModes lists the accepted registration.ecc_motion values.
var ECCMotionModes = []string{"translation", "euclidean", "affine", "homography"}

// Load reads a JSON or YAML config file and merges it over the defaults.
// An empty path returns the validated defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	// Unmarshalling over the defaults keeps absent fields at their
	// default values, matching the original deep-merge semantics.
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return AppConfig{}, fmt.Errorf("unsupported config extension: %s", ext)
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks every field and fails with a field-qualified message on
// the first violation. A partially-validated config is never returned to
// callers.
func (c AppConfig) Validate() error {
	e := c.Extraction
	if e.IdealAdaptiveBlockSize < 3 || e.IdealAdaptiveBlockSize%2 == 0 {
		return fmt.Errorf("extraction.ideal_adaptive_block_size must be odd and >= 3, got %d", e.IdealAdaptiveBlockSize)
	}
	if e.IdealCloseKernel < 1 {
		return fmt.Errorf("extraction.ideal_close_kernel must be >= 1, got %d", e.IdealCloseKernel)
	}
	if e.IdealDilateKernel < 1 {
		return fmt.Errorf("extraction.ideal_dilate_kernel must be >= 1, got %d", e.IdealDilateKernel)
	}
	if e.IdealMinAreaRatio < 0 || e.IdealMinAreaRatio >= 1 {
		return fmt.Errorf("extraction.ideal_min_area_ratio must be in [0, 1), got %g", e.IdealMinAreaRatio)
	}
	if e.LineRemovalMinLengthRatio <= 0 || e.LineRemovalMinLengthRatio > 1 {
		return fmt.Errorf("extraction.line_removal_min_length_ratio must be in (0, 1], got %g", e.LineRemovalMinLengthRatio)
	}
	if e.LineRemovalThickness < 1 {
		return fmt.Errorf("extraction.line_removal_thickness must be >= 1, got %d", e.LineRemovalThickness)
	}
	if e.RealLabLThreshold < 0 || e.RealLabLThreshold > 255 {
		return fmt.Errorf("extraction.real_lab_l_threshold must be in [0, 255], got %d", e.RealLabLThreshold)
	}
	if e.RealHSVVThreshold < 0 || e.RealHSVVThreshold > 255 {
		return fmt.Errorf("extraction.real_hsv_v_threshold must be in [0, 255], got %d", e.RealHSVVThreshold)
	}
	if e.RealCloseKernel < 1 {
		return fmt.Errorf("extraction.real_close_kernel must be >= 1, got %d", e.RealCloseKernel)
	}
	if e.RealOpenKernel < 1 {
		return fmt.Errorf("extraction.real_open_kernel must be >= 1, got %d", e.RealOpenKernel)
	}

	r := c.Registration
	if r.ORBNFeatures < 1 {
		return fmt.Errorf("registration.orb_nfeatures must be >= 1, got %d", r.ORBNFeatures)
	}
	if r.KNNRatio <= 0 || r.KNNRatio > 1 {
		return fmt.Errorf("registration.knn_ratio must be in (0, 1], got %g", r.KNNRatio)
	}
	if r.RANSACReprojThreshold <= 0 {
		return fmt.Errorf("registration.ransac_reproj_threshold must be > 0, got %g", r.RANSACReprojThreshold)
	}
	if r.MinMatches < 4 {
		return fmt.Errorf("registration.min_matches must be >= 4, got %d", r.MinMatches)
	}
	if r.MinInlierRatio < 0 || r.MinInlierRatio > 1 {
		return fmt.Errorf("registration.min_inlier_ratio must be in [0, 1], got %g", r.MinInlierRatio)
	}
	if r.AxesCannyLow >= r.AxesCannyHigh {
		return fmt.Errorf("registration.axes_canny_low must be below axes_canny_high, got %d >= %d", r.AxesCannyLow, r.AxesCannyHigh)
	}
	if r.AxesHoughThreshold < 1 {
		return fmt.Errorf("registration.axes_hough_threshold must be >= 1, got %d", r.AxesHoughThreshold)
	}
	if r.AxesSegmentMinLineRatio <= 0 || r.AxesSegmentMinLineRatio > 1 {
		return fmt.Errorf("registration.axes_segment_min_line_ratio must be in (0, 1], got %g", r.AxesSegmentMinLineRatio)
	}
	if r.AxesAngleToleranceDeg <= 0 || r.AxesAngleToleranceDeg >= 45 {
		return fmt.Errorf("registration.axes_angle_tolerance_deg must be in (0, 45), got %g", r.AxesAngleToleranceDeg)
	}
	if r.AxesHorizontalROIMinY < 0 || r.AxesHorizontalROIMinY >= 1 {
		return fmt.Errorf("registration.axes_horizontal_roi_min_y_ratio must be in [0, 1), got %g", r.AxesHorizontalROIMinY)
	}
	if r.AxesVerticalROIMaxX <= 0 || r.AxesVerticalROIMaxX > 1 {
		return fmt.Errorf("registration.axes_vertical_roi_max_x_ratio must be in (0, 1], got %g", r.AxesVerticalROIMaxX)
	}
	if !validECCMotion(r.ECCMotion) {
		return fmt.Errorf("registration.ecc_motion must be one of %v, got %q", ECCMotionModes, r.ECCMotion)
	}
	if r.ECCIterations < 1 {
		return fmt.Errorf("registration.ecc_iterations must be >= 1, got %d", r.ECCIterations)
	}
	if r.ECCEps <= 0 {
		return fmt.Errorf("registration.ecc_eps must be > 0, got %g", r.ECCEps)
	}

	cal := c.Calibration
	if cal.ManualMMPerPx != nil && *cal.ManualMMPerPx <= 0 {
		return fmt.Errorf("calibration.manual_mm_per_px must be > 0, got %g", *cal.ManualMMPerPx)
	}
	if cal.RulerMM <= 0 {
		return fmt.Errorf("calibration.ruler_mm must be > 0, got %g", cal.RulerMM)
	}
	if cal.CannyLow >= cal.CannyHigh {
		return fmt.Errorf("calibration.canny_low must be below canny_high, got %d >= %d", cal.CannyLow, cal.CannyHigh)
	}
	if cal.RulerMinLineRatio <= 0 || cal.RulerMinLineRatio > 1 {
		return fmt.Errorf("calibration.ruler_min_line_ratio must be in (0, 1], got %g", cal.RulerMinLineRatio)
	}

	d := c.Distance
	if d.DrawThickness < 1 {
		return fmt.Errorf("distance.draw_thickness must be >= 1, got %d", d.DrawThickness)
	}
	if d.ValidationTolerancePx <= 0 {
		return fmt.Errorf("distance.validation_tolerance_px must be > 0, got %g", d.ValidationTolerancePx)
	}

	m := c.Metrics
	if m.Tau <= 0 {
		return fmt.Errorf("metrics.tau must be > 0, got %g", m.Tau)
	}
	if m.ClampLow >= m.ClampHigh {
		return fmt.Errorf("metrics.clamp_low must be below clamp_high, got %g >= %g", m.ClampLow, m.ClampHigh)
	}

	s := c.Sampling
	if s.NumPoints != nil {
		if *s.NumPoints < 8 {
			return fmt.Errorf("sampling.num_points must be >= 8, got %d", *s.NumPoints)
		}
	} else if s.StepPx <= 0 {
		return fmt.Errorf("sampling.step_px must be > 0, got %g", s.StepPx)
	}
	if s.MaxPoints < 8 {
		return fmt.Errorf("sampling.max_points must be >= 8, got %d", s.MaxPoints)
	}

	return nil
}

func validECCMotion(name string) bool {
	for _, mode := range ECCMotionModes {
		if name == mode {
			return true
		}
	}
	return false
}
