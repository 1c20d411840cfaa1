package tau

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// reportMetrics is the slice of a pipeline report the calibrator reads.
// Missing fields decode to nil, which downstream treats as "not usable".
type reportMetrics struct {
	MadPx   *float64 `json:"mad_px"`
	ScalePx *float64 `json:"scale_px"`
	MadMM   *float64 `json:"mad_mm"`
	ScaleMM *float64 `json:"scale_mm"`
}

type reportDocument struct {
	Metrics *reportMetrics `json:"metrics"`
}

// ratioValue pairs a report path with its raw mad/scale ratio.
type ratioValue struct {
	Path  string
	Ratio float64
}

// CollectReportPaths expands glob patterns into a sorted, de-duplicated
// list of absolute report paths.
func CollectReportPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad report pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			abs, err := filepath.Abs(match)
			if err != nil {
				return nil, fmt.Errorf("resolve report path %q: %w", match, err)
			}
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// loadMetrics reads one report's metrics block; nil when the file is
// unreadable or carries no metrics. Calibration skips such reports rather
// than failing the whole batch.
func loadMetrics(path string) *reportMetrics {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc reportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Metrics
}

func (m *reportMetrics) pair(units string) (mad, scale *float64) {
	if units == "mm" {
		return m.MadMM, m.ScaleMM
	}
	return m.MadPx, m.ScalePx
}

// chooseUnits picks mm when every readable report carries mm metrics and
// the caller prefers them, otherwise px, otherwise mm as a last resort.
func chooseUnits(paths []string, preferMM bool) (string, error) {
	hasMM, hasPx := true, true
	for _, path := range paths {
		metrics := loadMetrics(path)
		if metrics == nil {
			continue
		}
		if metrics.MadMM == nil || metrics.ScaleMM == nil {
			hasMM = false
		}
		if metrics.MadPx == nil || metrics.ScalePx == nil {
			hasPx = false
		}
	}
	if preferMM && hasMM {
		return "mm", nil
	}
	if hasPx {
		return "px", nil
	}
	if hasMM {
		return "mm", nil
	}
	return "", fmt.Errorf("no usable metrics (px/mm) found in report set")
}

func extractRatioValues(paths []string, units string) []ratioValue {
	var out []ratioValue
	for _, path := range paths {
		metrics := loadMetrics(path)
		if metrics == nil {
			continue
		}
		mad, scale := metrics.pair(units)
		if mad == nil || scale == nil {
			continue
		}
		if *mad < 0 || *scale <= 0 {
			continue
		}
		out = append(out, ratioValue{Path: path, Ratio: *mad / *scale})
	}
	return out
}
