// Package calibration recovers the millimeters-per-pixel scale of the
// template capture from the printed ruler, or takes a manual override.
package calibration

import (
	"math"
	"sort"

	"gocv.io/x/gocv"

	"cut-precision/internal/config"
)

// Status values.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
)

// Method values.
const (
	MethodManual = "manual"
	MethodRuler  = "ruler_detection"
)

// Numeric reason codes in Details["reason"] when detection comes up empty.
const (
	reasonNoLines       = 1.0
	reasonNoCandidates  = 2.0
	reasonNonPositivePx = 3.0
)

// Result reports the recovered scale. MMPerPx is nil when Status is
// "missing"; Details carries diagnostic scalars for the report.
type Result struct {
	MMPerPx *float64           `json:"mm_per_px"`
	Status  string             `json:"status"`
	Method  string             `json:"method"`
	Details map[string]float64 `json:"details"`
}

// EstimateMMPerPx measures the ruler drawn on the template. A configured
// manual override wins outright. Otherwise Hough segments of sufficient
// length are split into horizontal and vertical pools by slope, each
// pool's median length estimates the ruler span in pixels, and the median
// of those estimates divides the known physical span.
func EstimateMMPerPx(imageBGR gocv.Mat, cfg config.CalibrationConfig) Result {
	if cfg.ManualMMPerPx != nil {
		v := *cfg.ManualMMPerPx
		return Result{
			MMPerPx: &v,
			Status:  StatusOK,
			Method:  MethodManual,
			Details: map[string]float64{"ruler_mm": cfg.RulerMM},
		}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(imageBGR, &gray, gocv.ColorBGRToGray)
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(cfg.CannyLow), float32(cfg.CannyHigh))

	h, w := gray.Rows(), gray.Cols()
	minLen := float64(maxInt(h, w)) * cfg.RulerMinLineRatio

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, cfg.HoughThreshold, float32(minLen), float32(cfg.HoughMaxGap))
	if lines.Rows() == 0 {
		return missing(reasonNoLines)
	}

	var horiz, vert []float64
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		dx := float64(v[2]) - float64(v[0])
		dy := float64(v[3]) - float64(v[1])
		length := math.Hypot(dx, dy)
		if length < minLen {
			continue
		}
		if math.Abs(dy) <= math.Max(2.0, 0.2*math.Abs(dx)) {
			horiz = append(horiz, length)
		}
		if math.Abs(dx) <= math.Max(2.0, 0.2*math.Abs(dy)) {
			vert = append(vert, length)
		}
	}

	return FromLinePools(horiz, vert, cfg)
}

// FromLinePools finishes the estimate from the classified segment length
// pools. Split out so the aggregation arithmetic is testable without
// synthesizing images.
func FromLinePools(horiz, vert []float64, cfg config.CalibrationConfig) Result {
	var candidates []float64
	if len(horiz) > 0 {
		candidates = append(candidates, median(horiz))
	}
	if len(vert) > 0 {
		candidates = append(candidates, median(vert))
	}
	if len(candidates) == 0 {
		return missing(reasonNoCandidates)
	}

	pxSpan := median(candidates)
	if pxSpan <= 0 {
		return missing(reasonNonPositivePx)
	}

	mmPerPx := cfg.RulerMM / pxSpan
	details := map[string]float64{
		"px_120":       pxSpan,
		"horiz_median": 0,
		"vert_median":  0,
	}
	if len(horiz) > 0 {
		details["horiz_median"] = median(horiz)
	}
	if len(vert) > 0 {
		details["vert_median"] = median(vert)
	}
	return Result{MMPerPx: &mmPerPx, Status: StatusOK, Method: MethodRuler, Details: details}
}

func missing(reason float64) Result {
	return Result{
		Status:  StatusMissing,
		Method:  MethodRuler,
		Details: map[string]float64{"reason": reason},
	}
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
