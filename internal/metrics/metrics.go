// Package metrics aggregates boundary-error distributions into summary
// statistics and the normalized Index of Precision (IPN).
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary holds the distance-distribution statistics for one direction.
// MAD is the mean absolute distance: an arithmetic mean, not a median.
// The name is kept for report-key compatibility.
type Summary struct {
	MAD      float64
	Std      float64
	P95      float64
	MaxError float64
}

// Diagnostics holds bidirectional contour-distance diagnostics.
type Diagnostics struct {
	MADRealToIdeal   float64
	MADIdealToReal   float64
	BidirectionalMAD float64
	Hausdorff        float64
}

// ComputeStatistics summarizes a distance array. An empty array is an
// upstream contract violation and fails rather than returning zeros.
func ComputeStatistics(distances []float64) (Summary, error) {
	if len(distances) == 0 {
		return Summary{}, fmt.Errorf("distance array is empty")
	}

	mean := stat.Mean(distances, nil)
	// Population standard deviation (second central moment).
	variance := stat.MomentAbout(2, distances, mean, nil)

	sorted := make([]float64, len(distances))
	copy(sorted, distances)
	sort.Float64s(sorted)

	return Summary{
		MAD:      mean,
		Std:      math.Sqrt(variance),
		P95:      percentile(sorted, 95),
		MaxError: sorted[len(sorted)-1],
	}, nil
}

// percentile computes a linearly-interpolated percentile over a sorted
// array, matching the numeric convention of the historical reports.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeIPN converts a mean boundary error into the 0-100 precision
// score. The tolerance band is tau times the reference scale (the ideal
// contour's bounding-box diagonal). Fails on non-positive scale or tau:
// those indicate malformed geometry or configuration.
func ComputeIPN(mad, scale, tau, clampLow, clampHigh float64) (ipn, tolerance float64, err error) {
	if scale <= 0 {
		return 0, 0, fmt.Errorf("scale must be positive, got %g", scale)
	}
	if tau <= 0 {
		return 0, 0, fmt.Errorf("tau must be positive, got %g", tau)
	}
	tolerance = tau * scale
	raw := 100 * (1 - mad/tolerance)
	return math.Min(clampHigh, math.Max(clampLow, raw)), tolerance, nil
}

// ToMM converts pixel distances into millimeters. A nil calibration factor
// yields nil: missing calibration propagates as absence, never as a
// fabricated value.
func ToMM(valuesPx []float64, mmPerPx *float64) []float64 {
	if mmPerPx == nil {
		return nil
	}
	out := make([]float64, len(valuesPx))
	for i, v := range valuesPx {
		out[i] = v * *mmPerPx
	}
	return out
}

// ComputeBidirectionalDiagnostics combines the two directed distance
// distributions into the bidirectional MAD and Hausdorff distance.
func ComputeBidirectionalDiagnostics(realToIdeal, idealToReal []float64) (Diagnostics, error) {
	if len(realToIdeal) == 0 || len(idealToReal) == 0 {
		return Diagnostics{}, fmt.Errorf("diagnostic arrays must be non-empty")
	}

	madR2I := stat.Mean(realToIdeal, nil)
	madI2R := stat.Mean(idealToReal, nil)
	return Diagnostics{
		MADRealToIdeal:   madR2I,
		MADIdealToReal:   madI2R,
		BidirectionalMAD: 0.5 * (madR2I + madI2R),
		Hausdorff:        math.Max(maxOf(realToIdeal), maxOf(idealToReal)),
	}, nil
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
