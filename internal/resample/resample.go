// Package resample converts closed contours into arc-length-uniform point
// sequences.
package resample

import (
	"fmt"
	"math"

	"cut-precision/pkg/geometry"
)

const minResamplePoints = 8

// EnsureClosed appends the first point to the end of the sequence when the
// contour is not already closed. The input slice is never mutated.
func EnsureClosed(points []geometry.Point2D) []geometry.Point2D {
	if len(points) == 0 {
		return points
	}
	first, last := points[0], points[len(points)-1]
	if math.Abs(first.X-last.X) < 1e-9 && math.Abs(first.Y-last.Y) < 1e-9 {
		return points
	}
	out := make([]geometry.Point2D, len(points)+1)
	copy(out, points)
	out[len(points)] = first
	return out
}

// Options controls the resampling density. When NumPoints is set it wins
// over StepPx; otherwise the point count is ceil(perimeter/StepPx) with a
// floor of 8. MaxPoints caps the count either way; zero means uncapped.
type Options struct {
	StepPx    float64
	NumPoints int
	MaxPoints int
}

// ClosedContour resamples a closed polygon boundary to an approximately
// arc-length-uniform point sequence. Sample positions are evenly spaced on
// [0, perimeter) so the first output point coincides with the first input
// point and the last sample does not duplicate it.
func ClosedContour(points []geometry.Point2D, opts Options) ([]geometry.Point2D, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("contour needs at least 3 points, got %d", len(points))
	}

	closed := EnsureClosed(points)
	nSeg := len(closed) - 1
	segLen := make([]float64, nSeg)
	arc := make([]float64, nSeg+1)
	for i := 0; i < nSeg; i++ {
		segLen[i] = closed[i+1].Distance(closed[i])
		arc[i+1] = arc[i] + segLen[i]
	}
	total := arc[nSeg]
	if total <= 0 {
		return nil, fmt.Errorf("contour has zero perimeter")
	}

	num := opts.NumPoints
	if num <= 0 {
		if opts.StepPx <= 0 {
			return nil, fmt.Errorf("provide either step_px or num_points")
		}
		num = int(math.Ceil(total / opts.StepPx))
		if num < minResamplePoints {
			num = minResamplePoints
		}
	}
	if opts.MaxPoints > 0 && num > opts.MaxPoints {
		num = opts.MaxPoints
	}

	out := make([]geometry.Point2D, num)
	seg := 0
	for i := 0; i < num; i++ {
		target := total * float64(i) / float64(num)
		for seg < nSeg-1 && arc[seg+1] <= target {
			seg++
		}
		denom := segLen[seg]
		if denom == 0 {
			denom = 1
		}
		t := (target - arc[seg]) / denom
		start := closed[seg]
		delta := closed[seg+1].Sub(start)
		out[i] = start.Add(delta.Scale(t))
	}
	return out, nil
}

// Perimeter returns the closed arc length of a contour.
func Perimeter(points []geometry.Point2D) float64 {
	closed := EnsureClosed(points)
	var total float64
	for i := 1; i < len(closed); i++ {
		total += closed[i].Distance(closed[i-1])
	}
	return total
}
