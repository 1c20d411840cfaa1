// Package distance measures per-point boundary error two independent
// ways: a rasterized distance transform and exact nearest-neighbor
// queries over the resampled ideal contour.
package distance

import (
	"fmt"
	"math"

	"cut-precision/pkg/geometry"
)

// Field is a dense per-pixel distance map in row-major order. Each cell
// holds the Euclidean distance to the nearest ideal-boundary pixel.
type Field struct {
	Width  int
	Height int
	Data   []float32
}

// At returns the cell value with coordinates clamped to the field bounds.
func (f *Field) At(x, y int) float64 {
	x = clampInt(x, 0, f.Width-1)
	y = clampInt(y, 0, f.Height-1)
	return float64(f.Data[y*f.Width+x])
}

// SampleBilinear samples the field at each point using bilinear
// interpolation between the four surrounding cells.
func (f *Field) SampleBilinear(points []geometry.Point2D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		x := clampFloat(p.X, 0, float64(f.Width-1))
		y := clampFloat(p.Y, 0, float64(f.Height-1))

		x0 := int(math.Floor(x))
		y0 := int(math.Floor(y))
		x1 := clampInt(x0+1, 0, f.Width-1)
		y1 := clampInt(y0+1, 0, f.Height-1)

		wx := x - float64(x0)
		wy := y - float64(y0)

		top := (1-wx)*f.At(x0, y0) + wx*f.At(x1, y0)
		bottom := (1-wx)*f.At(x0, y1) + wx*f.At(x1, y1)
		out[i] = (1-wy)*top + wy*bottom
	}
	return out
}

// SampleNearest samples the field at each point's nearest pixel.
func (f *Field) SampleNearest(points []geometry.Point2D) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = f.At(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out
}

// Validation is the outcome of cross-checking the raster and
// nearest-neighbor distance methods.
type Validation struct {
	Status         string
	MeanAbsDeltaPx *float64
}

// ValidateMethods compares the two distance measurements. A mismatch is
// reported, not fatal: it usually indicates under-sampling rather than a
// computation bug.
func ValidateMethods(rasterDistances, treeDistances []float64, tolerancePx float64) Validation {
	if len(rasterDistances) == 0 || len(rasterDistances) != len(treeDistances) {
		return Validation{Status: "invalid_inputs"}
	}
	var sum float64
	for i := range rasterDistances {
		sum += math.Abs(rasterDistances[i] - treeDistances[i])
	}
	mean := sum / float64(len(rasterDistances))
	status := "ok"
	if mean > tolerancePx {
		status = "mismatch"
	}
	return Validation{Status: status, MeanAbsDeltaPx: &mean}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validateDims(w, h int) error {
	if w < 1 || h < 1 {
		return fmt.Errorf("invalid field size %dx%d", w, h)
	}
	return nil
}
