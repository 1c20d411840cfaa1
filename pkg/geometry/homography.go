package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform mapping pixel coordinates of one
// image onto another. Stored row-major.
type Homography [3][3]float64

// IdentityHomography returns the identity projective transform.
func IdentityHomography() Homography {
	return Homography{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// TranslationHomography returns a pure-translation transform.
func TranslationHomography(tx, ty float64) Homography {
	return Homography{
		{1, 0, tx},
		{0, 1, ty},
		{0, 0, 1},
	}
}

// ScaleHomography returns an axis-aligned scaling transform.
func ScaleHomography(sx, sy float64) Homography {
	return Homography{
		{sx, 0, 0},
		{0, sy, 0},
		{0, 0, 1},
	}
}

// HomographyFromAffine lifts a 2x3 affine transform into projective form.
func HomographyFromAffine(t AffineTransform) Homography {
	return Homography{
		{t.A, t.B, t.TX},
		{t.C, t.D, t.TY},
		{0, 0, 1},
	}
}

// Apply maps a single point through the transform, including the
// perspective divide.
func (h Homography) Apply(p Point2D) Point2D {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if w == 0 {
		w = 1e-12
	}
	return Point2D{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}
}

// ApplyAll maps a point sequence through the transform, returning a new
// slice. The input is never mutated.
func (h Homography) ApplyAll(points []Point2D) []Point2D {
	if len(points) == 0 {
		return nil
	}
	out := make([]Point2D, len(points))
	for i, p := range points {
		out[i] = h.Apply(p)
	}
	return out
}

// Compose returns h * other, the transform applying other first.
func (h Homography) Compose(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = h[r][0]*other[0][c] + h[r][1]*other[1][c] + h[r][2]*other[2][c]
		}
	}
	return out
}

// Inverse returns the inverse transform. Fails on singular matrices.
func (h Homography) Inverse() (Homography, error) {
	m := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Homography{}, fmt.Errorf("invert homography: %w", err)
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}

// IsFinite reports whether every entry is a finite number.
func (h Homography) IsFinite() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.IsNaN(h[r][c]) || math.IsInf(h[r][c], 0) {
				return false
			}
		}
	}
	return true
}
