package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxDiagonal(t *testing.T) {
	pts := []Point2D{{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 4}, {X: 0, Y: 4}}
	box := BoundingBox(pts)
	assert.Equal(t, 3.0, box.Width)
	assert.Equal(t, 4.0, box.Height)
	assert.InDelta(t, 5.0, box.Diagonal(), 1e-12)
	assert.InDelta(t, 5.0, BBoxDiagonal(pts), 1e-12)
	assert.Equal(t, 0.0, BBoxDiagonal(nil))
}

func TestHomographyRoundTrip(t *testing.T) {
	h := Homography{
		{1.02, 0.03, 14.5},
		{-0.01, 0.98, -7.25},
		{1e-5, -2e-5, 1.0},
	}
	inv, err := h.Inverse()
	require.NoError(t, err)

	pts := GenerateCirclePoints(120, 80, 35, 64)
	warped := h.ApplyAll(pts)
	back := inv.ApplyAll(warped)
	for i := range pts {
		assert.InDelta(t, pts[i].X, back[i].X, 1e-8)
		assert.InDelta(t, pts[i].Y, back[i].Y, 1e-8)
	}
}

func TestHomographyTranslationApply(t *testing.T) {
	h := TranslationHomography(20, -10)
	got := h.Apply(Point2D{X: 1, Y: 2})
	assert.Equal(t, Point2D{X: 21, Y: -8}, got)
}

func TestHomographyComposeMatchesSequentialApply(t *testing.T) {
	a := TranslationHomography(5, 3)
	b := ScaleHomography(2, 0.5)
	p := Point2D{X: 4, Y: 8}
	// a.Compose(b) applies b first.
	got := a.Compose(b).Apply(p)
	want := a.Apply(b.Apply(p))
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
}

func TestHomographyFromAffine(t *testing.T) {
	aff := AffineTransform{A: 0, B: -1, TX: 10, C: 1, D: 0, TY: -2}
	h := HomographyFromAffine(aff)
	p := Point2D{X: 3, Y: 7}
	assert.Equal(t, aff.Apply(p), h.Apply(p))
}

func TestIsFinite(t *testing.T) {
	h := IdentityHomography()
	assert.True(t, h.IsFinite())
	h[1][2] = math.NaN()
	assert.False(t, h.IsFinite())
}
