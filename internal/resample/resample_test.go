package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cut-precision/pkg/geometry"
)

func square(side float64) []geometry.Point2D {
	return []geometry.Point2D{
		{X: 0, Y: 0},
		{X: side, Y: 0},
		{X: side, Y: side},
		{X: 0, Y: side},
	}
}

func TestEnsureClosedAppendsFirstPoint(t *testing.T) {
	open := square(10)
	closed := EnsureClosed(open)
	require.Len(t, closed, 5)
	assert.Equal(t, closed[0], closed[4])
	// Already-closed input is returned as is.
	assert.Len(t, EnsureClosed(closed), 5)
}

func TestClosedContourExactNumPoints(t *testing.T) {
	for _, n := range []int{8, 17, 100, 333} {
		pts, err := ClosedContour(square(50), Options{NumPoints: n})
		require.NoError(t, err)
		assert.Len(t, pts, n)
	}
}

func TestClosedContourFirstPointPreserved(t *testing.T) {
	pts, err := ClosedContour(square(50), Options{NumPoints: 40})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, pts[0].X, 1e-9)
	assert.InDelta(t, 0.0, pts[0].Y, 1e-9)
}

func TestClosedContourUniformSpacing(t *testing.T) {
	// A 100-perimeter square sampled at 100 points should step 1 px at a
	// time along the boundary.
	pts, err := ClosedContour(square(25), Options{NumPoints: 100})
	require.NoError(t, err)
	for i := 1; i < len(pts); i++ {
		assert.InDelta(t, 1.0, pts[i].Distance(pts[i-1]), 1e-9)
	}
}

func TestClosedContourStepCountGrowsAsStepShrinks(t *testing.T) {
	contour := geometry.GenerateCirclePoints(0, 0, 30, 64)
	var prev int
	for _, step := range []float64{8, 4, 2, 1, 0.5} {
		pts, err := ClosedContour(contour, Options{StepPx: step})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(pts), prev)
		prev = len(pts)
	}
}

func TestClosedContourMaxPointsClamp(t *testing.T) {
	pts, err := ClosedContour(square(1000), Options{StepPx: 0.5, MaxPoints: 128})
	require.NoError(t, err)
	assert.Len(t, pts, 128)
}

func TestClosedContourMinimumFloor(t *testing.T) {
	// A tiny contour with a coarse step still yields at least 8 samples.
	pts, err := ClosedContour(square(1), Options{StepPx: 10})
	require.NoError(t, err)
	assert.Len(t, pts, 8)
}

func TestClosedContourRejectsDegenerateInput(t *testing.T) {
	_, err := ClosedContour(square(10)[:2], Options{NumPoints: 16})
	assert.Error(t, err)

	zero := []geometry.Point2D{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err = ClosedContour(zero, Options{NumPoints: 16})
	assert.Error(t, err)

	_, err = ClosedContour(square(10), Options{})
	assert.Error(t, err)
}

func TestPerimeter(t *testing.T) {
	assert.InDelta(t, 40.0, Perimeter(square(10)), 1e-9)
}
