package register

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cut-precision/internal/config"
	"cut-precision/pkg/geometry"
)

func squareContour(x0, y0, side float64) []geometry.Point2D {
	return []geometry.Point2D{
		{X: x0, Y: y0},
		{X: x0 + side, Y: y0},
		{X: x0 + side, Y: y0 + side},
		{X: x0, Y: y0 + side},
	}
}

func TestSelectByContourScorePicksCorrectiveCandidate(t *testing.T) {
	ideal := squareContour(50, 50, 100)
	// The photographed contour is shifted by (+20, -10) relative to the
	// template frame.
	real := squareContour(70, 40, 100)

	candidates := []Result{
		{Success: true, Homography: geometry.TranslationHomography(-20, 10), Method: MethodORB},
		{Success: true, Homography: geometry.IdentityHomography(), Method: MethodAxes},
		failure(ReasonECCFailed, 0, 0, 0, nil),
	}

	chosen, mad, scores := SelectByContourScore(candidates, real, ideal)
	require.NotNil(t, mad)
	assert.Equal(t, MethodORB, chosen.Method)
	assert.Less(t, *mad, 0.5)

	require.Len(t, scores, 3)
	require.NotNil(t, scores[1].SelectionMADPx)
	assert.Greater(t, *scores[1].SelectionMADPx, *mad)
	assert.Nil(t, scores[2].SelectionMADPx)
}

func TestSelectByContourScoreAllFailedReturnsFirst(t *testing.T) {
	candidates := []Result{
		failure(ReasonNotEnoughMatches, 5, 2, 0, nil),
		failure(ReasonAxisDetectFailed, 0, 0, 0, nil),
	}
	chosen, mad, scores := SelectByContourScore(candidates, squareContour(0, 0, 10), squareContour(0, 0, 10))
	assert.Nil(t, mad)
	assert.Equal(t, ReasonNotEnoughMatches, chosen.Reason)
	assert.Equal(t, MethodIdentity, chosen.Method)
	assert.Len(t, scores, 2)
}

func axesConfig() config.RegistrationConfig {
	return config.Default().Registration
}

func horizontalSegment(x1, x2, y float64) Segment {
	p1 := geometry.Point2D{X: x1, Y: y}
	p2 := geometry.Point2D{X: x2, Y: y}
	return Segment{P1: p1, P2: p2, Length: p1.Distance(p2), Center: geometry.Point2D{X: 0.5 * (x1 + x2), Y: y}}
}

func verticalSegment(y1, y2, x float64) Segment {
	p1 := geometry.Point2D{X: x, Y: y1}
	p2 := geometry.Point2D{X: x, Y: y2}
	return Segment{P1: p1, P2: p2, Length: p1.Distance(p2), Center: geometry.Point2D{X: x, Y: 0.5 * (y1 + y2)}}
}

func TestFitAxisFrameRecoversOriginAndSpans(t *testing.T) {
	// An L-shaped pair of axes in a 1000x800 image: horizontal axis along
	// y=700, vertical axis along x=100.
	segments := []Segment{
		horizontalSegment(100, 900, 700),
		horizontalSegment(120, 880, 700),
		verticalSegment(100, 700, 100),
		verticalSegment(120, 690, 100),
	}
	frame, ok := FitAxisFrame(segments, 1000, 800, axesConfig())
	require.True(t, ok)

	assert.InDelta(t, 100, frame.Origin.X, 1.0)
	assert.InDelta(t, 700, frame.Origin.Y, 1.0)
	// Canonical directions: right and up.
	assert.Greater(t, frame.UH.X, 0.99)
	assert.Less(t, frame.UV.Y, -0.99)
	assert.Greater(t, frame.SpanH, 500.0)
	assert.Greater(t, frame.SpanV, 300.0)
}

func TestFitAxisFrameRejectsMissingDirection(t *testing.T) {
	segments := []Segment{
		horizontalSegment(0, 500, 700),
		horizontalSegment(0, 400, 710),
	}
	_, ok := FitAxisFrame(segments, 1000, 800, axesConfig())
	assert.False(t, ok)

	_, ok = FitAxisFrame(nil, 1000, 800, axesConfig())
	assert.False(t, ok)
}

func TestFrameMappingPureTranslation(t *testing.T) {
	src := AxisFrame{
		Origin: geometry.Point2D{X: 120, Y: 710},
		UH:     geometry.Point2D{X: 1, Y: 0},
		UV:     geometry.Point2D{X: 0, Y: -1},
		SpanH:  800, SpanV: 600,
	}
	dst := src
	dst.Origin = geometry.Point2D{X: 100, Y: 700}

	hom, ok := frameMapping(src, dst)
	require.True(t, ok)
	got := hom.Apply(geometry.Point2D{X: 120, Y: 710})
	assert.InDelta(t, 100, got.X, 1e-9)
	assert.InDelta(t, 700, got.Y, 1e-9)

	// Unit axis steps carry over one-to-one when spans match.
	got = hom.Apply(geometry.Point2D{X: 520, Y: 710})
	assert.InDelta(t, 500, got.X, 1e-9)
}

func TestFrameMappingScalesBetweenResolutions(t *testing.T) {
	src := AxisFrame{
		Origin: geometry.Point2D{X: 0, Y: 0},
		UH:     geometry.Point2D{X: 1, Y: 0},
		UV:     geometry.Point2D{X: 0, Y: -1},
		SpanH:  400, SpanV: 400,
	}
	dst := AxisFrame{
		Origin: geometry.Point2D{X: 0, Y: 0},
		UH:     geometry.Point2D{X: 1, Y: 0},
		UV:     geometry.Point2D{X: 0, Y: -1},
		SpanH:  800, SpanV: 800,
	}
	hom, ok := frameMapping(src, dst)
	require.True(t, ok)
	got := hom.Apply(geometry.Point2D{X: 200, Y: -100})
	assert.InDelta(t, 400, got.X, 1e-9)
	assert.InDelta(t, -200, got.Y, 1e-9)
}

func TestFrameMappingSingularBasis(t *testing.T) {
	degenerate := AxisFrame{
		Origin: geometry.Point2D{},
		UH:     geometry.Point2D{X: 1, Y: 0},
		UV:     geometry.Point2D{X: 1, Y: 0},
		SpanH:  100, SpanV: 100,
	}
	_, ok := frameMapping(degenerate, degenerate)
	assert.False(t, ok)
}

func TestFitAxisLineTotalLeastSquares(t *testing.T) {
	segments := []Segment{
		horizontalSegment(0, 100, 10),
		horizontalSegment(20, 80, 10),
	}
	point, dir, ok := fitAxisLine(segments)
	require.True(t, ok)
	assert.InDelta(t, 10, point.Y, 1e-9)
	assert.InDelta(t, 1, mathAbs(dir.X), 1e-9)
	assert.InDelta(t, 0, dir.Y, 1e-9)
}

func mathAbs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
