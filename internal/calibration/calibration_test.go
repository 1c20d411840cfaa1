package calibration

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"cut-precision/internal/config"
)

func TestManualOverrideWins(t *testing.T) {
	cfg := config.Default().Calibration
	override := 0.05
	cfg.ManualMMPerPx = &override

	res := EstimateMMPerPx(gocv.NewMat(), cfg)
	require.NotNil(t, res.MMPerPx)
	assert.Equal(t, 0.05, *res.MMPerPx)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, MethodManual, res.Method)
	assert.Equal(t, cfg.RulerMM, res.Details["ruler_mm"])
}

func TestFromLinePoolsMedians(t *testing.T) {
	cfg := config.Default().Calibration
	cfg.RulerMM = 120

	res := FromLinePools([]float64{590, 600, 610}, []float64{600}, cfg)
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.MMPerPx)
	assert.InDelta(t, 120.0/600.0, *res.MMPerPx, 1e-12)
	assert.Equal(t, MethodRuler, res.Method)
	assert.Equal(t, 600.0, res.Details["px_120"])
	assert.Equal(t, 600.0, res.Details["horiz_median"])
	assert.Equal(t, 600.0, res.Details["vert_median"])
}

func TestFromLinePoolsSingleDirection(t *testing.T) {
	cfg := config.Default().Calibration
	res := FromLinePools(nil, []float64{480}, cfg)
	require.Equal(t, StatusOK, res.Status)
	assert.InDelta(t, cfg.RulerMM/480.0, *res.MMPerPx, 1e-12)
	assert.Equal(t, 0.0, res.Details["horiz_median"])
}

func TestFromLinePoolsEmpty(t *testing.T) {
	res := FromLinePools(nil, nil, config.Default().Calibration)
	assert.Equal(t, StatusMissing, res.Status)
	assert.Nil(t, res.MMPerPx)
	assert.Equal(t, 2.0, res.Details["reason"])
}

func TestEstimateFromDrawnRuler(t *testing.T) {
	img := gocv.NewMatWithSize(400, 800, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(255, 255, 255, 0))
	// A long horizontal ruler stroke across most of the image.
	gocv.Line(&img, image.Pt(50, 350), image.Pt(650, 350), color.RGBA{A: 255}, 3)

	cfg := config.Default().Calibration
	res := EstimateMMPerPx(img, cfg)
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.MMPerPx)
	// 120 mm over roughly 600 px.
	assert.InDelta(t, 0.2, *res.MMPerPx, 0.02)
}

func TestEstimateBlankImageMissing(t *testing.T) {
	img := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(255, 255, 255, 0))

	res := EstimateMMPerPx(img, config.Default().Calibration)
	assert.Equal(t, StatusMissing, res.Status)
	assert.Nil(t, res.MMPerPx)
	assert.Equal(t, 1.0, res.Details["reason"])
}
