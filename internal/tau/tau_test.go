package tau

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReport(t *testing.T, dir, name string, madPx, scalePx float64, madMM, scaleMM *float64) string {
	t.Helper()
	payload := map[string]any{
		"metrics": map[string]any{
			"mad_px":   madPx,
			"scale_px": scalePx,
			"mad_mm":   madMM,
			"scale_mm": scaleMM,
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCollectReportPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("{}"), 0o644))

	paths, err := CollectReportPaths([]string{filepath.Join(dir, "*.json")})
	require.NoError(t, err)
	want := []string{a, b}
	sort.Strings(want)
	assert.Equal(t, want, paths)

	// Overlapping patterns must not duplicate entries.
	paths, err = CollectReportPaths([]string{filepath.Join(dir, "*.json"), filepath.Join(dir, "a.*")})
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestCalibrateFromReportsPrefersMM(t *testing.T) {
	dir := t.TempDir()
	// target_ipn=80 -> denom factor 0.2; tau = mad_mm / (0.2 * scale_mm)
	r1 := writeReport(t, dir, "r1.json", 10, 100, ptr(4.0), ptr(40.0))  // tau=0.5
	r2 := writeReport(t, dir, "r2.json", 8, 100, ptr(2.0), ptr(40.0))   // tau=0.25

	opts := DefaultTargetOptions()
	opts.TauMin = 0.01
	opts.TauMax = 1.0
	out, err := CalibrateFromReports([]string{r1, r2}, opts)
	require.NoError(t, err)
	assert.Equal(t, "mm", out.Units)
	assert.Equal(t, 2, out.ReportsUsed)
	assert.InDelta(t, 0.375, out.Tau, 1e-12)
}

func TestCalibrateFromReportsClamps(t *testing.T) {
	dir := t.TempDir()
	r1 := writeReport(t, dir, "r1.json", 100, 50, nil, nil)

	opts := DefaultTargetOptions()
	opts.PreferMM = false
	opts.TauMin = 0.01
	opts.TauMax = 0.2
	out, err := CalibrateFromReports([]string{r1}, opts)
	require.NoError(t, err)
	assert.Equal(t, 0.2, out.Tau)
	assert.Equal(t, "px", out.Units)
}

func TestCalibrateFromReportsRejectsBadParams(t *testing.T) {
	opts := DefaultTargetOptions()
	opts.TargetIPN = 100
	_, err := CalibrateFromReports([]string{"x"}, opts)
	assert.ErrorContains(t, err, "target_ipn")

	opts = DefaultTargetOptions()
	opts.TauMin = 0
	_, err = CalibrateFromReports([]string{"x"}, opts)
	assert.ErrorContains(t, err, "tau_min")

	opts = DefaultTargetOptions()
	_, err = CalibrateFromReports(nil, opts)
	assert.ErrorContains(t, err, "no valid reports")
}

func TestLabeledCalibrationSeparation(t *testing.T) {
	dir := t.TempDir()
	good := []string{
		writeReport(t, dir, "good1.json", 8, 100, nil, nil),
		writeReport(t, dir, "good2.json", 10, 100, nil, nil),
	}
	bad := []string{
		writeReport(t, dir, "bad1.json", 40, 100, nil, nil),
		writeReport(t, dir, "bad2.json", 45, 100, nil, nil),
	}

	opts := DefaultLabeledOptions()
	opts.PreferMM = false
	opts.TauMin = 0.05
	opts.TauMax = 0.5
	out, err := CalibrateFromLabeledReports(good, bad, opts)
	require.NoError(t, err)
	assert.Equal(t, "px", out.Units)
	assert.Equal(t, 2, out.GoodReportsUsed)
	assert.Equal(t, 2, out.BadReportsUsed)
	assert.InDelta(t, 1.0, out.BalancedAccuracy, 1e-12)
	assert.Equal(t, 2, out.TP)
	assert.Equal(t, 2, out.TN)
	assert.Equal(t, 0, out.FP)
	assert.Equal(t, 0, out.FN)
	assert.True(t, out.ConstraintsSatisfied)
}

func TestLabeledCurveHasIPNTracks(t *testing.T) {
	dir := t.TempDir()
	good := []string{writeReport(t, dir, "good1.json", 10, 100, nil, nil)}
	bad := []string{writeReport(t, dir, "bad1.json", 40, 100, nil, nil)}

	opts := DefaultLabeledOptions()
	opts.PreferMM = false
	opts.TauMin = 0.05
	opts.TauMax = 0.6
	curve, err := BuildLabeledCurve(good, bad, opts, 50)
	require.NoError(t, err)
	require.NotEmpty(t, curve.Points)

	for i := 1; i < len(curve.Points); i++ {
		assert.GreaterOrEqual(t, curve.Points[i].Tau, curve.Points[i-1].Tau)
	}
	best := curve.Points[0]
	for _, p := range curve.Points[1:] {
		if p.BalancedAccuracy > best.BalancedAccuracy {
			best = p
		}
	}
	assert.Greater(t, best.MeanIPNGood, best.MeanIPNBad)
	for _, p := range curve.Points {
		assert.GreaterOrEqual(t, p.MeanIPNGood, 0.0)
		assert.LessOrEqual(t, p.MeanIPNGood, 100.0)
		assert.GreaterOrEqual(t, p.MeanIPNBad, 0.0)
		assert.LessOrEqual(t, p.MeanIPNBad, 100.0)
	}
}

func TestLabeledCalibrationWithConstraints(t *testing.T) {
	dir := t.TempDir()
	good := []string{
		writeReport(t, dir, "good1.json", 20, 100, nil, nil),
		writeReport(t, dir, "good2.json", 22, 100, nil, nil),
	}
	bad := []string{
		writeReport(t, dir, "bad1.json", 24, 100, nil, nil),
		writeReport(t, dir, "bad2.json", 26, 100, nil, nil),
	}

	opts := DefaultLabeledOptions()
	opts.PreferMM = false
	opts.TauMin = 0.05
	opts.TauMax = 1.0
	opts.Objective = ObjectiveBalancedAccuracyThenGap
	opts.MaxMeanIPNBad = ptr(40.0)
	out, err := CalibrateFromLabeledReports(good, bad, opts)
	require.NoError(t, err)
	assert.True(t, out.ConstraintsSatisfied)
	assert.Greater(t, out.FeasiblePoints, 0)
	assert.LessOrEqual(t, out.MeanIPNBad, 40.0)
	assert.Equal(t, ObjectiveBalancedAccuracyThenGap, out.Objective)
	assert.Empty(t, out.FallbackReason)
}

func TestLabeledCalibrationConstraintFallback(t *testing.T) {
	dir := t.TempDir()
	good := []string{writeReport(t, dir, "good.json", 20, 100, nil, nil)}
	bad := []string{writeReport(t, dir, "bad.json", 40, 100, nil, nil)}

	opts := DefaultLabeledOptions()
	opts.PreferMM = false
	opts.TauMin = 0.05
	opts.TauMax = 1.0
	opts.MaxMeanIPNBad = ptr(1.0)
	opts.MinTPR = ptr(1.0)
	out, err := CalibrateFromLabeledReports(good, bad, opts)
	require.NoError(t, err)
	assert.False(t, out.ConstraintsSatisfied)
	assert.Equal(t, 0, out.FeasiblePoints)
	assert.Equal(t, FallbackNoFeasiblePoints, out.FallbackReason)
}

func TestResolvePolicyCustomDefaults(t *testing.T) {
	out, err := ResolvePolicy("", "", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", out.Name)
	assert.Equal(t, ObjectiveBalancedAccuracyThenGap, out.Objective)
	assert.Nil(t, out.MaxMeanIPNBad)
	assert.Nil(t, out.MinMeanIPNGap)
	assert.Nil(t, out.MinTPR)
	assert.Nil(t, out.MinTNR)
}

func TestResolvePolicyPresetWithOverrides(t *testing.T) {
	strict := PolicyPresets["strict"]
	out, err := ResolvePolicy("strict", "", nil, nil, ptr(0.9), nil)
	require.NoError(t, err)
	assert.Equal(t, "strict", out.Name)
	assert.Equal(t, strict.Objective, out.Objective)
	assert.Equal(t, strict.MaxMeanIPNBad, out.MaxMeanIPNBad)
	assert.Equal(t, strict.MinMeanIPNGap, out.MinMeanIPNGap)
	assert.Equal(t, 0.9, *out.MinTPR)
	assert.Equal(t, strict.MinTNR, out.MinTNR)
}

func TestResolvePolicyUnknownNames(t *testing.T) {
	_, err := ResolvePolicy("lenient", "", nil, nil, nil, nil)
	assert.ErrorContains(t, err, "unknown tau policy")

	_, err = ResolvePolicy("", "accuracy", nil, nil, nil, nil)
	assert.ErrorContains(t, err, "unknown objective")
}

func TestWriteCurveCSV(t *testing.T) {
	dir := t.TempDir()
	good := []string{writeReport(t, dir, "good.json", 10, 100, nil, nil)}
	bad := []string{writeReport(t, dir, "bad.json", 40, 100, nil, nil)}

	opts := DefaultLabeledOptions()
	opts.PreferMM = false
	opts.TauMin = 0.05
	opts.TauMax = 0.6
	curve, err := BuildLabeledCurve(good, bad, opts, 50)
	require.NoError(t, err)

	out := filepath.Join(dir, "curves", "tau.csv")
	abs, err := WriteCurveCSV(out, curve)
	require.NoError(t, err)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tau,threshold_ratio,balanced_accuracy")
}

func TestDownsampleIsPresentationOnly(t *testing.T) {
	points := make([]CurvePoint, 1000)
	for i := range points {
		points[i] = CurvePoint{Tau: float64(i)}
	}
	down := downsamplePoints(points, 100)
	assert.LessOrEqual(t, len(down), 100)
	assert.Equal(t, 0.0, down[0].Tau)
	assert.Equal(t, 999.0, down[len(down)-1].Tau)
	for i := 1; i < len(down); i++ {
		assert.Greater(t, down[i].Tau, down[i-1].Tau)
	}
}
