package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cut-precision/internal/calibration"
	"cut-precision/internal/config"
	"cut-precision/internal/distance"
	"cut-precision/internal/metrics"
	"cut-precision/internal/register"
	"cut-precision/internal/runlog"
	"cut-precision/pkg/geometry"
)

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	step := 2.5
	mm := 0.1
	tauVal := 0.03
	applyOverrides(&cfg, Options{
		StepPx:        &step,
		ManualMMPerPx: &mm,
		NoKDValidate:  true,
		Tau:           &tauVal,
	})

	assert.Equal(t, 2.5, cfg.Sampling.StepPx)
	assert.Nil(t, cfg.Sampling.NumPoints)
	require.NotNil(t, cfg.Calibration.ManualMMPerPx)
	assert.Equal(t, 0.1, *cfg.Calibration.ManualMMPerPx)
	assert.False(t, cfg.Distance.ValidateWithTree)
	assert.Equal(t, 0.03, cfg.Metrics.Tau)
}

func TestApplyOverridesNumPointsWins(t *testing.T) {
	cfg := config.Default()
	n := 500
	applyOverrides(&cfg, Options{NumPoints: &n})
	require.NotNil(t, cfg.Sampling.NumPoints)
	assert.Equal(t, 500, *cfg.Sampling.NumPoints)
}

func TestResolveTauRejectsMixedModes(t *testing.T) {
	cfg := config.Default()
	log := runlog.NewDiscard()

	_, err := resolveTau(&cfg, Options{
		TauReports:     []string{"a/*.json"},
		TauGoodReports: []string{"g/*.json"},
		TauBadReports:  []string{"b/*.json"},
	}, log)
	assert.Error(t, err)

	_, err = resolveTau(&cfg, Options{TauGoodReports: []string{"g/*.json"}}, log)
	assert.Error(t, err)

	_, err = resolveTau(&cfg, Options{CurveCSV: "curve.csv"}, log)
	assert.Error(t, err)
}

func TestResolveTauFixedByDefault(t *testing.T) {
	cfg := config.Default()
	ctx, err := resolveTau(&cfg, Options{}, runlog.NewDiscard())
	require.NoError(t, err)
	assert.Equal(t, "fixed", ctx.Mode)
	assert.Equal(t, "config_or_cli", ctx.Source)
	assert.Equal(t, "custom", ctx.Policy)
}

func TestSamplingOptions(t *testing.T) {
	s := config.SamplingConfig{StepPx: 1.5, MaxPoints: 100}
	opts := samplingOptions(s)
	assert.Equal(t, 1.5, opts.StepPx)
	assert.Equal(t, 0, opts.NumPoints)
	assert.Equal(t, 100, opts.MaxPoints)

	n := 64
	s.NumPoints = &n
	opts = samplingOptions(s)
	assert.Equal(t, 64, opts.NumPoints)
}

func TestFailureReportShape(t *testing.T) {
	cfg := config.Default()
	report := buildFailureReport("abc123", "t.png", "s.png", cfg,
		true, false, "", "no_real_contour_found")

	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, "abc123", report.RunID)
	require.NotNil(t, report.Stages)
	assert.True(t, report.Stages.IdealExtraction.Success)
	assert.False(t, report.Stages.RealExtraction.Success)
	assert.Equal(t, "no_real_contour_found", report.Stages.RealExtraction.Reason)
	assert.Nil(t, report.Metrics)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "stages")
	assert.Contains(t, doc, "config")
	assert.NotContains(t, doc, "metrics")
}

func TestSuccessReportShape(t *testing.T) {
	cfg := config.Default()
	mad := 1.2
	reproj := 0.8
	mmPerPx := 0.1
	delta := 0.05

	in := successReportInputs{
		runID:        "run42",
		templatePath: "template.png",
		testPath:     "test.png",
		outDir:       t.TempDir(),
		cfg:          cfg,
		registration: register.Result{
			Success:       true,
			Method:        register.MethodORB,
			MatchesTotal:  120,
			MatchesUsed:   80,
			InlierRatio:   0.66,
			ReprojErrorPx: &reproj,
		},
		selectionMAD: &mad,
		candidates: []register.CandidateScore{
			{Method: register.MethodORB, Success: true, SelectionMADPx: &mad},
		},
		calib: calibration.Result{
			MMPerPx: &mmPerPx,
			Status:  calibration.StatusOK,
			Method:  calibration.MethodManual,
			Details: map[string]float64{"ruler_mm": 120},
		},
		validation:    distance.Validation{Status: "ok", MeanAbsDeltaPx: &delta},
		validationOn:  true,
		diagnosticsPx: metrics.Diagnostics{MADRealToIdeal: 1.1, MADIdealToReal: 1.3, BidirectionalMAD: 1.2, Hausdorff: 4.0},
		statsPx:       metrics.Summary{MAD: 1.2, Std: 0.4, P95: 2.0, MaxError: 4.0},
		scalePx:       500,
		tolerancePx:   10,
		ipnPx:         88,
		tauContext:    FixedTauContext(),
	}
	report := buildSuccessReport(in)

	assert.Equal(t, "ok", report.Status)
	require.NotNil(t, report.Registration)
	assert.Equal(t, "ok", report.Registration.Status)
	assert.Equal(t, "min_contour_mad_kdtree", report.Registration.SelectionStrategy)
	require.NotNil(t, report.Distance)
	assert.Equal(t, "distance_transform", report.Distance.Primary)
	assert.Equal(t, "kdtree", report.Distance.Validation)
	require.NotNil(t, report.Metrics)
	assert.Equal(t, 1.2, report.Metrics.MadPx)
	assert.Nil(t, report.Metrics.MadMM)
	require.NotNil(t, report.Artifacts)
	assert.True(t, filepath.IsAbs(report.Artifacts.ReportJSON))

	data, err := json.Marshal(report)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{
		"status", "run_id", "timestamp_utc", "version", "inputs",
		"registration", "calibration", "distance_method", "diagnostics",
		"metrics", "tau_calibration", "artifacts", "config", "git",
	} {
		assert.Contains(t, doc, key)
	}
}

func TestWriteReportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.json")
	report := buildFailureReport("id", "a", "b", config.Default(), false, false, "x", "y")

	require.NoError(t, writeReport(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "id", got.RunID)
}

func TestWriteDistancesCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distances.csv")
	points := []geometry.Point2D{{X: 1, Y: 2}, {X: 3, Y: 4}}

	require.NoError(t, writeDistancesCSV(path, points, []float64{0.5, 1.5}, []float64{0.05, 0.15}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"idx", "x", "y", "d_px", "d_mm"}, rows[0])
	assert.Equal(t, []string{"0", "1", "2", "0.5", "0.05"}, rows[1])
}

func TestWriteDistancesCSVWithoutCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distances.csv")
	points := []geometry.Point2D{{X: 1, Y: 2}}

	require.NoError(t, writeDistancesCSV(path, points, []float64{0.5}, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][4])
}

func TestFixedTauContextHasEmptyPatternSlices(t *testing.T) {
	ctx := FixedTauContext()
	assert.NotNil(t, ctx.ReportPatterns)
	assert.Empty(t, ctx.ReportPatterns)
	assert.NotNil(t, ctx.GoodReportPaths)
}
