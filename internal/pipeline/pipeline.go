// Package pipeline orchestrates one end-to-end measurement run: load,
// extract, register, resample, measure, report.
package pipeline

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	"cut-precision/internal/calibration"
	"cut-precision/internal/config"
	"cut-precision/internal/distance"
	"cut-precision/internal/extract"
	"cut-precision/internal/imgio"
	"cut-precision/internal/metrics"
	"cut-precision/internal/register"
	"cut-precision/internal/resample"
	"cut-precision/internal/runlog"
	"cut-precision/internal/tau"
	"cut-precision/pkg/geometry"
)

// Options carries everything the CLI can override for one run.
type Options struct {
	TemplatePath string
	TestPath     string
	OutDir       string
	ConfigPath   string

	StepPx        *float64
	NumPoints     *int
	Tau           *float64
	ManualMMPerPx *float64
	NoKDValidate  bool
	Debug         bool

	// Target-mode tau calibration.
	TauReports   []string
	TauTargetIPN float64
	TauStatistic string

	// Labeled-mode tau calibration.
	TauGoodReports   []string
	TauBadReports    []string
	TauAcceptIPN     float64
	TauPolicy        string
	TauObjective     string
	TauMaxMeanIPNBad *float64
	TauMinMeanIPNGap *float64
	TauMinTPR        *float64
	TauMinTNR        *float64
	CurveCSV         string
	CurvePNG         string
	CurveMaxPoints   int

	TauPreferPx bool
	TauMin      float64
	TauMax      float64
}

// ExtractionError marks a run that found no measurable contour. Callers
// map it to a distinct exit code; the failure report has the details.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string { return e.Reason }

// Run executes the full pipeline and writes report and artifacts under
// opts.OutDir. The returned report is also persisted as report.json.
func Run(opts Options) (Report, error) {
	runID := runlog.NewRunID()
	log, err := runlog.Setup(opts.OutDir, runID, opts.Debug)
	if err != nil {
		return Report{}, err
	}
	defer log.Close()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return Report{}, err
	}
	applyOverrides(&cfg, opts)

	log.Info("pipeline_start",
		"event", "pipeline.start",
		"template", opts.TemplatePath,
		"test", opts.TestPath,
		"out_dir", opts.OutDir)

	tauCtx, err := resolveTau(&cfg, opts, log)
	if err != nil {
		return Report{}, err
	}

	var templateBGR, testBGR gocv.Mat
	if err := log.Stage("image.load", func() error {
		var err error
		templateBGR, err = imgio.ReadBGR(opts.TemplatePath)
		if err != nil {
			return err
		}
		testBGR, err = imgio.ReadBGR(opts.TestPath)
		return err
	}); err != nil {
		return Report{}, err
	}
	defer templateBGR.Close()
	defer testBGR.Close()

	var idealRes, realRes extract.Result
	_ = log.Stage("extract.ideal", func() error {
		idealRes = extract.IdealContour(templateBGR, cfg.Extraction)
		if !idealRes.Success {
			return fmt.Errorf("%s", idealRes.Reason)
		}
		log.Debug("ideal_contour", "points", len(idealRes.Contour))
		return nil
	})
	defer idealRes.Close()
	_ = log.Stage("extract.real", func() error {
		realRes = extract.RealContour(testBGR, cfg.Extraction)
		if !realRes.Success {
			return fmt.Errorf("%s", realRes.Reason)
		}
		log.Debug("real_contour", "points", len(realRes.Contour))
		return nil
	})
	defer realRes.Close()

	if opts.Debug {
		if !realRes.CleanedMask.Empty() {
			_ = imgio.WriteImage(filepath.Join(opts.OutDir, "debug_real_mask.png"), realRes.CleanedMask)
		}
		if !idealRes.CleanedMask.Empty() {
			_ = imgio.WriteImage(filepath.Join(opts.OutDir, "debug_ideal_mask.png"), idealRes.CleanedMask)
		}
	}

	if !idealRes.Success || !realRes.Success {
		report := buildFailureReport(runID, opts.TemplatePath, opts.TestPath, cfg,
			idealRes.Success, realRes.Success, idealRes.Reason, realRes.Reason)
		if err := writeReport(report, filepath.Join(opts.OutDir, "report.json")); err != nil {
			return report, err
		}
		log.Error("pipeline_failed",
			"event", "pipeline.end",
			"status", "failed",
			"reason", "contour_extraction_failed")
		return report, &ExtractionError{Reason: "contour_extraction_failed"}
	}

	sampling := samplingOptions(cfg.Sampling)

	var idealPoints []geometry.Point2D
	var best register.Result
	var selectionMAD *float64
	var scores []register.CandidateScore
	if err := log.Stage("register", func() error {
		var err error
		idealPoints, err = resample.ClosedContour(idealRes.Contour, sampling)
		if err != nil {
			return fmt.Errorf("resample ideal contour: %w", err)
		}

		candidates := []register.Result{register.EstimateORB(templateBGR, testBGR, cfg.Registration)}
		if cfg.Registration.UseAxesFallback {
			candidates = append(candidates, register.EstimateAxes(templateBGR, testBGR, cfg.Registration))
		}
		if cfg.Registration.UseECCFallback {
			candidates = append(candidates, register.EstimateECC(templateBGR, testBGR, cfg.Registration))
		}
		best, selectionMAD, scores = register.SelectByContourScore(candidates, realRes.Contour, idealPoints)

		fields := []any{
			"event", "register.selected",
			"method", best.Method,
			"success", best.Success,
			"inlier_ratio", best.InlierRatio,
		}
		if selectionMAD != nil {
			fields = append(fields, "selection_mad_px", *selectionMAD)
		}
		if best.Reason != "" {
			fields = append(fields, "reason", best.Reason)
		}
		log.Info("register_selected", fields...)
		return nil
	}); err != nil {
		return Report{}, err
	}

	var realPoints []geometry.Point2D
	if err := log.Stage("resample", func() error {
		warped := best.Homography.ApplyAll(realRes.Contour)
		var err error
		realPoints, err = resample.ClosedContour(warped, sampling)
		if err != nil {
			return fmt.Errorf("resample real contour: %w", err)
		}
		log.Debug("resampled", "ideal_points", len(idealPoints), "real_points", len(realPoints))
		return nil
	}); err != nil {
		return Report{}, err
	}

	var distPx []float64
	var validation distance.Validation
	var diagPx metrics.Diagnostics
	if err := log.Stage("distance.compute", func() error {
		field, err := distance.BuildField(templateBGR.Cols(), templateBGR.Rows(), idealPoints, cfg.Distance.DrawThickness)
		if err != nil {
			return err
		}
		if cfg.Distance.UseBilinear {
			distPx = field.SampleBilinear(realPoints)
		} else {
			distPx = field.SampleNearest(realPoints)
		}

		realToIdeal := distance.NearestDistances(realPoints, idealPoints)
		idealToReal := distance.NearestDistances(idealPoints, realPoints)
		diagPx, err = metrics.ComputeBidirectionalDiagnostics(realToIdeal, idealToReal)
		if err != nil {
			return err
		}

		if cfg.Distance.ValidateWithTree {
			validation = distance.ValidateMethods(distPx, realToIdeal, cfg.Distance.ValidationTolerancePx)
			if validation.Status != "ok" {
				log.Info("distance_validation",
					"event", "distance.validation_warning",
					"status", validation.Status,
					"mean_abs_delta_px", derefOr(validation.MeanAbsDeltaPx, -1))
			}
		} else {
			validation = distance.Validation{Status: "disabled"}
		}
		return nil
	}); err != nil {
		return Report{}, err
	}

	var report Report
	if err := log.Stage("metrics.compute", func() error {
		statsPx, err := metrics.ComputeStatistics(distPx)
		if err != nil {
			return err
		}

		calib := calibration.EstimateMMPerPx(testBGR, cfg.Calibration)
		log.Info("calibration",
			"event", "calibration.done",
			"status", calib.Status,
			"method", calib.Method)

		scalePx := geometry.BBoxDiagonal(idealPoints)
		ipnPx, tolPx, err := metrics.ComputeIPN(statsPx.MAD, scalePx, cfg.Metrics.Tau, cfg.Metrics.ClampLow, cfg.Metrics.ClampHigh)
		if err != nil {
			return err
		}

		in := successReportInputs{
			runID:         runID,
			templatePath:  opts.TemplatePath,
			testPath:      opts.TestPath,
			outDir:        opts.OutDir,
			cfg:           cfg,
			registration:  best,
			selectionMAD:  selectionMAD,
			candidates:    scores,
			calib:         calib,
			validation:    validation,
			validationOn:  cfg.Distance.ValidateWithTree,
			diagnosticsPx: diagPx,
			statsPx:       statsPx,
			scalePx:       scalePx,
			tolerancePx:   tolPx,
			ipnPx:         ipnPx,
			tauContext:    tauCtx,
		}

		if calib.MMPerPx != nil {
			mm := *calib.MMPerPx
			distMM := metrics.ToMM(distPx, calib.MMPerPx)
			statsMM, err := metrics.ComputeStatistics(distMM)
			if err != nil {
				return err
			}
			scaleMM := scalePx * mm
			ipnMM, tolMM, err := metrics.ComputeIPN(statsMM.MAD, scaleMM, cfg.Metrics.Tau, cfg.Metrics.ClampLow, cfg.Metrics.ClampHigh)
			if err != nil {
				return err
			}
			diagMM := metrics.Diagnostics{
				MADRealToIdeal:   diagPx.MADRealToIdeal * mm,
				MADIdealToReal:   diagPx.MADIdealToReal * mm,
				BidirectionalMAD: diagPx.BidirectionalMAD * mm,
				Hausdorff:        diagPx.Hausdorff * mm,
			}
			in.statsMM = &statsMM
			in.scaleMM = &scaleMM
			in.toleranceMM = &tolMM
			in.ipnMM = &ipnMM
			in.diagnosticsMM = &diagMM
		}

		report = buildSuccessReport(in)
		return nil
	}); err != nil {
		return Report{}, err
	}

	if err := log.Stage("artifacts.write", func() error {
		var distMM []float64
		if report.Calibration.MMPerPx != nil {
			distMM = metrics.ToMM(distPx, report.Calibration.MMPerPx)
		}

		overlayPath := filepath.Join(opts.OutDir, "overlay.png")
		if err := imgio.WriteOverlay(overlayPath, templateBGR, idealPoints, realPoints); err != nil {
			return err
		}
		log.Info("artifact_written", "event", "artifact.write", "artifact", overlayPath)

		mapPath := filepath.Join(opts.OutDir, "error_map.png")
		if err := writeErrorMap(mapPath, templateBGR, realPoints, distPx); err != nil {
			return err
		}
		log.Info("artifact_written", "event", "artifact.write", "artifact", mapPath)

		histPath := filepath.Join(opts.OutDir, "error_hist.png")
		if err := writeErrorHistogram(histPath, distPx, report.Metrics.TolerancePx, report.Metrics.MadPx); err != nil {
			return err
		}
		log.Info("artifact_written", "event", "artifact.write", "artifact", histPath)

		csvPath := filepath.Join(opts.OutDir, "distances.csv")
		if err := writeDistancesCSV(csvPath, realPoints, distPx, distMM); err != nil {
			return err
		}
		log.Info("artifact_written", "event", "artifact.write", "artifact", csvPath)

		reportPath := filepath.Join(opts.OutDir, "report.json")
		if err := writeReport(report, reportPath); err != nil {
			return err
		}
		log.Info("artifact_written", "event", "artifact.write", "artifact", reportPath)
		return nil
	}); err != nil {
		return report, err
	}

	log.Info("pipeline_end",
		"event", "pipeline.end",
		"status", "ok",
		"ipn_px", report.Metrics.IPNPx,
		"mad_px", report.Metrics.MadPx)
	return report, nil
}

// applyOverrides layers CLI-provided values over the loaded config.
func applyOverrides(cfg *config.AppConfig, opts Options) {
	if opts.StepPx != nil {
		cfg.Sampling.StepPx = *opts.StepPx
		cfg.Sampling.NumPoints = nil
	}
	if opts.NumPoints != nil {
		cfg.Sampling.NumPoints = opts.NumPoints
	}
	if opts.ManualMMPerPx != nil {
		cfg.Calibration.ManualMMPerPx = opts.ManualMMPerPx
	}
	if opts.NoKDValidate {
		cfg.Distance.ValidateWithTree = false
	}
	if opts.Tau != nil {
		cfg.Metrics.Tau = *opts.Tau
	}
}

// resolveTau picks the run's tau: fixed from config/CLI, or calibrated
// from prior reports in target or labeled mode.
func resolveTau(cfg *config.AppConfig, opts Options, log *runlog.Logger) (TauContext, error) {
	labeled := len(opts.TauGoodReports) > 0 || len(opts.TauBadReports) > 0
	if len(opts.TauReports) > 0 && labeled {
		return TauContext{}, fmt.Errorf("tau reports and labeled good/bad reports are mutually exclusive")
	}
	if labeled && (len(opts.TauGoodReports) == 0 || len(opts.TauBadReports) == 0) {
		return TauContext{}, fmt.Errorf("labeled tau calibration needs both good and bad report patterns")
	}
	if (opts.CurveCSV != "" || opts.CurvePNG != "") && !labeled {
		return TauContext{}, fmt.Errorf("curve export requires labeled tau calibration")
	}

	switch {
	case labeled:
		return resolveLabeledTau(cfg, opts, log)
	case len(opts.TauReports) > 0:
		return resolveTargetTau(cfg, opts, log)
	default:
		return FixedTauContext(), nil
	}
}

func resolveTargetTau(cfg *config.AppConfig, opts Options, log *runlog.Logger) (TauContext, error) {
	var ctx TauContext
	err := log.Stage("tau.auto_reports", func() error {
		paths, err := tau.CollectReportPaths(opts.TauReports)
		if err != nil {
			return err
		}
		topts := tau.DefaultTargetOptions()
		topts.PreferMM = !opts.TauPreferPx
		if opts.TauTargetIPN > 0 {
			topts.TargetIPN = opts.TauTargetIPN
		}
		if opts.TauStatistic != "" {
			topts.Statistic = opts.TauStatistic
		}
		if opts.TauMin > 0 {
			topts.TauMin = opts.TauMin
		}
		if opts.TauMax > 0 {
			topts.TauMax = opts.TauMax
		}

		result, err := tau.CalibrateFromReports(paths, topts)
		if err != nil {
			return err
		}
		cfg.Metrics.Tau = result.Tau
		ctx = TauContextFromReports(opts.TauReports, result)
		log.Info("tau_calibrated",
			"event", "tau.calibrated",
			"mode", "auto_from_reports",
			"tau", result.Tau,
			"units", result.Units,
			"reports_used", result.ReportsUsed)
		return nil
	})
	return ctx, err
}

func resolveLabeledTau(cfg *config.AppConfig, opts Options, log *runlog.Logger) (TauContext, error) {
	var ctx TauContext
	err := log.Stage("tau.auto_labeled_reports", func() error {
		policy, err := tau.ResolvePolicy(opts.TauPolicy, opts.TauObjective,
			opts.TauMaxMeanIPNBad, opts.TauMinMeanIPNGap, opts.TauMinTPR, opts.TauMinTNR)
		if err != nil {
			return err
		}

		goodPaths, err := tau.CollectReportPaths(opts.TauGoodReports)
		if err != nil {
			return err
		}
		badPaths, err := tau.CollectReportPaths(opts.TauBadReports)
		if err != nil {
			return err
		}

		lopts := tau.DefaultLabeledOptions()
		lopts.PreferMM = !opts.TauPreferPx
		if opts.TauAcceptIPN > 0 {
			lopts.AcceptIPN = opts.TauAcceptIPN
		}
		if opts.TauMin > 0 {
			lopts.TauMin = opts.TauMin
		}
		if opts.TauMax > 0 {
			lopts.TauMax = opts.TauMax
		}
		policy.Apply(&lopts)

		result, err := tau.CalibrateFromLabeledReports(goodPaths, badPaths, lopts)
		if err != nil {
			return err
		}
		cfg.Metrics.Tau = result.Tau

		var curveCSV, curvePNG *string
		curvePoints := 0
		if opts.CurveCSV != "" || opts.CurvePNG != "" {
			maxPoints := opts.CurveMaxPoints
			if maxPoints <= 0 {
				maxPoints = tau.DefaultCurveMaxPoints
			}
			curve, err := tau.BuildLabeledCurve(goodPaths, badPaths, lopts, maxPoints)
			if err != nil {
				return err
			}
			curvePoints = len(curve.Points)
			if opts.CurveCSV != "" {
				written, err := tau.WriteCurveCSV(opts.CurveCSV, curve)
				if err != nil {
					return err
				}
				curveCSV = &written
				log.Info("artifact_written", "event", "artifact.write", "artifact", written)
			}
			if opts.CurvePNG != "" {
				written, err := tau.WriteCurvePNG(opts.CurvePNG, curve, result.Tau)
				if err != nil {
					return err
				}
				curvePNG = &written
				log.Info("artifact_written", "event", "artifact.write", "artifact", written)
			}
		}

		ctx = TauContextFromLabeledReports(opts.TauGoodReports, opts.TauBadReports,
			policy.Name, result, curveCSV, curvePNG, curvePoints)
		log.Info("tau_calibrated",
			"event", "tau.calibrated",
			"mode", "auto_from_labeled_reports",
			"tau", result.Tau,
			"units", result.Units,
			"balanced_accuracy", result.BalancedAccuracy,
			"constraints_satisfied", result.ConstraintsSatisfied)
		return nil
	})
	return ctx, err
}

func samplingOptions(s config.SamplingConfig) resample.Options {
	opts := resample.Options{StepPx: s.StepPx, MaxPoints: s.MaxPoints}
	if s.NumPoints != nil {
		opts.NumPoints = *s.NumPoints
	}
	return opts
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
