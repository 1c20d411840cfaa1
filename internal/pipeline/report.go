package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"cut-precision/internal/calibration"
	"cut-precision/internal/config"
	"cut-precision/internal/distance"
	"cut-precision/internal/metrics"
	"cut-precision/internal/register"
	"cut-precision/internal/version"
)

// Report is the JSON document written alongside every run.
type Report struct {
	Status       string              `json:"status"`
	RunID        string              `json:"run_id"`
	TimestampUTC string              `json:"timestamp_utc"`
	Version      string              `json:"version"`
	Inputs       ReportInputs        `json:"inputs"`
	Stages       *ReportStages       `json:"stages,omitempty"`
	Registration *ReportRegistration `json:"registration,omitempty"`
	Calibration  *ReportCalibration  `json:"calibration,omitempty"`
	Distance     *ReportDistance     `json:"distance_method,omitempty"`
	Diagnostics  *ReportDiagnostics  `json:"diagnostics,omitempty"`
	Metrics      *ReportMetrics      `json:"metrics,omitempty"`
	Tau          *TauContext         `json:"tau_calibration,omitempty"`
	Artifacts    *ReportArtifacts    `json:"artifacts,omitempty"`
	Config       config.AppConfig    `json:"config"`
	Git          *ReportGit          `json:"git,omitempty"`
}

type ReportInputs struct {
	Template string `json:"template"`
	Test     string `json:"test"`
}

type ReportStage struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type ReportStages struct {
	IdealExtraction ReportStage `json:"ideal_extraction"`
	RealExtraction  ReportStage `json:"real_extraction"`
}

type ReportRegistration struct {
	Status            string                    `json:"status"`
	Method            string                    `json:"method"`
	MatchesTotal      int                       `json:"matches_total"`
	MatchesUsed       int                       `json:"matches_used"`
	InlierRatio       float64                   `json:"inlier_ratio"`
	ReprojErrorPx     *float64                  `json:"reprojection_error_px"`
	Reason            string                    `json:"reason,omitempty"`
	SelectionStrategy string                    `json:"selection_strategy"`
	SelectionMADPx    *float64                  `json:"selection_mad_px"`
	Candidates        []register.CandidateScore `json:"candidates"`
}

type ReportCalibration struct {
	Status  string             `json:"status"`
	Method  string             `json:"method"`
	MMPerPx *float64           `json:"mm_per_px"`
	Details map[string]float64 `json:"details"`
}

type ReportDistance struct {
	Primary                  string   `json:"primary"`
	Validation               string   `json:"validation"`
	ValidationStatus         string   `json:"validation_status"`
	ValidationMeanAbsDeltaPx *float64 `json:"validation_mean_abs_delta_px"`
}

type ReportDiagnostics struct {
	DirectedMADRealToIdealPx float64  `json:"directed_mad_real_to_ideal_px"`
	DirectedMADIdealToRealPx float64  `json:"directed_mad_ideal_to_real_px"`
	BidirectionalMADPx       float64  `json:"bidirectional_mad_px"`
	HausdorffPx              float64  `json:"hausdorff_px"`
	DirectedMADRealToIdealMM *float64 `json:"directed_mad_real_to_ideal_mm"`
	DirectedMADIdealToRealMM *float64 `json:"directed_mad_ideal_to_real_mm"`
	BidirectionalMADMM       *float64 `json:"bidirectional_mad_mm"`
	HausdorffMM              *float64 `json:"hausdorff_mm"`
}

type ReportMetrics struct {
	MadPx       float64  `json:"mad_px"`
	StdPx       float64  `json:"std_px"`
	P95Px       float64  `json:"p95_px"`
	MaxPx       float64  `json:"max_px"`
	MadMM       *float64 `json:"mad_mm"`
	StdMM       *float64 `json:"std_mm"`
	P95MM       *float64 `json:"p95_mm"`
	MaxMM       *float64 `json:"max_mm"`
	ScalePx     float64  `json:"scale_px"`
	ScaleMM     *float64 `json:"scale_mm"`
	Tau         float64  `json:"tau"`
	TolerancePx float64  `json:"tolerance_px"`
	ToleranceMM *float64 `json:"tolerance_mm"`
	IPNPx       float64  `json:"ipn_px"`
	IPNMM       *float64 `json:"ipn_mm"`
}

type ReportArtifacts struct {
	ReportJSON   string `json:"report_json"`
	OverlayPNG   string `json:"overlay_png"`
	ErrorMapPNG  string `json:"error_map_png"`
	ErrorHistPNG string `json:"error_hist_png"`
	DistancesCSV string `json:"distances_csv"`
	RunJSONL     string `json:"run_jsonl"`
}

type ReportGit struct {
	Commit *string `json:"commit"`
}

// newReportBase fills the fields common to success and failure reports.
func newReportBase(status, runID, templatePath, testPath string, cfg config.AppConfig) Report {
	return Report{
		Status:       status,
		RunID:        runID,
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		Version:      version.Version,
		Inputs: ReportInputs{
			Template: absOrRaw(templatePath),
			Test:     absOrRaw(testPath),
		},
		Config: cfg,
	}
}

func buildFailureReport(runID, templatePath, testPath string, cfg config.AppConfig,
	idealOK, realOK bool, idealReason, realReason string) Report {

	report := newReportBase("failed", runID, templatePath, testPath, cfg)
	report.Stages = &ReportStages{
		IdealExtraction: ReportStage{Success: idealOK, Reason: idealReason},
		RealExtraction:  ReportStage{Success: realOK, Reason: realReason},
	}
	return report
}

type successReportInputs struct {
	runID         string
	templatePath  string
	testPath      string
	outDir        string
	cfg           config.AppConfig
	registration  register.Result
	selectionMAD  *float64
	candidates    []register.CandidateScore
	calib         calibration.Result
	validation    distance.Validation
	validationOn  bool
	diagnosticsPx metrics.Diagnostics
	diagnosticsMM *metrics.Diagnostics
	statsPx       metrics.Summary
	statsMM       *metrics.Summary
	scalePx       float64
	scaleMM       *float64
	tolerancePx   float64
	toleranceMM   *float64
	ipnPx         float64
	ipnMM         *float64
	tauContext    TauContext
}

func buildSuccessReport(in successReportInputs) Report {
	report := newReportBase("ok", in.runID, in.templatePath, in.testPath, in.cfg)

	regStatus := "warning"
	if in.registration.Success {
		regStatus = "ok"
	}
	report.Registration = &ReportRegistration{
		Status:            regStatus,
		Method:            in.registration.Method,
		MatchesTotal:      in.registration.MatchesTotal,
		MatchesUsed:       in.registration.MatchesUsed,
		InlierRatio:       in.registration.InlierRatio,
		ReprojErrorPx:     in.registration.ReprojErrorPx,
		Reason:            in.registration.Reason,
		SelectionStrategy: "min_contour_mad_kdtree",
		SelectionMADPx:    in.selectionMAD,
		Candidates:        in.candidates,
	}
	report.Calibration = &ReportCalibration{
		Status:  in.calib.Status,
		Method:  in.calib.Method,
		MMPerPx: in.calib.MMPerPx,
		Details: in.calib.Details,
	}

	validationMode := "disabled"
	if in.validationOn {
		validationMode = "kdtree"
	}
	report.Distance = &ReportDistance{
		Primary:                  "distance_transform",
		Validation:               validationMode,
		ValidationStatus:         in.validation.Status,
		ValidationMeanAbsDeltaPx: in.validation.MeanAbsDeltaPx,
	}

	diag := &ReportDiagnostics{
		DirectedMADRealToIdealPx: in.diagnosticsPx.MADRealToIdeal,
		DirectedMADIdealToRealPx: in.diagnosticsPx.MADIdealToReal,
		BidirectionalMADPx:       in.diagnosticsPx.BidirectionalMAD,
		HausdorffPx:              in.diagnosticsPx.Hausdorff,
	}
	if mm := in.diagnosticsMM; mm != nil {
		diag.DirectedMADRealToIdealMM = &mm.MADRealToIdeal
		diag.DirectedMADIdealToRealMM = &mm.MADIdealToReal
		diag.BidirectionalMADMM = &mm.BidirectionalMAD
		diag.HausdorffMM = &mm.Hausdorff
	}
	report.Diagnostics = diag

	m := &ReportMetrics{
		MadPx:       in.statsPx.MAD,
		StdPx:       in.statsPx.Std,
		P95Px:       in.statsPx.P95,
		MaxPx:       in.statsPx.MaxError,
		ScalePx:     in.scalePx,
		ScaleMM:     in.scaleMM,
		Tau:         in.cfg.Metrics.Tau,
		TolerancePx: in.tolerancePx,
		ToleranceMM: in.toleranceMM,
		IPNPx:       in.ipnPx,
		IPNMM:       in.ipnMM,
	}
	if in.statsMM != nil {
		m.MadMM = &in.statsMM.MAD
		m.StdMM = &in.statsMM.Std
		m.P95MM = &in.statsMM.P95
		m.MaxMM = &in.statsMM.MaxError
	}
	report.Metrics = m

	report.Tau = &in.tauContext
	report.Artifacts = &ReportArtifacts{
		ReportJSON:   absOrRaw(filepath.Join(in.outDir, "report.json")),
		OverlayPNG:   absOrRaw(filepath.Join(in.outDir, "overlay.png")),
		ErrorMapPNG:  absOrRaw(filepath.Join(in.outDir, "error_map.png")),
		ErrorHistPNG: absOrRaw(filepath.Join(in.outDir, "error_hist.png")),
		DistancesCSV: absOrRaw(filepath.Join(in.outDir, "distances.csv")),
		RunJSONL:     absOrRaw(filepath.Join(in.outDir, "run.jsonl")),
	}
	report.Git = &ReportGit{Commit: gitCommit()}
	return report
}

// writeReport serializes the report with stable two-space indentation.
func writeReport(report Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %q: %w", path, err)
	}
	return nil
}

// gitCommit looks up the current commit; nil outside a repository.
func gitCommit() *string {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return nil
	}
	commit := strings.TrimSpace(string(out))
	if commit == "" {
		return nil
	}
	return &commit
}

func absOrRaw(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
