package pipeline

import "cut-precision/internal/tau"

// TauContext records where the run's tau value came from, so a report can
// be traced back to the calibration that produced its score.
type TauContext struct {
	Mode                 string   `json:"mode"`
	Source               string   `json:"source"`
	Policy               string   `json:"policy"`
	TargetIPN            *float64 `json:"target_ipn"`
	AcceptIPN            *float64 `json:"accept_ipn"`
	ReportsUsed          int      `json:"reports_used"`
	GoodReportsUsed      int      `json:"good_reports_used"`
	BadReportsUsed       int      `json:"bad_reports_used"`
	ReportPatterns       []string `json:"report_patterns"`
	GoodReportPatterns   []string `json:"good_report_patterns"`
	BadReportPatterns    []string `json:"bad_report_patterns"`
	ReportPaths          []string `json:"report_paths"`
	GoodReportPaths      []string `json:"good_report_paths"`
	BadReportPaths       []string `json:"bad_report_paths"`
	Statistic            *string  `json:"statistic"`
	Units                *string  `json:"units"`
	Objective            *string  `json:"objective"`
	MaxMeanIPNBad        *float64 `json:"max_mean_ipn_bad"`
	MinMeanIPNGap        *float64 `json:"min_mean_ipn_gap"`
	MinTPR               *float64 `json:"min_tpr"`
	MinTNR               *float64 `json:"min_tnr"`
	ConstraintsSatisfied *bool    `json:"constraints_satisfied"`
	FeasiblePoints       *int     `json:"feasible_points"`
	FallbackReason       *string  `json:"fallback_reason"`
	BalancedAccuracy     *float64 `json:"balanced_accuracy"`
	TPR                  *float64 `json:"tpr"`
	TNR                  *float64 `json:"tnr"`
	MeanIPNGood          *float64 `json:"mean_ipn_good"`
	MeanIPNBad           *float64 `json:"mean_ipn_bad"`
	MeanIPNGap           *float64 `json:"mean_ipn_gap"`
	TP                   *int     `json:"tp"`
	FN                   *int     `json:"fn"`
	TN                   *int     `json:"tn"`
	FP                   *int     `json:"fp"`
	CurveCSV             *string  `json:"curve_csv"`
	CurvePNG             *string  `json:"curve_png"`
	CurvePoints          *int     `json:"curve_points"`
}

// FixedTauContext marks the tau as taken straight from config or CLI.
func FixedTauContext() TauContext {
	return TauContext{
		Mode:               "fixed",
		Source:             "config_or_cli",
		Policy:             "custom",
		ReportPatterns:     []string{},
		GoodReportPatterns: []string{},
		BadReportPatterns:  []string{},
		ReportPaths:        []string{},
		GoodReportPaths:    []string{},
		BadReportPaths:     []string{},
	}
}

// TauContextFromReports records a target-IPN auto-calibration.
func TauContextFromReports(patterns []string, result tau.TargetResult) TauContext {
	ctx := FixedTauContext()
	ctx.Mode = "auto_from_reports"
	ctx.Source = "reports"
	ctx.TargetIPN = &result.TargetIPN
	ctx.ReportsUsed = result.ReportsUsed
	ctx.ReportPatterns = patterns
	paths := make([]string, len(result.Candidates))
	for i, c := range result.Candidates {
		paths[i] = c.ReportPath
	}
	ctx.ReportPaths = paths
	ctx.Statistic = &result.Statistic
	ctx.Units = &result.Units
	return ctx
}

// TauContextFromLabeledReports records a labeled auto-calibration,
// including the constraint verdict and curve artifact locations.
func TauContextFromLabeledReports(goodPatterns, badPatterns []string, policyName string,
	result tau.LabeledResult, curveCSV, curvePNG *string, curvePoints int) TauContext {

	ctx := FixedTauContext()
	ctx.Mode = "auto_from_labeled_reports"
	ctx.Source = "labeled_reports"
	ctx.Policy = policyName
	ctx.AcceptIPN = &result.AcceptIPN
	ctx.GoodReportsUsed = result.GoodReportsUsed
	ctx.BadReportsUsed = result.BadReportsUsed
	ctx.GoodReportPatterns = goodPatterns
	ctx.BadReportPatterns = badPatterns
	ctx.GoodReportPaths = result.GoodPaths
	ctx.BadReportPaths = result.BadPaths
	ctx.Units = &result.Units
	ctx.Objective = &result.Objective
	ctx.MaxMeanIPNBad = result.MaxMeanIPNBad
	ctx.MinMeanIPNGap = result.MinMeanIPNGap
	ctx.MinTPR = result.MinTPR
	ctx.MinTNR = result.MinTNR
	ctx.ConstraintsSatisfied = &result.ConstraintsSatisfied
	ctx.FeasiblePoints = &result.FeasiblePoints
	if result.FallbackReason != "" {
		reason := result.FallbackReason
		ctx.FallbackReason = &reason
	}
	ctx.BalancedAccuracy = &result.BalancedAccuracy
	ctx.TPR = &result.TPR
	ctx.TNR = &result.TNR
	ctx.MeanIPNGood = &result.MeanIPNGood
	ctx.MeanIPNBad = &result.MeanIPNBad
	ctx.MeanIPNGap = &result.MeanIPNGap
	ctx.TP = &result.TP
	ctx.FN = &result.FN
	ctx.TN = &result.TN
	ctx.FP = &result.FP
	ctx.CurveCSV = curveCSV
	ctx.CurvePNG = curvePNG
	ctx.CurvePoints = &curvePoints
	return ctx
}
