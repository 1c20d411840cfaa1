// Package tau learns the scale-invariant IPN tolerance factor from
// historical measurement reports, either by inverting the IPN formula at a
// target score or from a labeled good/bad report split.
package tau

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Defaults shared by the CLI and the pipeline's auto-calibration path.
const (
	DefaultTargetIPN      = 80.0
	DefaultAcceptIPN      = 70.0
	DefaultTauMin         = 0.005
	DefaultTauMax         = 0.5
	DefaultCurveMaxPoints = 400
	DefaultStatistic      = "median"
)

// candidate tau values closer than this are considered the same point.
const dedupeEps = 1e-12

// Candidate is one report's inverted tau estimate.
type Candidate struct {
	ReportPath string  `json:"report_path"`
	Tau        float64 `json:"tau"`
	Units      string  `json:"units"`
}

// TargetOptions parameterizes target-IPN calibration.
type TargetOptions struct {
	TargetIPN float64
	PreferMM  bool
	Statistic string
	TauMin    float64
	TauMax    float64
}

// DefaultTargetOptions returns the stock target-mode parameters.
func DefaultTargetOptions() TargetOptions {
	return TargetOptions{
		TargetIPN: DefaultTargetIPN,
		PreferMM:  true,
		Statistic: DefaultStatistic,
		TauMin:    DefaultTauMin,
		TauMax:    DefaultTauMax,
	}
}

// TargetResult is the aggregated, clamped target-mode calibration.
type TargetResult struct {
	Tau         float64     `json:"tau"`
	Units       string      `json:"units"`
	ReportsUsed int         `json:"reports_used"`
	TargetIPN   float64     `json:"target_ipn"`
	Statistic   string      `json:"statistic"`
	TauMin      float64     `json:"tau_min"`
	TauMax      float64     `json:"tau_max"`
	Candidates  []Candidate `json:"candidates"`
}

// CalibrateFromReports inverts the IPN formula at the target score for
// each report and aggregates the per-report estimates.
func CalibrateFromReports(reportPaths []string, opts TargetOptions) (TargetResult, error) {
	if opts.TargetIPN <= 0 || opts.TargetIPN >= 100 {
		return TargetResult{}, fmt.Errorf("target_ipn must be between 0 and 100")
	}
	if err := validateTauBounds(opts.TauMin, opts.TauMax); err != nil {
		return TargetResult{}, err
	}

	var candidates []Candidate
	for _, path := range reportPaths {
		if c, ok := tauFromSingleReport(path, opts.TargetIPN, opts.PreferMM); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return TargetResult{}, fmt.Errorf("no valid reports found for tau calibration")
	}

	values := make([]float64, len(candidates))
	for i, c := range candidates {
		values[i] = c.Tau
	}
	raw, err := aggregate(values, opts.Statistic)
	if err != nil {
		return TargetResult{}, err
	}

	return TargetResult{
		Tau:         clamp(raw, opts.TauMin, opts.TauMax),
		Units:       candidates[0].Units,
		ReportsUsed: len(candidates),
		TargetIPN:   opts.TargetIPN,
		Statistic:   opts.Statistic,
		TauMin:      opts.TauMin,
		TauMax:      opts.TauMax,
		Candidates:  candidates,
	}, nil
}

// tauFromSingleReport inverts target_ipn = 100*(1 - mad/(tau*scale)) for
// tau. The mm fields are tried first when preferred so the estimate stays
// scale-invariant across differently calibrated captures.
func tauFromSingleReport(path string, targetIPN float64, preferMM bool) (Candidate, bool) {
	metrics := loadMetrics(path)
	if metrics == nil {
		return Candidate{}, false
	}

	order := []string{"mm", "px"}
	if !preferMM {
		order = []string{"px", "mm"}
	}
	for _, units := range order {
		mad, scale := metrics.pair(units)
		if mad == nil || scale == nil {
			continue
		}
		if *mad < 0 || *scale <= 0 {
			continue
		}
		denom := (1 - targetIPN/100) * *scale
		if denom <= 0 {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		return Candidate{ReportPath: abs, Tau: *mad / denom, Units: units}, true
	}
	return Candidate{}, false
}

// CurvePoint evaluates the labeled classifier at one candidate tau.
type CurvePoint struct {
	Tau              float64 `json:"tau"`
	ThresholdRatio   float64 `json:"threshold_ratio"`
	BalancedAccuracy float64 `json:"balanced_accuracy"`
	TPR              float64 `json:"tpr"`
	TNR              float64 `json:"tnr"`
	MeanIPNGood      float64 `json:"mean_ipn_good"`
	MeanIPNBad       float64 `json:"mean_ipn_bad"`
	MeanIPNGap       float64 `json:"mean_ipn_gap"`
	TP               int     `json:"tp"`
	FN               int     `json:"fn"`
	TN               int     `json:"tn"`
	FP               int     `json:"fp"`
}

// Curve is the ordered-by-tau evaluation sweep, used both for the search
// tie-break and for CSV/PNG export.
type Curve struct {
	Units           string       `json:"units"`
	AcceptIPN       float64      `json:"accept_ipn"`
	TauMin          float64      `json:"tau_min"`
	TauMax          float64      `json:"tau_max"`
	GoodReportsUsed int          `json:"good_reports_used"`
	BadReportsUsed  int          `json:"bad_reports_used"`
	Points          []CurvePoint `json:"points"`
}

// LabeledOptions parameterizes labeled calibration. The constraint fields
// are active only when non-nil.
type LabeledOptions struct {
	AcceptIPN     float64
	PreferMM      bool
	TauMin        float64
	TauMax        float64
	Objective     string
	MaxMeanIPNBad *float64
	MinMeanIPNGap *float64
	MinTPR        *float64
	MinTNR        *float64
}

// DefaultLabeledOptions returns the stock labeled-mode parameters.
func DefaultLabeledOptions() LabeledOptions {
	return LabeledOptions{
		AcceptIPN: DefaultAcceptIPN,
		PreferMM:  true,
		TauMin:    DefaultTauMin,
		TauMax:    DefaultTauMax,
		Objective: ObjectiveBalancedAccuracy,
	}
}

// LabeledResult is the outcome of labeled calibration, including the
// winning operating point's confusion matrix and the constraint verdict.
type LabeledResult struct {
	Tau                  float64  `json:"tau"`
	Units                string   `json:"units"`
	GoodReportsUsed      int      `json:"good_reports_used"`
	BadReportsUsed       int      `json:"bad_reports_used"`
	AcceptIPN            float64  `json:"accept_ipn"`
	TauMin               float64  `json:"tau_min"`
	TauMax               float64  `json:"tau_max"`
	Objective            string   `json:"objective"`
	MaxMeanIPNBad        *float64 `json:"max_mean_ipn_bad"`
	MinMeanIPNGap        *float64 `json:"min_mean_ipn_gap"`
	MinTPR               *float64 `json:"min_tpr"`
	MinTNR               *float64 `json:"min_tnr"`
	ConstraintsSatisfied bool     `json:"constraints_satisfied"`
	FeasiblePoints       int      `json:"feasible_points"`
	FallbackReason       string   `json:"fallback_reason,omitempty"`
	BalancedAccuracy     float64  `json:"balanced_accuracy"`
	TPR                  float64  `json:"tpr"`
	TNR                  float64  `json:"tnr"`
	MeanIPNGood          float64  `json:"mean_ipn_good"`
	MeanIPNBad           float64  `json:"mean_ipn_bad"`
	MeanIPNGap           float64  `json:"mean_ipn_gap"`
	TP                   int      `json:"tp"`
	FN                   int      `json:"fn"`
	TN                   int      `json:"tn"`
	FP                   int      `json:"fp"`
	GoodPaths            []string `json:"good_paths"`
	BadPaths             []string `json:"bad_paths"`
}

// FallbackNoFeasiblePoints marks a result chosen without constraints
// because no candidate satisfied them.
const FallbackNoFeasiblePoints = "no_feasible_points_for_constraints"

// CalibrateFromLabeledReports sweeps the exact critical tau values and
// picks the best operating point by the configured objective, honoring the
// active constraints. When every candidate violates a constraint the best
// unconstrained point is returned with ConstraintsSatisfied=false; the
// calibration always yields a usable tau.
func CalibrateFromLabeledReports(goodPaths, badPaths []string, opts LabeledOptions) (LabeledResult, error) {
	if opts.AcceptIPN <= 0 || opts.AcceptIPN >= 100 {
		return LabeledResult{}, fmt.Errorf("accept_ipn must be between 0 and 100")
	}
	if err := validateTauBounds(opts.TauMin, opts.TauMax); err != nil {
		return LabeledResult{}, err
	}
	if opts.Objective != "" && !validObjective(opts.Objective) {
		return LabeledResult{}, fmt.Errorf("unknown objective %q", opts.Objective)
	}
	if len(goodPaths) == 0 || len(badPaths) == 0 {
		return LabeledResult{}, fmt.Errorf("both good and bad report sets are required")
	}

	units, goodValues, badValues, err := labeledRatioValues(goodPaths, badPaths, opts.PreferMM)
	if err != nil {
		return LabeledResult{}, err
	}

	// The search runs over the full critical-value set; downsampling is
	// for export only.
	points := sweepPoints(goodValues, badValues, opts.AcceptIPN, opts.TauMin, opts.TauMax)
	if len(points) == 0 {
		return LabeledResult{}, fmt.Errorf("no tau candidates available for labeled calibration")
	}

	objective := opts.Objective
	if objective == "" {
		objective = ObjectiveBalancedAccuracy
	}

	feasible := make([]CurvePoint, 0, len(points))
	for _, p := range points {
		if satisfiesConstraints(p, opts) {
			feasible = append(feasible, p)
		}
	}

	pool := feasible
	satisfied := true
	fallbackReason := ""
	if len(feasible) == 0 {
		pool = points
		satisfied = false
		fallbackReason = FallbackNoFeasiblePoints
	}

	best := pool[0]
	for _, p := range pool[1:] {
		if objectiveLess(best, p, objective) {
			best = p
		}
	}

	return LabeledResult{
		Tau:                  best.Tau,
		Units:                units,
		GoodReportsUsed:      len(goodValues),
		BadReportsUsed:       len(badValues),
		AcceptIPN:            opts.AcceptIPN,
		TauMin:               opts.TauMin,
		TauMax:               opts.TauMax,
		Objective:            objective,
		MaxMeanIPNBad:        opts.MaxMeanIPNBad,
		MinMeanIPNGap:        opts.MinMeanIPNGap,
		MinTPR:               opts.MinTPR,
		MinTNR:               opts.MinTNR,
		ConstraintsSatisfied: satisfied,
		FeasiblePoints:       len(feasible),
		FallbackReason:       fallbackReason,
		BalancedAccuracy:     best.BalancedAccuracy,
		TPR:                  best.TPR,
		TNR:                  best.TNR,
		MeanIPNGood:          best.MeanIPNGood,
		MeanIPNBad:           best.MeanIPNBad,
		MeanIPNGap:           best.MeanIPNGap,
		TP:                   best.TP,
		FN:                   best.FN,
		TN:                   best.TN,
		FP:                   best.FP,
		GoodPaths:            ratioPaths(goodValues),
		BadPaths:             ratioPaths(badValues),
	}, nil
}

// BuildLabeledCurve evaluates the sweep for export. MaxPoints bounds the
// emitted point count by evenly spaced index selection; it never changes
// which tau a calibration run would pick.
func BuildLabeledCurve(goodPaths, badPaths []string, opts LabeledOptions, maxPoints int) (Curve, error) {
	if opts.AcceptIPN <= 0 || opts.AcceptIPN >= 100 {
		return Curve{}, fmt.Errorf("accept_ipn must be between 0 and 100")
	}
	if err := validateTauBounds(opts.TauMin, opts.TauMax); err != nil {
		return Curve{}, err
	}
	if maxPoints <= 0 {
		return Curve{}, fmt.Errorf("max_points must be > 0")
	}
	if len(goodPaths) == 0 || len(badPaths) == 0 {
		return Curve{}, fmt.Errorf("both good and bad report sets are required")
	}

	units, goodValues, badValues, err := labeledRatioValues(goodPaths, badPaths, opts.PreferMM)
	if err != nil {
		return Curve{}, err
	}

	points := sweepPoints(goodValues, badValues, opts.AcceptIPN, opts.TauMin, opts.TauMax)
	points = downsamplePoints(points, maxPoints)

	return Curve{
		Units:           units,
		AcceptIPN:       opts.AcceptIPN,
		TauMin:          opts.TauMin,
		TauMax:          opts.TauMax,
		GoodReportsUsed: len(goodValues),
		BadReportsUsed:  len(badValues),
		Points:          points,
	}, nil
}

func labeledRatioValues(goodPaths, badPaths []string, preferMM bool) (string, []ratioValue, []ratioValue, error) {
	all := append(append([]string{}, goodPaths...), badPaths...)
	units, err := chooseUnits(all, preferMM)
	if err != nil {
		return "", nil, nil, err
	}
	goodValues := extractRatioValues(goodPaths, units)
	badValues := extractRatioValues(badPaths, units)
	if len(goodValues) == 0 || len(badValues) == 0 {
		return "", nil, nil, fmt.Errorf("no valid reports available for labeled calibration")
	}
	return units, goodValues, badValues, nil
}

// sweepPoints evaluates the classifier at every critical tau: each
// observed ratio inverse-mapped through the acceptance threshold, the two
// domain bounds, and the midpoints between adjacent critical values. Every
// classification-boundary crossing is therefore represented exactly.
func sweepPoints(goodValues, badValues []ratioValue, acceptIPN, tauMin, tauMax float64) []CurvePoint {
	factor := 1 - acceptIPN/100
	boundaries := []float64{tauMin, tauMax}
	for _, v := range goodValues {
		boundaries = append(boundaries, v.Ratio/factor)
	}
	for _, v := range badValues {
		boundaries = append(boundaries, v.Ratio/factor)
	}

	candidates := midpointCandidates(boundaries, tauMin, tauMax)
	if len(candidates) == 0 {
		candidates = []float64{tauMin, tauMax}
	}

	points := make([]CurvePoint, 0, len(candidates))
	for _, tau := range candidates {
		points = append(points, evaluateTau(goodValues, badValues, tau, acceptIPN))
	}
	return points
}

func evaluateTau(goodValues, badValues []ratioValue, tau, acceptIPN float64) CurvePoint {
	threshold := tau * (1 - acceptIPN/100)

	tp := 0
	for _, v := range goodValues {
		if v.Ratio <= threshold {
			tp++
		}
	}
	tn := 0
	for _, v := range badValues {
		if v.Ratio > threshold {
			tn++
		}
	}
	fn := len(goodValues) - tp
	fp := len(badValues) - tn

	tpr := float64(tp) / float64(len(goodValues))
	tnr := float64(tn) / float64(len(badValues))
	meanGood := meanIPNFromRatios(goodValues, tau)
	meanBad := meanIPNFromRatios(badValues, tau)

	return CurvePoint{
		Tau:              tau,
		ThresholdRatio:   threshold,
		BalancedAccuracy: 0.5 * (tpr + tnr),
		TPR:              tpr,
		TNR:              tnr,
		MeanIPNGood:      meanGood,
		MeanIPNBad:       meanBad,
		MeanIPNGap:       meanGood - meanBad,
		TP:               tp,
		FN:               fn,
		TN:               tn,
		FP:               fp,
	}
}

// midpointCandidates clamps the boundary values into [tauMin, tauMax],
// then emits every boundary plus the midpoint of each adjacent pair,
// sorted and de-duplicated.
func midpointCandidates(boundaries []float64, tauMin, tauMax float64) []float64 {
	unique := make(map[float64]bool)
	for _, v := range boundaries {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		unique[clamp(v, tauMin, tauMax)] = true
	}
	vals := make([]float64, 0, len(unique))
	for v := range unique {
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	if len(vals) == 0 {
		return nil
	}

	candidates := []float64{vals[0], vals[len(vals)-1]}
	for i := 0; i+1 < len(vals); i++ {
		candidates = append(candidates, 0.5*(vals[i]+vals[i+1]), vals[i], vals[i+1])
	}
	sort.Float64s(candidates)

	out := candidates[:1]
	for _, v := range candidates[1:] {
		if v-out[len(out)-1] > dedupeEps {
			out = append(out, v)
		}
	}
	return out
}

// downsamplePoints keeps at most maxPoints, evenly spaced by index so the
// curve stays monotone in tau.
func downsamplePoints(points []CurvePoint, maxPoints int) []CurvePoint {
	if len(points) <= maxPoints {
		return points
	}
	if maxPoints == 1 {
		return points[:1]
	}
	out := make([]CurvePoint, 0, maxPoints)
	lastIdx := -1
	for i := 0; i < maxPoints; i++ {
		idx := int(math.Round(float64(i) * float64(len(points)-1) / float64(maxPoints-1)))
		if idx != lastIdx {
			out = append(out, points[idx])
			lastIdx = idx
		}
	}
	return out
}

func meanIPNFromRatios(values []ratioValue, tau float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var acc float64
	for _, v := range values {
		acc += ipnFromRatio(v.Ratio, tau)
	}
	return acc / float64(len(values))
}

func ipnFromRatio(ratio, tau float64) float64 {
	if tau <= 0 {
		return 0
	}
	return clamp(100*(1-ratio/tau), 0, 100)
}

func aggregate(values []float64, statistic string) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("no values to aggregate")
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	switch statistic {
	case "mean":
		return stat.Mean(values, nil), nil
	case "p75":
		return sorted[int(0.75*float64(len(sorted)-1))], nil
	case "median", "":
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2], nil
		}
		return 0.5 * (sorted[n/2-1] + sorted[n/2]), nil
	default:
		return 0, fmt.Errorf("unknown statistic %q", statistic)
	}
}

func ratioPaths(values []ratioValue) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Path
	}
	return out
}

func validateTauBounds(tauMin, tauMax float64) error {
	if tauMin <= 0 {
		return fmt.Errorf("tau_min must be > 0")
	}
	if tauMax <= tauMin {
		return fmt.Errorf("tau_max must be greater than tau_min")
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
