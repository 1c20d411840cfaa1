// Command taucal calibrates the IPN tolerance ratio tau from prior run
// reports, either by inverting a target score or by separating labeled
// good and bad parts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"cut-precision/internal/tau"
	"cut-precision/internal/version"
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprintf("%v", []string(*s)) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	var (
		targetIPN      = flag.Float64("target-ipn", tau.DefaultTargetIPN, "target IPN score for report-based calibration")
		statistic      = flag.String("statistic", tau.DefaultStatistic, "aggregation over per-report taus: median, mean or p75")
		acceptIPN      = flag.Float64("accept-ipn", tau.DefaultAcceptIPN, "acceptance IPN threshold for labeled calibration")
		policyName     = flag.String("policy", "", "labeled calibration policy preset: balanced or strict")
		objective      = flag.String("objective", "", "labeled calibration objective")
		maxBad         = flag.Float64("max-mean-ipn-bad", 0, "constraint: maximum mean IPN over bad parts")
		minGap         = flag.Float64("min-mean-ipn-gap", 0, "constraint: minimum good/bad mean IPN gap")
		minTPR         = flag.Float64("min-tpr", 0, "constraint: minimum true positive rate")
		minTNR         = flag.Float64("min-tnr", 0, "constraint: minimum true negative rate")
		preferPx       = flag.Bool("prefer-px", false, "calibrate in pixel units even when mm metrics exist")
		tauMin         = flag.Float64("tau-min", tau.DefaultTauMin, "lower tau clamp")
		tauMax         = flag.Float64("tau-max", tau.DefaultTauMax, "upper tau clamp")
		curveCSV       = flag.String("curve-csv", "", "write the labeled calibration curve as CSV")
		curvePNG       = flag.String("curve-png", "", "write the labeled calibration curve as PNG")
		curveMaxPoints = flag.Int("curve-max-points", tau.DefaultCurveMaxPoints, "maximum exported curve points")
		showVersion    = flag.Bool("version", false, "print version and exit")
	)
	var reports, goodReports, badReports stringList
	flag.Var(&reports, "reports", "report glob for target-IPN calibration (repeatable)")
	flag.Var(&goodReports, "good-reports", "report glob for known-good parts (repeatable)")
	flag.Var(&badReports, "bad-reports", "report glob for known-bad parts (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("taucal %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		return
	}

	labeled := len(goodReports) > 0 || len(badReports) > 0
	if len(reports) > 0 && labeled {
		fatal("-reports and -good-reports/-bad-reports are mutually exclusive")
	}
	if labeled && (len(goodReports) == 0 || len(badReports) == 0) {
		fatal("labeled calibration needs both -good-reports and -bad-reports")
	}
	if !labeled && len(reports) == 0 {
		fatal("provide -reports, or -good-reports with -bad-reports")
	}
	if (*curveCSV != "" || *curvePNG != "") && !labeled {
		fatal("curve export requires labeled calibration")
	}

	var payload any
	if labeled {
		payload = runLabeled(goodReports, badReports, *acceptIPN, *policyName, *objective,
			optional(*maxBad, isSet("max-mean-ipn-bad")),
			optional(*minGap, isSet("min-mean-ipn-gap")),
			optional(*minTPR, isSet("min-tpr")),
			optional(*minTNR, isSet("min-tnr")),
			*preferPx, *tauMin, *tauMax, *curveCSV, *curvePNG, *curveMaxPoints)
	} else {
		payload = runTarget(reports, *targetIPN, *statistic, *preferPx, *tauMin, *tauMax)
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fatal(err.Error())
	}
	fmt.Println(string(out))
}

func runTarget(patterns []string, targetIPN float64, statistic string, preferPx bool, tauMin, tauMax float64) tau.TargetResult {
	paths, err := tau.CollectReportPaths(patterns)
	if err != nil {
		fatal(err.Error())
	}
	opts := tau.TargetOptions{
		TargetIPN: targetIPN,
		PreferMM:  !preferPx,
		Statistic: statistic,
		TauMin:    tauMin,
		TauMax:    tauMax,
	}
	result, err := tau.CalibrateFromReports(paths, opts)
	if err != nil {
		fatal(err.Error())
	}
	return result
}

// labeledPayload is the labeled-mode output document: the calibration
// result plus where the curve artifacts went.
type labeledPayload struct {
	tau.LabeledResult
	Policy   string  `json:"policy"`
	CurveCSV *string `json:"curve_csv"`
	CurvePNG *string `json:"curve_png"`
}

func runLabeled(goodPatterns, badPatterns []string, acceptIPN float64, policyName, objective string,
	maxBad, minGap, minTPR, minTNR *float64, preferPx bool, tauMin, tauMax float64,
	curveCSV, curvePNG string, curveMaxPoints int) labeledPayload {

	policy, err := tau.ResolvePolicy(policyName, objective, maxBad, minGap, minTPR, minTNR)
	if err != nil {
		fatal(err.Error())
	}
	goodPaths, err := tau.CollectReportPaths(goodPatterns)
	if err != nil {
		fatal(err.Error())
	}
	badPaths, err := tau.CollectReportPaths(badPatterns)
	if err != nil {
		fatal(err.Error())
	}

	opts := tau.LabeledOptions{
		AcceptIPN: acceptIPN,
		PreferMM:  !preferPx,
		TauMin:    tauMin,
		TauMax:    tauMax,
	}
	policy.Apply(&opts)

	result, err := tau.CalibrateFromLabeledReports(goodPaths, badPaths, opts)
	if err != nil {
		fatal(err.Error())
	}

	payload := labeledPayload{LabeledResult: result, Policy: policy.Name}
	if curveCSV != "" || curvePNG != "" {
		curve, err := tau.BuildLabeledCurve(goodPaths, badPaths, opts, curveMaxPoints)
		if err != nil {
			fatal(err.Error())
		}
		if curveCSV != "" {
			written, err := tau.WriteCurveCSV(curveCSV, curve)
			if err != nil {
				fatal(err.Error())
			}
			payload.CurveCSV = &written
		}
		if curvePNG != "" {
			written, err := tau.WriteCurvePNG(curvePNG, curve, result.Tau)
			if err != nil {
				fatal(err.Error())
			}
			payload.CurvePNG = &written
		}
	}
	return payload
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func optional(v float64, set bool) *float64 {
	if !set {
		return nil
	}
	return &v
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
