// Command cutcheck measures how precisely a cut part matches its drawing.
// It compares a scanned template against a photo of the part and writes a
// JSON report plus visual artifacts.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"cut-precision/internal/pipeline"
	"cut-precision/internal/version"
)

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string { return fmt.Sprintf("%v", []string(*s)) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	var (
		templatePath = flag.String("template", "", "path to the template drawing (required)")
		testPath     = flag.String("test", "", "path to the photographed part (required)")
		outDir       = flag.String("out", "out", "output directory for report and artifacts")
		configPath   = flag.String("config", "", "optional YAML or JSON config file")

		stepPx    = flag.Float64("step-px", 0, "contour resampling step in pixels")
		numPoints = flag.Int("num-points", 0, "fixed contour point count (overrides step-px)")
		tauFlag   = flag.Float64("tau", 0, "tolerance ratio for the IPN score")
		manualMM  = flag.Float64("manual-mm-per-px", 0, "manual calibration scale, mm per pixel")

		noKDValidate = flag.Bool("no-kd-validate", false, "skip nearest-neighbor cross-validation of distances")
		debug        = flag.Bool("debug", false, "verbose logging and debug mask artifacts")
		showVersion  = flag.Bool("version", false, "print version and exit")

		tauTargetIPN   = flag.Float64("tau-auto-target-ipn", 80, "target IPN score for report-based tau calibration")
		tauStatistic   = flag.String("tau-auto-statistic", "median", "aggregation for report-based tau: median, mean or p75")
		tauAcceptIPN   = flag.Float64("tau-auto-accept-ipn", 70, "acceptance IPN threshold for labeled tau calibration")
		tauPolicy      = flag.String("tau-auto-policy", "", "labeled calibration policy preset: balanced or strict")
		tauObjective   = flag.String("tau-auto-objective", "", "labeled calibration objective")
		tauMaxBad      = flag.Float64("tau-auto-max-mean-ipn-bad", 0, "constraint: maximum mean IPN over bad parts")
		tauMinGap      = flag.Float64("tau-auto-min-mean-ipn-gap", 0, "constraint: minimum good/bad mean IPN gap")
		tauMinTPR      = flag.Float64("tau-auto-min-tpr", 0, "constraint: minimum true positive rate")
		tauMinTNR      = flag.Float64("tau-auto-min-tnr", 0, "constraint: minimum true negative rate")
		tauPreferPx    = flag.Bool("tau-auto-prefer-px", false, "calibrate tau in pixel units even when mm metrics exist")
		tauMin         = flag.Float64("tau-auto-min", 0.005, "lower tau clamp for calibration")
		tauMax         = flag.Float64("tau-auto-max", 0.5, "upper tau clamp for calibration")
		curveCSV       = flag.String("tau-auto-curve-csv", "", "write the labeled calibration curve as CSV")
		curvePNG       = flag.String("tau-auto-curve-png", "", "write the labeled calibration curve as PNG")
		curveMaxPoints = flag.Int("tau-auto-curve-max-points", 400, "maximum exported curve points")
	)
	var tauReports, tauGoodReports, tauBadReports stringList
	flag.Var(&tauReports, "tau-auto-reports", "report glob for target-IPN tau calibration (repeatable)")
	flag.Var(&tauGoodReports, "tau-auto-good-reports", "report glob for known-good parts (repeatable)")
	flag.Var(&tauBadReports, "tau-auto-bad-reports", "report glob for known-bad parts (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cutcheck %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		return
	}
	if *templatePath == "" || *testPath == "" {
		fmt.Fprintln(os.Stderr, "error: -template and -test are required")
		flag.Usage()
		os.Exit(1)
	}

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	opts := pipeline.Options{
		TemplatePath: *templatePath,
		TestPath:     *testPath,
		OutDir:       *outDir,
		ConfigPath:   *configPath,
		NoKDValidate: *noKDValidate,
		Debug:        *debug,

		TauReports:     tauReports,
		TauTargetIPN:   *tauTargetIPN,
		TauStatistic:   *tauStatistic,
		TauGoodReports: tauGoodReports,
		TauBadReports:  tauBadReports,
		TauAcceptIPN:   *tauAcceptIPN,
		TauPolicy:      *tauPolicy,
		TauObjective:   *tauObjective,
		TauPreferPx:    *tauPreferPx,
		TauMin:         *tauMin,
		TauMax:         *tauMax,
		CurveCSV:       *curveCSV,
		CurvePNG:       *curvePNG,
		CurveMaxPoints: *curveMaxPoints,
	}
	if setFlags["step-px"] {
		opts.StepPx = stepPx
	}
	if setFlags["num-points"] {
		opts.NumPoints = numPoints
	}
	if setFlags["tau"] {
		opts.Tau = tauFlag
	}
	if setFlags["manual-mm-per-px"] {
		opts.ManualMMPerPx = manualMM
	}
	if setFlags["tau-auto-max-mean-ipn-bad"] {
		opts.TauMaxMeanIPNBad = tauMaxBad
	}
	if setFlags["tau-auto-min-mean-ipn-gap"] {
		opts.TauMinMeanIPNGap = tauMinGap
	}
	if setFlags["tau-auto-min-tpr"] {
		opts.TauMinTPR = tauMinTPR
	}
	if setFlags["tau-auto-min-tnr"] {
		opts.TauMinTNR = tauMinTNR
	}

	report, err := pipeline.Run(opts)
	if err != nil {
		var extractErr *pipeline.ExtractionError
		if errors.As(err, &extractErr) {
			fmt.Fprintf(os.Stderr, "measurement failed: %s\n", extractErr.Reason)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(report.Metrics, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
