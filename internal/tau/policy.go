package tau

import "fmt"

// Objectives for the labeled search. The base objective is balanced
// accuracy with a conservative lower-tau tie-break; the other two add the
// class mean-IPN gap in either priority order.
const (
	ObjectiveBalancedAccuracy        = "balanced_accuracy"
	ObjectiveBalancedAccuracyThenGap = "balanced_accuracy_then_gap"
	ObjectiveGapThenBalancedAccuracy = "gap_then_balanced_accuracy"
)

// Policy bundles an objective with a constraint set under a name.
type Policy struct {
	Name          string   `json:"policy"`
	Objective     string   `json:"objective"`
	MaxMeanIPNBad *float64 `json:"max_mean_ipn_bad"`
	MinMeanIPNGap *float64 `json:"min_mean_ipn_gap"`
	MinTPR        *float64 `json:"min_tpr"`
	MinTNR        *float64 `json:"min_tnr"`
}

// PolicyPresets are the named constraint bundles selectable from the CLI.
// "balanced" keeps rejected parts visibly bad while preserving a class
// gap; "strict" additionally demands high per-class rates.
var PolicyPresets = map[string]Policy{
	"balanced": {
		Name:          "balanced",
		Objective:     ObjectiveBalancedAccuracyThenGap,
		MaxMeanIPNBad: ptr(25.0),
		MinMeanIPNGap: ptr(10.0),
	},
	"strict": {
		Name:          "strict",
		Objective:     ObjectiveBalancedAccuracyThenGap,
		MaxMeanIPNBad: ptr(15.0),
		MinMeanIPNGap: ptr(20.0),
		MinTPR:        ptr(0.8),
		MinTNR:        ptr(0.9),
	},
}

// ResolvePolicy merges a preset with explicit overrides, field by field.
// With no preset the result is the "custom" policy whose objective
// defaults to balanced_accuracy_then_gap and whose constraints are only
// those explicitly given.
func ResolvePolicy(name string, objective string, maxMeanIPNBad, minMeanIPNGap, minTPR, minTNR *float64) (Policy, error) {
	resolved := Policy{Name: "custom", Objective: ObjectiveBalancedAccuracyThenGap}
	if name != "" {
		preset, ok := PolicyPresets[name]
		if !ok {
			return Policy{}, fmt.Errorf("unknown tau policy %q", name)
		}
		resolved = preset
	}
	if objective != "" {
		if !validObjective(objective) {
			return Policy{}, fmt.Errorf("unknown objective %q", objective)
		}
		resolved.Objective = objective
	}
	if maxMeanIPNBad != nil {
		resolved.MaxMeanIPNBad = maxMeanIPNBad
	}
	if minMeanIPNGap != nil {
		resolved.MinMeanIPNGap = minMeanIPNGap
	}
	if minTPR != nil {
		resolved.MinTPR = minTPR
	}
	if minTNR != nil {
		resolved.MinTNR = minTNR
	}
	return resolved, nil
}

// Apply copies the policy's objective and constraints onto the options.
func (p Policy) Apply(opts *LabeledOptions) {
	opts.Objective = p.Objective
	opts.MaxMeanIPNBad = p.MaxMeanIPNBad
	opts.MinMeanIPNGap = p.MinMeanIPNGap
	opts.MinTPR = p.MinTPR
	opts.MinTNR = p.MinTNR
}

func validObjective(name string) bool {
	switch name {
	case ObjectiveBalancedAccuracy, ObjectiveBalancedAccuracyThenGap, ObjectiveGapThenBalancedAccuracy:
		return true
	}
	return false
}

// objectiveLess reports whether b beats a under the objective. Every
// objective breaks remaining ties toward the lower tau.
func objectiveLess(a, b CurvePoint, objective string) bool {
	switch objective {
	case ObjectiveBalancedAccuracyThenGap:
		return lexLess(
			a.BalancedAccuracy, b.BalancedAccuracy,
			a.MeanIPNGap, b.MeanIPNGap,
			-a.Tau, -b.Tau,
		)
	case ObjectiveGapThenBalancedAccuracy:
		return lexLess(
			a.MeanIPNGap, b.MeanIPNGap,
			a.BalancedAccuracy, b.BalancedAccuracy,
			-a.Tau, -b.Tau,
		)
	default:
		return lexLess(
			a.BalancedAccuracy, b.BalancedAccuracy,
			-a.Tau, -b.Tau,
			0, 0,
		)
	}
}

// lexLess compares (a1,a2,a3) < (b1,b2,b3) lexicographically.
func lexLess(a1, b1, a2, b2, a3, b3 float64) bool {
	if a1 != b1 {
		return a1 < b1
	}
	if a2 != b2 {
		return a2 < b2
	}
	return a3 < b3
}

func satisfiesConstraints(p CurvePoint, opts LabeledOptions) bool {
	if opts.MaxMeanIPNBad != nil && p.MeanIPNBad > *opts.MaxMeanIPNBad {
		return false
	}
	if opts.MinMeanIPNGap != nil && p.MeanIPNGap < *opts.MinMeanIPNGap {
		return false
	}
	if opts.MinTPR != nil && p.TPR < *opts.MinTPR {
		return false
	}
	if opts.MinTNR != nil && p.TNR < *opts.MinTNR {
		return false
	}
	return true
}

func ptr(v float64) *float64 { return &v }
