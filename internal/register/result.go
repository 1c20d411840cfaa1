// Package register estimates the homography aligning the photographed cut
// to its template via three independent methods, and selects the candidate
// that best aligns the part boundary.
package register

import (
	"cut-precision/pkg/geometry"
)

// Method tags for Result.Method. One result shape covers every method;
// consumers branch on Success/Reason, never on matrix validity.
const (
	MethodORB      = "orb_homography"
	MethodAxes     = "axes_fallback"
	MethodECC      = "ecc_fallback"
	MethodIdentity = "identity_fallback"
)

// Failure reason codes.
const (
	ReasonMissingDescriptors = "missing_descriptors"
	ReasonNotEnoughMatches   = "not_enough_matches"
	ReasonHomographyFailed   = "homography_failed"
	ReasonLowInlierRatio     = "low_inlier_ratio"
	ReasonAxisDetectFailed   = "axis_detection_failed"
	ReasonAxisSingularBasis  = "axis_singular_basis"
	ReasonECCFailed          = "ecc_failed"
)

// Result is the uniform outcome of one registration attempt. Homography is
// always a valid matrix: identity when the method failed, so downstream
// warping never needs a validity branch.
type Result struct {
	Success       bool
	Homography    geometry.Homography
	Method        string
	MatchesTotal  int
	MatchesUsed   int
	InlierRatio   float64
	ReprojErrorPx *float64
	Reason        string
}

func failure(reason string, matchesTotal, matchesUsed int, inlierRatio float64, reproj *float64) Result {
	return Result{
		Success:       false,
		Homography:    geometry.IdentityHomography(),
		Method:        MethodIdentity,
		MatchesTotal:  matchesTotal,
		MatchesUsed:   matchesUsed,
		InlierRatio:   inlierRatio,
		ReprojErrorPx: reproj,
		Reason:        reason,
	}
}
