package register

import (
	"cut-precision/internal/distance"
	"cut-precision/internal/resample"
	"cut-precision/pkg/geometry"
)

// CandidateScore is one row of selection diagnostics, kept for the report.
type CandidateScore struct {
	Method         string   `json:"method"`
	Success        bool     `json:"success"`
	Reason         string   `json:"reason,omitempty"`
	MatchesTotal   int      `json:"matches_total"`
	MatchesUsed    int      `json:"matches_used"`
	InlierRatio    float64  `json:"inlier_ratio"`
	ReprojErrorPx  *float64 `json:"reprojection_error_px"`
	SelectionMADPx *float64 `json:"selection_mad_px"`
}

// SelectByContourScore picks the registration candidate that best aligns
// the part boundary. Each successful candidate is scored by warping the
// real contour with its homography, resampling to the ideal point count
// and taking the mean nearest-neighbor distance to the ideal points. A
// candidate's own confidence (inlier ratio, correlation coefficient) is
// deliberately ignored: a confident feature match whose keypoints cluster
// away from the cut edge can still align the boundary badly.
//
// When no candidate succeeded, the first one is returned unchanged with a
// nil selection MAD.
func SelectByContourScore(candidates []Result, realContour, idealPoints []geometry.Point2D) (Result, *float64, []CandidateScore) {
	scores := make([]CandidateScore, 0, len(candidates))
	var best *Result
	var bestMAD *float64

	for i := range candidates {
		reg := candidates[i]
		var madPx *float64
		if reg.Success {
			if mad, err := contourMAD(realContour, idealPoints, reg.Homography); err == nil {
				madPx = &mad
				if bestMAD == nil || mad < *bestMAD {
					bestMAD = madPx
					best = &candidates[i]
				}
			}
		}
		scores = append(scores, CandidateScore{
			Method:         reg.Method,
			Success:        reg.Success,
			Reason:         reg.Reason,
			MatchesTotal:   reg.MatchesTotal,
			MatchesUsed:    reg.MatchesUsed,
			InlierRatio:    reg.InlierRatio,
			ReprojErrorPx:  reg.ReprojErrorPx,
			SelectionMADPx: madPx,
		})
	}

	if best != nil {
		return *best, bestMAD, scores
	}
	return candidates[0], nil, scores
}

func contourMAD(realContour, idealPoints []geometry.Point2D, hom geometry.Homography) (float64, error) {
	warped := hom.ApplyAll(realContour)
	warpedPoints, err := resample.ClosedContour(warped, resample.Options{NumPoints: len(idealPoints)})
	if err != nil {
		return 0, err
	}
	distances := distance.NearestDistances(warpedPoints, idealPoints)
	var sum float64
	for _, d := range distances {
		sum += d
	}
	return sum / float64(len(distances)), nil
}
