package register

import (
	"gocv.io/x/gocv"

	"cut-precision/internal/config"
	"cut-precision/pkg/geometry"
)

// EstimateORB registers the test image onto the template via ORB feature
// matching: brute-force Hamming k=2 matching with Lowe's ratio test,
// followed by a RANSAC homography fit. The result is rejected when too few
// matches survive the ratio test or when RANSAC keeps too small an inlier
// fraction, even though the fitted matrix is still reported for
// diagnostics.
func EstimateORB(templateBGR, testBGR gocv.Mat, cfg config.RegistrationConfig) Result {
	templateGray := toGray(templateBGR)
	defer templateGray.Close()
	testGray := toGray(testBGR)
	defer testGray.Close()

	orb := gocv.NewORBWithParams(cfg.ORBNFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()
	kpTemplate, desTemplate := orb.DetectAndCompute(templateGray, noMask)
	defer desTemplate.Close()
	kpTest, desTest := orb.DetectAndCompute(testGray, noMask)
	defer desTest.Close()

	if desTemplate.Empty() || desTest.Empty() {
		return failure(ReasonMissingDescriptors, 0, 0, 0, nil)
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()
	knn := matcher.KnnMatch(desTest, desTemplate, 2)

	var good []gocv.DMatch
	for _, pair := range knn {
		if len(pair) != 2 {
			continue
		}
		if pair[0].Distance < cfg.KNNRatio*pair[1].Distance {
			good = append(good, pair[0])
		}
	}
	if len(good) < cfg.MinMatches {
		return failure(ReasonNotEnoughMatches, len(knn), len(good), 0, nil)
	}

	srcPts := make([]geometry.Point2D, len(good))
	dstPts := make([]geometry.Point2D, len(good))
	for i, m := range good {
		kp := kpTest[m.QueryIdx]
		srcPts[i] = geometry.Point2D{X: kp.X, Y: kp.Y}
		kt := kpTemplate[m.TrainIdx]
		dstPts[i] = geometry.Point2D{X: kt.X, Y: kt.Y}
	}

	hom, inliers, ok := fitHomographyRANSAC(srcPts, dstPts, cfg.RANSACReprojThreshold)
	if !ok {
		return failure(ReasonHomographyFailed, len(knn), len(good), 0, nil)
	}

	inlierCount := 0
	for _, in := range inliers {
		if in {
			inlierCount++
		}
	}
	inlierRatio := float64(inlierCount) / float64(len(good))
	reproj := reprojectionError(srcPts, dstPts, inliers, hom)

	if inlierRatio < cfg.MinInlierRatio {
		res := failure(ReasonLowInlierRatio, len(knn), len(good), inlierRatio, reproj)
		// Keep the fitted matrix visible for diagnostics.
		res.Homography = hom
		return res
	}

	return Result{
		Success:       true,
		Homography:    hom,
		Method:        MethodORB,
		MatchesTotal:  len(knn),
		MatchesUsed:   len(good),
		InlierRatio:   inlierRatio,
		ReprojErrorPx: reproj,
	}
}

// fitHomographyRANSAC fits src -> dst with OpenCV's RANSAC homography
// estimator and returns the per-match inlier flags.
func fitHomographyRANSAC(src, dst []geometry.Point2D, reprojThreshold float64) (geometry.Homography, []bool, bool) {
	srcMat := pointsToMat(src)
	defer srcMat.Close()
	dstMat := pointsToMat(dst)
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	hMat := gocv.FindHomography(srcMat, &dstMat, gocv.HomographyMethodRANSAC, reprojThreshold, &mask, 2000, 0.995)
	defer hMat.Close()
	if hMat.Empty() || mask.Empty() {
		return geometry.Homography{}, nil, false
	}

	var hom geometry.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			hom[r][c] = hMat.GetDoubleAt(r, c)
		}
	}
	if !hom.IsFinite() {
		return geometry.Homography{}, nil, false
	}

	inliers := make([]bool, len(src))
	for i := range inliers {
		inliers[i] = mask.GetUCharAt(i, 0) != 0
	}
	return hom, inliers, true
}

// reprojectionError returns the mean pixel error over inlier
// correspondences, or nil when there are none.
func reprojectionError(src, dst []geometry.Point2D, inliers []bool, hom geometry.Homography) *float64 {
	var sum float64
	var n int
	for i := range src {
		if !inliers[i] {
			continue
		}
		sum += hom.Apply(src[i]).Distance(dst[i])
		n++
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func pointsToMat(points []geometry.Point2D) gocv.Mat {
	m := gocv.NewMatWithSize(len(points), 1, gocv.MatTypeCV64FC2)
	for i, p := range points {
		m.SetDoubleAt(i, 0, p.X)
		m.SetDoubleAt(i, 1, p.Y)
	}
	return m
}

func toGray(bgr gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray
}
