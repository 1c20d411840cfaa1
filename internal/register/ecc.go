package register

import (
	"image"

	"gocv.io/x/gocv"

	"cut-precision/internal/config"
	"cut-precision/pkg/geometry"
)

// EstimateECC registers the test image onto the template with OpenCV's
// enhanced correlation coefficient maximization. The test image is resized
// to the template grid first, so the returned homography includes the
// resize scale and maps original test pixels to template pixels.
func EstimateECC(templateBGR, testBGR gocv.Mat, cfg config.RegistrationConfig) (res Result) {
	// FindTransformECC throws when the iteration diverges; surface that as
	// a plain failure instead of crashing the run.
	defer func() {
		if r := recover(); r != nil {
			res = failure(ReasonECCFailed, 0, 0, 0, nil)
		}
	}()

	templateGray := toGray(templateBGR)
	defer templateGray.Close()
	testGray := toGray(testBGR)
	defer testGray.Close()

	tw, th := templateGray.Cols(), templateGray.Rows()
	sx := float64(tw) / float64(testGray.Cols())
	sy := float64(th) / float64(testGray.Rows())

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(testGray, &resized, image.Pt(tw, th), 0, 0, gocv.InterpolationLinear)

	templateF := gocv.NewMat()
	defer templateF.Close()
	templateGray.ConvertToWithParams(&templateF, gocv.MatTypeCV32F, 1.0/255.0, 0)
	testF := gocv.NewMat()
	defer testF.Close()
	resized.ConvertToWithParams(&testF, gocv.MatTypeCV32F, 1.0/255.0, 0)

	motion := eccMotion(cfg.ECCMotion)

	warp := identityWarp(motion)
	defer warp.Close()

	criteria := gocv.NewTermCriteria(gocv.EPS+gocv.MaxIter, cfg.ECCIterations, cfg.ECCEps)
	noMask := gocv.NewMat()
	defer noMask.Close()
	cc := gocv.FindTransformECC(templateF, testF, &warp, motion, criteria, noMask, 5)

	hom := warpToHomography(warp, motion)
	if !hom.IsFinite() {
		return failure(ReasonECCFailed, 0, 0, 0, nil)
	}

	// H_ecc maps resized-test coordinates; prepend the resize so the full
	// transform starts from original test pixels.
	full := hom.Compose(geometry.ScaleHomography(sx, sy))
	return Result{
		Success:     true,
		Homography:  full,
		Method:      MethodECC,
		InlierRatio: cc,
	}
}

func eccMotion(name string) int {
	switch name {
	case "translation":
		return gocv.MotionTranslation
	case "euclidean":
		return gocv.MotionEuclidean
	case "homography":
		return gocv.MotionHomography
	default:
		return gocv.MotionAffine
	}
}

func identityWarp(motion int) gocv.Mat {
	if motion == gocv.MotionHomography {
		return gocv.Eye(3, 3, gocv.MatTypeCV32F)
	}
	return gocv.Eye(2, 3, gocv.MatTypeCV32F)
}

func warpToHomography(warp gocv.Mat, motion int) geometry.Homography {
	hom := geometry.IdentityHomography()
	rows := 2
	if motion == gocv.MotionHomography {
		rows = 3
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < 3; c++ {
			hom[r][c] = float64(warp.GetFloatAt(r, c))
		}
	}
	return hom
}
