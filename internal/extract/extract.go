// Package extract turns template drawings and cut photographs into closed
// boundary polygons.
package extract

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"cut-precision/internal/config"
	"cut-precision/pkg/geometry"
)

// Stats columns of ConnectedComponentsWithStats.
const (
	ccStatLeft   = 0
	ccStatTop    = 1
	ccStatWidth  = 2
	ccStatHeight = 3
	ccStatArea   = 4
)

// Failure reason codes.
const (
	ReasonNoIdealContour = "no_ideal_contour_found"
	ReasonNoRealContour  = "no_real_contour_found"
)

// Result carries the extracted boundary plus the intermediate masks for
// debug artifacts. The masks are owned by the caller; Close releases them.
type Result struct {
	Contour     []geometry.Point2D
	BinaryMask  gocv.Mat
	CleanedMask gocv.Mat
	Success     bool
	Reason      string
}

// Close releases the mask Mats.
func (r *Result) Close() {
	r.BinaryMask.Close()
	r.CleanedMask.Close()
}

// IdealContour extracts the template part boundary. The drawing is a thin
// dark outline on a light background, often crossed by ruler and axis
// lines: adaptive thresholding picks up the strokes, a Hough pass erases
// long straight lines, and morphology closes the outline into one solid
// component before scoring.
func IdealContour(imageBGR gocv.Mat, cfg config.ExtractionConfig) Result {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(imageBGR, &gray, gocv.ColorBGRToGray)
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	blockSize := cfg.IdealAdaptiveBlockSize
	if blockSize%2 == 0 {
		blockSize++
	}

	binary := gocv.NewMat()
	gocv.AdaptiveThreshold(blur, &binary, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv,
		blockSize, float32(cfg.IdealAdaptiveC))

	cleaned := removeLongLines(binary, cfg)

	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.IdealCloseKernel, cfg.IdealCloseKernel))
	defer closeKernel.Close()
	dilateKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.IdealDilateKernel, cfg.IdealDilateKernel))
	defer dilateKernel.Close()
	gocv.MorphologyEx(cleaned, &cleaned, gocv.MorphClose, closeKernel)
	gocv.Dilate(cleaned, &cleaned, dilateKernel)

	contour, ok := selectBestContour(cleaned, cfg.IdealMinAreaRatio)
	if !ok {
		return Result{BinaryMask: binary, CleanedMask: cleaned, Reason: ReasonNoIdealContour}
	}
	return Result{Contour: contour, BinaryMask: binary, CleanedMask: cleaned, Success: true}
}

// RealContour extracts the photographed part boundary. The cut part reads
// dark against the light backing board in both Lab lightness and HSV
// value; the union of the two dark masks is cleaned up and hole-filled,
// then the largest outer boundary wins.
func RealContour(imageBGR gocv.Mat, cfg config.ExtractionConfig) Result {
	darkMask := darkUnionMask(imageBGR, cfg)

	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.RealCloseKernel, cfg.RealCloseKernel))
	defer closeKernel.Close()
	openKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.RealOpenKernel, cfg.RealOpenKernel))
	defer openKernel.Close()

	cleaned := gocv.NewMat()
	gocv.MorphologyEx(darkMask, &cleaned, gocv.MorphClose, closeKernel)
	gocv.MorphologyEx(cleaned, &cleaned, gocv.MorphOpen, openKernel)
	fillHoles(&cleaned)

	contour, ok := largestExternalContour(cleaned)
	if !ok {
		return Result{BinaryMask: darkMask, CleanedMask: cleaned, Reason: ReasonNoRealContour}
	}
	return Result{Contour: contour, BinaryMask: darkMask, CleanedMask: cleaned, Success: true}
}

// darkUnionMask marks pixels dark in Lab L or HSV V. Threshold with
// BinaryInv is inclusive, so the configured bounds are shifted by one to
// keep the strict less-than semantics.
func darkUnionMask(imageBGR gocv.Mat, cfg config.ExtractionConfig) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(imageBGR, &lab, gocv.ColorBGRToLab)
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(imageBGR, &hsv, gocv.ColorBGRToHSV)

	labCh := gocv.Split(lab)
	hsvCh := gocv.Split(hsv)
	defer func() {
		for _, m := range labCh {
			m.Close()
		}
		for _, m := range hsvCh {
			m.Close()
		}
	}()

	lDark := gocv.NewMat()
	defer lDark.Close()
	gocv.Threshold(labCh[0], &lDark, float32(cfg.RealLabLThreshold-1), 255, gocv.ThresholdBinaryInv)
	vDark := gocv.NewMat()
	defer vDark.Close()
	gocv.Threshold(hsvCh[2], &vDark, float32(cfg.RealHSVVThreshold-1), 255, gocv.ThresholdBinaryInv)

	mask := gocv.NewMat()
	gocv.BitwiseOr(lDark, vDark, &mask)
	return mask
}

// removeLongLines erases ruler and axis strokes: any Hough segment longer
// than the configured fraction of the image's larger side is painted out.
func removeLongLines(binary gocv.Mat, cfg config.ExtractionConfig) gocv.Mat {
	h, w := binary.Rows(), binary.Cols()
	minLen := float32(float64(maxInt(h, w)) * cfg.LineRemovalMinLengthRatio)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(binary, &lines, 1, math.Pi/180, 80, minLen, 10)
	if lines.Rows() == 0 {
		return binary.Clone()
	}

	lineMask := gocv.Zeros(h, w, gocv.MatTypeCV8U)
	defer lineMask.Close()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		gocv.Line(&lineMask, image.Pt(int(v[0]), int(v[1])), image.Pt(int(v[2]), int(v[3])), white, cfg.LineRemovalThickness)
	}

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(lineMask, &inverted)
	out := gocv.NewMat()
	gocv.BitwiseAnd(binary, inverted, &out)
	return out
}

// selectBestContour scores connected components by size, closeness to the
// image center and a border-touch penalty, then traces the winner's outer
// boundary. Components below the area floor are skipped; if that floor
// eliminates everything, the largest component is used regardless.
func selectBestContour(mask gocv.Mat, minAreaRatio float64) ([]geometry.Point2D, bool) {
	h, w := mask.Rows(), mask.Cols()
	minArea := minAreaRatio * float64(h) * float64(w)

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	numLabels := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)
	if numLabels <= 1 {
		return nil, false
	}

	center := geometry.Point2D{X: float64(w) / 2, Y: float64(h) / 2}
	bestIdx := -1
	bestScore := math.Inf(-1)
	largestIdx, largestArea := -1, -1

	for idx := 1; idx < numLabels; idx++ {
		area := int(stats.GetIntAt(idx, ccStatArea))
		if area > largestArea {
			largestArea = area
			largestIdx = idx
		}
		if float64(area) < minArea {
			continue
		}

		x := int(stats.GetIntAt(idx, ccStatLeft))
		y := int(stats.GetIntAt(idx, ccStatTop))
		cw := int(stats.GetIntAt(idx, ccStatWidth))
		ch := int(stats.GetIntAt(idx, ccStatHeight))
		centroid := geometry.Point2D{X: centroids.GetDoubleAt(idx, 0), Y: centroids.GetDoubleAt(idx, 1)}

		distCenter := centroid.Distance(center)
		touchesBorder := x <= 1 || y <= 1 || x+cw >= w-1 || y+ch >= h-1
		score := float64(area) - 1.5*distCenter
		if touchesBorder {
			score -= 0.5 * float64(area)
		}
		if score > bestScore {
			bestScore = score
			bestIdx = idx
		}
	}

	// The strict floor can reject every component on sparse drawings.
	if bestIdx < 0 {
		bestIdx = largestIdx
	}
	if bestIdx < 0 {
		return nil, false
	}

	componentMask := gocv.NewMat()
	defer componentMask.Close()
	scalar := gocv.NewScalar(float64(bestIdx), 0, 0, 0)
	gocv.InRangeWithScalar(labels, scalar, scalar, &componentMask)

	contours := gocv.FindContours(componentMask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < contours.Size(); i++ {
		if contours.At(i).Size() > contours.At(best).Size() {
			best = i
		}
	}
	return contourPoints(contours.At(best)), true
}

func largestExternalContour(mask gocv.Mat) ([]geometry.Point2D, bool) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, false
	}
	best, bestArea := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			best = i
		}
	}
	return contourPoints(contours.At(best)), true
}

// fillHoles paints every external boundary solid so interior holes from
// reflections or texture do not spawn spurious inner contours.
func fillHoles(mask *gocv.Mat) {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()
	if contours.Size() == 0 {
		return
	}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for i := 0; i < contours.Size(); i++ {
		gocv.DrawContours(mask, contours, i, white, -1)
	}
}

func contourPoints(pv gocv.PointVector) []geometry.Point2D {
	out := make([]geometry.Point2D, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		p := pv.At(i)
		out[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
