package register

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"cut-precision/internal/config"
	"cut-precision/pkg/geometry"
)

// Segment is one detected Hough line segment.
type Segment struct {
	P1, P2 geometry.Point2D
	Length float64
	Center geometry.Point2D
}

// AxisFrame is a 2-D coordinate frame recovered from the reference axes
// drawn on a capture: origin at the axis intersection, unit directions,
// and a robust span estimate per axis.
type AxisFrame struct {
	Origin geometry.Point2D
	UH     geometry.Point2D
	UV     geometry.Point2D
	SpanH  float64
	SpanV  float64
}

// EstimateAxes registers the test image onto the template by detecting the
// horizontal and vertical reference axes in both images and mapping one
// axis frame onto the other. This is a direct linear-algebra solve over
// the two span-scaled bases, not an iterative fit.
func EstimateAxes(templateBGR, testBGR gocv.Mat, cfg config.RegistrationConfig) Result {
	templateFrame, okT := detectAxisFrame(templateBGR, cfg)
	testFrame, okS := detectAxisFrame(testBGR, cfg)
	if !okT || !okS {
		return failure(ReasonAxisDetectFailed, 0, 0, 0, nil)
	}

	hom, ok := frameMapping(testFrame, templateFrame)
	if !ok {
		return failure(ReasonAxisSingularBasis, 0, 0, 0, nil)
	}

	return Result{
		Success:     true,
		Homography:  hom,
		Method:      MethodAxes,
		InlierRatio: 1.0,
	}
}

// frameMapping computes the similarity/affine transform taking the source
// axis frame onto the destination frame: unit length in source axis units
// maps to unit length in destination axis units.
func frameMapping(src, dst AxisFrame) (geometry.Homography, bool) {
	// Column bases scaled by span.
	sa, sb := src.UH.Scale(src.SpanH), src.UV.Scale(src.SpanV)
	da, db := dst.UH.Scale(dst.SpanH), dst.UV.Scale(dst.SpanV)

	det := sa.X*sb.Y - sb.X*sa.Y
	if math.Abs(det) < 1e-6 {
		return geometry.Homography{}, false
	}
	// inv(src_basis) for src_basis = [sa sb].
	inv00, inv01 := sb.Y/det, -sb.X/det
	inv10, inv11 := -sa.Y/det, sa.X/det

	// linear = dst_basis * inv(src_basis)
	l00 := da.X*inv00 + db.X*inv10
	l01 := da.X*inv01 + db.X*inv11
	l10 := da.Y*inv00 + db.Y*inv10
	l11 := da.Y*inv01 + db.Y*inv11

	tx := dst.Origin.X - (l00*src.Origin.X + l01*src.Origin.Y)
	ty := dst.Origin.Y - (l10*src.Origin.X + l11*src.Origin.Y)

	return geometry.HomographyFromAffine(geometry.AffineTransform{
		A: l00, B: l01, TX: tx,
		C: l10, D: l11, TY: ty,
	}), true
}

func detectAxisFrame(bgr gocv.Mat, cfg config.RegistrationConfig) (AxisFrame, bool) {
	gray := toGray(bgr)
	defer gray.Close()
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blur, &edges, float32(cfg.AxesCannyLow), float32(cfg.AxesCannyHigh))

	h, w := edges.Rows(), edges.Cols()
	segments := houghSegments(edges, cfg)
	return FitAxisFrame(segments, w, h, cfg)
}

func houghSegments(edges gocv.Mat, cfg config.RegistrationConfig) []Segment {
	h, w := edges.Rows(), edges.Cols()
	minLen := float32(float64(maxInt(h, w)) * cfg.AxesSegmentMinLineRatio)
	threshold := maxInt(30, int(math.Round(float64(cfg.AxesHoughThreshold)*0.5)))

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, threshold, minLen, float32(cfg.AxesMaxLineGap))

	segments := make([]Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		p1 := geometry.Point2D{X: float64(v[0]), Y: float64(v[1])}
		p2 := geometry.Point2D{X: float64(v[2]), Y: float64(v[3])}
		segments = append(segments, Segment{
			P1:     p1,
			P2:     p2,
			Length: p1.Distance(p2),
			Center: geometry.Point2D{X: 0.5 * (p1.X + p2.X), Y: 0.5 * (p1.Y + p2.Y)},
		})
	}
	return segments
}

// FitAxisFrame recovers the axis frame from detected segments. Horizontal
// candidates are restricted to the bottom image band and vertical ones to
// the left band when such segments exist: the reference axes sit along
// those margins, while long contour edges can appear anywhere.
func FitAxisFrame(segments []Segment, width, height int, cfg config.RegistrationConfig) (AxisFrame, bool) {
	if len(segments) == 0 {
		return AxisFrame{}, false
	}

	tol := cfg.AxesAngleToleranceDeg
	var horizontals, verticals []Segment
	for _, s := range segments {
		angle := math.Abs(angleDeg180(s))
		if angle <= tol || angle >= 180-tol {
			horizontals = append(horizontals, s)
		}
		if math.Abs(angle-90) <= tol {
			verticals = append(verticals, s)
		}
	}
	if len(horizontals) == 0 || len(verticals) == 0 {
		return AxisFrame{}, false
	}

	minY := float64(height) * cfg.AxesHorizontalROIMinY
	maxX := float64(width) * cfg.AxesVerticalROIMaxX
	if roi := filterSegments(horizontals, func(s Segment) bool { return s.Center.Y >= minY }); len(roi) > 0 {
		horizontals = roi
	}
	if roi := filterSegments(verticals, func(s Segment) bool { return s.Center.X <= maxX }); len(roi) > 0 {
		verticals = roi
	}

	hPoint, uH, okH := fitAxisLine(horizontals)
	vPoint, uV, okV := fitAxisLine(verticals)
	if !okH || !okV {
		return AxisFrame{}, false
	}

	origin, ok := lineIntersection(
		hPoint.Sub(uH.Scale(1000)), hPoint.Add(uH.Scale(1000)),
		vPoint.Sub(uV.Scale(1000)), vPoint.Add(uV.Scale(1000)),
	)
	if !ok {
		return AxisFrame{}, false
	}

	// Canonical signs: horizontal axis points right, vertical axis points
	// up in image coordinates.
	if uH.X < 0 {
		uH = uH.Scale(-1)
	}
	if uV.Y > 0 {
		uV = uV.Scale(-1)
	}

	// Reject near-parallel frames; they come from stray contour lines.
	bound := math.Cos(math.Max(1, 90-tol) * math.Pi / 180)
	if math.Abs(uH.Dot(uV)) > bound {
		return AxisFrame{}, false
	}

	spanH := estimateAxisSpan(origin, uH, horizontals)
	spanV := estimateAxisSpan(origin, uV, verticals)
	if spanH <= 1 || spanV <= 1 {
		return AxisFrame{}, false
	}

	return AxisFrame{Origin: origin, UH: uH, UV: uV, SpanH: spanH, SpanV: spanV}, true
}

// fitAxisLine fits one line through the pooled segment endpoints by total
// least squares: the principal direction of the centered endpoint cloud.
func fitAxisLine(segments []Segment) (point, dir geometry.Point2D, ok bool) {
	if len(segments) == 0 {
		return geometry.Point2D{}, geometry.Point2D{}, false
	}
	pts := make([]geometry.Point2D, 0, 2*len(segments))
	for _, s := range segments {
		pts = append(pts, s.P1, s.P2)
	}
	mean := geometry.Centroid(pts)

	var sxx, sxy, syy float64
	for _, p := range pts {
		dx, dy := p.X-mean.X, p.Y-mean.Y
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	// Leading eigenvector of the 2x2 scatter matrix.
	tr := sxx + syy
	det := sxx*syy - sxy*sxy
	lambda := tr/2 + math.Sqrt(math.Max(0, tr*tr/4-det))
	var d geometry.Point2D
	if math.Abs(sxy) > 1e-12 {
		d = geometry.Point2D{X: lambda - syy, Y: sxy}
	} else if sxx >= syy {
		d = geometry.Point2D{X: 1, Y: 0}
	} else {
		d = geometry.Point2D{X: 0, Y: 1}
	}
	norm := d.Norm()
	if norm < 1e-8 {
		return geometry.Point2D{}, geometry.Point2D{}, false
	}
	return mean, d.Scale(1 / norm), true
}

// estimateAxisSpan takes the 95th percentile of projected endpoint
// distances from the origin, robust to one stray long line.
func estimateAxisSpan(origin, axisU geometry.Point2D, segments []Segment) float64 {
	projections := make([]float64, 0, 2*len(segments))
	for _, s := range segments {
		projections = append(projections,
			math.Abs(s.P1.Sub(origin).Dot(axisU)),
			math.Abs(s.P2.Sub(origin).Dot(axisU)))
	}
	if len(projections) == 0 {
		return 0
	}
	return percentile95(projections)
}

func percentile95(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := 0.95 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func lineIntersection(p1, p2, p3, p4 geometry.Point2D) (geometry.Point2D, bool) {
	den := (p1.X-p2.X)*(p3.Y-p4.Y) - (p1.Y-p2.Y)*(p3.X-p4.X)
	if math.Abs(den) < 1e-6 {
		return geometry.Point2D{}, false
	}
	det1 := p1.X*p2.Y - p1.Y*p2.X
	det2 := p3.X*p4.Y - p3.Y*p4.X
	return geometry.Point2D{
		X: (det1*(p3.X-p4.X) - (p1.X-p2.X)*det2) / den,
		Y: (det1*(p3.Y-p4.Y) - (p1.Y-p2.Y)*det2) / den,
	}, true
}

// angleDeg180 returns the segment angle folded into [0, 180).
func angleDeg180(s Segment) float64 {
	angle := math.Atan2(s.P2.Y-s.P1.Y, s.P2.X-s.P1.X) * 180 / math.Pi
	return math.Mod(angle+180, 180)
}

func filterSegments(segments []Segment, keep func(Segment) bool) []Segment {
	var out []Segment
	for _, s := range segments {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
