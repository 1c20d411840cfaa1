package distance

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"cut-precision/pkg/geometry"
)

// BuildField rasterizes the ideal contour as a closed polyline into a
// binary mask (background 255, contour 0) and computes the exact
// Euclidean distance transform over it. Building is O(image area); each
// subsequent sample is O(1).
func BuildField(width, height int, idealPoints []geometry.Point2D, drawThickness int) (*Field, error) {
	if err := validateDims(width, height); err != nil {
		return nil, err
	}
	if len(idealPoints) < 3 {
		return nil, fmt.Errorf("ideal contour needs at least 3 points, got %d", len(idealPoints))
	}
	if drawThickness < 1 {
		drawThickness = 1
	}

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), height, width, gocv.MatTypeCV8U)
	defer mask.Close()

	poly := make([]image.Point, len(idealPoints))
	for i, p := range idealPoints {
		poly[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{poly})
	defer pv.Close()
	gocv.Polylines(&mask, pv, true, color.RGBA{}, drawThickness)

	dist := gocv.NewMat()
	defer dist.Close()
	labels := gocv.NewMat()
	defer labels.Close()
	gocv.DistanceTransform(mask, &dist, &labels, gocv.DistL2, gocv.DistanceMaskPrecise, gocv.DistanceLabelCComp)

	raw, err := dist.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read distance transform: %w", err)
	}
	data := make([]float32, len(raw))
	copy(data, raw)

	return &Field{Width: width, Height: height, Data: data}, nil
}
