// Package imgio loads captures and writes debug artifacts.
package imgio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"

	"cut-precision/pkg/geometry"
)

// ReadBGR decodes an image file into a 3-channel 8-bit BGR Mat. OpenCV's
// reader handles the common formats; anything it rejects goes through the
// Go decoders so TIFF scans from the plotter still load.
func ReadBGR(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("open image %q: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode image %q: %w", path, err)
	}
	return imageToMat(img), nil
}

// imageToMat converts a Go image.Image to a BGR Mat.
func imageToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat
}

// EnsureDir creates the directory and its parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create dir %q: %w", path, err)
	}
	return nil
}

// WriteImage saves a Mat as an image file, creating parent directories.
func WriteImage(path string, mat gocv.Mat) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("write image %q", path)
	}
	return nil
}

// WriteOverlay draws the ideal and warped-real contours over the template
// for visual inspection: ideal in green, measured boundary in red.
func WriteOverlay(path string, templateBGR gocv.Mat, ideal, warpedReal []geometry.Point2D) error {
	overlay := templateBGR.Clone()
	defer overlay.Close()

	drawClosedPolyline(&overlay, ideal, color.RGBA{G: 200, A: 255})
	drawClosedPolyline(&overlay, warpedReal, color.RGBA{R: 220, A: 255})
	return WriteImage(path, overlay)
}

func drawClosedPolyline(dst *gocv.Mat, points []geometry.Point2D, c color.RGBA) {
	if len(points) < 2 {
		return
	}
	ipts := make([]image.Point, len(points))
	for i, p := range points {
		ipts[i] = image.Pt(int(p.X+0.5), int(p.Y+0.5))
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{ipts})
	defer pv.Close()
	gocv.Polylines(dst, pv, true, c, 2)
}
