package pipeline

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gocv.io/x/gocv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"cut-precision/internal/imgio"
	"cut-precision/pkg/geometry"
)

// writeDistancesCSV dumps the per-point error table. The d_mm column is
// left empty when no calibration is available.
func writeDistancesCSV(path string, points []geometry.Point2D, distancesPx, distancesMM []float64) error {
	if err := imgio.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create distances csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"idx", "x", "y", "d_px", "d_mm"}); err != nil {
		return fmt.Errorf("write distances csv header: %w", err)
	}
	for i, p := range points {
		mm := ""
		if distancesMM != nil {
			mm = formatFloat(distancesMM[i])
		}
		row := []string{
			strconv.Itoa(i),
			formatFloat(p.X),
			formatFloat(p.Y),
			formatFloat(distancesPx[i]),
			mm,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write distances csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush distances csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeErrorMap draws the measured boundary over the template, coloring
// each point by its error magnitude on the jet scale.
func writeErrorMap(path string, templateBGR gocv.Mat, points []geometry.Point2D, distancesPx []float64) error {
	canvas := templateBGR.Clone()
	defer canvas.Close()

	maxD := 1e-9
	for _, d := range distancesPx {
		if d > maxD {
			maxD = d
		}
	}
	palette := jetPalette()
	for i, p := range points {
		idx := int(math.Round(distancesPx[i] / maxD * 255))
		if idx < 0 {
			idx = 0
		}
		if idx > 255 {
			idx = 255
		}
		center := image.Pt(int(p.X+0.5), int(p.Y+0.5))
		gocv.Circle(&canvas, center, 3, palette[idx], -1)
	}
	return imgio.WriteImage(path, canvas)
}

// jetPalette maps 0..255 through OpenCV's jet colormap.
func jetPalette() [256]color.RGBA {
	gradient := gocv.NewMatWithSize(256, 1, gocv.MatTypeCV8U)
	defer gradient.Close()
	for i := 0; i < 256; i++ {
		gradient.SetUCharAt(i, 0, uint8(i))
	}
	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gradient, &colored, gocv.ColormapJet)

	var palette [256]color.RGBA
	for i := 0; i < 256; i++ {
		palette[i] = color.RGBA{
			B: colored.GetUCharAt(i, 0),
			G: colored.GetUCharAt(i, 1),
			R: colored.GetUCharAt(i, 2),
			A: 255,
		}
	}
	return palette
}

// writeErrorHistogram plots the error distribution with tolerance and MAD
// reference lines.
func writeErrorHistogram(path string, distancesPx []float64, tolerancePx, madPx float64) error {
	if err := imgio.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	values := make(plotter.Values, len(distancesPx))
	copy(values, distancesPx)

	p := plot.New()
	p.Title.Text = "Boundary Error Distribution"
	p.X.Label.Text = "distance (px)"
	p.Y.Label.Text = "count"

	hist, err := plotter.NewHist(values, 40)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	p.Add(hist)

	yMax := 1.0
	for _, bin := range hist.Bins {
		if bin.Weight > yMax {
			yMax = bin.Weight
		}
	}
	if tol, err := verticalMarker(tolerancePx, yMax, color.RGBA{R: 214, G: 39, B: 40, A: 255}); err == nil {
		p.Add(tol)
		p.Legend.Add(fmt.Sprintf("tolerance=%.2f px", tolerancePx), tol)
	}
	if mad, err := verticalMarker(madPx, yMax, color.RGBA{R: 44, G: 160, B: 44, A: 255}); err == nil {
		p.Add(mad)
		p.Legend.Add(fmt.Sprintf("mad=%.2f px", madPx), mad)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

func verticalMarker(x, yMax float64, c color.RGBA) (*plotter.Line, error) {
	line, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: yMax}})
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	return line, nil
}
