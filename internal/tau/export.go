package tau

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteCurveCSV writes the sweep as a flat CSV and returns the absolute
// output path.
func WriteCurveCSV(path string, curve Curve) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve curve csv path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create curve csv dir: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("create curve csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"tau", "threshold_ratio", "balanced_accuracy", "tpr", "tnr", "tp", "fn", "tn", "fp"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write curve csv header: %w", err)
	}
	for _, p := range curve.Points {
		row := []string{
			formatFloat(p.Tau),
			formatFloat(p.ThresholdRatio),
			formatFloat(p.BalancedAccuracy),
			formatFloat(p.TPR),
			formatFloat(p.TNR),
			strconv.Itoa(p.TP),
			strconv.Itoa(p.FN),
			strconv.Itoa(p.TN),
			strconv.Itoa(p.FP),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write curve csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush curve csv: %w", err)
	}
	return abs, nil
}

// WriteCurvePNG renders the balanced-accuracy/TPR/TNR tracks against tau,
// with a marker line at the chosen tau, and returns the absolute output
// path.
func WriteCurvePNG(path string, curve Curve, bestTau float64) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve curve png path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create curve png dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tau Calibration Curve (accept_ipn=%.1f, units=%s)", curve.AcceptIPN, curve.Units)
	p.X.Label.Text = "Tau"
	p.Y.Label.Text = "Score"
	p.Y.Min = 0
	p.Y.Max = 1.02

	tracks := []struct {
		name   string
		value  func(CurvePoint) float64
		color  color.RGBA
		dashes []vg.Length
	}{
		{"Balanced Accuracy", func(pt CurvePoint) float64 { return pt.BalancedAccuracy }, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}, nil},
		{"TPR", func(pt CurvePoint) float64 { return pt.TPR }, color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}, []vg.Length{vg.Points(4), vg.Points(3)}},
		{"TNR", func(pt CurvePoint) float64 { return pt.TNR }, color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}, []vg.Length{vg.Points(4), vg.Points(3)}},
	}
	for _, track := range tracks {
		pts := make(plotter.XYs, len(curve.Points))
		for i, cp := range curve.Points {
			pts[i] = plotter.XY{X: cp.Tau, Y: track.value(cp)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("build %s track: %w", track.name, err)
		}
		line.Color = track.color
		line.Width = vg.Points(1.5)
		line.Dashes = track.dashes
		p.Add(line)
		p.Legend.Add(track.name, line)
	}

	marker, err := plotter.NewLine(plotter.XYs{
		{X: bestTau, Y: 0},
		{X: bestTau, Y: 1.02},
	})
	if err != nil {
		return "", fmt.Errorf("build best-tau marker: %w", err)
	}
	marker.Color = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 255}
	marker.Dashes = []vg.Length{vg.Points(1), vg.Points(3)}
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("Best tau=%.4f", bestTau), marker)
	p.Legend.Top = true

	if err := p.Save(9*vg.Inch, 5*vg.Inch, abs); err != nil {
		return "", fmt.Errorf("save curve png: %w", err)
	}
	return abs, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
