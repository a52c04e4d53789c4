// Package report renders training and evaluation plots.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistoryFile is the name PlotHistory writes inside its output directory.
const HistoryFile = "training_history.png"

var ErrNoData = errors.New("nothing to plot")

var (
	trainColor = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	valColor   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// PlotHistory writes the per-epoch training and validation losses to
// dir/training_history.png and returns the file path.
func PlotHistory(dir string, trainLoss, valLoss []float64) (string, error) {
	if len(trainLoss) == 0 && len(valLoss) == 0 {
		return "", ErrNoData
	}

	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "MSE (normalized)"
	p.Add(plotter.NewGrid())

	if err := addLine(p, "train", epochXYs(trainLoss), trainColor); err != nil {
		return "", err
	}
	if err := addLine(p, "validation", epochXYs(valLoss), valColor); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	out := filepath.Join(dir, HistoryFile)
	if err := p.Save(8*vg.Inch, 5*vg.Inch, out); err != nil {
		return "", fmt.Errorf("saving plot: %w", err)
	}
	return out, nil
}

// PlotForecast writes observed against predicted flows to path.
func PlotForecast(path string, actual, predicted []float64) error {
	if len(actual) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = "Test set forecast"
	p.X.Label.Text = "hour"
	p.Y.Label.Text = "vehicles / hour"
	p.Add(plotter.NewGrid())

	if err := addLine(p, "observed", indexXYs(actual), color.RGBA{R: 90, G: 90, B: 90, A: 255}); err != nil {
		return err
	}
	if err := addLine(p, "predicted", indexXYs(predicted), trainColor); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	return nil
}

func addLine(p *plot.Plot, name string, xys plotter.XYs, c color.Color) error {
	if len(xys) == 0 {
		return nil
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1.2)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

// epochXYs numbers points from epoch 1.
func epochXYs(v []float64) plotter.XYs {
	xys := make(plotter.XYs, len(v))
	for i, y := range v {
		xys[i].X = float64(i + 1)
		xys[i].Y = y
	}
	return xys
}

func indexXYs(v []float64) plotter.XYs {
	xys := make(plotter.XYs, len(v))
	for i, y := range v {
		xys[i].X = float64(i)
		xys[i].Y = y
	}
	return xys
}
