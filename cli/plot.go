package cli

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const flagPlot = "plot"

// savePlot draws values against their 1-based position and saves the plot to path. The image
// format follows the file extension.
func savePlot(path, title, yLabel string, values []float64) error {
	if len(values) == 0 {
		return errors.New("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: float64(i + 1), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "saving plot %s", path)
}
