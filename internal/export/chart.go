package export

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteChart renders the label shares of s as a PNG bar chart.
func WriteChart(w io.Writer, s Summary) error {
	if len(s.Shares) == 0 {
		return fmt.Errorf("chart: no rows to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fraud predictions (%d claims)", s.Total)
	p.Y.Label.Text = "% of claims"
	p.Y.Min = 0
	p.Y.Max = 100

	values := make(plotter.Values, len(s.Shares))
	names := make([]string, len(s.Shares))
	for i, sh := range s.Shares {
		values[i] = sh.Percent
		names[i] = fmt.Sprintf("%s (%.1f%%)", sh.Label, sh.Percent)
	}

	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	wt, err := p.WriterTo(4*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("chart: write png: %w", err)
	}
	return nil
}
