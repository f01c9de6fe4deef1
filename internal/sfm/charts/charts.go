// Package charts renders evaluation results as standalone HTML pages and
// PNG plots for quick visual inspection of a run.
package charts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// WriteHTML renders the per-camera error charts of a report to a single
// self-contained HTML page.
func WriteHTML(report *sfm.ErrorReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Evaluation %s", report.ModelName)
	page.AddCharts(
		cameraErrorBar(report, "Camera Position Error", "Error (world units)",
			func(e sfm.CameraError) float64 { return e.Position }),
		cameraErrorBar(report, "Camera Rotation Error", "Error (deg)",
			func(e sfm.CameraError) float64 { return e.RotationDeg }),
		cameraErrorBar(report, "Camera Look-At Error", "Error (deg)",
			func(e sfm.CameraError) float64 { return e.LookAtDeg }),
	)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("render charts: %w", err)
	}
	return nil
}

// cameraErrorBar builds one bar chart of a per-camera error dimension,
// outliers highlighted in a separate series.
func cameraErrorBar(report *sfm.ErrorReport, title, yLabel string, value func(sfm.CameraError) float64) *charts.Bar {
	labels := make([]string, 0, len(report.Cameras.Errors))
	inliers := make([]opts.BarData, 0, len(report.Cameras.Errors))
	outliers := make([]opts.BarData, 0, len(report.Cameras.Errors))
	for _, e := range report.Cameras.Errors {
		labels = append(labels, fmt.Sprintf("%d", e.Frame))
		v := value(e)
		if e.Outlier {
			inliers = append(inliers, opts.BarData{Value: nil})
			outliers = append(outliers, opts.BarData{Value: v})
		} else {
			inliers = append(inliers, opts.BarData{Value: v})
			outliers = append(outliers, opts.BarData{Value: nil})
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("model=%s matched=%d outliers=%d", report.ModelName, report.Cameras.MatchedCount, report.Cameras.OutlierCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yLabel}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("cameras", inliers)
	bar.AddSeries("outliers", outliers, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#c23531"}))
	return bar
}

// WritePositionErrorPNG plots a histogram of the per-camera position errors.
func WritePositionErrorPNG(report *sfm.ErrorReport, path string) error {
	if len(report.Cameras.Errors) == 0 {
		return fmt.Errorf("report holds no camera errors to plot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}

	values := make(plotter.Values, 0, len(report.Cameras.Errors))
	for _, e := range report.Cameras.Errors {
		values = append(values, e.Position)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Camera Position Error", report.ModelName)
	p.X.Label.Text = "Error (world units)"
	p.Y.Label.Text = "Cameras"

	bins := len(values) / 2
	if bins < 5 {
		bins = 5
	}
	if bins > 40 {
		bins = 40
	}
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
