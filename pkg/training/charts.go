package training

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

func points(x, y []float64) []opts.LineData {
	data := make([]opts.LineData, len(x))
	for i := range x {
		data[i] = opts.LineData{Value: []interface{}{x[i], y[i]}}
	}
	return data
}

func unitLine(title, xName, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, Type: "value", Min: 0, Max: 1}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, Type: "value", Min: 0, Max: 1}),
	)
	line.AddSeries("chance", points([]float64{0, 1}, []float64{0, 1}),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

// RenderROC draws every fold's ROC curve and the mean curve.
func (e *Evaluation) RenderROC(w io.Writer) error {
	line := unitLine("K-fold ROC ("+e.Label+")", "FPR", "TPR")
	for _, f := range e.Folds {
		line.AddSeries(fmt.Sprintf("Fold %d AUC=%.3f", f.Fold, f.AUC), points(f.ROC.FPR, f.ROC.TPR))
	}
	line.AddSeries(fmt.Sprintf("Mean ROC AUC=%.3f", e.MeanAUC), points(e.MeanFPR, e.MeanTPR),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 3}))
	return line.Render(w)
}

// RenderCalibration plots observed against predicted frequency per bin.
func (e *Evaluation) RenderCalibration(w io.Writer) error {
	line := unitLine("Calibration (aggregate)", "Predicted", "Observed")
	x := make([]float64, len(e.Calibration))
	y := make([]float64, len(e.Calibration))
	for i, b := range e.Calibration {
		x[i], y[i] = b.MeanPredicted, b.FractionPositive
	}
	line.AddSeries("model", points(x, y), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line.Render(w)
}

// RenderAttribution shows mean |SHAP| per feature as horizontal bars.
func (e *Evaluation) RenderAttribution(w io.Writer) error {
	if e.Attribution.Result == nil {
		return fmt.Errorf("no attribution to render")
	}
	ranking := e.Attribution.Result.Ranking()
	names := make([]string, len(ranking))
	data := make([]opts.BarData, len(ranking))
	// Reversed so the largest bar sits on top.
	for i, r := range ranking {
		k := len(ranking) - 1 - i
		names[k] = r.Feature
		data[k] = opts.BarData{Value: r.MeanAbs}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "SHAP summary", Subtitle: fmt.Sprintf("%d rows", e.Attribution.Result.Rows)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
	)
	bar.SetXAxis(names).AddSeries("mean |SHAP|", data)
	bar.XYReversal()
	return bar.Render(w)
}
