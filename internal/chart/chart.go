// Package chart builds the echarts figures embedded in site reports.
package chart

import (
	"bytes"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"geoportal/api/internal/timeseries"
)

func dateLabels(pts []timeseries.Point) []string {
	labels := make([]string, len(pts))
	for i, p := range pts {
		labels[i] = p.Date.Format("2006-01-02")
	}
	return labels
}

// Line renders the processed series, optionally overlaying a fitted trend
// line evaluated at the same dates.
func Line(title string, pts []timeseries.Point, trend []timeseries.Point) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	data := make([]opts.LineData, len(pts))
	for i, p := range pts {
		data[i] = opts.LineData{Value: p.Value}
	}
	line.SetXAxis(dateLabels(pts)).AddSeries("Taxa Metano", data)

	if len(trend) > 0 {
		trendData := make([]opts.LineData, len(trend))
		for i, p := range trend {
			trendData[i] = opts.LineData{Value: p.Value}
		}
		line.AddSeries("Tendência", trendData)
	}
	return line
}

// BarWithError renders aggregated bars with the consolidated uncertainty as
// a companion line series.
func BarWithError(title string, pts []timeseries.ErrPoint) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	labels := make([]string, len(pts))
	values := make([]opts.BarData, len(pts))
	errs := make([]opts.LineData, len(pts))
	hasErr := false
	for i, p := range pts {
		labels[i] = p.Date.Format("2006-01-02")
		values[i] = opts.BarData{Value: p.Value}
		if math.IsNaN(p.Err) {
			errs[i] = opts.LineData{Value: nil}
		} else {
			errs[i] = opts.LineData{Value: p.Err}
			hasErr = true
		}
	}
	bar.SetXAxis(labels).AddSeries("Taxa Metano", values)

	if hasErr {
		errLine := charts.NewLine()
		errLine.SetXAxis(labels).AddSeries("Incerteza", errs)
		bar.Overlap(errLine)
	}
	return bar
}

// Box renders the distribution of raw values grouped by month.
func Box(title string, pts []timeseries.Point) *charts.BoxPlot {
	box := charts.NewBoxPlot()
	box.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	groups := make(map[string][]float64)
	for _, p := range pts {
		key := p.Date.Format("2006-01")
		groups[key] = append(groups[key], p.Value)
	}
	labels := make([]string, 0, len(groups))
	for k := range groups {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	data := make([]opts.BoxPlotData, len(labels))
	for i, label := range labels {
		data[i] = opts.BoxPlotData{Value: fiveNumber(groups[label])}
	}
	box.SetXAxis(labels).AddSeries("Taxa Metano", data)
	return box
}

// fiveNumber computes [min, Q1, median, Q3, max] for a box plot item.
func fiveNumber(vals []float64) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	q := func(p float64) float64 {
		n := len(sorted)
		if n == 1 {
			return sorted[0]
		}
		h := float64(n-1) * p
		lo := int(h)
		if lo+1 >= n {
			return sorted[n-1]
		}
		return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
	}
	return []float64{sorted[0], q(0.25), q(0.5), q(0.75), sorted[len(sorted)-1]}
}

// Page bundles charts into a standalone HTML document for the PDF renderer.
func Page(charters ...components.Charter) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(charters...)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
