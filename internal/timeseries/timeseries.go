// Package timeseries resamples, smooths and summarizes parameter series
// extracted from site workbooks. Bucket labels follow the right-edge
// convention: weeks end on Sunday, months and quarters on their last day.
package timeseries

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Point is one (date, value) sample.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ErrPoint pairs an aggregated value with its consolidated uncertainty.
// Err is NaN when the bucket had no uncertainty samples.
type ErrPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Err   float64   `json:"err"`
}

// MarshalJSON emits a NaN uncertainty as null, which JSON cannot carry
// otherwise.
func (p ErrPoint) MarshalJSON() ([]byte, error) {
	out := struct {
		Date  time.Time `json:"date"`
		Value float64   `json:"value"`
		Err   *float64  `json:"err"`
	}{Date: p.Date, Value: p.Value}
	if !math.IsNaN(p.Err) {
		out.Err = &p.Err
	}
	return json.Marshal(out)
}

type Frequency string

const (
	FreqDaily     Frequency = "D"
	FreqWeekly    Frequency = "W"
	FreqMonthly   Frequency = "M"
	FreqQuarterly Frequency = "Q"
)

// ParseFrequency accepts the short code or the Portuguese UI label.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "diario", "diário", "daily":
		return FreqDaily, nil
	case "w", "semanal", "weekly":
		return FreqWeekly, nil
	case "m", "mensal", "monthly", "":
		return FreqMonthly, nil
	case "q", "trimestral", "quarterly":
		return FreqQuarterly, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

type Aggregation string

const (
	AggMean   Aggregation = "mean"
	AggMedian Aggregation = "median"
	AggMax    Aggregation = "max"
	AggMin    Aggregation = "min"
)

func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "media", "média", "":
		return AggMean, nil
	case "median", "mediana":
		return AggMedian, nil
	case "max", "máx", "maximo", "máximo":
		return AggMax, nil
	case "min", "mín", "minimo", "mínimo":
		return AggMin, nil
	}
	return "", fmt.Errorf("unknown aggregation %q", s)
}

type Smoothing string

const (
	SmoothNone    Smoothing = "none"
	SmoothRolling Smoothing = "rolling"
	SmoothEMA     Smoothing = "ema"
)

func ParseSmoothing(s string) (Smoothing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "nenhuma", "sem suavização", "sem suavizacao":
		return SmoothNone, nil
	case "rolling", "média móvel", "media movel":
		return SmoothRolling, nil
	case "ema", "exponencial", "exponencial (ema)":
		return SmoothEMA, nil
	}
	return "", fmt.Errorf("unknown smoothing %q", s)
}

// ErrMode selects how per-bucket uncertainties are consolidated.
type ErrMode string

const (
	ErrMean ErrMode = "mean"
	ErrRMS  ErrMode = "rms"
	ErrMax  ErrMode = "max"
)

func ParseErrMode(s string) (ErrMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean", "media", "média", "":
		return ErrMean, nil
	case "rms":
		return ErrRMS, nil
	case "max", "máx":
		return ErrMax, nil
	}
	return "", fmt.Errorf("unknown error mode %q", s)
}

// bucketEnd maps a date to its bucket's right-edge label.
func bucketEnd(d time.Time, freq Frequency) time.Time {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch freq {
	case FreqDaily:
		return d
	case FreqWeekly:
		return d.AddDate(0, 0, (7-int(d.Weekday()))%7)
	case FreqMonthly:
		return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	case FreqQuarterly:
		endMonth := time.Month(((int(d.Month())-1)/3)*3 + 3)
		return time.Date(d.Year(), endMonth+1, 0, 0, 0, 0, 0, time.UTC)
	}
	return d
}

func aggregate(vals []float64, agg Aggregation) float64 {
	switch agg {
	case AggMedian:
		return median(vals)
	case AggMax:
		return floats.Max(vals)
	case AggMin:
		return floats.Min(vals)
	default:
		return stat.Mean(vals, nil)
	}
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Resample buckets a raw series by the output frequency and aggregates each
// bucket. Output is sorted by bucket label; empty input stays empty.
func Resample(pts []Point, freq Frequency, agg Aggregation) []Point {
	if len(pts) == 0 {
		return nil
	}
	buckets := make(map[time.Time][]float64)
	for _, p := range pts {
		key := bucketEnd(p.Date, freq)
		buckets[key] = append(buckets[key], p.Value)
	}
	out := make([]Point, 0, len(buckets))
	for key, vals := range buckets {
		out = append(out, Point{Date: key, Value: aggregate(vals, agg)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Smooth applies a rolling mean or exponential moving average in place of
// the input values. The rolling window shrinks at the start of the series so
// early points still get a value; the EMA uses span semantics
// (alpha = 2/(window+1)) seeded with the first sample.
func Smooth(pts []Point, mode Smoothing, window int) []Point {
	if len(pts) == 0 || mode == SmoothNone {
		return pts
	}
	if window < 1 {
		window = 1
	}
	out := make([]Point, len(pts))
	copy(out, pts)
	switch mode {
	case SmoothRolling:
		for i := range out {
			lo := i - window + 1
			if lo < 0 {
				lo = 0
			}
			var sum float64
			for j := lo; j <= i; j++ {
				sum += pts[j].Value
			}
			out[i].Value = sum / float64(i-lo+1)
		}
	case SmoothEMA:
		alpha := 2.0 / (float64(window) + 1)
		prev := pts[0].Value
		out[0].Value = prev
		for i := 1; i < len(pts); i++ {
			prev = alpha*pts[i].Value + (1-alpha)*prev
			out[i].Value = prev
		}
	}
	return out
}

// ResampleWithError aggregates a paired value/uncertainty series. Values use
// the selected aggregation; uncertainties are consolidated per bucket by
// mean, root-mean-square or max. NaN uncertainties are skipped, and a bucket
// with none keeps Err = NaN.
func ResampleWithError(pts []ErrPoint, freq Frequency, agg Aggregation, mode ErrMode) []ErrPoint {
	if len(pts) == 0 {
		return nil
	}
	type bucket struct {
		vals []float64
		errs []float64
	}
	buckets := make(map[time.Time]*bucket)
	for _, p := range pts {
		key := bucketEnd(p.Date, freq)
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.vals = append(b.vals, p.Value)
		if !math.IsNaN(p.Err) {
			b.errs = append(b.errs, p.Err)
		}
	}
	out := make([]ErrPoint, 0, len(buckets))
	for key, b := range buckets {
		out = append(out, ErrPoint{
			Date:  key,
			Value: aggregate(b.vals, agg),
			Err:   consolidateErr(b.errs, mode),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// consolidateErr implements the uncertainty formulas, with
// RMS = sqrt(mean(err^2)).
func consolidateErr(errs []float64, mode ErrMode) float64 {
	if len(errs) == 0 {
		return math.NaN()
	}
	switch mode {
	case ErrRMS:
		squares := make([]float64, len(errs))
		for i, e := range errs {
			squares[i] = e * e
		}
		return math.Sqrt(stat.Mean(squares, nil))
	case ErrMax:
		return floats.Max(errs)
	default:
		return stat.Mean(errs, nil)
	}
}

// Trend fits a degree-1 least-squares line over days elapsed since the
// first sample and returns the fitted value at each point, so unevenly
// spaced buckets weigh in by calendar distance. Needs at least two points.
func Trend(pts []Point) ([]Point, bool) {
	if len(pts) < 2 {
		return nil, false
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.Date.Sub(pts[0].Date).Hours() / 24
		ys[i] = p.Value
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{Date: p.Date, Value: intercept + slope*xs[i]}
	}
	return out, true
}

// Band returns the P10 and P90 of the series values using linear
// interpolation between order statistics.
func Band(pts []Point) (p10, p90 float64, ok bool) {
	if len(pts) == 0 {
		return 0, 0, false
	}
	vals := make([]float64, len(pts))
	for i, p := range pts {
		vals[i] = p.Value
	}
	sort.Float64s(vals)
	return quantile(vals, 0.10), quantile(vals, 0.90), true
}

// quantile interpolates linearly on sorted data, h = (n-1)p.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
