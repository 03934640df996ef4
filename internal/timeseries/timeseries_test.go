package timeseries

import (
	"math"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBucketEnd(t *testing.T) {
	cases := []struct {
		date string
		freq Frequency
		want string
	}{
		{"2025-10-08", FreqDaily, "2025-10-08"},
		{"2025-10-08", FreqWeekly, "2025-10-12"},
		{"2025-10-12", FreqWeekly, "2025-10-12"},
		{"2025-10-08", FreqMonthly, "2025-10-31"},
		{"2025-02-10", FreqMonthly, "2025-02-28"},
		{"2025-10-08", FreqQuarterly, "2025-12-31"},
		{"2025-01-15", FreqQuarterly, "2025-03-31"},
	}
	for _, c := range cases {
		got := bucketEnd(day(c.date), c.freq)
		if got.Format("2006-01-02") != c.want {
			t.Errorf("bucketEnd(%s, %s) = %s, want %s", c.date, c.freq, got.Format("2006-01-02"), c.want)
		}
	}
}

func TestResampleMonthlyMean(t *testing.T) {
	pts := []Point{
		{Date: day("2025-10-05"), Value: 10},
		{Date: day("2025-10-20"), Value: 20},
		{Date: day("2025-11-02"), Value: 30},
	}
	out := Resample(pts, FreqMonthly, AggMean)
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2", len(out))
	}
	if out[0].Date.Format("2006-01-02") != "2025-10-31" || !almostEqual(out[0].Value, 15) {
		t.Errorf("october bucket = %+v", out[0])
	}
	if out[1].Date.Format("2006-01-02") != "2025-11-30" || !almostEqual(out[1].Value, 30) {
		t.Errorf("november bucket = %+v", out[1])
	}
}

func TestResampleAggregations(t *testing.T) {
	pts := []Point{
		{Date: day("2025-10-01"), Value: 1},
		{Date: day("2025-10-02"), Value: 2},
		{Date: day("2025-10-03"), Value: 4},
		{Date: day("2025-10-04"), Value: 8},
	}
	cases := []struct {
		agg  Aggregation
		want float64
	}{
		{AggMean, 3.75},
		{AggMedian, 3},
		{AggMax, 8},
		{AggMin, 1},
	}
	for _, c := range cases {
		out := Resample(pts, FreqMonthly, c.agg)
		if len(out) != 1 || !almostEqual(out[0].Value, c.want) {
			t.Errorf("%s: got %+v, want %v", c.agg, out, c.want)
		}
	}
}

func TestSmoothRollingShrinksWindow(t *testing.T) {
	pts := []Point{
		{Date: day("2025-10-01"), Value: 2},
		{Date: day("2025-10-02"), Value: 4},
		{Date: day("2025-10-03"), Value: 6},
	}
	out := Smooth(pts, SmoothRolling, 3)
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(out[i].Value, w) {
			t.Errorf("point %d = %v, want %v", i, out[i].Value, w)
		}
	}
	// input untouched
	if pts[1].Value != 4 {
		t.Error("Smooth mutated its input")
	}
}

func TestSmoothEMA(t *testing.T) {
	pts := []Point{
		{Date: day("2025-10-01"), Value: 10},
		{Date: day("2025-10-02"), Value: 20},
	}
	out := Smooth(pts, SmoothEMA, 3)
	// alpha = 2/(3+1) = 0.5
	if !almostEqual(out[0].Value, 10) || !almostEqual(out[1].Value, 15) {
		t.Errorf("got %v, %v", out[0].Value, out[1].Value)
	}
}

func TestConsolidateErrRMS(t *testing.T) {
	got := consolidateErr([]float64{1, 2, 3}, ErrRMS)
	want := math.Sqrt((1.0 + 4.0 + 9.0) / 3.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("rms = %v, want %v", got, want)
	}
	if got < 2.16 || got > 2.17 {
		t.Errorf("rms = %v, expected ≈2.16", got)
	}
}

func TestResampleWithError(t *testing.T) {
	pts := []ErrPoint{
		{Date: day("2025-10-05"), Value: 10, Err: 1},
		{Date: day("2025-10-20"), Value: 20, Err: 2},
		{Date: day("2025-11-02"), Value: 30, Err: math.NaN()},
	}
	out := ResampleWithError(pts, FreqMonthly, AggMean, ErrRMS)
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2", len(out))
	}
	wantErr := math.Sqrt((1.0 + 4.0) / 2.0)
	if !almostEqual(out[0].Err, wantErr) {
		t.Errorf("october err = %v, want %v", out[0].Err, wantErr)
	}
	if !math.IsNaN(out[1].Err) {
		t.Errorf("november err = %v, want NaN", out[1].Err)
	}
	if !almostEqual(out[1].Value, 30) {
		t.Errorf("november value = %v", out[1].Value)
	}
}

func TestTrend(t *testing.T) {
	pts := []Point{
		{Date: day("2025-10-01"), Value: 1},
		{Date: day("2025-10-02"), Value: 3},
		{Date: day("2025-10-03"), Value: 5},
	}
	trend, ok := Trend(pts)
	if !ok || len(trend) != 3 {
		t.Fatalf("trend=%v ok=%v", trend, ok)
	}
	for i, want := range []float64{1, 3, 5} {
		if !almostEqual(trend[i].Value, want) {
			t.Errorf("trend[%d] = %v, want %v", i, trend[i].Value, want)
		}
		if !trend[i].Date.Equal(pts[i].Date) {
			t.Errorf("trend[%d] date = %v", i, trend[i].Date)
		}
	}
	if _, ok := Trend(pts[:1]); ok {
		t.Error("single point should not fit a trend")
	}
}

func TestTrendUsesElapsedDays(t *testing.T) {
	// gaps between buckets must weigh in: values linear in calendar days
	// fit exactly even when samples are unevenly spaced
	pts := []Point{
		{Date: day("2025-10-01"), Value: 0},
		{Date: day("2025-10-02"), Value: 1},
		{Date: day("2025-10-11"), Value: 10},
	}
	trend, ok := Trend(pts)
	if !ok {
		t.Fatal("expected a fit")
	}
	for i, p := range pts {
		if !almostEqual(trend[i].Value, p.Value) {
			t.Errorf("trend[%d] = %v, want %v", i, trend[i].Value, p.Value)
		}
	}
}

func TestBand(t *testing.T) {
	var pts []Point
	for i := 1; i <= 11; i++ {
		pts = append(pts, Point{Date: day("2025-10-01").AddDate(0, 0, i), Value: float64(i)})
	}
	p10, p90, ok := Band(pts)
	if !ok || !almostEqual(p10, 2) || !almostEqual(p90, 10) {
		t.Errorf("p10=%v p90=%v ok=%v", p10, p90, ok)
	}
}

func TestParsers(t *testing.T) {
	if f, err := ParseFrequency("Trimestral"); err != nil || f != FreqQuarterly {
		t.Errorf("frequency: %v %v", f, err)
	}
	if a, err := ParseAggregation("média"); err != nil || a != AggMean {
		t.Errorf("aggregation: %v %v", a, err)
	}
	if s, err := ParseSmoothing("Exponencial (EMA)"); err != nil || s != SmoothEMA {
		t.Errorf("smoothing: %v %v", s, err)
	}
	if m, err := ParseErrMode("Máx"); err != nil || m != ErrMax {
		t.Errorf("errmode: %v %v", m, err)
	}
	if _, err := ParseFrequency("anual"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}
