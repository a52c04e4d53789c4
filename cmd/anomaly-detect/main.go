// anomaly-detect replays a trained forecaster over a traffic series and
// flags days and hours whose flow deviates unusually from the one-step
// forecast.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/evaluate"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/store"
)

const seriesID = "traffic"

type hourPrediction struct {
	Timestamp time.Time
	Actual    float64
	Predicted float64
}

type dayStats struct {
	Date         string
	Weekend      bool
	Hours        int
	Actual       float64
	Predicted    float64
	DeviationPct float64
	PeakShare    float64 // share of the absolute error that falls in peak hours
	Category     string
	Cause        string
}

type hourAnomaly struct {
	hourPrediction
	Sigmas float64
}

func main() {
	seriesPath := flag.String("series", "input", "CSV file or directory with timestamp,flow rows")
	ckPath := flag.String("checkpoint", "models/best_model.json", "trained model checkpoint")
	sigma := flag.Float64("sigma", 2.0, "standard deviation threshold for flagging anomalies")
	minFlow := flag.Float64("min-flow", 1000, "minimum daily vehicle count to consider a day")
	hourly := flag.Bool("hourly", false, "also list individual anomalous hours")
	flag.Parse()

	series, err := ingest.Load(*seriesPath)
	if err != nil {
		log.Fatalf("Loading series: %v", err)
	}
	dataStore := store.New()
	dataStore.Add(seriesID, series)

	tr, ok := dataStore.GlobalTimeRange()
	if !ok {
		log.Fatal("No data loaded")
	}

	ck, err := checkpoint.Load(*ckPath)
	if err != nil {
		log.Fatalf("Loading model: %v", err)
	}
	pred, err := predictor.New(ck, ck.Architecture)
	if err != nil {
		log.Fatalf("Building model: %v", err)
	}

	points := dataStore.Range(seriesID, tr.Start, tr.End.Add(time.Nanosecond))
	preds, err := replay(pred, points)
	if err != nil {
		log.Fatalf("Replaying model: %v", err)
	}

	days := tr.End.Sub(tr.Start).Hours() / 24

	fmt.Println()
	fmt.Println("Traffic Anomaly Detection")
	fmt.Printf("  Data: %s to %s (%.0f days)\n", tr.Start.Format("2006-01-02"), tr.End.Format("2006-01-02"), days)
	fmt.Printf("  Model: run %s, epoch %d, %s pooling, window %d\n", pred.Info().RunID, pred.Info().Epoch, pred.Info().Pooling, pred.WindowLength())
	fmt.Printf("  Sigma threshold: %.1f | Min daily flow: %.0f\n", *sigma, *minFlow)
	fmt.Println()

	allDays := computeDailyStats(preds, *minFlow)
	if len(allDays) == 0 {
		fmt.Println("No days with sufficient data found.")
		return
	}

	flagged, mean, stddev := flagDays(allDays, *sigma)
	n := float64(len(allDays))

	fmt.Printf("  Days analyzed: %d\n", len(allDays))
	fmt.Printf("  Mean deviation: %+.1f%%\n", mean)
	fmt.Printf("  Std deviation:  %.1f%%\n", stddev)
	fmt.Printf("  Anomalies found: %d (%.1f%%)\n", len(flagged), 100*float64(len(flagged))/n)
	fmt.Println()

	if len(flagged) == 0 {
		fmt.Println("  No anomalous days detected.")
	} else {
		fmt.Printf("  %-12s │ %9s │ %9s │ %8s │ %6s │ %5s │ %s\n",
			"Date", "Actual", "Predict", "Dev %", "Peak %", "Type", "Possible Cause")
		fmt.Printf("  ─────────────┼───────────┼───────────┼──────────┼────────┼───────┼─────────────────────\n")
		for _, d := range flagged {
			fmt.Printf("  %-12s │ %9.0f │ %9.0f │ %+7.1f  │ %5.0f  │ %5s │ %s\n",
				d.Date, d.Actual, d.Predicted, d.DeviationPct, 100*d.PeakShare, d.Category, d.Cause)
		}
	}
	fmt.Println()

	if !*hourly {
		return
	}
	anomalies := flagHours(preds, *sigma)
	fmt.Printf("  Anomalous hours (> %.1f residual std for that hour of day): %d\n", *sigma, len(anomalies))
	for _, a := range anomalies {
		fmt.Printf("    %s  actual %6.0f  predicted %6.0f  (%+.1f σ)\n",
			a.Timestamp.Format(ingest.TimestampLayout), a.Actual, a.Predicted, a.Sigmas)
	}
	fmt.Println()
}

// replay produces a one-step forecast for every point that has a full
// window of history before it.
func replay(p *predictor.Predictor, points model.Series) ([]hourPrediction, error) {
	l := p.WindowLength()
	if len(points) <= l {
		return nil, fmt.Errorf("%w: have %d points, need more than %d", predictor.ErrInsufficientData, len(points), l)
	}
	values := points.Values()
	windows := make([][]float64, 0, len(points)-l)
	for i := l; i < len(points); i++ {
		windows = append(windows, values[i-l:i])
	}
	out, err := p.PredictBatch(windows)
	if err != nil {
		return nil, err
	}

	preds := make([]hourPrediction, len(out))
	for i, v := range out {
		preds[i] = hourPrediction{
			Timestamp: points[i+l].Timestamp,
			Actual:    values[i+l],
			Predicted: v,
		}
	}
	return preds, nil
}

// computeDailyStats groups predictions by calendar day. Days whose actual
// total is below minFlow are dropped.
func computeDailyStats(preds []hourPrediction, minFlow float64) []dayStats {
	type dayAccum struct {
		weekend            bool
		hours              int
		actual, predicted  float64
		absErr, peakAbsErr float64
	}
	dayMap := make(map[string]*dayAccum)

	peak := make(map[int]bool, len(evaluate.DefaultPeakHours))
	for _, h := range evaluate.DefaultPeakHours {
		peak[h] = true
	}

	for _, p := range preds {
		dayKey := p.Timestamp.Format("2006-01-02")
		acc, exists := dayMap[dayKey]
		if !exists {
			acc = &dayAccum{weekend: model.IsWeekend(p.Timestamp)}
			dayMap[dayKey] = acc
		}
		acc.hours++
		acc.actual += p.Actual
		acc.predicted += p.Predicted
		e := math.Abs(p.Actual - p.Predicted)
		acc.absErr += e
		if peak[p.Timestamp.Hour()] {
			acc.peakAbsErr += e
		}
	}

	var out []dayStats
	for date, acc := range dayMap {
		if acc.actual < minFlow || acc.predicted <= 0 {
			continue
		}
		d := dayStats{
			Date:         date,
			Weekend:      acc.weekend,
			Hours:        acc.hours,
			Actual:       acc.actual,
			Predicted:    acc.predicted,
			DeviationPct: (acc.actual - acc.predicted) / acc.predicted * 100,
		}
		if acc.absErr > 0 {
			d.PeakShare = acc.peakAbsErr / acc.absErr
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// flagDays marks days whose deviation lies more than sigma standard
// deviations from the mean deviation.
func flagDays(days []dayStats, sigma float64) (flagged []dayStats, mean, stddev float64) {
	devs := make([]float64, len(days))
	for i, d := range days {
		devs[i] = d.DeviationPct
	}
	mean, stddev = stat.PopMeanStdDev(devs, nil)

	for i := range days {
		d := &days[i]
		if math.Abs(d.DeviationPct-mean) <= sigma*stddev {
			continue
		}
		if d.Actual > d.Predicted {
			d.Category = "HIGH"
		} else {
			d.Category = "LOW"
		}
		d.Cause = inferCause(d)
		flagged = append(flagged, *d)
	}
	return flagged, mean, stddev
}

// flagHours marks hours whose residual exceeds sigma times the residual
// std of the same hour of day.
func flagHours(preds []hourPrediction, sigma float64) []hourAnomaly {
	ts := make([]time.Time, len(preds))
	predicted := make([]float64, len(preds))
	actual := make([]float64, len(preds))
	for i, p := range preds {
		ts[i], predicted[i], actual[i] = p.Timestamp, p.Predicted, p.Actual
	}
	byHour := evaluate.ResidualStdByHour(ts, predicted, actual)

	var out []hourAnomaly
	for _, p := range preds {
		std := byHour[p.Timestamp.Hour()]
		if std <= 0 {
			continue
		}
		z := (p.Actual - p.Predicted) / std
		if math.Abs(z) > sigma {
			out = append(out, hourAnomaly{hourPrediction: p, Sigmas: z})
		}
	}
	return out
}

func inferCause(d *dayStats) string {
	if d.Hours < 20 {
		return "Partial day: sensor gap?"
	}
	if d.Category == "HIGH" {
		if d.Weekend {
			return "Busy weekend: event or holiday traffic?"
		}
		if d.PeakShare > 0.6 {
			return "Heavier rush hours than usual"
		}
		return "Above-normal traffic"
	}
	// LOW
	if !d.Weekend && d.DeviationPct < -30 {
		return "Very quiet weekday: public holiday or closure?"
	}
	if d.PeakShare > 0.6 {
		return "Lighter rush hours than usual"
	}
	return "Below-normal traffic"
}
