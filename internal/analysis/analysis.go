// Package analysis summarizes a traffic series for the dashboard endpoints.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"traffic_forecaster/internal/model"
)

// Daily pattern labels.
const (
	Bimodal  = "bimodal"
	Unimodal = "unimodal"
)

// Statistics describe the whole series plus the trailing day. Values that
// cannot be computed are NaN.
type Statistics struct {
	Mean          float64
	Max           float64
	Min           float64
	Std           float64
	PeakHour      int
	OffPeakHour   int
	HourlyTrend   map[int]float64
	Last24hChange float64
}

// Compute returns series statistics. Mean, Max, Min and sample Std cover
// the full series; the hourly trend, peak and off-peak hours and the 24h
// change use the last 24 points.
func Compute(s model.Series) (Statistics, error) {
	if len(s) == 0 {
		return Statistics{}, model.ErrEmptySeries
	}
	values := s.Values()
	st := Statistics{
		Mean: stat.Mean(values, nil),
		Max:  floats.Max(values),
		Min:  floats.Min(values),
		Std:  math.NaN(),
	}
	if len(values) > 1 {
		st.Std = stat.StdDev(values, nil)
	}

	recent := s.Last(24)
	st.HourlyTrend = HourlyMeans(recent)
	st.PeakHour, st.OffPeakHour = extremeHours(st.HourlyTrend)

	first, last := float64(recent[0].Flow), float64(recent[len(recent)-1].Flow)
	st.Last24hChange = math.NaN()
	if first != 0 {
		st.Last24hChange = (last - first) / first * 100
	}
	return st, nil
}

// HourlyMeans averages flow by hour of day. Hours without points are absent.
func HourlyMeans(s model.Series) map[int]float64 {
	var sum [24]float64
	var n [24]int
	for _, p := range s {
		h := p.Timestamp.Hour()
		sum[h] += float64(p.Flow)
		n[h]++
	}
	out := make(map[int]float64)
	for h := range sum {
		if n[h] > 0 {
			out[h] = sum[h] / float64(n[h])
		}
	}
	return out
}

// extremeHours returns the hours with the highest and lowest mean. Ties go
// to the earliest hour.
func extremeHours(means map[int]float64) (peak, offPeak int) {
	peak, offPeak = -1, -1
	for h := 0; h < 24; h++ {
		v, ok := means[h]
		if !ok {
			continue
		}
		if peak < 0 || v > means[peak] {
			peak = h
		}
		if offPeak < 0 || v < means[offPeak] {
			offPeak = h
		}
	}
	return peak, offPeak
}

// Patterns compare weekday/weekend levels and morning/evening rush hours.
type Patterns struct {
	WeekdayAvg     float64
	WeekendAvg     float64
	MorningPeakAvg float64
	EveningPeakAvg float64
	PeakRatio      float64
	DailyPattern   string
}

// Analyze computes Patterns over the full series. Morning is 07–09 and
// evening 17–19 inclusive. The day is bimodal when the two rush-hour means
// differ by less than 20% of the larger one.
func Analyze(s model.Series) (Patterns, error) {
	if len(s) == 0 {
		return Patterns{}, model.ErrEmptySeries
	}
	var weekday, weekend, morning, evening []float64
	for _, p := range s {
		v := float64(p.Flow)
		if model.IsWeekend(p.Timestamp) {
			weekend = append(weekend, v)
		} else {
			weekday = append(weekday, v)
		}
		switch h := p.Timestamp.Hour(); {
		case h >= 7 && h <= 9:
			morning = append(morning, v)
		case h >= 17 && h <= 19:
			evening = append(evening, v)
		}
	}

	pt := Patterns{
		WeekdayAvg:     mean(weekday),
		WeekendAvg:     mean(weekend),
		MorningPeakAvg: mean(morning),
		EveningPeakAvg: mean(evening),
	}
	peak := math.Max(pt.MorningPeakAvg, pt.EveningPeakAvg)
	overall := stat.Mean(s.Values(), nil)
	pt.PeakRatio = math.NaN()
	if overall != 0 && !math.IsNaN(peak) {
		pt.PeakRatio = peak / overall
	}

	pt.DailyPattern = Unimodal
	if math.Abs(pt.MorningPeakAvg-pt.EveningPeakAvg) < 0.2*peak {
		pt.DailyPattern = Bimodal
	}
	return pt, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}
