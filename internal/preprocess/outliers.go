package preprocess

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"traffic_forecaster/internal/model"
)

// RemoveOutliers drops points whose flow lies outside the empirical
// [lowerQ, upperQ] quantile interval. Bounds are inclusive. The result may
// contain gaps; see InterpolateMissing.
func RemoveOutliers(s model.Series, lowerQ, upperQ float64) (model.Series, error) {
	if lowerQ < 0 || upperQ > 1 || lowerQ > upperQ {
		return nil, fmt.Errorf("%w: quantiles must satisfy 0 <= lower <= upper <= 1, got [%v, %v]", ErrInvalidArgument, lowerQ, upperQ)
	}
	if len(s) == 0 {
		return model.Series{}, nil
	}

	sorted := s.Values()
	slices.Sort(sorted)
	lo := stat.Quantile(lowerQ, stat.Empirical, sorted, nil)
	hi := stat.Quantile(upperQ, stat.Empirical, sorted, nil)

	out := make(model.Series, 0, len(s))
	for _, p := range s {
		v := float64(p.Flow)
		if v < lo || v > hi {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ClipOutliersIQR clamps flows to [Q1 - 1.5*IQR, Q3 + 1.5*IQR] without
// dropping any point. The lower fence never goes below zero.
func ClipOutliersIQR(s model.Series) model.Series {
	out := make(model.Series, len(s))
	copy(out, s)
	if len(s) == 0 {
		return out
	}

	sorted := s.Values()
	slices.Sort(sorted)
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	lo := math.Max(0, q1-1.5*iqr)
	hi := q3 + 1.5*iqr

	for i := range out {
		v := float64(out[i].Flow)
		switch {
		case v < lo:
			out[i].Flow = int(math.Ceil(lo))
		case v > hi:
			out[i].Flow = int(math.Floor(hi))
		}
	}
	return out
}

// InterpolateMissing rebuilds a gap-free hourly series between the first and
// last point. Missing hours are filled by linear interpolation weighted by
// the time distance to the surrounding known points.
func InterpolateMissing(s model.Series) model.Series {
	if len(s) < 2 {
		out := make(model.Series, len(s))
		copy(out, s)
		return out
	}

	out := make(model.Series, 0, len(s))
	for i := 0; i < len(s)-1; i++ {
		a, b := s[i], s[i+1]
		out = append(out, a)

		span := b.Timestamp.Sub(a.Timestamp)
		for t := a.Timestamp.Add(model.Interval); t.Before(b.Timestamp); t = t.Add(model.Interval) {
			w := float64(t.Sub(a.Timestamp)) / float64(span)
			v := float64(a.Flow) + w*float64(b.Flow-a.Flow)
			out = append(out, model.SeriesPoint{Timestamp: t, Flow: int(math.Round(v))})
		}
	}
	return append(out, s[len(s)-1])
}

// MissingHours counts the hourly slots absent between the first and last point.
func MissingHours(s model.Series) int {
	tr, ok := s.TimeRange()
	if !ok {
		return 0
	}
	expected := int(tr.End.Sub(tr.Start)/time.Hour) + 1
	return expected - len(s)
}
