package model

import (
	"errors"
	"fmt"
	"time"
)

// Interval is the spacing between consecutive points of a Series.
const Interval = time.Hour

var (
	ErrEmptySeries      = errors.New("series is empty")
	ErrNotChronological = errors.New("series timestamps are not strictly increasing")
	ErrNegativeFlow     = errors.New("series contains negative flow")
)

// SeriesPoint is one hourly traffic observation.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Flow      int       `json:"flow"`
}

// Series is an ordered sequence of points; slice order is chronological order.
type Series []SeriesPoint

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Values returns the flows as float64, in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = float64(p.Flow)
	}
	return out
}

// Timestamps returns the point timestamps, in order.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Timestamp
	}
	return out
}

// Last returns the trailing n points (all of them when n exceeds the length).
func (s Series) Last(n int) Series {
	if n <= 0 {
		return Series{}
	}
	if n > len(s) {
		n = len(s)
	}
	return s[len(s)-n:]
}

// TimeRange returns the first and last timestamps.
func (s Series) TimeRange() (TimeRange, bool) {
	if len(s) == 0 {
		return TimeRange{}, false
	}
	return TimeRange{Start: s[0].Timestamp, End: s[len(s)-1].Timestamp}, true
}

// Validate checks ordering, uniqueness and non-negativity.
func (s Series) Validate() error {
	if len(s) == 0 {
		return ErrEmptySeries
	}
	for i, p := range s {
		if p.Flow < 0 {
			return fmt.Errorf("point %d (%s): %w", i, p.Timestamp.Format(time.RFC3339), ErrNegativeFlow)
		}
		if i > 0 && !p.Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("point %d (%s): %w", i, p.Timestamp.Format(time.RFC3339), ErrNotChronological)
		}
	}
	return nil
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
