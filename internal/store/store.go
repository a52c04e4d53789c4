package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"traffic_forecaster/internal/model"
)

// Store holds traffic series in memory, keyed by sensor or road ID.
type Store struct {
	mu     sync.RWMutex
	series map[string]model.Series // sorted by timestamp, unique timestamps
}

func New() *Store {
	return &Store{
		series: make(map[string]model.Series),
	}
}

// Add merges points into the series for id. Points are kept sorted; a point
// with an existing timestamp replaces the stored one.
func (s *Store) Add(id string, points model.Series) {
	if len(points) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(s.series[id], points...)
	slices.SortStableFunc(merged, func(a, b model.SeriesPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	out := merged[:0]
	for _, p := range merged {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	s.series[id] = out
}

// Replace swaps the whole series for id. points must already be sorted.
func (s *Store) Replace(id string, points model.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[id] = slices.Clone(points)
}

// IDs returns the known series IDs, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of points stored for id.
func (s *Store) Count(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[id])
}

// Series returns a copy of the full series for id.
func (s *Store) Series(id string) model.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.series[id])
}

// Recent returns a copy of the last n points for id.
func (s *Store) Recent(id string, n int) model.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.series[id].Last(n))
}

// TimeRange returns the time range covered by the series for id.
func (s *Store) TimeRange(id string) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[id].TimeRange()
}

// GlobalTimeRange returns the union of all series' time ranges.
func (s *Store) GlobalTimeRange() (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true

	for _, series := range s.series {
		tr, ok := series.TimeRange()
		if !ok {
			continue
		}
		if first || tr.Start.Before(start) {
			start = tr.Start
		}
		if first || tr.End.After(end) {
			end = tr.End
		}
		first = false
	}

	if first {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// Range returns points for id between start (inclusive) and end (exclusive).
func (s *Store) Range(id string, start, end time.Time) model.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[id]
	if len(all) == 0 {
		return nil
	}

	startIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(start)
	})
	endIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(end)
	})

	if startIdx >= endIdx {
		return nil
	}
	return slices.Clone(all[startIdx:endIdx])
}

// At returns the most recent point at or before t.
func (s *Store) At(id string, t time.Time) (model.SeriesPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[id]
	idx := sort.Search(len(all), func(i int) bool {
		return all[i].Timestamp.After(t)
	})
	if idx == 0 {
		return model.SeriesPoint{}, false
	}
	return all[idx-1], true
}
