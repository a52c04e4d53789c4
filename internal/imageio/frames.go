package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FrameLayout is the file name stem of a timestamped frame, e.g.
// 20240401T0800.jpg for the frame taken at 08:00 UTC on 1 April 2024.
const FrameLayout = "20060102T1504"

// Channels is the number of image features per timestep.
const Channels = 3

// Frames holds the channel means of timestamped camera frames, sorted by
// time.
type Frames struct {
	times []time.Time
	means [][Channels]float64
}

// NewFrames builds Frames from parallel slices. The input need not be
// sorted.
func NewFrames(times []time.Time, means [][Channels]float64) (*Frames, error) {
	if len(times) != len(means) {
		return nil, fmt.Errorf("%d timestamps for %d frames", len(times), len(means))
	}
	idx := make([]int, len(times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })

	f := &Frames{times: make([]time.Time, len(idx)), means: make([][Channels]float64, len(idx))}
	for i, j := range idx {
		f.times[i] = times[j]
		f.means[i] = means[j]
	}
	return f, nil
}

// LoadFrames reads every file in dir whose name stem matches FrameLayout,
// resizes it to size×size and keeps its channel means. Other files are
// ignored.
func LoadFrames(dir string, size int) (*Frames, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}

	var paths []string
	var times []time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		t, err := time.Parse(FrameLayout, stem)
		if err != nil {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
		times = append(times, t)
	}
	if len(paths) == 0 {
		return nil, &ImageError{Path: dir, Err: ErrImageNotFound}
	}

	imgs, err := LoadBatch(paths, size, size)
	if err != nil {
		return nil, err
	}
	means := make([][Channels]float64, len(imgs))
	for i, img := range imgs {
		means[i] = img.ChannelMeans()
	}
	return NewFrames(times, means)
}

func (f *Frames) Len() int { return len(f.times) }

// At returns the means of the latest frame taken at or before t.
func (f *Frames) At(t time.Time) ([Channels]float64, bool) {
	i := sort.Search(len(f.times), func(i int) bool { return f.times[i].After(t) })
	if i == 0 {
		return [Channels]float64{}, false
	}
	return f.means[i-1], true
}

// Features returns the per-timestep channel means for times, channel-major:
// len(times) red values, then green, then blue. Timestamps before the first
// frame get zeros.
func (f *Frames) Features(times []time.Time) []float64 {
	n := len(times)
	out := make([]float64, Channels*n)
	for t, ts := range times {
		m, _ := f.At(ts)
		for c := 0; c < Channels; c++ {
			out[c*n+t] = m[c]
		}
	}
	return out
}
