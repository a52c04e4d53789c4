package preprocess

import (
	"fmt"
	"iter"
)

// Sample is one model input window and the value that follows it. Extra
// holds optional per-timestep feature channels, channel-major (all L values
// of the first channel, then the next); it is never normalized.
type Sample struct {
	Window []float64
	Extra  []float64
	Target float64
}

// Input is the model input for s: the flow window followed by Extra.
func (s Sample) Input() []float64 {
	if len(s.Extra) == 0 {
		return s.Window
	}
	out := make([]float64, 0, len(s.Window)+len(s.Extra))
	return append(append(out, s.Window...), s.Extra...)
}

// Windows yields (data[i:i+L], data[i+L]) for i in [0, len(data)-L). The
// sequence is lazy and can be ranged over any number of times. Yielded
// windows alias data and must not be modified.
func Windows(data []float64, length int) iter.Seq2[[]float64, float64] {
	return func(yield func([]float64, float64) bool) {
		if length <= 0 {
			return
		}
		for i := 0; i+length < len(data); i++ {
			if !yield(data[i:i+length:i+length], data[i+length]) {
				return
			}
		}
	}
}

// WindowCount is the number of pairs Windows yields.
func WindowCount(n, length int) int {
	if length <= 0 || n <= length {
		return 0
	}
	return n - length
}

// Dataset collects Windows into independent samples.
func Dataset(data []float64, length int) ([]Sample, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: window length must be positive, got %d", ErrInvalidArgument, length)
	}
	samples := make([]Sample, 0, WindowCount(len(data), length))
	for w, target := range Windows(data, length) {
		samples = append(samples, Sample{Window: append([]float64(nil), w...), Target: target})
	}
	return samples, nil
}

// SplitChronological partitions samples in order into train, validation and
// test sets. Test receives whatever the first two fractions leave over.
func SplitChronological(samples []Sample, trainFrac, valFrac float64) (train, val, test []Sample, err error) {
	if trainFrac <= 0 || valFrac < 0 || trainFrac+valFrac > 1 {
		return nil, nil, nil, fmt.Errorf("%w: bad split fractions %v/%v", ErrInvalidArgument, trainFrac, valFrac)
	}
	n := len(samples)
	nTrain := int(float64(n) * trainFrac)
	nVal := int(float64(n) * valFrac)
	return samples[:nTrain], samples[nTrain : nTrain+nVal], samples[nTrain+nVal:], nil
}

// Inputs, FlowWindows, Extras and Targets split samples into parallel
// slices.
func Inputs(samples []Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Input()
	}
	return out
}

func FlowWindows(samples []Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Window
	}
	return out
}

func Extras(samples []Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Extra
	}
	return out
}

func Targets(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Target
	}
	return out
}
