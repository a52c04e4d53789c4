package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/preprocess"
)

func batch() [][]float64 {
	return [][]float64{{1, 2, 3, 4}, {-1, 0, 1, 2}}
}

func TestAddGaussianNoise_ShapeAndStats(t *testing.T) {
	a := New(42)

	out := a.AddGaussianNoise(batch(), 0, 0.1)
	require.Len(t, out, 2)
	for i := range out {
		assert.Len(t, out[i], 4)
	}

	// Large sample: noise mean ≈ requested mean.
	big := make([][]float64, 1)
	big[0] = make([]float64, 20000)
	noisy := a.AddGaussianNoise(big, 0.5, 0.1)
	var sum float64
	for _, v := range noisy[0] {
		sum += v
	}
	assert.InDelta(t, 0.5, sum/20000, 0.01)
}

func TestAddGaussianNoise_ZeroStdIsShift(t *testing.T) {
	out := New(1).AddGaussianNoise(batch(), 2, 0)
	assert.Equal(t, [][]float64{{3, 4, 5, 6}, {1, 2, 3, 4}}, out)
}

func TestRandomScaling_SingleFactor(t *testing.T) {
	a := New(7)
	in := batch()

	out, factor, err := a.RandomScaling(in, 0.9, 1.1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, factor, 0.9)
	assert.LessOrEqual(t, factor, 1.1)

	for i := range in {
		for j := range in[i] {
			assert.InDelta(t, in[i][j]*factor, out[i][j], 1e-12)
		}
	}
	assert.Equal(t, batch(), in, "input must not be modified")
}

func TestRandomScaling_InvalidRange(t *testing.T) {
	_, _, err := New(1).RandomScaling(batch(), 2, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRoll(t *testing.T) {
	w := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, []float64{4, 5, 1, 2, 3}, Roll(w, 2))
	assert.Equal(t, []float64{3, 4, 5, 1, 2}, Roll(w, -2))
	assert.Equal(t, w, Roll(w, 5))
	assert.Empty(t, Roll(nil, 3))
}

func TestRandomShift_Bounds(t *testing.T) {
	a := New(3)
	w := []float64{1, 2, 3, 4, 5, 6}

	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		out, shift, err := a.RandomShift(w, 2)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, shift, -2)
		assert.LessOrEqual(t, shift, 2)
		assert.Equal(t, Roll(w, shift), out)
		seen[shift] = true
	}
	assert.Len(t, seen, 5)

	out, shift, err := a.RandomShift(w, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, shift)
	assert.Equal(t, w, out)

	_, _, err = a.RandomShift(w, -1)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestExpand(t *testing.T) {
	samples := []preprocess.Sample{
		{Window: []float64{1, 2, 3}, Target: 4},
		{Window: []float64{2, 3, 4}, Target: 5},
	}

	out, err := New(9).Expand(samples, DefaultExpandConfig())
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.Equal(t, samples[0], out[0])
	for i := 0; i < 3; i++ {
		assert.Equal(t, 4.0, out[2*i].Target)
		assert.Equal(t, 5.0, out[2*i+1].Target)
	}

	cfg := DefaultExpandConfig()
	cfg.IncludeShifts = true
	out, err = New(9).Expand(samples, cfg)
	require.NoError(t, err)
	assert.Len(t, out, 8)
}

func TestExpand_CarriesExtraChannels(t *testing.T) {
	samples := []preprocess.Sample{
		{Window: []float64{1, 2, 3}, Extra: []float64{0.1, 0.2, 0.3}, Target: 4},
	}
	cfg := DefaultExpandConfig()
	cfg.IncludeShifts = true

	out, err := New(3).Expand(samples, cfg)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, s := range out {
		assert.Equal(t, []float64{0.1, 0.2, 0.3}, s.Extra)
		assert.Len(t, s.Window, 3)
	}
}
