package evaluate

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_Example(t *testing.T) {
	m, err := Compute([]float64{10, 20, 30}, []float64{12, 18, 33})
	require.NoError(t, err)
	assert.InDelta(t, 2.333, m.MAE, 5e-4)
	assert.InDelta(t, 2.380, m.RMSE, 5e-4)
	assert.InDelta(t, 13.333, m.MAPE, 5e-4)
}

func TestCompute_ZeroTruths(t *testing.T) {
	m, err := Compute([]float64{0, 10}, []float64{5, 12})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, m.MAE, 1e-12)
	assert.InDelta(t, 20, m.MAPE, 1e-12, "zero truth is skipped")

	m, err = Compute([]float64{0, 0}, []float64{1, 2})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.MAPE))
	assert.InDelta(t, 1.5, m.MAE, 1e-12)
}

func TestCompute_Errors(t *testing.T) {
	_, err := Compute([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	m, err := Compute(nil, nil)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.MAE))
}

func TestPeak(t *testing.T) {
	yTrue := []float64{10, 100, 20, 200}
	yPred := []float64{11, 90, 20, 220}

	m, err := Peak(yTrue, yPred, []bool{false, true, false, true})
	require.NoError(t, err)
	assert.InDelta(t, 15, m.MAE, 1e-12)
	assert.InDelta(t, 10, m.MAPE, 1e-12)

	m, err = Peak(yTrue, yPred, make([]bool, 4))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.MAE))
	assert.True(t, math.IsNaN(m.RMSE))
	assert.True(t, math.IsNaN(m.MAPE))

	_, err = Peak(yTrue, yPred, []bool{true})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestPeakMask(t *testing.T) {
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	var ts []time.Time
	for h := 0; h < 24; h++ {
		ts = append(ts, day.Add(time.Duration(h)*time.Hour))
	}

	mask := PeakMask(ts, DefaultPeakHours)
	var hours []int
	for i, in := range mask {
		if in {
			hours = append(hours, ts[i].Hour())
		}
	}
	assert.Equal(t, []int{7, 8, 9, 17, 18, 19}, hours)
}

func TestDelayAnalysis(t *testing.T) {
	yTrue := make([]float64, 20)
	yPred := make([]float64, 20)
	for i := 8; i <= 16; i++ {
		yTrue[i] = 10
	}
	for i := 9; i <= 18; i++ {
		yPred[i] = 10
	}

	d, err := DelayAnalysis(yTrue, yPred, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Events)
	assert.InDelta(t, 1.5, d.Mean, 1e-12)
	assert.InDelta(t, 0.5, d.Std, 1e-12)
}

func TestDelayAnalysis_NoEvents(t *testing.T) {
	d, err := DelayAnalysis([]float64{1, 1, 1}, []float64{1, 5, 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, Delay{}, d)

	// Observed change with no predicted change nearby.
	d, err = DelayAnalysis([]float64{0, 50, 50}, []float64{0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, Delay{}, d)

	_, err = DelayAnalysis([]float64{1}, nil, 1)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestResidualStdByHour(t *testing.T) {
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base.Add(8 * time.Hour), base.Add(32 * time.Hour), base.Add(9 * time.Hour)}

	std := ResidualStdByHour(ts, []float64{100, 100, 50}, []float64{110, 90, 55})
	assert.InDelta(t, 10, std[8], 1e-12)
	assert.Equal(t, 0.0, std[9], "single residual")
	assert.Equal(t, 0.0, std[0])
}

func TestWriteComparison(t *testing.T) {
	var buf bytes.Buffer
	err := WriteComparison(&buf, map[string]Report{
		"self_attention": {Overall: Metrics{MAE: 1.234567}, Peak: Metrics{MAPE: math.NaN()}},
		"attention":      {Overall: Metrics{MAE: 2}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Peak_MAE")
	assert.Contains(t, lines[1], "attention")
	assert.Contains(t, lines[1], "2.0000")
	assert.Contains(t, lines[2], "1.2346")
	assert.Contains(t, lines[2], "NaN")
}
