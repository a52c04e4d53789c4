// Package evaluate scores forecasts against observed flows.
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

var ErrLengthMismatch = errors.New("truth and prediction lengths differ")

// Metrics are computed in raw units. MAPE is a percentage.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
}

// Compute returns MAE, RMSE and MAPE. Points with a zero truth are left out
// of MAPE; if every truth is zero MAPE is NaN. Empty input yields NaN for
// all three.
func Compute(yTrue, yPred []float64) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{MAE: math.NaN(), RMSE: math.NaN(), MAPE: math.NaN()}, nil
	}

	var absSum, sqSum, pctSum float64
	var pctN int
	for i, y := range yTrue {
		d := y - yPred[i]
		absSum += math.Abs(d)
		sqSum += d * d
		if y != 0 {
			pctSum += math.Abs(d / y)
			pctN++
		}
	}
	n := float64(len(yTrue))
	m := Metrics{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
		MAPE: math.NaN(),
	}
	if pctN > 0 {
		m.MAPE = pctSum / float64(pctN) * 100
	}
	return m, nil
}

// Peak computes Metrics over the indices where mask is true. With no masked
// index every metric is NaN.
func Peak(yTrue, yPred []float64, mask []bool) (Metrics, error) {
	if len(yTrue) != len(yPred) || len(mask) != len(yTrue) {
		return Metrics{}, fmt.Errorf("%w: %d truths, %d predictions, %d mask entries", ErrLengthMismatch, len(yTrue), len(yPred), len(mask))
	}
	var t, p []float64
	for i, in := range mask {
		if in {
			t = append(t, yTrue[i])
			p = append(p, yPred[i])
		}
	}
	return Compute(t, p)
}

// DefaultPeakHours are the morning and evening rush hours.
var DefaultPeakHours = []int{7, 8, 9, 17, 18, 19}

// PeakMask marks timestamps whose hour of day is in hours.
func PeakMask(timestamps []time.Time, hours []int) []bool {
	var set [24]bool
	for _, h := range hours {
		if h >= 0 && h < 24 {
			set[h] = true
		}
	}
	mask := make([]bool, len(timestamps))
	for i, ts := range timestamps {
		mask[i] = set[ts.Hour()]
	}
	return mask
}

// Delay summarizes how many steps predicted change points lag observed ones.
type Delay struct {
	Mean   float64 `json:"mean_delay"`
	Std    float64 `json:"std_delay"`
	Events int     `json:"events"`
}

// DelayAnalysis finds observed change points (|y[i+1]-y[i]| > threshold)
// and, for each, the first predicted change point within five steps before
// to five steps after it. Delay is predicted index minus observed index.
// With no matched events Mean and Std are zero.
func DelayAnalysis(yTrue, yPred []float64, threshold float64) (Delay, error) {
	if len(yTrue) != len(yPred) {
		return Delay{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(yTrue), len(yPred))
	}
	n := len(yPred)
	var delays []float64
	for i := 0; i+1 < len(yTrue); i++ {
		if math.Abs(yTrue[i+1]-yTrue[i]) <= threshold {
			continue
		}
		change := i + 1
		for j := max(1, i-5); j < min(n, i+6); j++ {
			if math.Abs(yPred[j]-yPred[j-1]) > threshold {
				delays = append(delays, float64(j-change))
				break
			}
		}
	}
	if len(delays) == 0 {
		return Delay{}, nil
	}
	mean, std := stat.PopMeanStdDev(delays, nil)
	return Delay{Mean: mean, Std: std, Events: len(delays)}, nil
}

// ResidualStdByHour is the population std of (actual - predicted) per hour
// of day. Hours with fewer than two residuals are zero.
func ResidualStdByHour(timestamps []time.Time, predictions, actuals []float64) [24]float64 {
	var byHour [24][]float64
	for i, ts := range timestamps {
		h := ts.Hour()
		byHour[h] = append(byHour[h], actuals[i]-predictions[i])
	}
	var out [24]float64
	for h, r := range byHour {
		if len(r) > 1 {
			_, out[h] = stat.PopMeanStdDev(r, nil)
		}
	}
	return out
}
