// Package augment perturbs windowed training data.
package augment

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"traffic_forecaster/internal/preprocess"
)

var ErrInvalidRange = errors.New("invalid augmentation range")

// Augmenter draws all randomness from one seeded source. It is not safe for
// concurrent use.
type Augmenter struct {
	rng *rand.Rand
}

func New(seed uint64) *Augmenter {
	return &Augmenter{rng: rand.New(rand.NewPCG(seed, 1))}
}

// AddGaussianNoise returns batch + N(mean, std) drawn independently per element.
func (a *Augmenter) AddGaussianNoise(batch [][]float64, mean, std float64) [][]float64 {
	out := make([][]float64, len(batch))
	for i, row := range batch {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = v + mean + a.rng.NormFloat64()*std
		}
	}
	return out
}

// RandomScaling multiplies every element of batch by a single factor drawn
// uniformly from [lo, hi]. The factor is returned alongside the result.
func (a *Augmenter) RandomScaling(batch [][]float64, lo, hi float64) ([][]float64, float64, error) {
	if lo > hi {
		return nil, 0, fmt.Errorf("%w: scale range [%v, %v]", ErrInvalidRange, lo, hi)
	}
	factor := lo + a.rng.Float64()*(hi-lo)
	out := make([][]float64, len(batch))
	for i, row := range batch {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = v * factor
		}
	}
	return out, factor, nil
}

// RandomShift rolls window circularly by an offset drawn uniformly from
// [-maxShift, maxShift]; element i moves to (i+shift) mod len.
func (a *Augmenter) RandomShift(window []float64, maxShift int) ([]float64, int, error) {
	if maxShift < 0 {
		return nil, 0, fmt.Errorf("%w: negative max shift %d", ErrInvalidRange, maxShift)
	}
	shift := a.rng.IntN(2*maxShift+1) - maxShift
	return Roll(window, shift), shift, nil
}

// Roll shifts window circularly; positive shifts move values to higher indices.
func Roll(window []float64, shift int) []float64 {
	n := len(window)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	shift %= n
	if shift < 0 {
		shift += n
	}
	for i, v := range window {
		out[(i+shift)%n] = v
	}
	return out
}

// ExpandConfig controls Expand.
type ExpandConfig struct {
	NoiseStd      float64
	ScaleLo       float64
	ScaleHi       float64
	MaxShift      int
	IncludeShifts bool
}

// DefaultExpandConfig mirrors the training recipe: originals plus a noisy
// copy (std 0.1) and a scaled copy ([0.9, 1.1]).
func DefaultExpandConfig() ExpandConfig {
	return ExpandConfig{
		NoiseStd: 0.1,
		ScaleLo:  0.9,
		ScaleHi:  1.1,
		MaxShift: 2,
	}
}

// Expand returns the original samples followed by augmented copies. Only
// flow windows are perturbed; targets and extra feature channels are
// carried over unchanged.
func (a *Augmenter) Expand(samples []preprocess.Sample, cfg ExpandConfig) ([]preprocess.Sample, error) {
	windows := preprocess.FlowWindows(samples)

	noisy := a.AddGaussianNoise(windows, 0, cfg.NoiseStd)
	scaled, _, err := a.RandomScaling(windows, cfg.ScaleLo, cfg.ScaleHi)
	if err != nil {
		return nil, err
	}

	copies := 3
	if cfg.IncludeShifts {
		copies = 4
	}
	out := make([]preprocess.Sample, 0, copies*len(samples))
	out = append(out, samples...)
	for i, s := range samples {
		out = append(out, preprocess.Sample{Window: noisy[i], Extra: s.Extra, Target: s.Target})
	}
	for i, s := range samples {
		out = append(out, preprocess.Sample{Window: scaled[i], Extra: s.Extra, Target: s.Target})
	}
	if cfg.IncludeShifts {
		for _, s := range samples {
			shifted, _, err := a.RandomShift(s.Window, cfg.MaxShift)
			if err != nil {
				return nil, err
			}
			out = append(out, preprocess.Sample{Window: shifted, Extra: s.Extra, Target: s.Target})
		}
	}
	return out, nil
}
