// Package generator produces synthetic hourly traffic flow series with
// diurnal and weekly structure.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"traffic_forecaster/internal/model"
)

// Pattern selects the shape of the daily profile.
type Pattern string

const (
	// PatternBimodal peaks around the 08:00 and 18:00 commutes.
	PatternBimodal Pattern = "bimodal"
	// PatternSinusoidal is a single 24h sine wave.
	PatternSinusoidal Pattern = "sinusoidal"
)

const (
	weekdayFactor = 1.2
	weekendFactor = 0.8
)

var ErrInvalidConfig = errors.New("invalid generator config")

// Config controls the generated series.
type Config struct {
	Pattern Pattern
	// DriftStd is the per-step std of the cumulative drift term; 0 disables drift.
	DriftStd float64
	Seed     uint64
}

// DefaultConfig returns the bimodal profile with a small drift.
func DefaultConfig() Config {
	return Config{
		Pattern:  PatternBimodal,
		DriftStd: 0.05,
		Seed:     42,
	}
}

// ParsePattern validates a pattern name.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case PatternBimodal, PatternSinusoidal:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown pattern %q", ErrInvalidConfig, s)
	}
}

// Generator produces synthetic series. It is not safe for concurrent use.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	clock clockwork.Clock
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock sets the time source used by GenerateRecent.
func WithClock(c clockwork.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

func New(cfg Config, opts ...Option) (*Generator, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = PatternBimodal
	}
	if _, err := ParsePattern(string(cfg.Pattern)); err != nil {
		return nil, err
	}
	if cfg.DriftStd < 0 {
		return nil, fmt.Errorf("%w: negative drift std %v", ErrInvalidConfig, cfg.DriftStd)
	}
	g := &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, 0)),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate returns n hourly points whose last timestamp is end truncated to
// the hour. noiseLevel is the std of the zero-mean multiplicative noise.
func (g *Generator) Generate(n int, end time.Time, noiseLevel float64) (model.Series, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrInvalidConfig, n)
	}
	if noiseLevel < 0 || math.IsNaN(noiseLevel) {
		return nil, fmt.Errorf("%w: invalid noise level %v", ErrInvalidConfig, noiseLevel)
	}

	end = end.Truncate(model.Interval)
	first := end.Add(-time.Duration(n-1) * model.Interval)

	series := make(model.Series, n)
	drift := 0.0
	for i := range series {
		ts := first.Add(time.Duration(i) * model.Interval)

		noise := g.rng.NormFloat64() * noiseLevel
		if g.cfg.DriftStd > 0 {
			drift += g.rng.NormFloat64() * g.cfg.DriftStd
		}

		flow := g.Daily(ts.Hour()) * WeekdayFactor(ts) * (1 + noise + drift/100)
		series[i] = model.SeriesPoint{
			Timestamp: ts,
			Flow:      int(math.Max(0, math.Round(flow))),
		}
	}
	return series, nil
}

// GenerateRecent generates n points ending at the clock's current hour.
func (g *Generator) GenerateRecent(n int, noiseLevel float64) (model.Series, error) {
	return g.Generate(n, g.clock.Now(), noiseLevel)
}

// Daily returns the noise-free profile value for an hour of day.
func (g *Generator) Daily(hour int) float64 {
	h := float64(hour)
	switch g.cfg.Pattern {
	case PatternSinusoidal:
		return 10000 + 5000*math.Sin(2*math.Pi*h/24)
	default:
		morning := math.Exp(-((h - 8) * (h - 8)) / 8)
		evening := math.Exp(-((h - 18) * (h - 18)) / 8)
		return 1000 + 1500*(morning+evening)
	}
}

// WeekdayFactor scales weekdays above weekends.
func WeekdayFactor(t time.Time) float64 {
	if model.IsWeekend(t) {
		return weekendFactor
	}
	return weekdayFactor
}
