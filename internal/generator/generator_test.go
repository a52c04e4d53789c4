package generator

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var end = time.Date(2024, 11, 21, 12, 30, 0, 0, time.UTC)

func TestGenerate_LengthAndSpacing(t *testing.T) {
	g, err := New(DefaultConfig())
	require.NoError(t, err)

	s, err := g.Generate(48, end, 0.1)
	require.NoError(t, err)
	require.Len(t, s, 48)

	assert.Equal(t, end.Truncate(time.Hour), s[len(s)-1].Timestamp)
	for i := 1; i < len(s); i++ {
		assert.Equal(t, time.Hour, s[i].Timestamp.Sub(s[i-1].Timestamp))
	}
	assert.NoError(t, s.Validate())
}

func TestGenerate_NonNegative(t *testing.T) {
	for _, pattern := range []Pattern{PatternBimodal, PatternSinusoidal} {
		for _, noise := range []float64{0, 0.1, 0.5, 3} {
			g, err := New(Config{Pattern: pattern, DriftStd: 0.05, Seed: 7})
			require.NoError(t, err)

			s, err := g.Generate(500, end, noise)
			require.NoError(t, err)
			for _, p := range s {
				assert.GreaterOrEqual(t, p.Flow, 0, "pattern=%s noise=%v", pattern, noise)
			}
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g1, _ := New(DefaultConfig())
	g2, _ := New(DefaultConfig())

	s1, err := g1.Generate(100, end, 0.1)
	require.NoError(t, err)
	s2, err := g2.Generate(100, end, 0.1)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestGenerate_NoiseFreeShape(t *testing.T) {
	g, err := New(Config{Pattern: PatternBimodal})
	require.NoError(t, err)

	// 2024-11-21 is a Thursday.
	s, err := g.Generate(24, time.Date(2024, 11, 21, 23, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)

	byHour := make(map[int]int)
	for _, p := range s {
		byHour[p.Timestamp.Hour()] = p.Flow
	}
	assert.Greater(t, byHour[8], byHour[3])
	assert.Greater(t, byHour[18], byHour[13])
	// 1.2 * (1000 + 1500*(1 + exp(-12.5))) rounds to 3000.
	assert.Equal(t, 3000, byHour[8])
}

func TestGenerate_WeekendLower(t *testing.T) {
	g, err := New(Config{Pattern: PatternSinusoidal})
	require.NoError(t, err)

	thu := time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	sat := time.Date(2024, 11, 23, 6, 0, 0, 0, time.UTC)

	a, err := g.Generate(1, thu, 0)
	require.NoError(t, err)
	b, err := g.Generate(1, sat, 0)
	require.NoError(t, err)

	assert.Equal(t, 18000, a[0].Flow)
	assert.Equal(t, 12000, b[0].Flow)
}

func TestGenerateRecent_UsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(end)
	g, err := New(DefaultConfig(), WithClock(clock))
	require.NoError(t, err)

	s, err := g.GenerateRecent(5, 0.1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 21, 12, 0, 0, 0, time.UTC), s[4].Timestamp)
}

func TestGenerate_InvalidInput(t *testing.T) {
	g, _ := New(DefaultConfig())

	_, err := g.Generate(0, end, 0.1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = g.Generate(10, end, -1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Pattern: "triangle"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("sinusoidal")
	require.NoError(t, err)
	assert.Equal(t, PatternSinusoidal, p)

	_, err = ParsePattern("")
	assert.Error(t, err)
}
