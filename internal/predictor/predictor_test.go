package predictor

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/preprocess"
)

func testArch() forecast.Architecture {
	return forecast.Architecture{
		WindowLength:    4,
		Channels:        []int{4, 8},
		KernelSize:      3,
		ConvDropout:     0.2,
		Pooling:         forecast.PoolingAttention,
		AttentionHidden: 4,
		Heads:           2,
		Hidden:          []int{8},
		HeadDropout:     0.5,
	}
}

func trainedCheckpoint(t *testing.T, arch forecast.Architecture) (*checkpoint.Checkpoint, *forecast.Model) {
	t.Helper()
	m, err := forecast.New(arch, 21)
	require.NoError(t, err)
	return &checkpoint.Checkpoint{
		RunID:        "run-xyz",
		Epoch:        4,
		ValLoss:      0.2,
		Architecture: arch,
		Scaler:       preprocess.Scaler{Mean: 2000, Std: 500},
		State:        m.StateDict(),
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, m
}

func hourly(start time.Time, flows ...int) model.Series {
	s := make(model.Series, len(flows))
	for i, f := range flows {
		s[i] = model.SeriesPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), Flow: f}
	}
	return s
}

func TestPredict_MatchesModelInRawUnits(t *testing.T) {
	ck, m := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	window := []float64{1500, 2200, 2600, 1900}
	got, err := p.Predict(window)
	require.NoError(t, err)

	out, err := m.Forward([][]float64{ck.Scaler.Transform(window)})
	require.NoError(t, err)
	assert.InDelta(t, ck.Scaler.Inverse(out[0]), got, 1e-9)

	info := p.Info()
	assert.Equal(t, "run-xyz", info.RunID)
	assert.Equal(t, 4, info.Epoch)
	assert.Equal(t, 4, p.WindowLength())
	assert.Equal(t, ck.Scaler, p.Scaler())
}

func TestPredictWithFeatures(t *testing.T) {
	arch := testArch()
	arch.ImageFeatures = 3
	ck, m := trainedCheckpoint(t, arch)
	p, err := New(ck, arch)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Info().ImageFeatures)

	window := []float64{1500, 2200, 2600, 1900}
	extra := []float64{0.1, 0.1, 0.2, 0.2, 0.3, 0.3, 0.4, 0.4, 0.5, 0.5, 0.6, 0.6}
	got, err := p.PredictWithFeatures([][]float64{window}, [][]float64{extra})
	require.NoError(t, err)

	out, err := m.Forward([][]float64{append(ck.Scaler.Transform(window), extra...)})
	require.NoError(t, err)
	assert.InDelta(t, ck.Scaler.Inverse(out[0]), got[0], 1e-9)

	_, err = p.Predict(window)
	assert.ErrorIs(t, err, ErrFeatures)
	_, err = p.PredictWithFeatures([][]float64{window}, [][]float64{extra[:4]})
	assert.ErrorIs(t, err, ErrFeatures)
	_, err = p.PredictWithFeatures([][]float64{window, window}, [][]float64{extra})
	assert.ErrorIs(t, err, ErrFeatures)
	_, err = p.AttentionWeights(window)
	assert.ErrorIs(t, err, ErrFeatures)
}

func TestNew_ArchitectureMismatch(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())

	other := testArch()
	other.WindowLength = 6
	_, err := New(ck, other)
	assert.ErrorIs(t, err, forecast.ErrArchitectureMismatch)

	// Architecture claims match but tensors do not.
	ck.State["head.out.weight"] = nn.NewTensor(1, 3)
	_, err = New(ck, testArch())
	assert.ErrorIs(t, err, forecast.ErrArchitectureMismatch)
}

func TestLoad_FromFile(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	path := filepath.Join(t.TempDir(), "best.json")
	require.NoError(t, checkpoint.NewFileStore(path).Save(ck))

	p, err := Load(path, testArch())
	require.NoError(t, err)
	direct, err := New(ck, testArch())
	require.NoError(t, err)

	window := []float64{100, 200, 300, 400}
	a, err := p.Predict(window)
	require.NoError(t, err)
	b, err := direct.Predict(window)
	require.NoError(t, err)
	assert.Equal(t, b, a)

	_, err = Load(filepath.Join(t.TempDir(), "none.json"), testArch())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestPredict_WrongWindow(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	_, err = p.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, forecast.ErrWindowLength)
	_, err = p.AttentionWeights([]float64{1})
	assert.ErrorIs(t, err, forecast.ErrWindowLength)
}

func TestForecast(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 5, 0, 0, 0, time.UTC)
	s := hourly(start, 900, 1200, 1800, 2500, 3000, 2800)

	f, err := p.Forecast(s)
	require.NoError(t, err)
	assert.Equal(t, start.Add(6*time.Hour), f.Timestamp)
	want, err := p.Predict([]float64{1800, 2500, 3000, 2800})
	require.NoError(t, err)
	assert.Equal(t, want, f.Value)

	_, err = p.Forecast(s[:3])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestForecastHorizon(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	s := hourly(start, 1000, 1100, 1300, 1600)

	got, err := p.ForecastHorizon(s, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	first, err := p.Forecast(s)
	require.NoError(t, err)
	assert.Equal(t, first, got[0])

	second, err := p.Predict([]float64{1100, 1300, 1600, first.Value})
	require.NoError(t, err)
	assert.Equal(t, second, got[1].Value)
	assert.Equal(t, start.Add(6*time.Hour), got[2].Timestamp)
}

func TestAttentionWeights(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	w, err := p.AttentionWeights([]float64{1000, 3000, 2000, 1500})
	require.NoError(t, err)
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
}

func TestPredict_ConcurrentCallsAgree(t *testing.T) {
	ck, _ := trainedCheckpoint(t, testArch())
	p, err := New(ck, testArch())
	require.NoError(t, err)

	window := []float64{1200, 1800, 2400, 2000}
	want, err := p.Predict(window)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]float64, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Predict(window)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()
	for _, v := range results {
		assert.Equal(t, want, v)
	}
}
