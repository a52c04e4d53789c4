package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/generator"
	"traffic_forecaster/internal/imageio"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/observability"
	"traffic_forecaster/internal/preprocess"
	"traffic_forecaster/internal/report"
	"traffic_forecaster/internal/trainer"
)

var end = time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)

func testSeries(t *testing.T, n int) model.Series {
	t.Helper()
	g, err := generator.New(generator.DefaultConfig())
	require.NoError(t, err)
	s, err := g.Generate(n, end, 0.1)
	require.NoError(t, err)
	return s
}

func tinyConfig(dir string) Config {
	cfg := DefaultConfig(6)
	cfg.Architecture = forecast.Architecture{
		WindowLength:    6,
		Channels:        []int{4},
		KernelSize:      3,
		Pooling:         forecast.PoolingAttention,
		AttentionHidden: 4,
		Heads:           1,
		Hidden:          []int{8},
	}
	cfg.Trainer.MaxEpochs = 3
	cfg.Trainer.BatchSize = 16
	cfg.Trainer.LearningRate = 0.01
	cfg.CheckpointPath = filepath.Join(dir, "best.json")
	return cfg
}

func TestPrepare_Partitions(t *testing.T) {
	s := testSeries(t, 240)
	cfg := tinyConfig(t.TempDir())

	split, err := Prepare(s, cfg)
	require.NoError(t, err)

	n := preprocess.WindowCount(len(split.Cleaned), 6)
	assert.Equal(t, n, len(split.Train)+len(split.Val)+len(split.Test))
	assert.Equal(t, int(float64(n)*0.7), len(split.Train))
	assert.Zero(t, preprocess.MissingHours(split.Cleaned))

	values := split.Cleaned.Values()
	want, err := preprocess.FitScaler(values[:len(split.Train)+6])
	require.NoError(t, err)
	assert.InDelta(t, want.Mean, split.Scaler.Mean, 1e-9)
	assert.InDelta(t, want.Std, split.Scaler.Std, 1e-9)

	// Train targets are normalized, test targets stay in flow units.
	assert.InDelta(t, values[6], split.Scaler.Inverse(split.Train[0].Target), 1e-6)

	flowAt := make(map[time.Time]int, len(split.Cleaned))
	for _, p := range split.Cleaned {
		flowAt[p.Timestamp] = p.Flow
	}
	require.Len(t, split.TestTimes, len(split.Test))
	for i, sample := range split.Test {
		assert.Equal(t, float64(flowAt[split.TestTimes[i]]), sample.Target)
	}
	assert.Equal(t, split.Cleaned[len(split.Cleaned)-1].Timestamp, split.TestTimes[len(split.TestTimes)-1])
}

func TestPrepare_RefillsGaps(t *testing.T) {
	s := testSeries(t, 240)
	gapped := append(append(model.Series{}, s[:100]...), s[103:]...)
	cfg := tinyConfig(t.TempDir())
	cfg.OutlierLow, cfg.OutlierHigh = 0, 1

	split, err := Prepare(gapped, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, split.Interpolated)
	assert.Len(t, split.Cleaned, len(s))
	assert.Equal(t, s[101].Timestamp, split.Cleaned[101].Timestamp)
}

func TestPrepare_Errors(t *testing.T) {
	cfg := tinyConfig(t.TempDir())

	_, err := Prepare(model.Series{}, cfg)
	assert.ErrorIs(t, err, model.ErrEmptySeries)

	_, err = Prepare(testSeries(t, 10), cfg)
	assert.ErrorIs(t, err, ErrTooShort)

	bad := cfg
	bad.TrainFrac = 0.9
	bad.ValFrac = 0.2
	_, err = Prepare(testSeries(t, 100), bad)
	assert.ErrorIs(t, err, preprocess.ErrInvalidArgument)
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	cfg := tinyConfig(dir)
	cfg.ReportDir = dir

	var epochs []trainer.EpochResult
	metrics := observability.NewMetricsForTesting()
	r := New(cfg, observability.DiscardLogger(),
		trainer.WithMetrics(metrics),
		trainer.WithCallback(func(res trainer.EpochResult) { epochs = append(epochs, res) }),
	)

	res, err := r.Run(context.Background(), testSeries(t, 240))
	require.NoError(t, err)

	assert.Len(t, epochs, res.History.Epochs)
	assert.Equal(t, res.History.BestEpoch, res.Predictor.Info().Epoch)
	assert.Len(t, res.Predictions, len(res.Actuals))
	assert.GreaterOrEqual(t, res.Report.Overall.MAE, 0.0)
	assert.GreaterOrEqual(t, res.Report.Overall.RMSE, res.Report.Overall.MAE)

	split, err := Prepare(testSeries(t, 240), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*len(split.Train), res.TrainSize)

	assert.Equal(t, filepath.Join(dir, report.HistoryFile), res.PlotPath)
	_, err = os.Stat(res.PlotPath)
	assert.NoError(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := tinyConfig(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, observability.DiscardLogger()).Run(ctx, testSeries(t, 240))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_NoImprovementKeepsOldCheckpoint(t *testing.T) {
	cfg := tinyConfig(t.TempDir())
	// Diverges on the first step, so every validation loss is non-finite.
	cfg.Trainer.LearningRate = 1e300

	old, err := forecast.New(cfg.Architecture, 1)
	require.NoError(t, err)
	require.NoError(t, checkpoint.NewFileStore(cfg.CheckpointPath).Save(&checkpoint.Checkpoint{
		RunID:        "previous",
		Epoch:        7,
		Architecture: cfg.Architecture,
		Scaler:       preprocess.Scaler{Mean: 800, Std: 300},
		State:        old.StateDict(),
	}))

	res, err := New(cfg, observability.DiscardLogger()).Run(context.Background(), testSeries(t, 240))
	assert.ErrorIs(t, err, ErrNoImprovement)
	assert.Nil(t, res)

	ck, err := checkpoint.Load(cfg.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, "previous", ck.RunID)
}

// hourFrames gives every hour of s a frame whose brightness follows the
// hour of day.
func hourFrames(t *testing.T, s model.Series) *imageio.Frames {
	t.Helper()
	times := make([]time.Time, len(s))
	means := make([][imageio.Channels]float64, len(s))
	for i, p := range s {
		v := float64(p.Timestamp.Hour()) / 23
		times[i] = p.Timestamp
		means[i] = [imageio.Channels]float64{v, v / 2, 1 - v}
	}
	frames, err := imageio.NewFrames(times, means)
	require.NoError(t, err)
	return frames
}

func TestPrepare_AttachesFrames(t *testing.T) {
	s := testSeries(t, 240)
	cfg := tinyConfig(t.TempDir())
	cfg.Architecture.ImageFeatures = imageio.Channels
	cfg.Frames = hourFrames(t, s)

	split, err := Prepare(s, cfg)
	require.NoError(t, err)
	times := split.Cleaned.Timestamps()
	assert.Equal(t, cfg.Frames.Features(times[:6]), split.Train[0].Extra)
	assert.Len(t, split.Val[0].Extra, 3*6)
	first := len(split.Train) + len(split.Val)
	assert.Equal(t, cfg.Frames.Features(times[first:first+6]), split.Test[0].Extra)

	cfg.Frames = nil
	_, err = Prepare(s, cfg)
	assert.ErrorIs(t, err, ErrFrames)

	cfg.Frames = hourFrames(t, s)
	cfg.Architecture.ImageFeatures = 2
	_, err = Prepare(s, cfg)
	assert.ErrorIs(t, err, ErrFrames)
}

func TestRunner_RunWithFrames(t *testing.T) {
	s := testSeries(t, 240)
	cfg := tinyConfig(t.TempDir())
	cfg.Architecture.ImageFeatures = imageio.Channels
	cfg.Frames = hourFrames(t, s)

	res, err := New(cfg, observability.DiscardLogger()).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, imageio.Channels, res.Predictor.Info().ImageFeatures)
	assert.Len(t, res.Predictions, len(res.Actuals))
	assert.GreaterOrEqual(t, res.Report.Overall.MAE, 0.0)
}

func TestEvaluate_LengthMismatch(t *testing.T) {
	_, _, err := Evaluate(nil, []preprocess.Sample{{Window: make([]float64, 6)}}, nil, DefaultDelayThreshold)
	require.Error(t, err)
}
