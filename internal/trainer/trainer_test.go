package trainer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/observability"
	"traffic_forecaster/internal/preprocess"
)

// scriptedModel reports a predetermined validation loss per epoch. Each
// SetMode(Training) call starts a new epoch; its StateDict records the epoch
// it was taken in.
type scriptedModel struct {
	valLosses []float64
	epoch     int
	mode      nn.Mode
	backwards int
}

func (m *scriptedModel) SetMode(mode nn.Mode) {
	if mode == nn.Training {
		m.epoch++
	}
	m.mode = mode
}

func (m *scriptedModel) Forward(batch [][]float64) ([]float64, error) {
	offset := 0.0
	if m.mode == nn.Inference {
		offset = math.Sqrt(m.valLosses[m.epoch-1])
	}
	out := make([]float64, len(batch))
	for i, w := range batch {
		out[i] = w[0] + offset
	}
	return out, nil
}

func (m *scriptedModel) Backward([]float64) error {
	m.backwards++
	return nil
}

func (m *scriptedModel) ZeroGrad() {}

func (m *scriptedModel) Params() []*nn.Param { return nil }

func (m *scriptedModel) StateDict() nn.StateDict {
	return nn.StateDict{"epoch": nn.FromData([]float64{float64(m.epoch)}, 1)}
}

func (m *scriptedModel) Architecture() forecast.Architecture {
	return forecast.DefaultArchitecture(2)
}

// memStore records every save.
type memStore struct {
	saved []*checkpoint.Checkpoint
	err   error
}

func (s *memStore) Save(ck *checkpoint.Checkpoint) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, ck)
	return nil
}

func (s *memStore) last() *checkpoint.Checkpoint { return s.saved[len(s.saved)-1] }

// identitySamples have Target == Window[0], so an offset-free model has zero loss.
func identitySamples(n int) []preprocess.Sample {
	out := make([]preprocess.Sample, n)
	for i := range out {
		v := float64(i)
		out[i] = preprocess.Sample{Window: []float64{v, v + 1}, Target: v}
	}
	return out
}

func quietOpts() []Option {
	return []Option{
		WithLogger(observability.DiscardLogger()),
		WithClock(clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))),
	}
}

func TestFit_EarlyStoppingKeepsBestEpoch(t *testing.T) {
	// Best at epoch 2, then three epochs without strict improvement.
	model := &scriptedModel{valLosses: []float64{1.0, 0.5, 0.5, 0.7, 0.6, 0.1, 0.05}}
	store := &memStore{}
	cfg := DefaultConfig()
	cfg.Patience = 3
	cfg.BatchSize = 4

	var results []EpochResult
	opts := append(quietOpts(), WithCallback(func(r EpochResult) { results = append(results, r) }))
	tr, err := New(model, preprocess.Scaler{Mean: 10, Std: 2}, store, cfg, opts...)
	require.NoError(t, err)

	h, err := tr.Fit(context.Background(), identitySamples(10), identitySamples(6))
	require.NoError(t, err)

	assert.True(t, h.StoppedEarly)
	assert.Equal(t, 5, h.Epochs, "stops at best epoch + patience")
	assert.Equal(t, 2, h.BestEpoch)
	assert.InDelta(t, 0.5, h.BestValLoss, 1e-12)
	require.Len(t, h.ValLoss, 5)
	assert.InDeltaSlice(t, []float64{1.0, 0.5, 0.5, 0.7, 0.6}, h.ValLoss, 1e-12)
	for _, l := range h.TrainLoss {
		assert.Equal(t, 0.0, l)
	}

	require.Len(t, store.saved, 2, "only strict improvements are saved")
	best := store.last()
	assert.Equal(t, 2, best.Epoch)
	assert.Equal(t, []float64{2}, best.State["epoch"].Data, "checkpoint holds epoch-2 parameters")
	assert.Equal(t, preprocess.Scaler{Mean: 10, Std: 2}, best.Scaler)
	assert.Equal(t, h.RunID, best.RunID)
	assert.Equal(t, forecast.DefaultArchitecture(2), best.Architecture)

	require.Len(t, results, 5)
	assert.True(t, results[1].Improved)
	assert.False(t, results[2].Improved)
	assert.Equal(t, 2, results[4].BestEpoch)

	// 10 samples in batches of 4 → 3 backward passes per epoch.
	assert.Equal(t, 15, model.backwards)
	assert.Equal(t, nn.Inference, model.mode)
}

func TestFit_RunsToMaxEpochs(t *testing.T) {
	model := &scriptedModel{valLosses: []float64{0.9, 0.8, 0.7}}
	store := &memStore{}
	cfg := DefaultConfig()
	cfg.MaxEpochs = 3

	metrics := observability.NewMetricsForTesting()
	tr, err := New(model, preprocess.Scaler{Std: 1}, store, cfg, append(quietOpts(), WithMetrics(metrics))...)
	require.NoError(t, err)

	h, err := tr.Fit(context.Background(), identitySamples(5), identitySamples(5))
	require.NoError(t, err)
	assert.False(t, h.StoppedEarly)
	assert.Equal(t, 3, h.Epochs)
	assert.Equal(t, 3, h.BestEpoch)
	assert.Len(t, store.saved, 3)
}

func TestFit_Errors(t *testing.T) {
	_, err := New(&scriptedModel{}, preprocess.Scaler{}, &memStore{}, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	tr, err := New(&scriptedModel{valLosses: []float64{1}}, preprocess.Scaler{}, &memStore{}, DefaultConfig(), quietOpts()...)
	require.NoError(t, err)
	_, err = tr.Fit(context.Background(), nil, identitySamples(2))
	assert.ErrorIs(t, err, ErrEmptyDataset)

	boom := errors.New("disk full")
	tr, err = New(&scriptedModel{valLosses: []float64{1}}, preprocess.Scaler{}, &memStore{err: boom}, DefaultConfig(), quietOpts()...)
	require.NoError(t, err)
	_, err = tr.Fit(context.Background(), identitySamples(2), identitySamples(2))
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr, err = New(&scriptedModel{valLosses: []float64{1}}, preprocess.Scaler{}, &memStore{}, DefaultConfig(), quietOpts()...)
	require.NoError(t, err)
	_, err = tr.Fit(ctx, identitySamples(2), identitySamples(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFit_RealModelWithFileStore(t *testing.T) {
	arch := forecast.Architecture{
		WindowLength:    4,
		Channels:        []int{4},
		KernelSize:      3,
		Pooling:         forecast.PoolingAttention,
		AttentionHidden: 4,
		Heads:           1,
		Hidden:          []int{8},
	}
	model, err := forecast.New(arch, 1)
	require.NoError(t, err)

	series := make([]float64, 80)
	for i := range series {
		series[i] = math.Sin(float64(i) * 2 * math.Pi / 12)
	}
	samples, err := preprocess.Dataset(series, 4)
	require.NoError(t, err)
	train, val, _, err := preprocess.SplitChronological(samples, 0.7, 0.15)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "best.json")
	cfg := DefaultConfig()
	cfg.MaxEpochs = 30
	cfg.BatchSize = 8
	cfg.LearningRate = 0.01

	tr, err := New(model, preprocess.Scaler{Std: 1}, checkpoint.NewFileStore(path), cfg, quietOpts()...)
	require.NoError(t, err)
	h, err := tr.Fit(context.Background(), train, val)
	require.NoError(t, err)

	assert.Less(t, h.BestValLoss, h.ValLoss[0]+1e-12)
	ck, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, h.BestEpoch, ck.Epoch)
	assert.Equal(t, arch, ck.Architecture)
	assert.Equal(t, nn.Inference, model.Mode())
}
