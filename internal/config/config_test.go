package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/generator"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "*", cfg.CORSOrigin)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.SeriesPath)
	assert.Equal(t, 1000, cfg.SeriesLength)
	assert.Equal(t, generator.PatternBimodal, cfg.Pattern)
	assert.InDelta(t, 0.1, cfg.NoiseLevel, 1e-12)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 100, cfg.RecentLimit)
	assert.Equal(t, "models/best_model.json", cfg.CheckpointPath)
	assert.Equal(t, 12, cfg.WindowLength)
	assert.Equal(t, forecast.PoolingAttention, cfg.Pooling)
	assert.True(t, cfg.TrainOnStart)
	assert.Equal(t, 100, cfg.Epochs)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.InDelta(t, 0.001, cfg.LearningRate, 1e-12)
	assert.Equal(t, 5, cfg.Patience)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SERIES_PATH", "data/flow.csv")
	t.Setenv("PATTERN", "sinusoidal")
	t.Setenv("NOISE_LEVEL", "0.25")
	t.Setenv("SEED", "7")
	t.Setenv("WINDOW_LENGTH", "24")
	t.Setenv("POOLING", "self_attention")
	t.Setenv("TRAIN_ON_START", "false")
	t.Setenv("EPOCHS", "20")
	t.Setenv("BATCH_SIZE", "16")
	t.Setenv("LEARNING_RATE", "0.01")
	t.Setenv("PATIENCE", "3")
	t.Setenv("RECENT_LIMIT", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "data/flow.csv", cfg.SeriesPath)
	assert.Equal(t, generator.PatternSinusoidal, cfg.Pattern)
	assert.InDelta(t, 0.25, cfg.NoiseLevel, 1e-12)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 24, cfg.WindowLength)
	assert.Equal(t, forecast.PoolingSelfAttention, cfg.Pooling)
	assert.False(t, cfg.TrainOnStart)
	assert.Equal(t, 20, cfg.Epochs)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.InDelta(t, 0.01, cfg.LearningRate, 1e-12)
	assert.Equal(t, 3, cfg.Patience)
	assert.Equal(t, 50, cfg.RecentLimit)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"WINDOW_LENGTH", "zero", "invalid WINDOW_LENGTH"},
		{"WINDOW_LENGTH", "-3", "invalid WINDOW_LENGTH"},
		{"BATCH_SIZE", "0", "invalid BATCH_SIZE"},
		{"SEED", "-1", "invalid SEED"},
		{"NOISE_LEVEL", "loud", "invalid NOISE_LEVEL"},
		{"NOISE_LEVEL", "-0.5", "NOISE_LEVEL must not be negative"},
		{"LEARNING_RATE", "0", "LEARNING_RATE must be positive"},
		{"TRAIN_ON_START", "maybe", "invalid TRAIN_ON_START"},
		{"SHUTDOWN_TIMEOUT", "soon", "invalid SHUTDOWN_TIMEOUT"},
		{"PATTERN", "trimodal", "invalid PATTERN"},
		{"POOLING", "max", "invalid POOLING"},
		{"SERIES_LENGTH", "10", "must exceed WINDOW_LENGTH"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Derived(t *testing.T) {
	t.Setenv("WINDOW_LENGTH", "24")
	t.Setenv("POOLING", "self_attention")
	t.Setenv("PATTERN", "sinusoidal")
	t.Setenv("SEED", "9")
	t.Setenv("EPOCHS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	arch := cfg.Architecture()
	assert.Equal(t, 24, arch.WindowLength)
	assert.Equal(t, forecast.PoolingSelfAttention, arch.Pooling)
	require.NoError(t, arch.Validate())

	tc := cfg.Trainer()
	assert.Equal(t, 7, tc.MaxEpochs)
	assert.Equal(t, uint64(9), tc.Seed)
	require.NoError(t, tc.Validate())

	gc := cfg.Generator()
	assert.Equal(t, generator.PatternSinusoidal, gc.Pattern)
	assert.Equal(t, uint64(9), gc.Seed)
}
