package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/generator"
	"traffic_forecaster/internal/trainer"
)

// Config holds all server settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	CORSOrigin      string

	// Data.
	SeriesPath   string // CSV to serve; empty means generate a synthetic series
	SeriesLength int
	Pattern      generator.Pattern
	NoiseLevel   float64
	Seed         uint64
	RecentLimit  int

	// Model and training.
	CheckpointPath string
	WindowLength   int
	Pooling        forecast.Pooling
	TrainOnStart   bool
	Epochs         int
	BatchSize      int
	LearningRate   float64
	Patience       int
	ReportDir      string
}

// Load reads configuration from environment variables (optionally .env),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := &Config{
		HTTPAddr:       envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("LOG_FORMAT", "json"),
		CORSOrigin:     envOrDefault("CORS_ORIGIN", "*"),
		SeriesPath:     os.Getenv("SERIES_PATH"),
		CheckpointPath: envOrDefault("CHECKPOINT_PATH", "models/best_model.json"),
		ReportDir:      os.Getenv("REPORT_DIR"),
	}

	var err error
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SeriesLength, err = parsePositiveInt("SERIES_LENGTH", 1000); err != nil {
		return nil, err
	}
	if cfg.RecentLimit, err = parsePositiveInt("RECENT_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.WindowLength, err = parsePositiveInt("WINDOW_LENGTH", 12); err != nil {
		return nil, err
	}
	if cfg.Epochs, err = parsePositiveInt("EPOCHS", 100); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = parsePositiveInt("BATCH_SIZE", 32); err != nil {
		return nil, err
	}
	if cfg.Patience, err = parsePositiveInt("PATIENCE", 5); err != nil {
		return nil, err
	}
	if cfg.NoiseLevel, err = parseFloat("NOISE_LEVEL", 0.1); err != nil {
		return nil, err
	}
	if cfg.LearningRate, err = parseFloat("LEARNING_RATE", 0.001); err != nil {
		return nil, err
	}
	if cfg.TrainOnStart, err = parseBool("TRAIN_ON_START", true); err != nil {
		return nil, err
	}

	seed := envOrDefault("SEED", "42")
	if cfg.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid SEED: %s", seed)
	}

	if cfg.Pattern, err = generator.ParsePattern(envOrDefault("PATTERN", string(generator.PatternBimodal))); err != nil {
		return nil, fmt.Errorf("invalid PATTERN: %w", err)
	}
	if cfg.Pooling, err = forecast.ParsePooling(envOrDefault("POOLING", string(forecast.PoolingAttention))); err != nil {
		return nil, fmt.Errorf("invalid POOLING: %w", err)
	}

	if cfg.NoiseLevel < 0 {
		return nil, errors.New("NOISE_LEVEL must not be negative")
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.New("LEARNING_RATE must be positive")
	}
	if cfg.CheckpointPath == "" {
		return nil, errors.New("CHECKPOINT_PATH is required")
	}
	if cfg.SeriesPath == "" && cfg.SeriesLength <= cfg.WindowLength {
		return nil, fmt.Errorf("SERIES_LENGTH %d must exceed WINDOW_LENGTH %d", cfg.SeriesLength, cfg.WindowLength)
	}

	return cfg, nil
}

// Architecture is the default model architecture for the configured window
// length and pooling.
func (c *Config) Architecture() forecast.Architecture {
	a := forecast.DefaultArchitecture(c.WindowLength)
	a.Pooling = c.Pooling
	return a
}

// Trainer returns the training hyperparameters.
func (c *Config) Trainer() trainer.Config {
	return trainer.Config{
		MaxEpochs:    c.Epochs,
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		Patience:     c.Patience,
		Seed:         c.Seed,
	}
}

// Generator returns the synthetic series settings.
func (c *Config) Generator() generator.Config {
	g := generator.DefaultConfig()
	g.Pattern = c.Pattern
	g.Seed = c.Seed
	return g
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, s)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, s)
	}
	return f, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %s", key, s)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, s)
	}
	return d, nil
}
