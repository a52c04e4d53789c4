// Package pipeline wires the forecasting stages into one training run:
// clean the series, window it, split chronologically, normalize with a
// scaler fitted on the training span, augment, train, and score the best
// checkpoint on the held-out test partition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"traffic_forecaster/internal/augment"
	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/evaluate"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/imageio"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/preprocess"
	"traffic_forecaster/internal/report"
	"traffic_forecaster/internal/trainer"
)

// DefaultDelayThreshold is the jump in raw flow units that counts as a
// change point in DelayAnalysis.
const DefaultDelayThreshold = 300

var (
	ErrTooShort      = errors.New("series too short for the requested split")
	ErrNoImprovement = errors.New("no epoch produced a finite validation loss")
	ErrFrames        = errors.New("image features need camera frames")
)

// Config controls one pipeline run.
type Config struct {
	Architecture   forecast.Architecture
	Trainer        trainer.Config
	TrainFrac      float64
	ValFrac        float64
	OutlierLow     float64
	OutlierHigh    float64
	Augment        bool
	Expand         augment.ExpandConfig
	DelayThreshold float64
	CheckpointPath string
	// ReportDir receives the training-curve PNG; empty skips plotting.
	ReportDir string
	// Frames supplies the image channels when Architecture.ImageFeatures
	// is set.
	Frames *imageio.Frames
}

// DefaultConfig is a 70/15/15 split with 1st/99th percentile outlier
// removal and augmentation enabled.
func DefaultConfig(windowLength int) Config {
	return Config{
		Architecture:   forecast.DefaultArchitecture(windowLength),
		Trainer:        trainer.DefaultConfig(),
		TrainFrac:      0.7,
		ValFrac:        0.15,
		OutlierLow:     0.01,
		OutlierHigh:    0.99,
		Augment:        true,
		Expand:         augment.DefaultExpandConfig(),
		DelayThreshold: DefaultDelayThreshold,
		CheckpointPath: "models/best_model.json",
	}
}

// Split is a windowed dataset ready for training. Train and Val are
// normalized; Test keeps raw flow units so predictions can be scored
// through the predictor exactly as served.
type Split struct {
	Train     []preprocess.Sample
	Val       []preprocess.Sample
	Test      []preprocess.Sample
	TestTimes []time.Time // target timestamp of each test sample
	Scaler    preprocess.Scaler
	Cleaned   model.Series
	// Interpolated counts the hours refilled after outlier removal.
	Interpolated int
}

// Prepare cleans the series and builds the three partitions. The scaler is
// fitted on the values covered by training windows and targets only.
func Prepare(s model.Series, cfg Config) (*Split, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	kept, err := preprocess.RemoveOutliers(s, cfg.OutlierLow, cfg.OutlierHigh)
	if err != nil {
		return nil, err
	}
	interpolated := preprocess.MissingHours(kept)
	cleaned := preprocess.InterpolateMissing(kept)

	l := cfg.Architecture.WindowLength
	values := cleaned.Values()
	samples, err := preprocess.Dataset(values, l)
	if err != nil {
		return nil, err
	}
	if err := attachFrames(samples, cleaned, cfg); err != nil {
		return nil, err
	}
	train, val, test, err := preprocess.SplitChronological(samples, cfg.TrainFrac, cfg.ValFrac)
	if err != nil {
		return nil, err
	}
	if len(train) == 0 || len(val) == 0 || len(test) == 0 {
		return nil, fmt.Errorf("%w: %d points give %d/%d/%d samples", ErrTooShort, len(cleaned), len(train), len(val), len(test))
	}

	pp := preprocess.NewPreprocessor()
	scaler, err := pp.Fit(values[:len(train)+l])
	if err != nil {
		return nil, err
	}
	trainNorm, err := normalize(pp, train)
	if err != nil {
		return nil, err
	}
	valNorm, err := normalize(pp, val)
	if err != nil {
		return nil, err
	}

	offset := len(train) + len(val) + l
	times := make([]time.Time, len(test))
	for i := range test {
		times[i] = cleaned[offset+i].Timestamp
	}

	return &Split{
		Train:        trainNorm,
		Val:          valNorm,
		Test:         test,
		TestTimes:    times,
		Scaler:       scaler,
		Cleaned:      cleaned,
		Interpolated: interpolated,
	}, nil
}

func normalize(pp *preprocess.Preprocessor, samples []preprocess.Sample) ([]preprocess.Sample, error) {
	out := make([]preprocess.Sample, len(samples))
	for i, s := range samples {
		window, err := pp.Transform(s.Window)
		if err != nil {
			return nil, err
		}
		target, err := pp.Transform([]float64{s.Target})
		if err != nil {
			return nil, err
		}
		out[i] = preprocess.Sample{Window: window, Extra: s.Extra, Target: target[0]}
	}
	return out, nil
}

// attachFrames sets the image channels of every sample from the frames
// covering its window timestamps.
func attachFrames(samples []preprocess.Sample, cleaned model.Series, cfg Config) error {
	switch f := cfg.Architecture.ImageFeatures; {
	case f == 0:
		return nil
	case f != imageio.Channels:
		return fmt.Errorf("%w: architecture asks for %d image channels, frames provide %d", ErrFrames, f, imageio.Channels)
	case cfg.Frames == nil || cfg.Frames.Len() == 0:
		return fmt.Errorf("%w: no frames loaded", ErrFrames)
	}
	l := cfg.Architecture.WindowLength
	times := cleaned.Timestamps()
	for i := range samples {
		samples[i].Extra = cfg.Frames.Features(times[i : i+l])
	}
	return nil
}

// Result is the outcome of a full run.
type Result struct {
	History     *trainer.History
	Predictor   *predictor.Predictor
	Report      evaluate.Report
	Predictions []float64 // raw-unit predictions for the test partition
	Actuals     []float64
	TrainSize   int // after augmentation
	PlotPath    string
}

// Runner executes pipeline runs.
type Runner struct {
	cfg         Config
	logger      *slog.Logger
	trainerOpts []trainer.Option
}

// New creates a Runner. trainerOpts are forwarded to every trainer it builds.
func New(cfg Config, logger *slog.Logger, trainerOpts ...trainer.Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger, trainerOpts: trainerOpts}
}

// Run trains a model on s and evaluates the best checkpoint.
func (r *Runner) Run(ctx context.Context, s model.Series) (*Result, error) {
	cfg := r.cfg
	split, err := Prepare(s, cfg)
	if err != nil {
		return nil, fmt.Errorf("preparing data: %w", err)
	}

	train := split.Train
	if cfg.Augment {
		aug := augment.New(cfg.Trainer.Seed)
		if train, err = aug.Expand(train, cfg.Expand); err != nil {
			return nil, fmt.Errorf("augmenting: %w", err)
		}
	}
	r.logger.Info("dataset ready",
		"points", len(split.Cleaned),
		"interpolated", split.Interpolated,
		"train", len(train),
		"val", len(split.Val),
		"test", len(split.Test),
		"scaler_mean", split.Scaler.Mean,
		"scaler_std", split.Scaler.Std,
	)

	m, err := forecast.New(cfg.Architecture, cfg.Trainer.Seed)
	if err != nil {
		return nil, err
	}
	store := checkpoint.NewFileStore(cfg.CheckpointPath)
	opts := append([]trainer.Option{trainer.WithLogger(r.logger)}, r.trainerOpts...)
	tr, err := trainer.New(m, split.Scaler, store, cfg.Trainer, opts...)
	if err != nil {
		return nil, err
	}
	hist, err := tr.Fit(ctx, train, split.Val)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	// Without an improving epoch nothing was saved and the path may still
	// hold a checkpoint from an earlier run.
	if hist.BestEpoch == 0 {
		return nil, fmt.Errorf("%w after %d epochs", ErrNoImprovement, hist.Epochs)
	}

	p, err := predictor.Load(cfg.CheckpointPath, cfg.Architecture)
	if err != nil {
		return nil, fmt.Errorf("loading best checkpoint: %w", err)
	}
	rep, preds, err := Evaluate(p, split.Test, split.TestTimes, cfg.DelayThreshold)
	if err != nil {
		return nil, err
	}
	r.logger.Info("test evaluation",
		"mae", rep.Overall.MAE,
		"rmse", rep.Overall.RMSE,
		"mape", rep.Overall.MAPE,
		"peak_mae", rep.Peak.MAE,
		"mean_delay", rep.Delay.Mean,
	)

	res := &Result{
		History:     hist,
		Predictor:   p,
		Report:      rep,
		Predictions: preds,
		Actuals:     preprocess.Targets(split.Test),
		TrainSize:   len(train),
	}
	if cfg.ReportDir != "" {
		if res.PlotPath, err = report.PlotHistory(cfg.ReportDir, hist.TrainLoss, hist.ValLoss); err != nil {
			return nil, fmt.Errorf("plotting history: %w", err)
		}
	}
	return res, nil
}

// Evaluate scores p on raw-unit test samples. times holds the target
// timestamp of each sample and selects the peak-hour subset.
func Evaluate(p *predictor.Predictor, test []preprocess.Sample, times []time.Time, delayThreshold float64) (evaluate.Report, []float64, error) {
	if len(times) != len(test) {
		return evaluate.Report{}, nil, fmt.Errorf("%w: %d samples, %d timestamps", evaluate.ErrLengthMismatch, len(test), len(times))
	}
	preds, err := p.PredictWithFeatures(preprocess.FlowWindows(test), preprocess.Extras(test))
	if err != nil {
		return evaluate.Report{}, nil, err
	}
	actual := preprocess.Targets(test)

	var rep evaluate.Report
	if rep.Overall, err = evaluate.Compute(actual, preds); err != nil {
		return evaluate.Report{}, nil, err
	}
	if rep.Peak, err = evaluate.Peak(actual, preds, evaluate.PeakMask(times, evaluate.DefaultPeakHours)); err != nil {
		return evaluate.Report{}, nil, err
	}
	if rep.Delay, err = evaluate.DelayAnalysis(actual, preds, delayThreshold); err != nil {
		return evaluate.Report{}, nil, err
	}
	return rep, preds, nil
}
