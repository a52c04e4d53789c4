// Package app holds the state shared by the HTTP and websocket layers: the
// served series, the published predictor, the websocket hub and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"traffic_forecaster/internal/config"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/generator"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/observability"
	"traffic_forecaster/internal/pipeline"
	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/store"
	"traffic_forecaster/internal/trainer"
	"traffic_forecaster/internal/ws"
)

// SeriesID is the store key of the served series.
const SeriesID = "traffic"

var (
	ErrNoModel            = errors.New("no model loaded")
	ErrTrainingInProgress = errors.New("training already in progress")
)

type Option func(*App)

// WithArchitecture overrides the architecture derived from the config.
func WithArchitecture(arch forecast.Architecture) Option {
	return func(a *App) { a.arch = arch }
}

// WithClock sets the clock used for synthetic data and latency metrics.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App is the explicit application context. Predictors are published through
// an atomic pointer; readers never block on a reload or a training run.
type App struct {
	cfg     *config.Config
	arch    forecast.Architecture
	store   *store.Store
	hub     *ws.Hub
	bridge  *ws.Bridge
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   clockwork.Clock
	ctx     context.Context

	predictor atomic.Pointer[predictor.Predictor]
	reloadMu  sync.Mutex
	trainMu   sync.Mutex
	wg        sync.WaitGroup
}

// New creates an App. A nil metrics uses an unregistered set.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	hub := ws.NewHub(logger)
	a := &App{
		cfg:     cfg,
		arch:    cfg.Architecture(),
		store:   store.New(),
		hub:     hub,
		bridge:  ws.NewBridge(hub, logger),
		metrics: metrics,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Store() *store.Store { return a.store }
func (a *App) Hub() *ws.Hub { return a.hub }
func (a *App) Metrics() *observability.Metrics { return a.metrics }
func (a *App) Logger() *slog.Logger { return a.logger }

// Start loads the series and the checkpoint. When no usable checkpoint
// exists and TrainOnStart is set, a training run starts in the background.
// ctx bounds all background work; Wait blocks until it finishes.
func (a *App) Start(ctx context.Context) error {
	a.ctx = ctx
	if err := a.LoadSeries(); err != nil {
		return err
	}
	info, err := a.Reload()
	if err == nil {
		a.logger.Info("model loaded", "run_id", info.RunID, "epoch", info.Epoch, "val_loss", info.ValLoss)
		return nil
	}
	a.logger.Warn("no usable checkpoint", "path", a.cfg.CheckpointPath, "error", err)
	if !a.cfg.TrainOnStart {
		return nil
	}
	return a.TrainInBackground()
}

// Wait blocks until background work started by Start has finished.
func (a *App) Wait() { a.wg.Wait() }

// LoadSeries reads SERIES_PATH (a CSV file or a directory of them) or, when
// unset, generates a synthetic series ending at the current hour, and
// replaces the served series with it.
func (a *App) LoadSeries() error {
	var (
		s   model.Series
		err error
	)
	if a.cfg.SeriesPath != "" {
		s, err = ingest.Load(a.cfg.SeriesPath)
	} else {
		var g *generator.Generator
		if g, err = generator.New(a.cfg.Generator(), generator.WithClock(a.clock)); err == nil {
			s, err = g.GenerateRecent(a.cfg.SeriesLength, a.cfg.NoiseLevel)
		}
	}
	if err != nil {
		return fmt.Errorf("loading series: %w", err)
	}
	a.SetSeries(s)
	a.logger.Info("series loaded", "points", len(s), "source", a.seriesSource())
	return nil
}

func (a *App) seriesSource() string {
	if a.cfg.SeriesPath != "" {
		return a.cfg.SeriesPath
	}
	return "generator:" + string(a.cfg.Pattern)
}

// SetSeries replaces the served series and notifies websocket clients.
func (a *App) SetSeries(s model.Series) {
	a.store.Replace(SeriesID, s)
	a.bridge.OnDataLoaded(a.DataLoaded())
}

// Series returns a copy of the served series.
func (a *App) Series() model.Series { return a.store.Series(SeriesID) }

// Predictor returns the published predictor, or nil.
func (a *App) Predictor() *predictor.Predictor { return a.predictor.Load() }

// Publish makes p the predictor used by all subsequent requests.
func (a *App) Publish(p *predictor.Predictor) {
	a.predictor.Store(p)
	a.metrics.ModelLoaded.Set(1)
}

// Reload reads the checkpoint file and publishes it. On failure the current
// predictor stays in place.
func (a *App) Reload() (predictor.Info, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	p, err := predictor.Load(a.cfg.CheckpointPath, a.arch)
	if err != nil {
		a.metrics.ModelReloads.WithLabelValues("error").Inc()
		return predictor.Info{}, err
	}
	a.Publish(p)
	a.metrics.ModelReloads.WithLabelValues("success").Inc()
	a.bridge.OnDataLoaded(a.DataLoaded())
	return p.Info(), nil
}

// PipelineConfig derives a pipeline run from the app configuration.
func (a *App) PipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig(a.cfg.WindowLength)
	pc.Architecture = a.arch
	pc.Trainer = a.cfg.Trainer()
	pc.CheckpointPath = a.cfg.CheckpointPath
	pc.ReportDir = a.cfg.ReportDir
	return pc
}

// Train runs the full pipeline on the served series, streams epochs to
// websocket clients and publishes the resulting predictor.
func (a *App) Train(ctx context.Context) (*pipeline.Result, error) {
	if !a.trainMu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer a.trainMu.Unlock()
	return a.train(ctx)
}

// TrainInBackground starts Train on the context passed to Start and returns
// immediately.
func (a *App) TrainInBackground() error {
	if !a.trainMu.TryLock() {
		return ErrTrainingInProgress
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.trainMu.Unlock()
		if _, err := a.train(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("background training failed", "error", err)
		}
	}()
	return nil
}

func (a *App) train(ctx context.Context) (*pipeline.Result, error) {
	runner := pipeline.New(a.PipelineConfig(), a.logger,
		trainer.WithMetrics(a.metrics),
		trainer.WithCallback(a.bridge.OnEpoch),
		trainer.WithClock(a.clock),
	)
	res, err := runner.Run(ctx, a.Series())
	if err != nil {
		return nil, err
	}
	a.Publish(res.Predictor)
	a.bridge.OnDataLoaded(a.DataLoaded())

	if f, err := a.Forecast(); err == nil {
		a.bridge.OnForecast(res.Predictor.Info().RunID, []predictor.Forecast{f})
	}
	return res, nil
}

// Training reports whether a training run is in progress.
func (a *App) Training() bool {
	if a.trainMu.TryLock() {
		a.trainMu.Unlock()
		return false
	}
	return true
}

// Forecast predicts the hour after the served series.
func (a *App) Forecast() (predictor.Forecast, error) {
	_, fs, err := a.ForecastHorizon(1)
	if err != nil {
		return predictor.Forecast{}, err
	}
	return fs[0], nil
}

// ForecastHorizon predicts steps hours ahead and reports which run produced
// the forecast.
func (a *App) ForecastHorizon(steps int) (string, []predictor.Forecast, error) {
	p := a.Predictor()
	if p == nil {
		a.metrics.PredictionErrors.Inc()
		return "", nil, ErrNoModel
	}

	start := a.clock.Now()
	fs, err := p.ForecastHorizon(a.Series(), steps)
	a.metrics.PredictionLatency.Observe(a.clock.Since(start).Seconds())
	if err != nil {
		a.metrics.PredictionErrors.Inc()
		return "", nil, err
	}
	a.metrics.Predictions.Add(float64(len(fs)))
	return p.Info().RunID, fs, nil
}

// DataLoaded describes the served data and model for websocket clients.
func (a *App) DataLoaded() ws.DataLoadedPayload {
	var payload ws.DataLoadedPayload
	for _, id := range a.store.IDs() {
		info := ws.SeriesInfo{ID: id, Points: a.store.Count(id)}
		if tr, ok := a.store.TimeRange(id); ok {
			info.TimeRange = ws.FormatRange(tr.Start, tr.End)
		}
		payload.Series = append(payload.Series, info)
	}
	if p := a.Predictor(); p != nil {
		payload.Model = ws.ModelFromInfo(p.Info())
	}
	return payload
}
