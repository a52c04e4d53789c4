// Package trainer runs mini-batch Adam training with validation-driven
// checkpointing and early stopping.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/observability"
	"traffic_forecaster/internal/preprocess"
)

var (
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrInvalidConfig = errors.New("invalid training config")
)

// Regressor is the model surface the trainer drives.
type Regressor interface {
	SetMode(nn.Mode)
	Forward(batch [][]float64) ([]float64, error)
	Backward(dOut []float64) error
	ZeroGrad()
	Params() []*nn.Param
	StateDict() nn.StateDict
	Architecture() forecast.Architecture
}

// Store persists the best checkpoint of a run.
type Store interface {
	Save(ck *checkpoint.Checkpoint) error
}

// Config holds training hyperparameters.
type Config struct {
	MaxEpochs    int
	BatchSize    int
	LearningRate float64
	Patience     int
	Seed         uint64
}

// DefaultConfig returns the standard training setup.
func DefaultConfig() Config {
	return Config{
		MaxEpochs:    100,
		BatchSize:    32,
		LearningRate: 0.001,
		Patience:     5,
		Seed:         42,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxEpochs < 1:
		return fmt.Errorf("%w: max epochs %d", ErrInvalidConfig, c.MaxEpochs)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, c.LearningRate)
	case c.Patience < 1:
		return fmt.Errorf("%w: patience %d", ErrInvalidConfig, c.Patience)
	}
	return nil
}

// EpochResult is reported to callbacks after every epoch.
type EpochResult struct {
	RunID       string  `json:"run_id"`
	Epoch       int     `json:"epoch"`
	MaxEpochs   int     `json:"max_epochs"`
	TrainLoss   float64 `json:"train_loss"`
	ValLoss     float64 `json:"val_loss"`
	Improved    bool    `json:"improved"`
	BestEpoch   int     `json:"best_epoch"`
	BestValLoss float64 `json:"best_val_loss"`
}

// History summarizes a finished run. Epochs are 1-based.
type History struct {
	RunID        string
	TrainLoss    []float64
	ValLoss      []float64
	BestEpoch    int
	BestValLoss  float64
	Epochs       int
	StoppedEarly bool
}

type Option func(*Trainer)

func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

// WithCallback registers fn to run after each epoch.
func WithCallback(fn func(EpochResult)) Option {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, fn) }
}

func WithClock(c clockwork.Clock) Option {
	return func(t *Trainer) { t.clock = c }
}

// Trainer owns one training run.
type Trainer struct {
	model  Regressor
	scaler preprocess.Scaler
	store  Store
	cfg    Config

	logger    *slog.Logger
	metrics   *observability.Metrics
	callbacks []func(EpochResult)
	clock     clockwork.Clock
	rng       *rand.Rand
}

// New creates a trainer. scaler is stored in every checkpoint so the
// predictor can reproduce the training normalization.
func New(model Regressor, scaler preprocess.Scaler, store Store, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{
		model:  model,
		scaler: scaler,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
		rng:    rand.New(rand.NewPCG(cfg.Seed, 2)),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Fit trains until validation loss has not strictly improved for Patience
// consecutive epochs or MaxEpochs is reached. Every improvement overwrites
// the stored checkpoint, so the store ends up holding the best epoch.
func (t *Trainer) Fit(ctx context.Context, train, val []preprocess.Sample) (*History, error) {
	if len(train) == 0 || len(val) == 0 {
		return nil, fmt.Errorf("%w: %d training and %d validation samples", ErrEmptyDataset, len(train), len(val))
	}

	opt := nn.NewAdam(t.cfg.LearningRate)
	h := &History{RunID: uuid.NewString(), BestValLoss: math.Inf(1)}
	counter := 0
	log := t.logger.With("run_id", h.RunID)
	log.Info("training started",
		"train_samples", len(train),
		"val_samples", len(val),
		"max_epochs", t.cfg.MaxEpochs,
		"patience", t.cfg.Patience,
	)

	for epoch := 1; epoch <= t.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return h, err
		}
		start := t.clock.Now()

		trainLoss, err := t.trainEpoch(train, opt)
		if err != nil {
			return h, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		valLoss, err := Loss(t.model, val, t.cfg.BatchSize)
		if err != nil {
			return h, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		h.Epochs = epoch
		h.TrainLoss = append(h.TrainLoss, trainLoss)
		h.ValLoss = append(h.ValLoss, valLoss)

		improved := valLoss < h.BestValLoss
		if improved {
			h.BestValLoss = valLoss
			h.BestEpoch = epoch
			counter = 0
			if err := t.save(h.RunID, epoch, valLoss); err != nil {
				return h, err
			}
		} else {
			counter++
		}

		log.Info("epoch complete",
			"epoch", epoch,
			"train_loss", trainLoss,
			"val_loss", valLoss,
			"improved", improved,
			"patience_left", t.cfg.Patience-counter,
			"duration", t.clock.Since(start),
		)
		t.observe(trainLoss, valLoss, h.BestValLoss)
		for _, fn := range t.callbacks {
			fn(EpochResult{
				RunID:       h.RunID,
				Epoch:       epoch,
				MaxEpochs:   t.cfg.MaxEpochs,
				TrainLoss:   trainLoss,
				ValLoss:     valLoss,
				Improved:    improved,
				BestEpoch:   h.BestEpoch,
				BestValLoss: h.BestValLoss,
			})
		}

		if counter >= t.cfg.Patience {
			h.StoppedEarly = true
			if t.metrics != nil {
				t.metrics.EarlyStops.Inc()
			}
			log.Info("early stopping", "epoch", epoch, "best_epoch", h.BestEpoch, "best_val_loss", h.BestValLoss)
			break
		}
	}

	t.model.SetMode(nn.Inference)
	return h, nil
}

func (t *Trainer) trainEpoch(train []preprocess.Sample, opt *nn.Adam) (float64, error) {
	t.model.SetMode(nn.Training)

	idx := make([]int, len(train))
	for i := range idx {
		idx[i] = i
	}
	t.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	var total float64
	var batches int
	for start := 0; start < len(idx); start += t.cfg.BatchSize {
		end := min(start+t.cfg.BatchSize, len(idx))
		windows := make([][]float64, 0, end-start)
		targets := make([]float64, 0, end-start)
		for _, i := range idx[start:end] {
			windows = append(windows, train[i].Input())
			targets = append(targets, train[i].Target)
		}

		t.model.ZeroGrad()
		out, err := t.model.Forward(windows)
		if err != nil {
			return 0, err
		}
		loss, grad := nn.MSE(out, targets)
		if err := t.model.Backward(grad); err != nil {
			return 0, err
		}
		opt.Step(t.model.Params())

		total += loss
		batches++
	}
	return total / float64(batches), nil
}

// Loss is the mean per-batch MSE of model over samples in inference mode.
func Loss(model Regressor, samples []preprocess.Sample, batchSize int) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptyDataset
	}
	model.SetMode(nn.Inference)

	var total float64
	var batches int
	for start := 0; start < len(samples); start += batchSize {
		end := min(start+batchSize, len(samples))
		chunk := samples[start:end]
		out, err := model.Forward(preprocess.Inputs(chunk))
		if err != nil {
			return 0, err
		}
		loss, _ := nn.MSE(out, preprocess.Targets(chunk))
		total += loss
		batches++
	}
	return total / float64(batches), nil
}

func (t *Trainer) save(runID string, epoch int, valLoss float64) error {
	ck := &checkpoint.Checkpoint{
		RunID:        runID,
		Epoch:        epoch,
		ValLoss:      valLoss,
		Architecture: t.model.Architecture(),
		Scaler:       t.scaler,
		State:        t.model.StateDict(),
		CreatedAt:    t.clock.Now().UTC(),
	}
	if err := t.store.Save(ck); err != nil {
		return fmt.Errorf("saving checkpoint for epoch %d: %w", epoch, err)
	}
	if t.metrics != nil {
		t.metrics.CheckpointSaves.Inc()
	}
	return nil
}

func (t *Trainer) observe(trainLoss, valLoss, best float64) {
	if t.metrics == nil {
		return
	}
	t.metrics.EpochsCompleted.Inc()
	t.metrics.TrainLoss.Set(trainLoss)
	t.metrics.ValLoss.Set(valLoss)
	t.metrics.BestValLoss.Set(best)
}
