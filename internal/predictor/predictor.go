// Package predictor serves forecasts from a trained checkpoint.
package predictor

import (
	"errors"
	"fmt"
	"time"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/preprocess"
)

var (
	ErrInsufficientData = errors.New("not enough history for a forecast window")
	ErrFeatures         = errors.New("image features do not match the model")
)

// Forecast is a predicted flow for one timestamp, in vehicles per hour.
type Forecast struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"predicted_value"`
}

// Info describes the checkpoint a Predictor was built from.
type Info struct {
	RunID         string    `json:"run_id"`
	Epoch         int       `json:"epoch"`
	ValLoss       float64   `json:"val_loss"`
	WindowLength  int       `json:"window_length"`
	Pooling       string    `json:"pooling"`
	ImageFeatures int       `json:"image_features"`
	CreatedAt     time.Time `json:"created_at"`
}

// Predictor wraps an inference-mode model and the scaler it was trained
// with. It is immutable after construction and safe for concurrent use.
type Predictor struct {
	model  *forecast.Model
	scaler preprocess.Scaler
	info   Info
}

// New rebuilds the model described by arch and loads ck into it. The
// checkpoint must have been produced by a model of the same architecture.
func New(ck *checkpoint.Checkpoint, arch forecast.Architecture) (*Predictor, error) {
	if err := forecast.CheckCompatible(arch, ck.Architecture); err != nil {
		return nil, err
	}
	m, err := forecast.New(arch, 0)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(ck.State); err != nil {
		return nil, err
	}
	m.SetMode(nn.Inference)

	return &Predictor{
		model:  m,
		scaler: ck.Scaler,
		info: Info{
			RunID:         ck.RunID,
			Epoch:         ck.Epoch,
			ValLoss:       ck.ValLoss,
			WindowLength:  arch.WindowLength,
			Pooling:       string(arch.Pooling),
			ImageFeatures: arch.ImageFeatures,
			CreatedAt:     ck.CreatedAt,
		},
	}, nil
}

// Load reads the checkpoint at path and builds a Predictor from it.
func Load(path string, arch forecast.Architecture) (*Predictor, error) {
	ck, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ck, arch)
}

func (p *Predictor) Info() Info { return p.info }

func (p *Predictor) WindowLength() int { return p.info.WindowLength }

func (p *Predictor) Scaler() preprocess.Scaler { return p.scaler }

// Predict forecasts the value following window, both in raw units.
func (p *Predictor) Predict(window []float64) (float64, error) {
	out, err := p.PredictBatch([][]float64{window})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// PredictBatch forecasts one value per raw-unit window. It fails with
// ErrFeatures for models trained with image features.
func (p *Predictor) PredictBatch(windows [][]float64) ([]float64, error) {
	return p.PredictWithFeatures(windows, nil)
}

// PredictWithFeatures forecasts one value per raw-unit window. extras[i]
// holds the image channels of window i, channel-major, as built for
// training; extras may be nil for flow-only models.
func (p *Predictor) PredictWithFeatures(windows, extras [][]float64) ([]float64, error) {
	if extras != nil && len(extras) != len(windows) {
		return nil, fmt.Errorf("%w: %d feature rows for %d windows", ErrFeatures, len(extras), len(windows))
	}
	want := p.info.ImageFeatures * p.info.WindowLength
	norm := make([][]float64, len(windows))
	for i, w := range windows {
		if len(w) != p.info.WindowLength {
			return nil, fmt.Errorf("%w: got %d values, model expects %d", forecast.ErrWindowLength, len(w), p.info.WindowLength)
		}
		var extra []float64
		if extras != nil {
			extra = extras[i]
		}
		if len(extra) != want {
			return nil, fmt.Errorf("%w: window %d has %d feature values, model expects %d", ErrFeatures, i, len(extra), want)
		}
		norm[i] = append(p.scaler.Transform(w), extra...)
	}
	out, err := p.model.Forward(norm)
	if err != nil {
		return nil, err
	}
	return p.scaler.InverseTransform(out), nil
}

// Forecast predicts the hour after the last point of s from its last
// WindowLength points.
func (p *Predictor) Forecast(s model.Series) (Forecast, error) {
	l := p.info.WindowLength
	if len(s) < l {
		return Forecast{}, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientData, len(s), l)
	}
	recent := s.Last(l)
	v, err := p.Predict(recent.Values())
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{
		Timestamp: recent[l-1].Timestamp.Add(model.Interval),
		Value:     v,
	}, nil
}

// ForecastHorizon predicts the next steps hours by feeding each prediction
// back in as the newest observation.
func (p *Predictor) ForecastHorizon(s model.Series, steps int) ([]Forecast, error) {
	l := p.info.WindowLength
	if len(s) < l {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientData, len(s), l)
	}
	recent := s.Last(l)
	window := recent.Values()
	next := recent[l-1].Timestamp

	out := make([]Forecast, 0, steps)
	for i := 0; i < steps; i++ {
		v, err := p.Predict(window)
		if err != nil {
			return nil, err
		}
		next = next.Add(model.Interval)
		out = append(out, Forecast{Timestamp: next, Value: v})
		window = append(window[1:], v)
	}
	return out, nil
}

// AttentionWeights returns the per-timestep pooling weights for a raw window.
func (p *Predictor) AttentionWeights(window []float64) ([]float64, error) {
	if len(window) != p.info.WindowLength {
		return nil, fmt.Errorf("%w: got %d values, model expects %d", forecast.ErrWindowLength, len(window), p.info.WindowLength)
	}
	if p.info.ImageFeatures > 0 {
		return nil, fmt.Errorf("%w: model expects %d image channels", ErrFeatures, p.info.ImageFeatures)
	}
	return p.model.AttentionWeights(p.scaler.Transform(window))
}
