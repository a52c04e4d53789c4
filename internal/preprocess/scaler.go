package preprocess

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrEmptyData       = errors.New("no data to fit")
	ErrNotFitted       = errors.New("preprocessor has not been fitted")
	ErrAlreadyFitted   = errors.New("preprocessor is already fitted")
)

// Scaler holds z-score parameters.
type Scaler struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// FitScaler computes population mean and std. A near-zero std is replaced
// by 1 so transforms stay finite.
func FitScaler(data []float64) (Scaler, error) {
	if len(data) == 0 {
		return Scaler{}, ErrEmptyData
	}
	mean, std := stat.PopMeanStdDev(data, nil)
	if std < 1e-10 {
		std = 1
	}
	return Scaler{Mean: mean, Std: std}, nil
}

func (s Scaler) TransformValue(v float64) float64 {
	return (v - s.Mean) / s.Std
}

func (s Scaler) Inverse(v float64) float64 {
	return v*s.Std + s.Mean
}

// Transform returns a normalized copy of data.
func (s Scaler) Transform(data []float64) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = s.TransformValue(v)
	}
	return out
}

// InverseTransform returns a de-normalized copy of data.
func (s Scaler) InverseTransform(data []float64) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = s.Inverse(v)
	}
	return out
}

// Preprocessor owns the scaler fitted on the training partition. It is
// fitted exactly once; every later transform reuses the same parameters.
type Preprocessor struct {
	scaler *Scaler
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// FromScaler returns a Preprocessor bound to previously fitted parameters,
// e.g. ones restored from a checkpoint.
func FromScaler(s Scaler) *Preprocessor {
	return &Preprocessor{scaler: &s}
}

// Fit computes the scaler from the training partition.
func (p *Preprocessor) Fit(train []float64) (Scaler, error) {
	if p.scaler != nil {
		return Scaler{}, ErrAlreadyFitted
	}
	s, err := FitScaler(train)
	if err != nil {
		return Scaler{}, fmt.Errorf("fitting scaler: %w", err)
	}
	p.scaler = &s
	return s, nil
}

// Scaler returns the fitted parameters.
func (p *Preprocessor) Scaler() (Scaler, bool) {
	if p.scaler == nil {
		return Scaler{}, false
	}
	return *p.scaler, true
}

func (p *Preprocessor) Transform(data []float64) ([]float64, error) {
	if p.scaler == nil {
		return nil, ErrNotFitted
	}
	return p.scaler.Transform(data), nil
}

func (p *Preprocessor) InverseTransform(v float64) (float64, error) {
	if p.scaler == nil {
		return 0, ErrNotFitted
	}
	return p.scaler.Inverse(v), nil
}
