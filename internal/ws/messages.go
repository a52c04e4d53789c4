package ws

import (
	"encoding/json"
	"time"

	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/trainer"
)

// TimestampLayout matches the REST API timestamp format.
const TimestampLayout = ingest.TimestampLayout

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> Server messages

type ForecastRequestPayload struct {
	Steps int `json:"steps"`
}

// Server -> Client messages

type EpochPayload struct {
	RunID       string  `json:"run_id"`
	Epoch       int     `json:"epoch"`
	MaxEpochs   int     `json:"max_epochs"`
	TrainLoss   float64 `json:"train_loss"`
	ValLoss     float64 `json:"val_loss"`
	Improved    bool    `json:"improved"`
	BestEpoch   int     `json:"best_epoch"`
	BestValLoss float64 `json:"best_val_loss"`
}

type ForecastPoint struct {
	Timestamp      string  `json:"timestamp"`
	PredictedValue float64 `json:"predicted_value"`
}

type ForecastPayload struct {
	RunID    string          `json:"run_id,omitempty"`
	Forecast []ForecastPoint `json:"forecast"`
}

type TimeRangeInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SeriesInfo struct {
	ID        string        `json:"id"`
	Points    int           `json:"points"`
	TimeRange TimeRangeInfo `json:"time_range"`
}

type ModelInfo struct {
	RunID        string  `json:"run_id"`
	Epoch        int     `json:"epoch"`
	ValLoss      float64 `json:"val_loss"`
	WindowLength int     `json:"window_length"`
	Pooling      string  `json:"pooling"`
}

type DataLoadedPayload struct {
	Series []SeriesInfo `json:"series"`
	Model  *ModelInfo   `json:"model,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Message type constants
const (
	// Client -> Server
	TypeForecastRequest = "forecast:request"

	// Server -> Client
	TypeTrainingEpoch  = "training:epoch"
	TypeForecastUpdate = "forecast:update"
	TypeDataLoaded     = "data:loaded"
	TypeError          = "error"
)

// NewEnvelope creates a JSON-encoded envelope message.
func NewEnvelope(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// EpochFromResult converts a trainer epoch result to its wire payload.
func EpochFromResult(r trainer.EpochResult) EpochPayload {
	return EpochPayload{
		RunID:       r.RunID,
		Epoch:       r.Epoch,
		MaxEpochs:   r.MaxEpochs,
		TrainLoss:   r.TrainLoss,
		ValLoss:     r.ValLoss,
		Improved:    r.Improved,
		BestEpoch:   r.BestEpoch,
		BestValLoss: r.BestValLoss,
	}
}

// ForecastFromPredictions converts predictor output to its wire payload.
func ForecastFromPredictions(runID string, fs []predictor.Forecast) ForecastPayload {
	points := make([]ForecastPoint, len(fs))
	for i, f := range fs {
		points[i] = ForecastPoint{
			Timestamp:      f.Timestamp.Format(TimestampLayout),
			PredictedValue: f.Value,
		}
	}
	return ForecastPayload{RunID: runID, Forecast: points}
}

// ModelFromInfo converts predictor metadata to its wire payload.
func ModelFromInfo(info predictor.Info) *ModelInfo {
	return &ModelInfo{
		RunID:        info.RunID,
		Epoch:        info.Epoch,
		ValLoss:      info.ValLoss,
		WindowLength: info.WindowLength,
		Pooling:      info.Pooling,
	}
}

// FormatRange renders a time range with TimestampLayout.
func FormatRange(start, end time.Time) TimeRangeInfo {
	return TimeRangeInfo{
		Start: start.Format(TimestampLayout),
		End:   end.Format(TimestampLayout),
	}
}
