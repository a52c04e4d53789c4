package ws

import (
	"log/slog"

	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/trainer"
)

// Bridge turns training and serving events into hub broadcasts. OnEpoch
// has the trainer.WithCallback signature.
type Bridge struct {
	hub    *Hub
	logger *slog.Logger
}

func NewBridge(hub *Hub, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{hub: hub, logger: logger}
}

func (b *Bridge) OnEpoch(r trainer.EpochResult) {
	b.broadcast(TypeTrainingEpoch, EpochFromResult(r))
}

func (b *Bridge) OnForecast(runID string, fs []predictor.Forecast) {
	b.broadcast(TypeForecastUpdate, ForecastFromPredictions(runID, fs))
}

func (b *Bridge) OnDataLoaded(p DataLoadedPayload) {
	b.broadcast(TypeDataLoaded, p)
}

func (b *Bridge) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		b.logger.Error("marshaling websocket message", "type", msgType, "error", err)
		return
	}
	b.hub.Broadcast(msg)
}
