package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for training and serving.
type Metrics struct {
	EpochsCompleted prometheus.Counter
	TrainLoss       prometheus.Gauge
	ValLoss         prometheus.Gauge
	BestValLoss     prometheus.Gauge
	CheckpointSaves prometheus.Counter
	EarlyStops      prometheus.Counter

	// Serving.
	Predictions       prometheus.Counter
	PredictionErrors  prometheus.Counter
	PredictionLatency prometheus.Histogram
	ModelReloads      *prometheus.CounterVec // labels: outcome={success,error}
	ModelLoaded       prometheus.Gauge
}

func newMetrics(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		EpochsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "training_epochs_total",
			Help:      h("Training epochs completed."),
		}),
		TrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_forecaster",
			Name:      "training_loss",
			Help:      h("Mean training MSE of the last epoch (normalized units)."),
		}),
		ValLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_forecaster",
			Name:      "validation_loss",
			Help:      h("Mean validation MSE of the last epoch (normalized units)."),
		}),
		BestValLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_forecaster",
			Name:      "best_validation_loss",
			Help:      h("Lowest validation MSE seen in the current run."),
		}),
		CheckpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "checkpoint_saves_total",
			Help:      h("Best-model checkpoints written."),
		}),
		EarlyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "early_stops_total",
			Help:      h("Training runs ended by early stopping."),
		}),
		Predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "predictions_total",
			Help:      h("Forecasts served."),
		}),
		PredictionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "prediction_errors_total",
			Help:      h("Forecast requests that failed."),
		}),
		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "traffic_forecaster",
			Name:      "prediction_duration_seconds",
			Help:      h("Time spent producing one forecast."),
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ModelReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traffic_forecaster",
			Name:      "model_reloads_total",
			Help:      h("Checkpoint reloads by outcome."),
		}, []string{"outcome"}),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_forecaster",
			Name:      "model_loaded",
			Help:      h("1 when a trained model is serving, 0 otherwise."),
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry. Call it once per process.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.EpochsCompleted,
		m.TrainLoss,
		m.ValLoss,
		m.BestValLoss,
		m.CheckpointSaves,
		m.EarlyStops,
		m.Predictions,
		m.PredictionErrors,
		m.PredictionLatency,
		m.ModelReloads,
		m.ModelLoaded,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
