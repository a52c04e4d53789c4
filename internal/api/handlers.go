package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"traffic_forecaster/internal/analysis"
	"traffic_forecaster/internal/app"
	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/predictor"
	"traffic_forecaster/internal/ws"
)

// nullable maps NaN and ±Inf to JSON null.
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": s.app.Predictor() != nil,
		"training":     s.app.Training(),
	})
}

// handleCurrentData returns the most recent points.
// GET /data/current?limit=N
func (s *Server) handleCurrentData(c *gin.Context) {
	limit := s.app.Config().RecentLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	recent := s.app.Store().Recent(app.SeriesID, limit)
	timestamps := make([]string, len(recent))
	for i, p := range recent {
		timestamps[i] = p.Timestamp.Format(ingest.TimestampLayout)
	}
	values := make([]int, len(recent))
	for i, p := range recent {
		values[i] = p.Flow
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamps": timestamps,
		"values":     values,
	})
}

// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	st, err := analysis.Compute(s.app.Series())
	if err != nil {
		s.writeError(c, err)
		return
	}

	trend := make(map[string]*float64, len(st.HourlyTrend))
	for h, v := range st.HourlyTrend {
		trend[strconv.Itoa(h)] = nullable(v)
	}
	c.JSON(http.StatusOK, gin.H{
		"mean":            nullable(st.Mean),
		"max":             nullable(st.Max),
		"min":             nullable(st.Min),
		"std":             nullable(st.Std),
		"peak_hour":       st.PeakHour,
		"off_peak_hour":   st.OffPeakHour,
		"hourly_trend":    trend,
		"last_24h_change": nullable(st.Last24hChange),
	})
}

// GET /analysis
func (s *Server) handleAnalysis(c *gin.Context) {
	p, err := analysis.Analyze(s.app.Series())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"weekday_avg":      nullable(p.WeekdayAvg),
		"weekend_avg":      nullable(p.WeekendAvg),
		"morning_peak_avg": nullable(p.MorningPeakAvg),
		"evening_peak_avg": nullable(p.EveningPeakAvg),
		"peak_ratio":       nullable(p.PeakRatio),
		"daily_pattern":    p.DailyPattern,
	})
}

// handlePredict forecasts the hour after the served series.
// GET /predict
func (s *Server) handlePredict(c *gin.Context) {
	f, err := s.app.Forecast()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp":       f.Timestamp.Format(ingest.TimestampLayout),
		"predicted_value": nullable(f.Value),
	})
}

// GET /predict/horizon?steps=N
func (s *Server) handleHorizon(c *gin.Context) {
	steps := 24
	if stepsStr := c.Query("steps"); stepsStr != "" {
		parsed, err := strconv.Atoi(stepsStr)
		if err != nil || parsed < 1 || parsed > ws.MaxForecastSteps {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid steps"})
			return
		}
		steps = parsed
	}

	runID, fs, err := s.app.ForecastHorizon(steps)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws.ForecastFromPredictions(runID, fs))
}

// handleAttention returns the pooling weights over the latest window.
// GET /predict/attention
func (s *Server) handleAttention(c *gin.Context) {
	p := s.app.Predictor()
	if p == nil {
		s.writeError(c, app.ErrNoModel)
		return
	}
	recent := s.app.Store().Recent(app.SeriesID, p.WindowLength())
	if len(recent) < p.WindowLength() {
		s.writeError(c, predictor.ErrInsufficientData)
		return
	}
	weights, err := p.AttentionWeights(recent.Values())
	if err != nil {
		s.writeError(c, err)
		return
	}

	timestamps := make([]string, len(recent))
	for i, pt := range recent {
		timestamps[i] = pt.Timestamp.Format(ingest.TimestampLayout)
	}
	c.JSON(http.StatusOK, gin.H{
		"pooling":    p.Info().Pooling,
		"timestamps": timestamps,
		"weights":    weights,
	})
}

// GET /model
func (s *Server) handleModelInfo(c *gin.Context) {
	p := s.app.Predictor()
	if p == nil {
		s.writeError(c, app.ErrNoModel)
		return
	}
	c.JSON(http.StatusOK, ws.ModelFromInfo(p.Info()))
}

// handleReload re-reads the checkpoint and swaps it in.
// POST /model/reload
func (s *Server) handleReload(c *gin.Context) {
	info, err := s.app.Reload()
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("model reloaded", "run_id", info.RunID, "epoch", info.Epoch)
	c.JSON(http.StatusOK, ws.ModelFromInfo(info))
}

// handleTrain starts a background training run. Progress is streamed over
// the websocket as training:epoch messages.
// POST /model/train
func (s *Server) handleTrain(c *gin.Context) {
	if err := s.app.TrainInBackground(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "training started"})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrNoModel):
		status = http.StatusServiceUnavailable
	case errors.Is(err, app.ErrTrainingInProgress):
		status = http.StatusConflict
	case errors.Is(err, model.ErrEmptySeries), errors.Is(err, predictor.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkpoint.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, forecast.ErrArchitectureMismatch), errors.Is(err, checkpoint.ErrCorrupt):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
