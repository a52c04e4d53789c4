// server serves recent traffic data, forecasts and statistics over REST and
// streams training progress and forecasts over a websocket. Settings come
// from the environment (see internal/config); a .env file is honored.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"traffic_forecaster/internal/api"
	"traffic_forecaster/internal/app"
	"traffic_forecaster/internal/config"
	"traffic_forecaster/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfg, logger, observability.NewMetrics())
	if err := a.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := api.New(a)
	logger.Info("server starting", "addr", cfg.HTTPAddr, "window_length", cfg.WindowLength, "pooling", cfg.Pooling)
	if err := srv.Run(ctx, cfg.HTTPAddr, cfg.ShutdownTimeout); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	// Background training observes ctx and stops at the next epoch.
	a.Wait()
	logger.Info("server stopped")
}
