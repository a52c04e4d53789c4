// Package api is the REST and websocket surface of the forecaster.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traffic_forecaster/internal/app"
	"traffic_forecaster/internal/ws"
)

// Server bundles router and dependencies for the REST API.
type Server struct {
	app    *app.App
	engine *gin.Engine
	logger *slog.Logger
}

// New constructs a server with routes and middleware.
func New(a *app.App) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(a.Logger()))
	engine.Use(corsMiddleware(a.Config().CORSOrigin))

	s := &Server{app: a, engine: engine, logger: a.Logger()}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// within timeout.
func (s *Server) Run(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", gin.WrapH(ws.NewHandler(s.app.Hub(), s.app, s.logger)))

	s.engine.GET("/data/current", s.handleCurrentData)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/analysis", s.handleAnalysis)

	s.engine.GET("/predict", s.handlePredict)
	s.engine.GET("/predict/horizon", s.handleHorizon)
	s.engine.GET("/predict/attention", s.handleAttention)

	model := s.engine.Group("/model")
	{
		model.GET("", s.handleModelInfo)
		model.POST("/reload", s.handleReload)
		model.POST("/train", s.handleTrain)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
