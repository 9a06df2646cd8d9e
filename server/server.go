// Package server exposes the pipeline stages over HTTP so an external
// scheduler can trigger them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/TFMV/fraudpipe/auth"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/TFMV/fraudpipe/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Runner executes pipeline stages.
type Runner interface {
	Stages() []string
	RunStage(ctx context.Context, name string) (pipeline.Report, error)
	RunAll(ctx context.Context) (pipeline.Report, error)
}

// Server routes trigger requests to a Runner.
type Server struct {
	runner Runner
	tokens auth.TokenValidator
	logger *zap.Logger
	engine *gin.Engine
}

// New builds the HTTP handler. Every /api route requires a bearer token
// accepted by tokens.
func New(runner Runner, tokens auth.TokenValidator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		runner: runner,
		tokens: tokens,
		logger: logger.Named("server"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.logRequests)

	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api/v1", s.authenticate)
	{
		api.GET("/stages", s.listStages)
		api.POST("/stages/:name/run", s.runStage)
		api.POST("/runs", s.runAll)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Middleware
// ----------------------------------------------------------------------------

func (s *Server) authenticate(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if !s.tokens.Valid(token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
		return
	}
	c.Next()
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("HTTP request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)))
}

// ----------------------------------------------------------------------------
// Handlers
// ----------------------------------------------------------------------------

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fraudpipe"})
}

func (s *Server) listStages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stages": s.runner.Stages()})
}

func (s *Server) runStage(c *gin.Context) {
	// A run outlives the request that triggered it.
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := s.runner.RunStage(ctx, c.Param("name"))
	s.respond(c, report, err)
}

func (s *Server) runAll(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := s.runner.RunAll(ctx)
	s.respond(c, report, err)
}

func (s *Server) respond(c *gin.Context, report pipeline.Report, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, pipeline.ErrUnknownStage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run": report})
	}
}
