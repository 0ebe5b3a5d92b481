// Package server exposes sessions over HTTP: a streaming chat endpoint for
// profile extraction and job endpoints for matching and filtering.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/metrics"
	"github.com/spigell/resume-matcher/internal/posting"
	"github.com/spigell/resume-matcher/internal/session"
)

const (
	sessionHeader   = "X-Session-ID"
	defaultIdleTTL  = 30 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// CompanyLister serves the company facet.
type CompanyLister interface {
	ListCompanies(ctx context.Context) ([]posting.Company, error)
}

type Config struct {
	Address      string        `mapstructure:"address"`
	AllowOrigins []string      `mapstructure:"allow-origins"`
	SessionTTL   time.Duration `mapstructure:"session-ttl"`
}

type Server struct {
	cfg       Config
	engine    *gin.Engine
	sessions  *registry
	companies CompanyLister
	logger    *zap.Logger
}

// New builds the router. newSession is called once per client session.
func New(cfg Config, newSession func() (*session.Session, error), companies CompanyLister, logger *zap.Logger) (*Server, error) {
	if newSession == nil {
		return nil, errors.New("session factory is required")
	}
	if companies == nil {
		return nil, errors.New("company lister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultIdleTTL
	}

	s := &Server{
		cfg:       cfg,
		sessions:  newRegistry(newSession, cfg.SessionTTL),
		companies: companies,
		logger:    logger,
	}
	s.engine = s.router()

	return s, nil
}

func (s *Server) router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware(), s.logRequests())

	corsConfig := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", sessionHeader},
		ExposeHeaders: []string{sessionHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.AllowOrigins) == 0 {
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
		}
	} else {
		corsConfig.AllowOrigins = s.cfg.AllowOrigins
	}
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.POST("/chat", s.chat)
	api.POST("/jobs", s.matchJobs)
	api.POST("/jobs/filter", s.filterJobs)
	api.GET("/jobs", s.listCompanies)

	return engine
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.logger.Debug("request served",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("address", s.cfg.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
