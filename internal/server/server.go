// Package server exposes the detection pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"piiguard/internal/config"
	"piiguard/internal/detect"
	"piiguard/internal/logging"
	"piiguard/internal/stats"
)

// Predictor is the part of detect.Pipeline the server needs.
type Predictor interface {
	Predict(ctx context.Context, text string) ([]detect.Entity, error)
	HasDomain() bool
	Detectors() []string
}

// Deps are the collaborators a Server is built from. Metrics may be nil.
type Deps struct {
	Pipeline Predictor
	Patterns detect.PatternTable
	Metrics  *stats.Collector
	Logger   logging.Logger
	Version  string
}

type Server struct {
	cfg      *config.Config
	pipeline Predictor
	patterns detect.PatternTable
	metrics  *stats.Collector
	log      logging.Logger
	version  string
	started  time.Time

	engine *gin.Engine
	srv    *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		pipeline: deps.Pipeline,
		patterns: deps.Patterns,
		metrics:  deps.Metrics,
		log:      deps.Logger.Named("server"),
		version:  deps.Version,
		started:  time.Now(),
	}
	s.engine = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(s.recover))
	r.Use(requestID())
	if s.cfg.Server.CORS {
		r.Use(cors())
	}
	r.Use(s.accessLog())
	if s.metrics != nil {
		r.Use(s.observe())
	}

	r.GET("/", s.handleRoot)
	r.GET("/healthz", s.handleHealth)
	r.GET("/patterns", s.handlePatterns)

	api := r.Group("/", s.limitBody(), s.timeout(), s.traced())
	api.POST("/predict", s.handlePredict)
	api.POST("/redact", s.handleRedact)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
		r.GET("/stats", s.handleStats)
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Addr() string { return s.srv.Addr }

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", logging.String("addr", s.srv.Addr), logging.Strings("detectors", s.pipeline.Detectors()))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.srv.Addr, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("stopped")
	return nil
}

func (s *Server) recover(c *gin.Context, rec any) {
	s.log.Error("panic in handler", logging.Any("panic", rec), logging.String("request_id", c.GetString(requestIDKey)))
	abortError(c, http.StatusInternalServerError, "internal error")
}
