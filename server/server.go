// Package server exposes bundle validation over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// DocumentValidator validates one uploaded document.
type DocumentValidator interface {
	ValidateDocument(ctx context.Context, raw []byte) (*bv.Outcome, error)
}

// Config configures the HTTP transport. Validator is required.
type Config struct {
	Validator DocumentValidator
	Logger    *logger.Logger

	// Metrics is exported on /metrics when set.
	Metrics *bv.Metrics

	// Extensions lists accepted upload file extensions. Defaults to
	// [".json", ".xml"].
	Extensions []string

	// MaxUploadBytes bounds the size of an upload. Defaults to 32 MiB.
	MaxUploadBytes int64

	// DefaultFormat is used when the request has no format query parameter.
	DefaultFormat bv.Format
}

const defaultMaxUpload = 32 << 20

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".json", ".xml"}
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUpload
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = bv.FormatOperationOutcome
	}
}

// NewRouter builds the gin engine serving the validation API.
func NewRouter(cfg Config) *gin.Engine {
	cfg.setDefaults()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(AttachRequestID())
	router.Use(Trace())
	router.Use(RequestLogger(cfg.Logger))

	h := &validateHandler{cfg: cfg}
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(metricsHandler(cfg.Metrics)))

	api := router.Group("/api/fhir")
	{
		api.POST("/validator", h.Validate)
	}
	return router
}

func metricsHandler(m *bv.Metrics) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if m != nil {
		reg.MustRegister(m)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Server runs the router on an http.Server.
type Server struct {
	Engine *gin.Engine
	srv    *http.Server
	log    *logger.Logger
}

// New creates a Server listening on addr.
func New(addr string, cfg Config) *Server {
	engine := NewRouter(cfg)
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		Engine: engine,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
