// Package api exposes the gateway's HTTP surface: the generation endpoint,
// the privacy policy page, and a liveness probe, routed through gin with the
// shared logging and CORS middleware.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mogeko6347/rocket-search-gateway/internal/auth"
	"github.com/mogeko6347/rocket-search-gateway/internal/buildinfo"
	"github.com/mogeko6347/rocket-search-gateway/internal/config"
	"github.com/mogeko6347/rocket-search-gateway/internal/logging"
	"github.com/mogeko6347/rocket-search-gateway/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Server owns the gin engine and the underlying HTTP listener.
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	httpSrv *http.Server
	gateway *GatewayHandler
}

// NewServer assembles the router. Streaming responses must not sit behind a
// write timeout, so the HTTP server carries none.
func NewServer(cfg *config.Config, verifier auth.Verifier, limiter *ratelimit.Limiter, provider Generator) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), corsMiddleware())

	gateway := NewGatewayHandler(cfg, verifier, limiter, provider)
	engine.POST("/", gateway.Ask)
	engine.GET("/privacy-policy", PrivacyPolicy)
	engine.GET("/health", health)

	engine.NoRoute(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "Method not allowed")
	})

	return &Server{
		cfg:    cfg,
		engine: engine,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: engine,
		},
		gateway: gateway,
	}
}

// ApplyConfig propagates a reloaded configuration to the request pipeline.
// The listen address is fixed for the life of the process.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.gateway.UpdateConfig(cfg)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Infof("gateway listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version})
}
