// Package api exposes engine control, settings and live state over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"safezone/internal/config"
	"safezone/internal/history"
	"safezone/internal/ingest"
	"safezone/internal/metrics"
	"safezone/internal/model"
)

type Engine interface {
	Snapshot() model.Snapshot
	TriggerManual(label string) error
	Unlock(text string) (model.UnlockResult, error)
	Acknowledge() error
}

type Monitor interface {
	Armed() bool
	VoiceEnabled() bool
}

type CrimeDB interface {
	Points(ctx context.Context, lat, lng float64) ([]model.Crime, error)
	ImportCrimes(ctx context.Context, crimes []model.Crime) (int, error)
}

type IncidentLog interface {
	ListIncidents(ctx context.Context, limit int) ([]model.Incident, error)
}

type Ingester interface {
	Accept(ctx context.Context, body []byte) (ingest.BatchResult, error)
}

// Deps are the components the API drives. Crimes, Incidents, Ingest and
// WebSocket may be nil; their routes then answer 503.
type Deps struct {
	Config    *config.Manager
	Engine    Engine
	Monitor   Monitor
	History   *history.Store
	Crimes    CrimeDB
	Incidents IncidentLog
	Ingest    Ingester
	WebSocket http.HandlerFunc
	// OnConfig receives every accepted settings change.
	OnConfig []func(*config.Config)
	Logger   *slog.Logger
	Version  string
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	// mu serializes read-modify-write of the config.
	mu sync.Mutex
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())
	if origins := s.deps.Config.Get().API.AllowOrigins; len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type"},
		}))
	}

	r.GET("/health", s.health)
	r.GET("/metrics", metrics.Handler())

	// Safety controls are never rate limited.
	r.GET("/api/status", s.status)
	r.POST("/api/arm", s.arm)
	r.POST("/api/sos", s.sos)
	r.POST("/api/unlock", s.unlock)
	r.POST("/api/acknowledge", s.acknowledge)
	r.GET("/api/ws", s.websocket)

	limited := r.Group("/api", RateLimitMiddleware(s.deps.Config.Get().API.RateLimit))
	limited.GET("/history", s.history)
	limited.POST("/voice", s.voice)
	limited.POST("/ingest", s.ingest)
	limited.GET("/crimes", s.crimes)
	limited.POST("/crimes", s.importCrimes)
	limited.GET("/settings", s.settings)
	limited.PUT("/settings", s.updateSettings)
	return r
}

// Start serves the API until ctx ends. It returns nil when the API is
// disabled.
func Start(ctx context.Context, deps Deps) *http.Server {
	current := deps.Config.Get().API
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !current.Enabled {
		logger.Info("api disabled")
		return nil
	}
	logger.Info("api enabled", "addr", current.Addr)
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

// applyConfig persists next and pushes it to running components.
func (s *Server) applyConfig(next *config.Config) error {
	if err := s.deps.Config.Update(next); err != nil {
		return err
	}
	for _, fn := range s.deps.OnConfig {
		fn(next)
	}
	return nil
}
