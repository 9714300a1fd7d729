// Package server exposes the catalog and job system over HTTP. It
// serves a JSON API under /api, Prometheus metrics under /metrics,
// and a websocket feed of bus events under /api/events/ws.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/logger"
)

// Server ties the HTTP layer to the job controller, the catalog store,
// and the event bus. Construct it with New, then Start it; Start blocks
// until Shutdown is called or the listener fails.
type Server struct {
	cfg   *config.Config
	store *catalog.Store
	ctrl  *jobs.Controller
	load  *jobs.LoadMonitor
	bus   events.EventBus

	engine  *gin.Engine
	httpSrv *http.Server
	hub     *wsHub
	started time.Time
}

// New builds the server and registers all routes. The load monitor may
// be nil; system status then reports zero load.
func New(cfg *config.Config, store *catalog.Store, ctrl *jobs.Controller, load *jobs.LoadMonitor, bus events.EventBus) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		store:   store,
		ctrl:    ctrl,
		load:    load,
		bus:     bus,
		hub:     newWSHub(bus),
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLog())
	if cfg.Server.EnableCORS {
		r.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	s.engine = r
	s.registerRoutes()
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Start subscribes the websocket hub to the event bus and serves HTTP
// until the listener closes. ctx bounds the hub subscription, not the
// serve loop; use Shutdown to stop serving.
func (s *Server) Start(ctx context.Context) error {
	if err := s.hub.start(ctx); err != nil {
		return fmt.Errorf("start websocket hub: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	logger.Info("http server listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the websocket hub and stops the HTTP listener,
// waiting for in-flight requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/jobs", s.submitJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.POST("/jobs/:id/cancel", s.cancelJob)
		api.GET("/jobs/:id/progress", s.jobProgress)

		api.POST("/catalogs", s.createCatalog)
		api.GET("/catalogs", s.listCatalogs)
		api.GET("/catalogs/:id", s.getCatalog)
		api.GET("/catalogs/:id/images", s.listCatalogImages)
		api.GET("/catalogs/:id/duplicates", s.listCatalogDuplicates)
		api.GET("/catalogs/:id/bursts", s.listCatalogBursts)

		api.GET("/system/status", s.systemStatus)

		api.GET("/events", s.listEvents)
		api.GET("/events/ws", s.hub.handle)
	}
}

// requestLog records each request at debug level with its status and
// duration. Server errors surface at warn.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			logger.Warn("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}
