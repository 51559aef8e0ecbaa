package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"droid/internal/logging"
	"droid/internal/orchestrator"
)

// Config tunes the HTTP surface.
type Config struct {
	Host       string
	Port       int
	EnableCORS bool
	Debug      bool
}

// Server exposes the orchestration façade over HTTP: an SSE task stream, a
// websocket event feed, and the cancel/reset/device endpoints.
type Server struct {
	orch       *orchestrator.Orchestrator
	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	logger     logging.Logger
}

// New wires the router.
func New(orch *orchestrator.Orchestrator, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	s := &Server{
		orch:   orch,
		engine: engine,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("server"),
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.POST("/agent/chat", s.handleChat)
		api.POST("/agent/cancel", s.handleCancel)
		api.POST("/agent/reset", s.handleReset)
		api.GET("/devices", s.handleDevices)
	}

	s.engine.GET("/ws/events", s.handleWebSocket)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
