// Package api exposes the bot over HTTP: read-only status and history
// endpoints, JWT-protected control endpoints, and a websocket event feed.
package api

import (
	"net/http"
	"time"

	"perpbot/internal/bot"
	"perpbot/internal/events"
	"perpbot/internal/gateway"
	"perpbot/internal/ledger"
	"perpbot/internal/monitor"
	"perpbot/internal/risk"
	"perpbot/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the orchestrator.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	Bot     *bot.Orchestrator
	Book    *ledger.Ledger
	Engine  *risk.Engine
	Gateway gateway.ExchangeGateway
	Store   *db.Database
	Metrics *monitor.SystemMetrics
	Logs    *monitor.LogBuffer

	JWTSecret    string
	PasswordHash string
	Meta         SystemMeta
}

// SystemMeta describes runtime identity exposed to clients.
type SystemMeta struct {
	Venue      string
	Asset      string
	Paper      bool
	Version    string
	InstanceID string
}

func NewServer(b *bot.Orchestrator, book *ledger.Ledger, engine *risk.Engine, gw gateway.ExchangeGateway, store *db.Database, metrics *monitor.SystemMetrics, logs *monitor.LogBuffer, bus *events.Bus, meta SystemMeta, jwtSecret, passwordHash string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		Bot:          b,
		Book:         book,
		Engine:       engine,
		Gateway:      gw,
		Store:        store,
		Metrics:      metrics,
		Logs:         logs,
		JWTSecret:    jwtSecret,
		PasswordHash: passwordHash,
		Meta:         meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/account", s.getAccount)
		api.GET("/metrics", s.getMetrics)
		api.GET("/operations", s.getOperations)
		api.GET("/logs", s.getLogs)
		api.GET("/config", s.getConfig)

		api.POST("/auth/login", s.login)

		// Anything that moves money or changes behavior needs a token.
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/start", s.startBot)
			protected.POST("/stop", s.stopBot)
			protected.POST("/close", s.closePosition)
			protected.PUT("/config", s.putConfig)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Meta.Version})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
