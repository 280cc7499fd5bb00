package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/server"
)

// Server is the REST API for managing bots.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	metrics  http.Handler

	upgrader   websocket.Upgrader
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return originAllowed(cfg.API.AllowedOrigins, r) },
		},
	}
	return s
}

// SetMetrics mounts h at /metrics. Call before Start or Handler.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.API.Token))
	{
		protected.GET("/system", s.handleGetSystem)
		protected.GET("/system/logs", s.handleGetLogEntries)
		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/bots", s.handleSaveBotConfig)
		protected.DELETE("/config/bots/:name", s.handleRemoveBotConfig)

		protected.GET("/bots", s.handleListBots)
		protected.POST("/bots", s.handleCreateBot)
		protected.DELETE("/bots/:id", s.handleRemoveBot)
	}

	bot := protected.Group("/bots/:id")
	bot.Use(s.loadBot())
	{
		bot.GET("", s.handleGetBot)
		bot.GET("/inventory", s.handleGetInventory)
		bot.GET("/world", s.handleGetWorld)
		bot.GET("/logs", s.handleGetLogs)
		bot.GET("/events", s.handleEvents)

		bot.POST("/connect", s.handleConnect)
		bot.POST("/disconnect", s.handleDisconnect)
		bot.POST("/warp", s.handleWarp)
		bot.POST("/say", s.handleSay)
		bot.POST("/move", s.handleMove)
		bot.POST("/find_path", s.handleFindPath)
		bot.POST("/collect", s.handleCollect)
		bot.POST("/leave", s.handleLeave)
		bot.POST("/script", s.handleRunScript)
		bot.DELETE("/script", s.handleStopScript)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Mori API is running."})
	})

	return router
}

func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
