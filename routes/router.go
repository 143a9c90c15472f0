// Package routes assembles the HTTP server.
package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campus-election-backend/api"
	"campus-election-backend/auth"
	"campus-election-backend/authz"
	"campus-election-backend/config"
	"campus-election-backend/handlers"
	"campus-election-backend/logger"
	"campus-election-backend/metrics"
	"campus-election-backend/service"
	"campus-election-backend/websocket"
)

// Dependencies are the wired components the router exposes.
type Dependencies struct {
	Registry *service.ElectionRegistry
	Gate     *service.CandidacyGate
	Box      *service.BallotBox
	Results  *service.ResultsPublisher
	Notices  *service.NoticeBoard
	Trail    *service.AuditTrail

	Tokens  *auth.Tokens
	Hub     *websocket.Hub
	Health  *handlers.Health
	Limiter *handlers.RateLimiter
	Cache   *handlers.Cache
	Logger  *zap.Logger
}

// SetupRouter builds the gin engine with every route.
func SetupRouter(cfg *config.Config, d Dependencies) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logger.Gin(d.Logger), metrics.Middleware())

	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !allowsAny(origins),
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", metrics.Handler())

	apiGroup := router.Group("/api")
	apiGroup.GET("/health", d.Health.Check)
	apiGroup.GET("/status", d.Health.Status)

	apiGroup.Use(auth.Authenticate(d.Tokens), d.Limiter.Middleware())
	{
		if cfg.IsDevelopment() {
			api.NewTokenController(d.Tokens).RegisterRoutes(apiGroup)
		}

		api.NewElectionController(d.Registry, d.Gate, d.Results).RegisterRoutes(apiGroup)
		api.NewCandidateController(d.Gate).RegisterRoutes(apiGroup)
		// ballots get an extra per-caller window on top of the global buckets
		api.NewVoteController(d.Box, d.Results).RegisterRoutes(apiGroup, d.Limiter.Window("votes", time.Minute, 30))
		api.NewNotificationController(d.Notices, d.Trail).RegisterRoutes(apiGroup)

		live := apiGroup.Group("/elections/:id", auth.RequireAction(authz.ResultsLive))
		{
			live.GET("/ws", websocket.NewHandler(d.Hub, d.Registry, cfg.Server.AllowOrigins, d.Logger).Serve)
			live.GET("/live", handlers.NewSSE(d.Hub, d.Registry, d.Logger).Stream)
		}

		admin := apiGroup.Group("/admin", auth.RequireAction(authz.AuditView))
		{
			admin.GET("/ratelimit/stats", d.Limiter.StatsHandler)
			admin.POST("/cache/elections/rebuild", d.Cache.RebuildFilter)
		}
	}

	return router
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Server wraps the HTTP server for graceful shutdown.
type Server struct {
	*http.Server
	logger *zap.Logger
}

// StartServer listens on cfg's port in the background.
func StartServer(cfg config.ServerConfig, handler http.Handler, l *zap.Logger) *Server {
	srv := &Server{
		Server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: l,
	}

	go func() {
		l.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server failed", zap.Error(err))
		}
	}()
	return srv
}

// Stop waits up to timeout for in-flight requests to finish.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
