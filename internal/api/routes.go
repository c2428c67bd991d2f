package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/api/handlers"
	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/auth"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

// Dependencies are the components the router exposes. Store, Scheduler,
// Activity and Collector may be nil.
type Dependencies struct {
	Server    handlers.ServerControl
	Backups   handlers.BackupRunner
	Store     *backup.Store
	Scheduler *backup.Scheduler
	History   *console.RingBuffer
	Hub       *websocket.Hub
	Activity  *logging.ActivityLogger
	Collector *metrics.Collector
}

// SetupRouter configures and returns the HTTP router. The returned function
// waits for background lifecycle operations started by requests.
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, func()) {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.API.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.API.RateLimitPerMinute))
	router.Use(middleware.SecurityHeaders())

	serverHandler := handlers.NewServerHandler(deps.Server, deps.Activity, deps.Collector, cfg.StopTimeout())
	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Store, deps.Scheduler, cfg.Backup.RetentionCount, cfg.BackupMaxTimeout())
	consoleHandler := handlers.NewConsoleHandler(deps.Server, deps.History, deps.Hub, cfg.API.AllowedOrigins)

	public := router.Group("/api/v1")
	{
		public.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "server": deps.Server.Status().State})
		})
		if cfg.Metrics.Enabled {
			public.GET("/metrics", gin.WrapH(metrics.Handler()))
		}
	}

	// Without a secret the API is open; config validation keeps it bound
	// to whatever host the operator chose.
	var tokens *auth.TokenManager
	scope := func(string) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.TokenDuration())
		scope = middleware.RequireScope
	} else {
		log.Printf("[API] Warning: auth.jwt_secret is empty, the API is unauthenticated")
	}

	protected := router.Group("/api/v1")
	if tokens != nil {
		protected.Use(middleware.Auth(tokens))
	}
	protected.Use(middleware.Audit(deps.Activity))
	{
		srv := protected.Group("/server")
		{
			srv.GET("/status", scope(auth.ScopeRead), serverHandler.GetStatus)
			srv.GET("/stats", scope(auth.ScopeRead), serverHandler.GetStats)
			srv.GET("/stats/history", scope(auth.ScopeRead), serverHandler.GetStatsHistory)
			srv.POST("/start", scope(auth.ScopeOperate), serverHandler.StartServer)
			srv.POST("/stop", scope(auth.ScopeOperate), serverHandler.StopServer)
			srv.POST("/kill", scope(auth.ScopeOperate), serverHandler.KillServer)
			srv.POST("/restart", scope(auth.ScopeOperate), serverHandler.RestartServer)
			srv.POST("/command", scope(auth.ScopeOperate), serverHandler.ExecuteCommand)
			srv.POST("/reload", scope(auth.ScopeOperate), serverHandler.ReloadServer)
		}

		protected.GET("/console/history", scope(auth.ScopeRead), consoleHandler.GetHistory)
		protected.GET("/console/ws", scope(auth.ScopeRead), consoleHandler.HandleWebSocket)

		backups := protected.Group("/backups")
		{
			backups.POST("", scope(auth.ScopeOperate), backupHandler.CreateBackup)
			backups.GET("", scope(auth.ScopeRead), backupHandler.ListBackups)
			backups.GET("/active", scope(auth.ScopeRead), backupHandler.GetActiveJob)
			backups.GET("/:id", scope(auth.ScopeRead), backupHandler.GetBackup)
			backups.POST("/retention/enforce", scope(auth.ScopeOperate), backupHandler.EnforceRetention)
		}

		protected.GET("/activity", scope(auth.ScopeRead), serverHandler.GetActivity)
	}

	shutdown := func() {
		log.Println("Waiting for background server operations to complete...")
		serverHandler.WaitForCompletion()
		log.Println("Background operations completed")
	}

	return router, shutdown
}
