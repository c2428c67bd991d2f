package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yourusername/bedrock-server-manager/internal/api"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/events"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/server"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg, os.Args[2:])
		return
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	bus := events.New()
	defer bus.Close()

	serverDir := cfg.ServerDir()

	// Console log file and history buffer
	logWriter, err := console.NewLogWriter(filepath.Join(serverDir, "logs"))
	if err != nil {
		log.Fatalf("Failed to open console log: %v", err)
	}
	defer logWriter.Close()
	defer logWriter.Attach(bus)()

	history := console.NewRingBuffer(cfg.Console.HistoryLines)
	defer history.Attach(bus)()

	activityLogger, err := logging.NewActivityLogger(db.DB, filepath.Join(filepath.Dir(cfg.Database.Path), "logs", "activity"))
	if err != nil {
		log.Fatalf("Failed to initialize activity logger: %v", err)
	}
	defer activityLogger.Close()
	if err := activityLogger.CleanupOldActivities(90 * 24 * time.Hour); err != nil {
		log.Printf("Warning: Failed to prune activity history: %v", err)
	}
	defer activityLogger.Attach(bus)()

	// Supervisor and backup coordinator
	supervisor := server.NewSupervisor(bus, server.Options{
		Executable:  cfg.Bedrock.Executable,
		Dir:         serverDir,
		StopTimeout: cfg.StopTimeout(),
		KillTimeout: cfg.KillTimeout(),
	})

	store := backup.NewStore(db.DB)
	publisher := backup.NewPublisher(cfg.Backup, cfg.SSH, store)
	coordinator := backup.NewCoordinator(supervisor, bus, backup.CoordinatorOptions{
		ServerDir:      serverDir,
		PollInterval:   cfg.BackupPollInterval(),
		DefaultTimeout: cfg.BackupTimeout(),
		Store:          store,
		OnComplete:     publisher.Handle,
	})
	supervisor.SetBackupGate(coordinator)

	var scheduler *backup.Scheduler
	if cfg.Backup.Schedule != "" {
		scheduler, err = backup.NewScheduler(coordinator, cfg.Backup.Schedule, cfg.BackupTimeout())
		if err != nil {
			log.Fatalf("Failed to schedule backups: %v", err)
		}
		scheduler.Start()
	}

	// Metrics
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		collector = metrics.NewCollector(supervisor, db.DB, cfg.MetricsSampleInterval(), cfg.Metrics.RetentionDays)
		defer collector.Attach(bus)()
		collector.Start()
		defer collector.Stop()
	}

	// WebSocket hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := websocket.NewHub()
	go hub.Run(ctx)
	defer hub.Attach(bus)()

	if cfg.Bedrock.AutoStart {
		if err := supervisor.Start(ctx); err != nil {
			log.Printf("Failed to auto-start server: %v", err)
		}
	}

	log.Println("All components initialized successfully")

	var httpServer *http.Server
	shutdownOps := func() {}
	if cfg.API.Enabled {
		var router http.Handler
		router, shutdownOps = api.SetupRouter(cfg, api.Dependencies{
			Server:    supervisor,
			Backups:   coordinator,
			Store:     store,
			Scheduler: scheduler,
			History:   history,
			Hub:       hub,
			Activity:  activityLogger,
			Collector: collector,
		})

		httpServer = &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// backups answer once the snapshot is written
			WriteTimeout: cfg.BackupMaxTimeout() + time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Printf("Starting API on %s", httpServer.Addr)
			var err error
			if cfg.API.TLS.Enabled {
				err = httpServer.ListenAndServeTLS(cfg.API.TLS.CertFile, cfg.API.TLS.KeyFile)
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start API server: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API forced to shutdown: %v", err)
		}
		shutdownCancel()
	}

	if scheduler != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.BackupTimeout()+time.Minute)
		if err := scheduler.Stop(stopCtx); err != nil {
			log.Printf("Scheduled backup did not finish: %v", err)
		}
		stopCancel()
	}

	// Wait for stops or restarts requested over the API before stopping ourselves
	shutdownOps()

	if supervisor.Running() {
		log.Println("Stopping Bedrock server...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.BackupTimeout()+time.Minute)
		result, err := supervisor.Stop(stopCtx, true)
		stopCancel()
		if err != nil {
			log.Printf("Failed to stop server: %v", err)
		} else {
			log.Printf("Server stop result: %s", result)
		}
	}

	log.Println("Exited")
}

func setupLogging(cfg *config.Config) error {
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

// runMigrations handles "migrate" (apply pending) and "migrate down [steps]".
func runMigrations(cfg *config.Config, args []string) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if len(args) > 0 && args[0] == "down" {
		steps := 1
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps < 1 {
				log.Fatalf("Invalid step count %q", args[1])
			}
		}
		log.Printf("Rolling back %d migration(s)...", steps)
		err = db.Rollback(steps)
	} else {
		log.Println("Running database migrations...")
		err = db.Migrate()
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	version, err := db.Version()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	log.Printf("Schema version: %q", version)
}
