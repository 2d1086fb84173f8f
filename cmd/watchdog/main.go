package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/last-emo-boy/watchdog-core/pkg/api/handlers"
	"github.com/last-emo-boy/watchdog-core/pkg/api/middleware"
	"github.com/last-emo-boy/watchdog-core/pkg/auth"
	"github.com/last-emo-boy/watchdog-core/pkg/config"
	"github.com/last-emo-boy/watchdog-core/pkg/core"
	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/probe"
	"github.com/last-emo-boy/watchdog-core/pkg/scheduler"
	"github.com/last-emo-boy/watchdog-core/pkg/telemetry"
)

func main() {
	log.Println("🔍 Starting watchdog-core...")

	environment := os.Getenv("WATCHDOG_ENV")
	if environment == "" {
		environment = "development"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	log.Printf("📋 Environment: %s", environment)

	db, err := database.NewDB(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer db.Close()

	authService, err := auth.NewAuth(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize auth: %v", err)
	}

	nodeStore := db.NodeRepository()
	sampleStore := db.SampleRepository()
	executor := probe.NewExecutor()

	sched := scheduler.New(nodeStore, sampleStore, executor, time.Duration(cfg.Monitor.ShutdownDrainSeconds)*time.Second)
	if err := sched.Boot(); err != nil {
		log.Fatalf("❌ Failed to boot scheduler: %v", err)
	}

	aggregator := telemetry.New(
		nodeStore,
		sampleStore,
		time.Duration(cfg.Monitor.DashboardWindowSeconds)*time.Second,
		cfg.Monitor.DashboardBucketSeconds,
		time.Duration(cfg.Monitor.DashboardCacheTTLSeconds)*time.Second,
	)

	service := core.New(nodeStore, sampleStore, sched, aggregator, executor)

	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.LoggingMiddleware(), middleware.RecoveryMiddleware())
	if cfg.Server.CORS.Enabled {
		r.Use(middleware.CORSMiddleware())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "healthy",
			"scheduled_nodes": sched.ActiveCount(),
			"timestamp":       time.Now().Unix(),
		})
	})

	nodeHandler := handlers.NewNodeHandler(service)
	systemHandler := handlers.NewSystemHandler(service)

	api := r.Group("/api/v1")
	{
		api.GET("/system/status", systemHandler.SystemStatus)

		authed := api.Group("/")
		authed.Use(middleware.AuthMiddleware(authService))
		{
			authed.POST("/nodes", nodeHandler.CreateNode)
			authed.GET("/nodes", nodeHandler.ListNodes)
			authed.GET("/nodes/:id", nodeHandler.GetNode)
			authed.PATCH("/nodes/:id", nodeHandler.UpdateNode)
			authed.DELETE("/nodes/:id", nodeHandler.DeleteNode)
			authed.POST("/nodes/:id/pause", nodeHandler.PauseNode)
			authed.POST("/nodes/:id/resume", nodeHandler.ResumeNode)
			authed.POST("/nodes/:id/test", nodeHandler.TestProbe)
			authed.POST("/nodes/test-connection", nodeHandler.TestConnection)
			authed.GET("/dashboard", nodeHandler.DashboardOverview)
		}
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8086
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("🚀 watchdog-core API server starting on %s:%d", cfg.Server.Host, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down watchdog-core...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	sched.StopAll()

	log.Println("✅ watchdog-core shutdown complete")
}
