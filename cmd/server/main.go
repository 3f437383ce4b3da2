package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/firmscope/backend/internal/config"
	"github.com/firmscope/backend/internal/logger"
	"github.com/firmscope/backend/internal/middleware"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/routes"
	"github.com/firmscope/backend/internal/services"
	"github.com/firmscope/backend/internal/store"
)

func main() {
	logger.Initialize()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("Failed to create storage directory", map[string]interface{}{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}

	projects, err := store.Open[models.Project](cfg.Storage.ProjectsFile)
	if err != nil {
		logger.Fatal("Failed to open project store", map[string]interface{}{"error": err.Error()})
	}
	processes, err := store.Open[models.Process](cfg.Storage.ProcessesFile)
	if err != nil {
		logger.Fatal("Failed to open process store", map[string]interface{}{"error": err.Error()})
	}

	// Graceful shutdown also stops the maintenance loop.
	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, stopping background workers...", nil)
		close(stopChan)
	}()

	storageService := services.NewStorageService(cfg)
	storageService.StartScheduledCleanup(stopChan)

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"projects":  len(projects.List()),
			"processes": len(processes.List()),
		})
	})

	routes.SetupRoutes(r, cfg, projects, processes, storageService, &services.ToolAnalyzer{})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	logger.Info("Starting firmware analysis server", map[string]interface{}{
		"port": cfg.Server.Port,
		"env":  cfg.Server.Env,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-stopChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Info("Server exited gracefully", nil)
	}
}
