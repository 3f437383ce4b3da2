package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/firmscope/backend/internal/config"
	"github.com/firmscope/backend/internal/controllers"
	"github.com/firmscope/backend/internal/middleware"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/services"
	"github.com/firmscope/backend/internal/store"
)

// SetupRoutes wires services and controllers onto the router. Everything
// under /api except login requires the API key or a session token.
func SetupRoutes(r *gin.Engine, cfg *config.Config, projects *store.Collection[models.Project], processes *store.Collection[models.Process], storage *services.StorageService, analyzer services.Analyzer) {
	jobService := services.NewJobService(cfg, projects, processes, analyzer, storage)
	statsService := services.NewStatsService(projects, processes, services.FileVulnCounter{ResultsDir: cfg.Storage.ResultsDir})

	authController := controllers.NewAuthController(&cfg.Auth)
	projectController := controllers.NewProjectController(projects, jobService, statsService, cfg.Analysis.DefaultOptions)
	processController := controllers.NewProcessController(processes, cfg.Storage.ResultsDir)

	api := r.Group("/api")
	{
		api.POST("/login", authController.Login)

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(&cfg.Auth))
		{
			protected.GET("/projects", projectController.GetProjects)
			protected.POST("/projects", projectController.CreateProject)
			protected.GET("/projects/:id", projectController.GetProject)
			protected.DELETE("/projects/:id", projectController.DeleteProject)

			protected.GET("/processes", processController.GetProcesses)
			protected.GET("/processes/:id", processController.GetProcess)

			protected.GET("/statistics", projectController.GetStatistics)
			protected.GET("/results/:id", processController.GetResults)
			protected.GET("/download/:id/*filepath", processController.DownloadFile)
		}
	}
}
