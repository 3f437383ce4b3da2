package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/firmscope/backend/internal/logger"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/services"
	"github.com/firmscope/backend/internal/store"
)

type ProjectController struct {
	projects       *store.Collection[models.Project]
	jobs           *services.JobService
	stats          *services.StatsService
	defaultOptions models.AnalysisOptions
}

func NewProjectController(projects *store.Collection[models.Project], jobs *services.JobService, stats *services.StatsService, defaultOptions models.AnalysisOptions) *ProjectController {
	return &ProjectController{
		projects:       projects,
		jobs:           jobs,
		stats:          stats,
		defaultOptions: defaultOptions,
	}
}

// GetProjects returns all projects.
func (pc *ProjectController) GetProjects(c *gin.Context) {
	c.JSON(http.StatusOK, pc.projects.List())
}

// CreateProject accepts a multipart firmware upload and dispatches a new
// analysis job. The response returns as soon as the records are persisted;
// the pipeline runs in the background.
func (pc *ProjectController) CreateProject(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer src.Close()

	options := models.AnalysisOptions{
		ExtractFilesystem:   formBool(c, "extract_filesystem", pc.defaultOptions.ExtractFilesystem),
		ScanVulnerabilities: formBool(c, "scan_vulnerabilities", pc.defaultOptions.ScanVulnerabilities),
		IdentifyComponents:  formBool(c, "identify_components", pc.defaultOptions.IdentifyComponents),
		DeepAnalysis:        formBool(c, "deep_analysis", pc.defaultOptions.DeepAnalysis),
	}

	project, err := pc.jobs.Submit(services.SubmitRequest{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Filename:    file.Filename,
		File:        src,
		Options:     options,
	})
	if err != nil {
		if errors.Is(err, services.ErrMissingFilename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
			return
		}
		logger.WithError(err, "project_controller").Error("Failed to submit analysis job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject returns one project by id.
func (pc *ProjectController) GetProject(c *gin.Context) {
	project, err := pc.projects.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject removes the project, its paired process and all files.
func (pc *ProjectController) DeleteProject(c *gin.Context) {
	if err := pc.jobs.Delete(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		logger.WithError(err, "project_controller").Error("Failed to delete project")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetStatistics returns aggregate dashboard counters.
func (pc *ProjectController) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, pc.stats.Statistics())
}

// formBool reads an option flag from the multipart form; anything other
// than "true" (case-insensitive) is false, absent means the default.
func formBool(c *gin.Context, name string, defaultVal bool) bool {
	v, ok := c.GetPostForm(name)
	if !ok || v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true")
}
