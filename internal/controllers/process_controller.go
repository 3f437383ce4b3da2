package controllers

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/firmscope/backend/internal/logger"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/store"
)

type ProcessController struct {
	processes  *store.Collection[models.Process]
	resultsDir string
}

func NewProcessController(processes *store.Collection[models.Process], resultsDir string) *ProcessController {
	return &ProcessController{processes: processes, resultsDir: resultsDir}
}

// GetProcesses returns all processes.
func (pc *ProcessController) GetProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, pc.processes.List())
}

// GetProcess returns one process by id.
func (pc *ProcessController) GetProcess(c *gin.Context) {
	process, err := pc.processes.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Process not found"})
		return
	}
	c.JSON(http.StatusOK, process)
}

// GetResults lists the files in a process results directory.
func (pc *ProcessController) GetResults(c *gin.Context) {
	resultsDir, ok := pc.processResultsDir(c.Param("id"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	if _, err := os.Stat(resultsDir); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Results not found"})
		return
	}

	results := []models.ResultFile{}
	err := filepath.WalkDir(resultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // vanished mid-walk
		}
		rel, err := filepath.Rel(resultsDir, path)
		if err != nil {
			return nil
		}
		results = append(results, models.ResultFile{
			Path:     rel,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		logger.WithError(err, "process_controller").Error("Failed to list results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// DownloadFile streams one result file. The resolved path must stay inside
// the results directory for that process; anything else is rejected before
// the filesystem is touched.
func (pc *ProcessController) DownloadFile(c *gin.Context) {
	resultsDir, ok := pc.processResultsDir(c.Param("id"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	relPath := strings.TrimPrefix(c.Param("filepath"), "/")
	requested := filepath.Join(resultsDir, relPath)
	if !insideDir(requested, resultsDir) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	info, err := os.Stat(requested)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.FileAttachment(requested, filepath.Base(requested))
}

// processResultsDir resolves the per-process results directory and rejects
// process ids that would themselves escape the results root.
func (pc *ProcessController) processResultsDir(processID string) (string, bool) {
	root, err := filepath.Abs(pc.resultsDir)
	if err != nil {
		return "", false
	}
	dir := filepath.Join(root, processID)
	if !insideDir(dir, root) {
		return "", false
	}
	return dir, true
}

// insideDir reports whether path (already cleaned by filepath.Join) is dir
// itself or contained within it.
func insideDir(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(os.PathSeparator))
}
