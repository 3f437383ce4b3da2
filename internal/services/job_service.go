package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firmscope/backend/internal/config"
	"github.com/firmscope/backend/internal/logger"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/store"
)

// JobService creates analysis jobs and runs them in the background. Submit
// returns as soon as the records are persisted; one goroutine per job
// carries the pipeline, and status is observed by polling the process
// record.
type JobService struct {
	cfg       *config.Config
	projects  *store.Collection[models.Project]
	processes *store.Collection[models.Process]
	analyzer  Analyzer
	storage   *StorageService
}

func NewJobService(cfg *config.Config, projects *store.Collection[models.Project], processes *store.Collection[models.Process], analyzer Analyzer, storage *StorageService) *JobService {
	return &JobService{
		cfg:       cfg,
		projects:  projects,
		processes: processes,
		analyzer:  analyzer,
		storage:   storage,
	}
}

// SubmitRequest carries a firmware upload into the pipeline.
type SubmitRequest struct {
	Name        string
	Description string
	Filename    string
	File        io.Reader
	Options     models.AnalysisOptions
}

var ErrMissingFilename = errors.New("upload filename is required")

// Submit stores the upload, creates the paired Project and Process records
// and hands the pipeline off to a background goroutine. Concurrent
// submissions are safe: every job gets fresh ids and its own directories.
func (js *JobService) Submit(req SubmitRequest) (*models.Project, error) {
	filename := sanitizeFilename(req.Filename)
	if filename == "" {
		return nil, ErrMissingFilename
	}

	projectID := uuid.NewString()
	processID := uuid.NewString()

	projectDir := filepath.Join(js.cfg.Storage.UploadDir, projectID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	firmwarePath := filepath.Join(projectDir, filename)
	if err := saveUpload(firmwarePath, req.File); err != nil {
		return nil, err
	}

	resultsDir := filepath.Join(js.cfg.Storage.ResultsDir, processID)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	name := req.Name
	if name == "" {
		name = filename
	}

	now := time.Now()
	project := models.Project{
		ID:          projectID,
		Name:        name,
		Description: req.Description,
		Filename:    filename,
		Filepath:    firmwarePath,
		DeviceType:  models.GuessDeviceType(filename),
		Status:      models.ProjectStatusPending,
		ProcessID:   processID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Options:     req.Options,
	}
	process := models.Process{
		ID:        processID,
		ProjectID: projectID,
		Status:    models.ProcessStatusQueued,
		Progress:  0,
		Message:   "Queued for analysis",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := js.projects.Upsert(project); err != nil {
		return nil, fmt.Errorf("failed to persist project: %w", err)
	}
	if err := js.processes.Upsert(process); err != nil {
		return nil, fmt.Errorf("failed to persist process: %w", err)
	}

	logger.Info("Analysis job submitted", map[string]interface{}{
		"project_id":  projectID,
		"process_id":  processID,
		"filename":    filename,
		"device_type": project.DeviceType,
	})

	go js.runAnalysis(processID, projectID, firmwarePath, req.Options)
	if js.storage != nil {
		go js.storage.CheckAndReclaim()
	}

	return &project, nil
}

// Delete removes the project, its paired process and both directory trees.
// Directory removal is best-effort; missing directories are not an error.
func (js *JobService) Delete(projectID string) error {
	project, err := js.projects.Get(projectID)
	if err != nil {
		return err
	}

	if err := js.projects.Delete(projectID); err != nil {
		return err
	}
	if err := js.processes.Delete(project.ProcessID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	uploadDir := filepath.Join(js.cfg.Storage.UploadDir, projectID)
	if err := os.RemoveAll(uploadDir); err != nil {
		logger.Error("Failed to remove upload directory", map[string]interface{}{
			"path":  uploadDir,
			"error": err.Error(),
		})
	}
	resultsDir := filepath.Join(js.cfg.Storage.ResultsDir, project.ProcessID)
	if err := os.RemoveAll(resultsDir); err != nil {
		logger.Error("Failed to remove results directory", map[string]interface{}{
			"path":  resultsDir,
			"error": err.Error(),
		})
	}

	logger.Info("Project deleted", map[string]interface{}{
		"project_id": projectID,
		"process_id": project.ProcessID,
	})
	return nil
}

// ResultsDir returns the results directory for a process id.
func (js *JobService) ResultsDir(processID string) string {
	return filepath.Join(js.cfg.Storage.ResultsDir, processID)
}

// runAnalysis executes the pipeline stages for one job. Any panic or stage
// error (extraction excepted) transitions the process to failed; it never
// escapes to crash the server. Once the process record is deleted, further
// writes are no-ops and the pipeline is abandoned.
func (js *JobService) runAnalysis(processID, projectID, firmwarePath string, opts models.AnalysisOptions) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Analysis pipeline panicked", map[string]interface{}{
				"process_id": processID,
				"panic":      fmt.Sprint(r),
			})
			js.failJob(processID, projectID, fmt.Sprintf("Analysis failed: %v", r))
		}
	}()

	ctx := context.Background()
	resultsDir := js.ResultsDir(processID)

	if !js.updateProcess(processID, models.ProcessStatusRunning, 10, "Starting analysis...") {
		return
	}

	if opts.ExtractFilesystem {
		if !js.updateProcess(processID, models.ProcessStatusRunning, 20, "Extracting filesystem...") {
			return
		}
		extractCtx, cancel := context.WithTimeout(ctx, js.cfg.Analysis.ExtractTimeout)
		err := js.analyzer.ExtractFilesystem(extractCtx, firmwarePath, resultsDir)
		cancel()
		if err != nil {
			// Partial results are still useful: log, degrade the message
			// and keep going.
			logger.WithProcess(processID).WithField("error", err.Error()).Error("Filesystem extraction failed")
			if !js.updateProcess(processID, models.ProcessStatusRunning, 40, fmt.Sprintf("Extraction completed with errors: %v", err)) {
				return
			}
		} else if !js.updateProcess(processID, models.ProcessStatusRunning, 40, "Filesystem extracted successfully") {
			return
		}
	}

	if opts.ScanVulnerabilities {
		if !js.updateProcess(processID, models.ProcessStatusRunning, 50, "Scanning for vulnerabilities...") {
			return
		}
		if err := js.analyzer.ScanVulnerabilities(ctx, firmwarePath, resultsDir); err != nil {
			js.failJob(processID, projectID, fmt.Sprintf("Analysis failed: %v", err))
			return
		}
		if !js.updateProcess(processID, models.ProcessStatusRunning, 70, "Vulnerability scan completed") {
			return
		}
	}

	if opts.IdentifyComponents {
		if !js.updateProcess(processID, models.ProcessStatusRunning, 80, "Identifying components...") {
			return
		}
		if err := js.analyzer.IdentifyComponents(ctx, firmwarePath, resultsDir); err != nil {
			js.failJob(processID, projectID, fmt.Sprintf("Analysis failed: %v", err))
			return
		}
		if !js.updateProcess(processID, models.ProcessStatusRunning, 90, "Component identification completed") {
			return
		}
	}

	if opts.DeepAnalysis {
		if !js.updateProcess(processID, models.ProcessStatusRunning, 95, "Performing deep analysis...") {
			return
		}
		if err := js.analyzer.DeepAnalysis(ctx, firmwarePath, resultsDir); err != nil {
			js.failJob(processID, projectID, fmt.Sprintf("Analysis failed: %v", err))
			return
		}
		if !js.updateProcess(processID, models.ProcessStatusRunning, 98, "Deep analysis completed") {
			return
		}
	}

	if !js.updateProcess(processID, models.ProcessStatusCompleted, 100, "Analysis completed successfully") {
		return
	}

	now := time.Now()
	_, err := js.projects.Update(projectID, func(p *models.Project) {
		p.Status = models.ProjectStatusCompleted
		p.CompletedAt = &now
		p.UpdatedAt = now
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithProcess(processID).WithField("error", err.Error()).Error("Failed to mark project completed")
	}

	logger.Info("Analysis completed", map[string]interface{}{
		"process_id": processID,
		"project_id": projectID,
	})
}

// updateProcess writes status, progress and message to the process record.
// Progress only ever moves forward. Returns false when the record has been
// deleted mid-run, which abandons the pipeline.
func (js *JobService) updateProcess(processID string, status models.ProcessStatus, progress int, message string) bool {
	_, err := js.processes.Update(processID, func(p *models.Process) {
		p.Status = status
		if progress > p.Progress {
			p.Progress = progress
		}
		if message != "" {
			p.Message = message
		}
		p.UpdatedAt = time.Now()
	})
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Process record deleted mid-run, abandoning analysis", map[string]interface{}{
			"process_id": processID,
		})
		return false
	}
	if err != nil {
		logger.WithProcess(processID).WithField("error", err.Error()).Error("Failed to update process record")
	}
	return true
}

// failJob marks the process failed with the captured reason, leaving
// progress at its last value, and mirrors the terminal state onto the
// paired project.
func (js *JobService) failJob(processID, projectID, message string) {
	_, err := js.processes.Update(processID, func(p *models.Process) {
		p.Status = models.ProcessStatusFailed
		p.Message = message
		p.UpdatedAt = time.Now()
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithProcess(processID).WithField("error", err.Error()).Error("Failed to mark process failed")
	}

	_, err = js.projects.Update(projectID, func(p *models.Project) {
		p.Status = models.ProjectStatusFailed
		p.UpdatedAt = time.Now()
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithProcess(processID).WithField("error", err.Error()).Error("Failed to mark project failed")
	}
}

// sanitizeFilename strips any path components from an uploaded filename so
// it cannot escape the project upload directory.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}
