package services

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/firmscope/backend/internal/logger"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/store"
)

// VulnCounter aggregates the number of vulnerabilities found across all
// result sets.
type VulnCounter interface {
	Count() int
}

// StatsService computes the dashboard statistics from the record stores and
// the scan output on disk.
type StatsService struct {
	projects  *store.Collection[models.Project]
	processes *store.Collection[models.Process]
	vulns     VulnCounter
}

func NewStatsService(projects *store.Collection[models.Project], processes *store.Collection[models.Process], vulns VulnCounter) *StatsService {
	return &StatsService{projects: projects, processes: processes, vulns: vulns}
}

func (s *StatsService) Statistics() models.Statistics {
	stats := models.Statistics{DeviceTypes: map[string]int{}}

	for _, project := range s.projects.List() {
		stats.TotalProjects++
		if project.Status == models.ProjectStatusCompleted {
			stats.CompletedProjects++
		}
		deviceType := project.DeviceType
		if deviceType == "" {
			deviceType = models.DeviceTypeUnknown
		}
		stats.DeviceTypes[deviceType]++
	}

	for _, process := range s.processes.List() {
		if process.Status == models.ProcessStatusQueued || process.Status == models.ProcessStatusRunning {
			stats.ActiveProcesses++
		}
	}

	if s.vulns != nil {
		stats.VulnerabilitiesFound = s.vulns.Count()
	}
	return stats
}

// FileVulnCounter sums the finding counts from every vulnerabilities.json
// the scan stage has written under the results tree.
type FileVulnCounter struct {
	ResultsDir string
}

func (f FileVulnCounter) Count() int {
	entries, err := os.ReadDir(f.ResultsDir)
	if err != nil {
		return 0
	}

	var total int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(f.ResultsDir, entry.Name(), "vulnerabilities.json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue // scan stage not run (or not finished) for this process
		}
		var report VulnReport
		if err := json.Unmarshal(data, &report); err != nil {
			logger.Debug("Skipping unreadable vulnerability report", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		total += report.Count
	}
	return total
}
