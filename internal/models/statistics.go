package models

import "time"

// Statistics is the aggregate payload behind GET /api/statistics.
type Statistics struct {
	TotalProjects        int            `json:"total_projects"`
	CompletedProjects    int            `json:"completed_projects"`
	ActiveProcesses      int            `json:"active_processes"`
	DeviceTypes          map[string]int `json:"device_types"`
	VulnerabilitiesFound int            `json:"vulnerabilities_found"`
}

// ResultFile describes one file inside a process results directory.
type ResultFile struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}
