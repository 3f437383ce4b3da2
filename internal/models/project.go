package models

import "time"

type ProjectStatus string

const (
	ProjectStatusPending   ProjectStatus = "pending"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusFailed    ProjectStatus = "failed"
)

// AnalysisOptions selects which pipeline stages run for a project.
type AnalysisOptions struct {
	ExtractFilesystem   bool `json:"extract_filesystem"`
	ScanVulnerabilities bool `json:"scan_vulnerabilities"`
	IdentifyComponents  bool `json:"identify_components"`
	DeepAnalysis        bool `json:"deep_analysis"`
}

// Project is the user-facing record for one uploaded firmware image. It is
// created together with its Process and the two are always deleted together.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Filename    string          `json:"filename"`
	Filepath    string          `json:"filepath"`
	DeviceType  string          `json:"device_type"`
	Status      ProjectStatus   `json:"status"`
	ProcessID   string          `json:"process_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Options     AnalysisOptions `json:"options"`
}

func (p Project) RecordID() string {
	return p.ID
}
