package models

import "time"

type ProcessStatus string

const (
	ProcessStatusQueued    ProcessStatus = "queued"
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// Terminal reports whether the status is final. A process never leaves
// completed or failed.
func (s ProcessStatus) Terminal() bool {
	return s == ProcessStatusCompleted || s == ProcessStatusFailed
}

// Process tracks one background analysis run. The API returns the paired
// project on upload; clients poll GET /api/processes/:id until the status
// is completed or failed.
type Process struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Status    ProcessStatus `json:"status"`
	Progress  int           `json:"progress"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (p Process) RecordID() string {
	return p.ID
}
