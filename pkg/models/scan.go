package models

import "time"

// ScanStatus is the status of an asynchronous scan job.
type ScanStatus string

const (
	ScanStatusInProgress ScanStatus = "in_progress"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// ScanPhase is the scan controller's state machine position.
type ScanPhase string

const (
	ScanPhaseIdle      ScanPhase = "idle"
	ScanPhaseStarting  ScanPhase = "starting"
	ScanPhasePolling   ScanPhase = "polling"
	ScanPhaseCompleted ScanPhase = "completed"
	ScanPhaseFailed    ScanPhase = "failed"
)

// ScanJob tracks a server-side structural scan of a connected data source.
// Progress is 0-100 and never decreases while the job is in progress.
type ScanJob struct {
	JobID        string     `json:"job_id"`
	Progress     int        `json:"progress"`
	Status       ScanStatus `json:"status"`
	ConnectionID string     `json:"data_src_id"`
	Generation   uint64     `json:"generation"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"timestamp,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// IsActive returns true while the job still expects poll updates.
func (j *ScanJob) IsActive() bool {
	return j.Status == ScanStatusInProgress
}
