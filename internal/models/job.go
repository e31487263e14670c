package models

import "time"

// JobStatus is the lifecycle stage of an upload job. Transitions only move
// forward, except that Succeeded and Failed are reachable from any
// non-terminal stage.
type JobStatus string

const (
	StatusIdle           JobStatus = "idle"
	StatusCheckingHealth JobStatus = "checking_health"
	StatusUploading      JobStatus = "uploading"
	StatusProcessing     JobStatus = "processing"
	StatusFetchingReport JobStatus = "fetching_report"
	StatusSucceeded      JobStatus = "succeeded"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether the status is one of the two end states.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// UploadJob is the client-side record of one submitted analysis request.
// It is owned exclusively by the orchestrator for its lifetime.
type UploadJob struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`

	Status JobStatus `json:"status"`

	// UploadProgress is real transfer progress in [0,100].
	UploadProgress int `json:"upload_progress"`
	// ProcessingProgress is heuristic in [0,100]; it stays below 100 until
	// the job resolves, then is forced to exactly 100 once.
	ProcessingProgress int `json:"processing_progress"`

	RemoteJobID string `json:"remote_job_id,omitempty"`
	ReportRef   string `json:"report_ref,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	ErrorDetail string `json:"error_detail,omitempty"`
}
