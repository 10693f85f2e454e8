package events

import "github.com/seqlab/nanotrack/pkg/models"

// SampleCreatedPayload announces a newly ingested sample.
type SampleCreatedPayload struct {
	SampleID     string `json:"sample_id"`
	SubmissionID string `json:"submission_id"`
	SampleNumber int    `json:"sample_number"`
}

// StepStartedPayload is emitted by the worker runtime after lease acquisition.
type StepStartedPayload struct {
	StepID   string       `json:"step_id"`
	SampleID string       `json:"sample_id"`
	Stage    models.Stage `json:"stage"`
	HolderID string       `json:"holder_id"`
}

// StepCompletedPayload carries a successful worker outcome.
type StepCompletedPayload struct {
	StepID   string          `json:"step_id"`
	SampleID string          `json:"sample_id"`
	Stage    models.Stage    `json:"stage"`
	Results  models.JSONMap  `json:"results,omitempty"`
	QC       *models.QCResult `json:"qc,omitempty"`
	Skipped  bool            `json:"skipped,omitempty"`
}

// StepFailedPayload carries a failed worker outcome.
type StepFailedPayload struct {
	StepID   string          `json:"step_id"`
	SampleID string          `json:"sample_id"`
	Stage    models.Stage    `json:"stage"`
	Reason   string          `json:"reason"`
	QC       *models.QCResult `json:"qc,omitempty"`
}

// PriorityChangedPayload announces a sample priority change.
type PriorityChangedPayload struct {
	SampleID    string          `json:"sample_id"`
	OldPriority models.Priority `json:"old_priority"`
	NewPriority models.Priority `json:"new_priority"`
}

// SampleStatusChangedPayload announces a sample status transition.
type SampleStatusChangedPayload struct {
	SampleID     string              `json:"sample_id"`
	SubmissionID string              `json:"submission_id"`
	OldStatus    models.SampleStatus `json:"old_status,omitempty"`
	NewStatus    models.SampleStatus `json:"new_status"`
}

// WorkflowCompletedPayload announces that all eight steps of a sample are done.
type WorkflowCompletedPayload struct {
	SampleID     string `json:"sample_id"`
	SubmissionID string `json:"submission_id"`
}
