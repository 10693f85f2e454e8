package models

import "time"

// ProcessingStep is a per-sample instance of one workflow stage. Exactly
// eight rows exist per sample, one per canonical stage, created together with
// the sample at intake. Steps are mutated only by the orchestrator and the
// stage worker runtime.
type ProcessingStep struct {
	ID         string     `gorm:"primaryKey;column:id" json:"id"`
	SampleID   string     `gorm:"not null;index;size:64" json:"sample_id"`
	StepName   Stage      `gorm:"not null;size:32" json:"step_name"`
	StepOrder  int        `gorm:"not null" json:"step_order"`
	StepStatus StepStatus `gorm:"not null;default:'pending';size:16;index" json:"step_status"`
	AssignedTo string     `gorm:"size:255" json:"assigned_to,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	EstimatedDurationHours float64  `gorm:"not null;default:1" json:"estimated_duration_hours"`
	ActualDurationHours    *float64 `json:"actual_duration_hours,omitempty"`

	Notes        string  `gorm:"type:text" json:"notes,omitempty"`
	Results      JSONMap `gorm:"type:jsonb" json:"results,omitempty"`
	QCPassed     *bool   `gorm:"column:qc_passed" json:"qc_passed,omitempty"`
	QCNotes      string  `gorm:"column:qc_notes;type:text" json:"qc_notes,omitempty"`
	FailureCount int     `gorm:"not null;default:0" json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName maps ProcessingStep onto the legacy nanopore schema.
func (ProcessingStep) TableName() string { return "nanopore_processing_steps" }

// Terminal reports whether the step is in a state the orchestrator will not
// move it out of on its own (operator retry is the only exit from failed).
func (p *ProcessingStep) Terminal() bool {
	switch p.StepStatus {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}
