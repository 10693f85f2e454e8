package models

import "time"

// Sample is an individual biological item tracked through the eight workflow
// stages. QC inputs are optional; the Sample QC worker scores whatever is
// present. Priority is inherited from the submission at intake and may be
// overridden per sample afterwards.
type Sample struct {
	ID           string     `gorm:"primaryKey;column:id" json:"id"`
	SubmissionID string     `gorm:"not null;index;size:64" json:"submission_id"`
	SampleNumber int        `gorm:"not null" json:"sample_number"`
	SampleName   string     `gorm:"not null;size:255" json:"sample_name"`
	SampleType   SampleType `gorm:"size:16" json:"sample_type"`

	// QC inputs, as extracted from the submission document.
	Concentration         *float64 `json:"concentration,omitempty"`           // ng/µL
	Volume                *float64 `json:"volume,omitempty"`                  // µL
	QubitConcentration    *float64 `json:"qubit_concentration,omitempty"`     // ng/µL
	NanodropConcentration *float64 `json:"nanodrop_concentration,omitempty"`  // ng/µL
	A260280               *float64 `gorm:"column:a260_280" json:"a260_280,omitempty"`
	A260230               *float64 `gorm:"column:a260_230" json:"a260_230,omitempty"`

	WorkflowStage Stage        `gorm:"not null;default:'sample_qc';size:32;index" json:"workflow_stage"`
	Status        SampleStatus `gorm:"not null;default:'submitted';size:16" json:"status"`
	Priority      Priority     `gorm:"not null;default:'normal';size:16" json:"priority"`
	AssignedTo    string       `gorm:"size:255" json:"assigned_to,omitempty"`
	LibraryPrepBy string       `gorm:"size:255" json:"library_prep_by,omitempty"`
	ChartField    string       `gorm:"size:64" json:"chart_field,omitempty"`

	SubmittedAt   time.Time  `gorm:"not null" json:"submitted_at"`
	PrepStartedAt *time.Time `json:"prep_started_at,omitempty"`
	SequencedAt   *time.Time `json:"sequenced_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Steps []ProcessingStep `gorm:"foreignKey:SampleID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// TableName maps Sample onto the legacy nanopore schema.
func (Sample) TableName() string { return "nanopore_samples" }

// TotalAmount returns concentration × volume in ng, or nil when either
// input is missing.
func (s *Sample) TotalAmount() *float64 {
	if s.Concentration == nil || s.Volume == nil {
		return nil
	}
	total := *s.Concentration * *s.Volume
	return &total
}
