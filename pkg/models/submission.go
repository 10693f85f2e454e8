// Package models defines the persisted entities and enumerations for the
// nanopore workflow: submissions, samples, processing steps, and the QC
// verdict types produced by the Sample QC stage.
package models

import "time"

// Submission is a batch of samples sharing submitter and project metadata.
// Counters and status are maintained by the submission aggregator; the intake
// adapter only creates rows and corrects metadata.
type Submission struct {
	ID               string           `gorm:"primaryKey;column:id" json:"id"`
	SubmissionNumber string           `gorm:"uniqueIndex;not null;size:64" json:"submission_number"`
	PDFFilename      string           `gorm:"not null;size:255" json:"pdf_filename"`
	SubmitterName    string           `gorm:"size:255" json:"submitter_name"`
	SubmitterEmail   string           `gorm:"size:255" json:"submitter_email"`
	Organization     string           `gorm:"size:255" json:"organization,omitempty"`
	ProjectName      string           `gorm:"size:255" json:"project_name,omitempty"`
	Priority         Priority         `gorm:"not null;default:'normal';size:16" json:"priority"`
	Status           SubmissionStatus `gorm:"not null;default:'pending';size:16;index" json:"status"`
	SampleCount      int              `gorm:"not null;default:0" json:"sample_count"`
	SamplesCompleted int              `gorm:"not null;default:0" json:"samples_completed"`
	OwnerID          string           `gorm:"size:64" json:"owner_id,omitempty"`
	SubmissionDate   time.Time        `gorm:"not null;index" json:"submission_date"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`

	Samples []Sample `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"samples,omitempty"`
}

// TableName maps Submission onto the legacy nanopore schema.
func (Submission) TableName() string { return "nanopore_submissions" }
