package models

// Priority represents the scheduling priority of a submission or sample.
type Priority string

// Priority values, lowest to highest.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether the priority is one of the recognized values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank returns the numeric ordering of the priority (higher = dispatched first).
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return 0
}

// SubmissionStatus represents the aggregate status of a submission.
type SubmissionStatus string

// Submission status values.
const (
	SubmissionStatusPending    SubmissionStatus = "pending"
	SubmissionStatusProcessing SubmissionStatus = "processing"
	SubmissionStatusCompleted  SubmissionStatus = "completed"
	SubmissionStatusFailed     SubmissionStatus = "failed"
)

// SampleStatus represents the lifecycle status of a sample.
type SampleStatus string

// Sample status values.
const (
	SampleStatusSubmitted   SampleStatus = "submitted"
	SampleStatusPrep        SampleStatus = "prep"
	SampleStatusSequencing  SampleStatus = "sequencing"
	SampleStatusAnalysis    SampleStatus = "analysis"
	SampleStatusCompleted   SampleStatus = "completed"
	SampleStatusDistributed SampleStatus = "distributed"
	SampleStatusArchived    SampleStatus = "archived"
	SampleStatusFailed      SampleStatus = "failed"
)

// Valid reports whether the sample status is a recognized value.
func (s SampleStatus) Valid() bool {
	switch s {
	case SampleStatusSubmitted, SampleStatusPrep, SampleStatusSequencing,
		SampleStatusAnalysis, SampleStatusCompleted, SampleStatusDistributed,
		SampleStatusArchived, SampleStatusFailed:
		return true
	}
	return false
}

// StepStatus represents the state of a single processing step.
type StepStatus string

// Step status values.
const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// SampleType classifies the biological material of a sample.
type SampleType string

// Sample type values.
const (
	SampleTypeDNA     SampleType = "DNA"
	SampleTypeRNA     SampleType = "RNA"
	SampleTypeProtein SampleType = "Protein"
	SampleTypeOther   SampleType = "Other"
)

// Valid reports whether the sample type is a recognized value.
func (t SampleType) Valid() bool {
	switch t {
	case SampleTypeDNA, SampleTypeRNA, SampleTypeProtein, SampleTypeOther:
		return true
	}
	return false
}

// Stage identifies one of the eight canonical workflow stages.
type Stage string

// The eight canonical stages, in workflow order.
const (
	StageSampleQC          Stage = "sample_qc"
	StageLibraryPrep       Stage = "library_prep"
	StageLibraryQC         Stage = "library_qc"
	StageSequencingSetup   Stage = "sequencing_setup"
	StageSequencingRun     Stage = "sequencing_run"
	StageBasecalling       Stage = "basecalling"
	StageQualityAssessment Stage = "quality_assessment"
	StageDataDelivery      Stage = "data_delivery"
)

// CanonicalStages lists the eight stages in workflow order.
// Step order is the 1-based index into this slice.
var CanonicalStages = []Stage{
	StageSampleQC,
	StageLibraryPrep,
	StageLibraryQC,
	StageSequencingSetup,
	StageSequencingRun,
	StageBasecalling,
	StageQualityAssessment,
	StageDataDelivery,
}

// Valid reports whether the stage is one of the eight canonical stages.
func (s Stage) Valid() bool {
	for _, c := range CanonicalStages {
		if s == c {
			return true
		}
	}
	return false
}

// Order returns the 1-based position of the stage in the workflow,
// or 0 for an unknown stage.
func (s Stage) Order() int {
	for i, c := range CanonicalStages {
		if s == c {
			return i + 1
		}
	}
	return 0
}
