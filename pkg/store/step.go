package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/nanotrack/pkg/models"
)

// priorityRankSQL orders samples urgent > high > normal > low in SQL.
const priorityRankSQL = `CASE nanopore_samples.priority
	WHEN 'urgent' THEN 3
	WHEN 'high' THEN 2
	WHEN 'normal' THEN 1
	ELSE 0 END`

// PendingStep is the queue-facing projection of a pending step joined with
// the ordering fields of its sample and submission.
type PendingStep struct {
	StepID                 string          `json:"step_id"`
	SampleID               string          `json:"sample_id"`
	StepName               models.Stage    `json:"step_name"`
	Priority               models.Priority `json:"priority"`
	SubmissionDate         time.Time       `json:"submission_date"`
	SampleNumber           int             `json:"sample_number"`
	EstimatedDurationHours float64         `json:"estimated_duration_hours"`
}

// CreateStepsBulk inserts a sample's step rows. Called inside the intake
// transaction so sample and steps appear atomically.
func (s *Store) CreateStepsBulk(ctx context.Context, sampleID string, steps []*models.ProcessingStep) error {
	if len(steps) == 0 {
		return nil
	}
	for _, step := range steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.SampleID = sampleID
		if step.StepStatus == "" {
			step.StepStatus = models.StepStatusPending
		}
	}
	return withRetry(ctx, s.opRetry(), "create_steps", func() error {
		if err := s.db.WithContext(ctx).CreateInBatches(steps, 100).Error; err != nil {
			return fmt.Errorf("creating steps: %w", translate(err))
		}
		return nil
	})
}

// GetStep retrieves a step by id.
func (s *Store) GetStep(ctx context.Context, id string) (*models.ProcessingStep, error) {
	var step models.ProcessingStep
	err := withRetry(ctx, s.opRetry(), "get_step", func() error {
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&step).Error; err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// GetSampleSteps lists a sample's steps in canonical order.
func (s *Store) GetSampleSteps(ctx context.Context, sampleID string) ([]*models.ProcessingStep, error) {
	var steps []*models.ProcessingStep
	err := withRetry(ctx, s.opRetry(), "list_sample_steps", func() error {
		steps = nil
		if err := s.db.WithContext(ctx).
			Where("sample_id = ?", sampleID).
			Order("step_order ASC").
			Find(&steps).Error; err != nil {
			return fmt.Errorf("listing sample steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetStepDependencies returns the sample's step rows for the given stages.
func (s *Store) GetStepDependencies(ctx context.Context, sampleID string, stages []models.Stage) ([]*models.ProcessingStep, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	var steps []*models.ProcessingStep
	err := withRetry(ctx, s.opRetry(), "list_step_dependencies", func() error {
		steps = nil
		if err := s.db.WithContext(ctx).
			Where("sample_id = ? AND step_name IN ?", sampleID, stages).
			Order("step_order ASC").
			Find(&steps).Error; err != nil {
			return fmt.Errorf("listing step dependencies: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetPendingSteps returns up to limit pending steps of a stage in priority
// order. The reconciler filters these through the dependency resolver before
// enqueueing.
func (s *Store) GetPendingSteps(ctx context.Context, stage models.Stage, limit int) ([]*PendingStep, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*PendingStep
	err := withRetry(ctx, s.opRetry(), "list_pending_steps", func() error {
		rows = nil
		if err := s.db.WithContext(ctx).
			Table("nanopore_processing_steps").
			Select(`nanopore_processing_steps.id AS step_id,
				nanopore_processing_steps.sample_id,
				nanopore_processing_steps.step_name,
				nanopore_processing_steps.estimated_duration_hours,
				nanopore_samples.priority,
				nanopore_samples.sample_number,
				nanopore_submissions.submission_date`).
			Joins("JOIN nanopore_samples ON nanopore_samples.id = nanopore_processing_steps.sample_id").
			Joins("JOIN nanopore_submissions ON nanopore_submissions.id = nanopore_samples.submission_id").
			Where("nanopore_processing_steps.step_status = ? AND nanopore_processing_steps.step_name = ?",
				models.StepStatusPending, stage).
			Order(priorityRankSQL + " DESC").
			Order("nanopore_submissions.submission_date ASC").
			Order("nanopore_samples.sample_number ASC").
			Limit(limit).
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("listing pending steps for %s: %w", stage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListQueue returns pending steps across all stages in dispatch order, for
// the queue inspection endpoint.
func (s *Store) ListQueue(ctx context.Context, limit int) ([]*PendingStep, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []*PendingStep
	err := withRetry(ctx, s.opRetry(), "list_queue", func() error {
		rows = nil
		if err := s.db.WithContext(ctx).
			Table("nanopore_processing_steps").
			Select(`nanopore_processing_steps.id AS step_id,
				nanopore_processing_steps.sample_id,
				nanopore_processing_steps.step_name,
				nanopore_processing_steps.estimated_duration_hours,
				nanopore_samples.priority,
				nanopore_samples.sample_number,
				nanopore_submissions.submission_date`).
			Joins("JOIN nanopore_samples ON nanopore_samples.id = nanopore_processing_steps.sample_id").
			Joins("JOIN nanopore_submissions ON nanopore_submissions.id = nanopore_samples.submission_id").
			Where("nanopore_processing_steps.step_status = ?", models.StepStatusPending).
			Order(priorityRankSQL + " DESC").
			Order("nanopore_submissions.submission_date ASC").
			Order("nanopore_samples.sample_number ASC").
			Limit(limit).
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("listing queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInProgressSteps returns every step currently marked in_progress. Used to
// rehydrate the step registry on orchestrator start.
func (s *Store) GetInProgressSteps(ctx context.Context) ([]*models.ProcessingStep, error) {
	var steps []*models.ProcessingStep
	err := withRetry(ctx, s.opRetry(), "list_in_progress_steps", func() error {
		steps = nil
		if err := s.db.WithContext(ctx).
			Where("step_status = ?", models.StepStatusInProgress).
			Find(&steps).Error; err != nil {
			return fmt.Errorf("listing in-progress steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// CountFailedSteps returns the number of failed steps across all samples.
func (s *Store) CountFailedSteps(ctx context.Context) (int64, error) {
	var n int64
	err := withRetry(ctx, s.opRetry(), "count_failed_steps", func() error {
		if err := s.db.WithContext(ctx).
			Model(&models.ProcessingStep{}).
			Where("step_status = ?", models.StepStatusFailed).
			Count(&n).Error; err != nil {
			return fmt.Errorf("counting failed steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CountSamples returns total and per-status sample counts across all
// submissions, for the aggregate status endpoint.
func (s *Store) CountSamples(ctx context.Context) (total int64, byStatus map[models.SampleStatus]int64, err error) {
	type row struct {
		Status models.SampleStatus
		N      int64
	}
	var rows []row
	err = withRetry(ctx, s.opRetry(), "count_samples", func() error {
		rows = nil
		if err := s.db.WithContext(ctx).
			Model(&models.Sample{}).
			Select("status, COUNT(*) AS n").
			Group("status").
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("counting samples: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	byStatus = make(map[models.SampleStatus]int64, len(rows))
	for _, r := range rows {
		byStatus[r.Status] = r.N
		total += r.N
	}
	return total, byStatus, nil
}

// StepPatch is a targeted field update for a processing step. Nil fields are
// left untouched. ExpectedUpdatedAt, when set, makes the update optimistic:
// the write fails with ErrConcurrentModification if the row changed since.
type StepPatch struct {
	StepStatus          *models.StepStatus
	AssignedTo          *string
	StartedAt           *time.Time
	CompletedAt         *time.Time
	ActualDurationHours *float64
	Notes               *string
	Results             models.JSONMap
	QCPassed            *bool
	QCNotes             *string
	FailureCount        *int

	ExpectedUpdatedAt *time.Time
}

// UpdateStep applies a targeted patch to a step.
func (s *Store) UpdateStep(ctx context.Context, id string, patch StepPatch) error {
	fields := map[string]any{"updated_at": time.Now()}
	if patch.StepStatus != nil {
		fields["step_status"] = *patch.StepStatus
	}
	if patch.AssignedTo != nil {
		fields["assigned_to"] = *patch.AssignedTo
	}
	if patch.StartedAt != nil {
		fields["started_at"] = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		fields["completed_at"] = *patch.CompletedAt
	}
	if patch.ActualDurationHours != nil {
		fields["actual_duration_hours"] = *patch.ActualDurationHours
	}
	if patch.Notes != nil {
		fields["notes"] = *patch.Notes
	}
	if patch.Results != nil {
		fields["results"] = patch.Results
	}
	if patch.QCPassed != nil {
		fields["qc_passed"] = *patch.QCPassed
	}
	if patch.QCNotes != nil {
		fields["qc_notes"] = *patch.QCNotes
	}
	if patch.FailureCount != nil {
		fields["failure_count"] = *patch.FailureCount
	}

	return withRetry(ctx, s.opRetry(), "update_step", func() error {
		query := s.db.WithContext(ctx).
			Model(&models.ProcessingStep{}).
			Where("id = ?", id)
		if patch.ExpectedUpdatedAt != nil {
			query = query.Where("updated_at = ?", *patch.ExpectedUpdatedAt)
		}

		res := query.Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("updating step %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			if _, err := s.GetStep(ctx, id); err != nil {
				return err
			}
			return ErrConcurrentModification
		}
		return nil
	})
}

// TransitionStep conditionally moves a step from one status to another in a
// single conditional write. Returns false when the step was not in the
// expected state, which makes duplicate event deliveries harmless.
func (s *Store) TransitionStep(ctx context.Context, id string, from, to models.StepStatus, patch StepPatch) (bool, error) {
	fields := map[string]any{
		"step_status": to,
		"updated_at":  time.Now(),
	}
	if patch.AssignedTo != nil {
		fields["assigned_to"] = *patch.AssignedTo
	}
	if patch.StartedAt != nil {
		fields["started_at"] = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		fields["completed_at"] = *patch.CompletedAt
	}
	if patch.ActualDurationHours != nil {
		fields["actual_duration_hours"] = *patch.ActualDurationHours
	}
	if patch.Notes != nil {
		fields["notes"] = *patch.Notes
	}
	if patch.Results != nil {
		fields["results"] = patch.Results
	}
	if patch.QCPassed != nil {
		fields["qc_passed"] = *patch.QCPassed
	}
	if patch.QCNotes != nil {
		fields["qc_notes"] = *patch.QCNotes
	}
	if patch.FailureCount != nil {
		fields["failure_count"] = *patch.FailureCount
	}

	var transitioned bool
	err := withRetry(ctx, s.opRetry(), "transition_step", func() error {
		res := s.db.WithContext(ctx).
			Model(&models.ProcessingStep{}).
			Where("id = ? AND step_status = ?", id, from).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("transitioning step %s %s->%s: %w", id, from, to, res.Error)
		}
		transitioned = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return transitioned, nil
}
