package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/nanotrack/pkg/models"
)

// CreateSamplesBulk inserts sample rows for a submission in one statement.
// Returns the generated ids in input order.
func (s *Store) CreateSamplesBulk(ctx context.Context, submissionID string, samples []*models.Sample) ([]string, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	now := time.Now()
	ids := make([]string, len(samples))
	for i, sample := range samples {
		if sample.SampleName == "" {
			return nil, NewValidationError("sample_name", fmt.Sprintf("required (sample %d)", i+1))
		}
		if sample.SampleType != "" && !sample.SampleType.Valid() {
			return nil, NewValidationError("sample_type", fmt.Sprintf("invalid value %q", sample.SampleType))
		}
		if sample.ID == "" {
			sample.ID = uuid.New().String()
		}
		sample.SubmissionID = submissionID
		if sample.SampleNumber == 0 {
			sample.SampleNumber = i + 1
		}
		if sample.Status == "" {
			sample.Status = models.SampleStatusSubmitted
		}
		if sample.WorkflowStage == "" {
			sample.WorkflowStage = models.StageSampleQC
		}
		if sample.Priority == "" {
			sample.Priority = models.PriorityNormal
		}
		if sample.SubmittedAt.IsZero() {
			sample.SubmittedAt = now
		}
		ids[i] = sample.ID
	}

	err := withRetry(ctx, s.opRetry(), "create_samples", func() error {
		if err := s.db.WithContext(ctx).CreateInBatches(samples, 100).Error; err != nil {
			return fmt.Errorf("creating samples: %w", translate(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetSample retrieves a sample by id.
func (s *Store) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	var sample models.Sample
	err := withRetry(ctx, s.opRetry(), "get_sample", func() error {
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sample).Error; err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// GetSubmissionSamples lists a submission's samples ordered by sample number.
func (s *Store) GetSubmissionSamples(ctx context.Context, submissionID string) ([]*models.Sample, error) {
	var samples []*models.Sample
	err := withRetry(ctx, s.opRetry(), "list_submission_samples", func() error {
		samples = nil
		if err := s.db.WithContext(ctx).
			Where("submission_id = ?", submissionID).
			Order("sample_number ASC").
			Find(&samples).Error; err != nil {
			return fmt.Errorf("listing submission samples: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// UpdateSampleStatus sets a sample's status.
func (s *Store) UpdateSampleStatus(ctx context.Context, id string, status models.SampleStatus) error {
	if !status.Valid() {
		return NewValidationError("status", fmt.Sprintf("invalid value %q", status))
	}
	return s.updateSampleFields(ctx, id, map[string]any{"status": status})
}

// UpdateSamplePriority sets a sample's priority.
func (s *Store) UpdateSamplePriority(ctx context.Context, id string, priority models.Priority) error {
	if !priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("invalid value %q", priority))
	}
	return s.updateSampleFields(ctx, id, map[string]any{"priority": priority})
}

// UpdateSampleWorkflowStage sets the sample's current workflow stage.
func (s *Store) UpdateSampleWorkflowStage(ctx context.Context, id string, stage models.Stage) error {
	if !stage.Valid() {
		return NewValidationError("workflow_stage", fmt.Sprintf("invalid value %q", stage))
	}
	return s.updateSampleFields(ctx, id, map[string]any{"workflow_stage": stage})
}

// MarkSampleCompleted sets terminal status and completion timestamp.
func (s *Store) MarkSampleCompleted(ctx context.Context, id string, at time.Time) error {
	return s.updateSampleFields(ctx, id, map[string]any{
		"status":       models.SampleStatusCompleted,
		"completed_at": at,
	})
}

func (s *Store) updateSampleFields(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return withRetry(ctx, s.opRetry(), "update_sample", func() error {
		res := s.db.WithContext(ctx).
			Model(&models.Sample{}).
			Where("id = ?", id).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("updating sample %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
