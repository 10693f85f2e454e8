package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/seqlab/nanotrack/pkg/models"
)

// CreateSubmission inserts a new submission row.
func (s *Store) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.PDFFilename == "" {
		return NewValidationError("pdf_filename", "required")
	}
	if sub.SubmissionNumber == "" {
		return NewValidationError("submission_number", "required")
	}
	if sub.Priority == "" {
		sub.Priority = models.PriorityNormal
	}
	if !sub.Priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("invalid value %q", sub.Priority))
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionStatusPending
	}
	if sub.SubmissionDate.IsZero() {
		sub.SubmissionDate = time.Now()
	}

	return withRetry(ctx, s.opRetry(), "create_submission", func() error {
		if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
			return fmt.Errorf("creating submission: %w", translate(err))
		}
		return nil
	})
}

// GetSubmission retrieves a submission by id, optionally preloading samples.
func (s *Store) GetSubmission(ctx context.Context, id string, withSamples bool) (*models.Submission, error) {
	var sub models.Submission
	err := withRetry(ctx, s.opRetry(), "get_submission", func() error {
		query := s.db.WithContext(ctx)
		if withSamples {
			query = query.Preload("Samples", func(db *gorm.DB) *gorm.DB {
				return db.Order("sample_number ASC")
			})
		}
		if err := query.Where("id = ?", id).First(&sub).Error; err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubmissionFilters narrows ListSubmissions results.
type SubmissionFilters struct {
	Status models.SubmissionStatus
	Limit  int
	Offset int
}

// ListSubmissions lists submissions newest-first with optional status filter.
func (s *Store) ListSubmissions(ctx context.Context, filters SubmissionFilters) ([]*models.Submission, int64, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var (
		subs  []*models.Submission
		total int64
	)
	err := withRetry(ctx, s.opRetry(), "list_submissions", func() error {
		subs, total = nil, 0
		query := s.db.WithContext(ctx).Model(&models.Submission{})
		if filters.Status != "" {
			query = query.Where("status = ?", filters.Status)
		}
		if err := query.Count(&total).Error; err != nil {
			return fmt.Errorf("counting submissions: %w", err)
		}
		if err := query.Order("submission_date DESC").
			Limit(limit).Offset(filters.Offset).
			Find(&subs).Error; err != nil {
			return fmt.Errorf("listing submissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// CountSamplesByStatus returns the number of samples in each status for a
// submission. Used by the aggregator to derive submission counters.
func (s *Store) CountSamplesByStatus(ctx context.Context, submissionID string) (map[models.SampleStatus]int, error) {
	type row struct {
		Status models.SampleStatus
		N      int
	}
	var rows []row
	err := withRetry(ctx, s.opRetry(), "count_samples_by_status", func() error {
		rows = nil
		if err := s.db.WithContext(ctx).
			Model(&models.Sample{}).
			Select("status, COUNT(*) AS n").
			Where("submission_id = ?", submissionID).
			Group("status").
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("counting samples by status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SampleStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// UpdateSubmissionAggregate writes the derived counters and status computed
// by the aggregator.
func (s *Store) UpdateSubmissionAggregate(ctx context.Context, id string, sampleCount, samplesCompleted int, status models.SubmissionStatus) error {
	return withRetry(ctx, s.opRetry(), "update_submission_aggregate", func() error {
		res := s.db.WithContext(ctx).
			Model(&models.Submission{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"sample_count":      sampleCount,
				"samples_completed": samplesCompleted,
				"status":            status,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("updating submission aggregate: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
