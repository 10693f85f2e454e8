package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/workflow"
)

// IngestRequest is the intake payload: one submission with its samples, as
// produced by the external document extractor.
type IngestRequest struct {
	Submission *models.Submission
	Samples    []*models.Sample
}

// IngestResult reports what intake created.
type IngestResult struct {
	SubmissionID   string   `json:"submissionId"`
	SamplesCreated int      `json:"samples_created"`
	Errors         []string `json:"errors"`
}

// Ingest creates the submission, its samples, and their eight step rows in a
// single transaction, then publishes sample.created for each sample. Samples
// inherit the submission priority unless they carry their own.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.Submission == nil {
		return nil, store.NewValidationError("submission", "required")
	}

	result := &IngestResult{Errors: []string{}}
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		sub := req.Submission
		sub.SampleCount = len(req.Samples)
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return err
		}
		result.SubmissionID = sub.ID

		for _, sample := range req.Samples {
			if sample.Priority == "" {
				sample.Priority = sub.Priority
			}
		}
		ids, err := tx.CreateSamplesBulk(ctx, sub.ID, req.Samples)
		if err != nil {
			return err
		}

		for i, id := range ids {
			if err := tx.CreateStepsBulk(ctx, id, o.buildStepRows()); err != nil {
				return err
			}
			if err := o.publisher.PublishTx(ctx, tx.DB(), events.SubjectSampleCreated,
				events.SampleCreatedPayload{
					SampleID:     id,
					SubmissionID: sub.ID,
					SampleNumber: req.Samples[i].SampleNumber,
				}); err != nil {
				return err
			}
		}
		result.SamplesCreated = len(ids)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Submission ingested",
		"submission_id", result.SubmissionID,
		"samples", result.SamplesCreated)
	return result, nil
}

// PauseSample halts a sample: queued steps are withdrawn and in-progress
// steps are reverted to pending after their leases are revoked. Completed,
// failed, and skipped steps are untouched.
func (o *Orchestrator) PauseSample(ctx context.Context, sampleID string) error {
	sample, err := o.store.GetSample(ctx, sampleID)
	if err != nil {
		return err
	}
	if sample.Status == models.SampleStatusArchived {
		return fmt.Errorf("%w: sample is archived", store.ErrConflict)
	}

	o.manager.PauseSample(sampleID)

	steps, err := o.store.GetSampleSteps(ctx, sampleID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		switch step.StepStatus {
		case models.StepStatusPending:
			o.manager.RemoveStep(step.ID)
		case models.StepStatusInProgress:
			if err := o.registry.RevokeLease(ctx, step.ID); err != nil {
				slog.Warn("Failed to revoke lease on pause", "step_id", step.ID, "error", err)
			}
			reverted, err := o.store.TransitionStep(ctx, step.ID,
				models.StepStatusInProgress, models.StepStatusPending, store.StepPatch{})
			if err != nil {
				return err
			}
			if reverted {
				if err := o.registry.Delete(ctx, step.ID); err != nil {
					slog.Warn("Failed to drop paused step from registry",
						"step_id", step.ID, "error", err)
				}
			}
		}
	}

	slog.Info("Sample paused", "sample_id", sampleID)
	return nil
}

// ResumeSample lifts a sample's pause and re-enqueues its first ready step.
func (o *Orchestrator) ResumeSample(ctx context.Context, sampleID string) error {
	sample, err := o.store.GetSample(ctx, sampleID)
	if err != nil {
		return err
	}
	if sample.Status == models.SampleStatusArchived {
		return fmt.Errorf("%w: sample is archived", store.ErrConflict)
	}

	o.manager.ResumeSample(sampleID)

	steps, err := o.store.GetSampleSteps(ctx, sampleID)
	if err != nil {
		return err
	}
	if err := o.enqueueReady(ctx, sample, steps); err != nil {
		return err
	}

	slog.Info("Sample resumed", "sample_id", sampleID)
	return nil
}

// RetryStep moves a failed step back to pending, clearing its notes and
// lease. Steps past the poison threshold are refused.
func (o *Orchestrator) RetryStep(ctx context.Context, stepID string) error {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if step.StepStatus != models.StepStatusFailed {
		return fmt.Errorf("%w: step is %s, only failed steps can be retried",
			store.ErrConflict, step.StepStatus)
	}
	if step.FailureCount >= maxSameErrorFailures {
		return fmt.Errorf("%w: step failed %d times with the same error",
			store.ErrConflict, step.FailureCount)
	}

	notes := ""
	transitioned, err := o.store.TransitionStep(ctx, stepID,
		models.StepStatusFailed, models.StepStatusPending,
		store.StepPatch{Notes: &notes})
	if err != nil {
		return err
	}
	if !transitioned {
		return fmt.Errorf("%w: step left the failed state", store.ErrConflict)
	}

	if err := o.registry.RevokeLease(ctx, stepID); err != nil {
		slog.Warn("Failed to revoke lease on retry", "step_id", stepID, "error", err)
	}
	if err := o.registry.Delete(ctx, stepID); err != nil {
		slog.Warn("Failed to drop retried step from registry", "step_id", stepID, "error", err)
	}

	sample, err := o.store.GetSample(ctx, step.SampleID)
	if err != nil {
		return err
	}
	steps, err := o.store.GetSampleSteps(ctx, step.SampleID)
	if err != nil {
		return err
	}

	slog.Info("Step retried", "step_id", stepID, "stage", step.StepName)
	return o.enqueueReady(ctx, sample, steps)
}

// ChangePriority updates a sample's priority and publishes priority.changed.
// Setting the current value is a no-op.
func (o *Orchestrator) ChangePriority(ctx context.Context, sampleID string, priority models.Priority) error {
	if !priority.Valid() {
		return store.NewValidationError("priority", fmt.Sprintf("invalid value %q", priority))
	}

	sample, err := o.store.GetSample(ctx, sampleID)
	if err != nil {
		return err
	}
	if sample.Priority == priority {
		return nil
	}

	if err := o.store.UpdateSamplePriority(ctx, sampleID, priority); err != nil {
		return err
	}
	return o.publisher.Publish(ctx, events.SubjectPriorityChanged,
		events.PriorityChangedPayload{
			SampleID:    sampleID,
			OldPriority: sample.Priority,
			NewPriority: priority,
		})
}

// SkipStep marks a pending step as skipped (operator action).
func (o *Orchestrator) SkipStep(ctx context.Context, stepID string) error {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if step.StepStatus != models.StepStatusPending {
		return fmt.Errorf("%w: step is %s, only pending steps can be skipped",
			store.ErrConflict, step.StepStatus)
	}

	now := time.Now()
	transitioned, err := o.store.TransitionStep(ctx, stepID,
		models.StepStatusPending, models.StepStatusSkipped,
		store.StepPatch{CompletedAt: &now})
	if err != nil {
		return err
	}
	if !transitioned {
		return fmt.Errorf("%w: step left the pending state", store.ErrConflict)
	}
	o.manager.RemoveStep(stepID)
	return nil
}

// SampleWorkflow returns the sample with its steps in canonical order.
func (o *Orchestrator) SampleWorkflow(ctx context.Context, sampleID string) (*models.Sample, []*models.ProcessingStep, error) {
	sample, err := o.store.GetSample(ctx, sampleID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := o.store.GetSampleSteps(ctx, sampleID)
	if err != nil {
		return nil, nil, err
	}
	return sample, steps, nil
}

// WorkflowStatus is the aggregate view served by the status endpoint.
type WorkflowStatus struct {
	TotalSamples     int64                `json:"totalSamples"`
	ActiveSamples    int64                `json:"activeSamples"`
	CompletedSamples int64                `json:"completedSamples"`
	FailedSteps      int64                `json:"failedSteps"`
	QueueLengths     map[models.Stage]int `json:"queueLengths"`
	PausedStages     []models.Stage       `json:"pausedStages,omitempty"`
}

// Status computes the aggregate workflow counters.
func (o *Orchestrator) Status(ctx context.Context) (*WorkflowStatus, error) {
	total, byStatus, err := o.store.CountSamples(ctx)
	if err != nil {
		return nil, err
	}
	failedSteps, err := o.store.CountFailedSteps(ctx)
	if err != nil {
		return nil, err
	}

	completed := byStatus[models.SampleStatusCompleted]
	inactive := completed +
		byStatus[models.SampleStatusDistributed] +
		byStatus[models.SampleStatusArchived] +
		byStatus[models.SampleStatusFailed]

	return &WorkflowStatus{
		TotalSamples:     total,
		ActiveSamples:    total - inactive,
		CompletedSamples: completed,
		FailedSteps:      failedSteps,
		QueueLengths:     o.manager.Depths(),
		PausedStages:     o.manager.PausedStages(),
	}, nil
}

// Queue lists pending steps across all stages in dispatch order.
func (o *Orchestrator) Queue(ctx context.Context, limit int) ([]*store.PendingStep, error) {
	return o.store.ListQueue(ctx, limit)
}

// ResolveReady recomputes a sample's ready steps; used by diagnostics.
func (o *Orchestrator) ResolveReady(ctx context.Context, sampleID string) ([]*models.ProcessingStep, error) {
	steps, err := o.store.GetSampleSteps(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.New("sample has no steps")
	}
	return workflow.ReadySteps(steps), nil
}
