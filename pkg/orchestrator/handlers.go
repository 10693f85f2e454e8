package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/workflow"
)

// maxSameErrorFailures is the poison threshold: a step failing this many
// times with the same error message stays failed and cannot be retried.
const maxSameErrorFailures = 3

func (o *Orchestrator) subscribe() {
	o.bus.Subscribe(events.SubjectSampleCreated, o.handleSampleCreated)
	o.bus.Subscribe(events.SubjectStepStarted, o.handleStepStarted)
	o.bus.Subscribe(events.SubjectStepCompleted, o.handleStepCompleted)
	o.bus.Subscribe(events.SubjectStepFailed, o.handleStepFailed)
	o.bus.Subscribe(events.SubjectPriorityChanged, o.handlePriorityChanged)
	o.bus.Subscribe(events.SubjectSampleStatusChanged, o.handleSampleStatusChanged)
	o.bus.Subscribe(events.SubjectSampleStatusChanged, o.aggregator.HandleSampleStatusChanged)
}

// handleSampleCreated ensures the sample's eight step rows exist and
// enqueues its ready steps. Intake already creates the rows in the ingest
// transaction; this handler backfills them only for samples created through
// other paths, and is a pure enqueue otherwise.
func (o *Orchestrator) handleSampleCreated(ctx context.Context, evt events.Event) error {
	var payload events.SampleCreatedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding sample.created: %w", err)
	}

	sample, err := o.store.GetSample(ctx, payload.SampleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Sample deleted before delivery; nothing to do.
			return nil
		}
		return err
	}

	steps, err := o.store.GetSampleSteps(ctx, sample.ID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		steps = o.buildStepRows()
		if err := o.store.CreateStepsBulk(ctx, sample.ID, steps); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// Lost a race with a duplicate delivery.
				steps, err = o.store.GetSampleSteps(ctx, sample.ID)
				if err != nil {
					return err
				}
			} else {
				return err
			}
		}
	}

	return o.enqueueReady(ctx, sample, steps)
}

// buildStepRows materializes the eight canonical step rows from the stage
// registry.
func (o *Orchestrator) buildStepRows() []*models.ProcessingStep {
	steps := make([]*models.ProcessingStep, len(models.CanonicalStages))
	for i, stage := range models.CanonicalStages {
		duration := 1.0
		if cfg, err := o.stages.Get(stage); err == nil {
			duration = cfg.EstimatedDurationHours
		}
		steps[i] = &models.ProcessingStep{
			StepName:               stage,
			StepOrder:              i + 1,
			StepStatus:             models.StepStatusPending,
			EstimatedDurationHours: duration,
		}
	}
	return steps
}

// handleStepStarted syncs the sample's workflow_stage and status with the
// step the runtime just dispatched. The runtime already performed the
// authoritative pending to in_progress transition.
func (o *Orchestrator) handleStepStarted(ctx context.Context, evt events.Event) error {
	var payload events.StepStartedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding step.started: %w", err)
	}

	step, err := o.store.GetStep(ctx, payload.StepID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if step.StepStatus != models.StepStatusInProgress {
		// The step already moved on; a stale started event must not rewind
		// the sample's stage.
		return nil
	}

	sample, err := o.store.GetSample(ctx, step.SampleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if sample.WorkflowStage != step.StepName {
		if err := o.store.UpdateSampleWorkflowStage(ctx, sample.ID, step.StepName); err != nil {
			return err
		}
	}
	return o.syncSampleStatus(ctx, sample, stageStatus(step.StepName))
}

// handleStepCompleted finalizes a successful step inside one transaction and
// enqueues the next ready stage.
func (o *Orchestrator) handleStepCompleted(ctx context.Context, evt events.Event) error {
	var payload events.StepCompletedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding step.completed: %w", err)
	}

	target := models.StepStatusCompleted
	if payload.Skipped {
		target = models.StepStatusSkipped
	}

	var (
		sample       *models.Sample
		steps        []*models.ProcessingStep
		workflowDone bool
	)
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.LockSample(ctx, payload.SampleID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		step, err := tx.GetStep(ctx, payload.StepID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		patch := store.StepPatch{Results: payload.Results}
		now := time.Now()
		patch.CompletedAt = &now
		if step.StartedAt != nil {
			hours := now.Sub(*step.StartedAt).Hours()
			patch.ActualDurationHours = &hours
		}
		if payload.QC != nil {
			passed := payload.QC.Passed
			patch.QCPassed = &passed
			notes := qcNotes(payload.QC)
			patch.QCNotes = &notes
		}

		transitioned, err := tx.TransitionStep(ctx, payload.StepID,
			models.StepStatusInProgress, target, patch)
		if err != nil {
			return err
		}
		if !transitioned {
			// Duplicate delivery; leave state untouched.
			return nil
		}

		sample, err = tx.GetSample(ctx, payload.SampleID)
		if err != nil {
			return err
		}
		steps, err = tx.GetSampleSteps(ctx, sample.ID)
		if err != nil {
			return err
		}

		newStage := workflow.CurrentStage(steps)
		if sample.WorkflowStage != newStage {
			if err := tx.UpdateSampleWorkflowStage(ctx, sample.ID, newStage); err != nil {
				return err
			}
			sample.WorkflowStage = newStage
		}

		if workflow.AllCompleted(steps) {
			if err := tx.MarkSampleCompleted(ctx, sample.ID, now); err != nil {
				return err
			}
			workflowDone = true
			if err := o.publisher.PublishTx(ctx, tx.DB(), events.SubjectSampleStatusChanged,
				events.SampleStatusChangedPayload{
					SampleID:     sample.ID,
					SubmissionID: sample.SubmissionID,
					OldStatus:    sample.Status,
					NewStatus:    models.SampleStatusCompleted,
				}); err != nil {
				return err
			}
			if err := o.publisher.PublishTx(ctx, tx.DB(), events.SubjectWorkflowCompleted,
				events.WorkflowCompletedPayload{
					SampleID:     sample.ID,
					SubmissionID: sample.SubmissionID,
				}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := o.registry.Delete(ctx, payload.StepID); err != nil {
		slog.Warn("Failed to drop completed step from registry",
			"step_id", payload.StepID, "error", err)
	}

	if sample == nil || workflowDone {
		return nil
	}
	return o.enqueueReady(ctx, sample, steps)
}

// handleStepFailed records the failure, tracks the poison counter, and
// surfaces the sample for manual remediation.
func (o *Orchestrator) handleStepFailed(ctx context.Context, evt events.Event) error {
	var payload events.StepFailedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding step.failed: %w", err)
	}

	var sample *models.Sample
	err := o.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.LockSample(ctx, payload.SampleID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		step, err := tx.GetStep(ctx, payload.StepID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		failures := 1
		if step.Notes == payload.Reason {
			failures = step.FailureCount + 1
		}
		notes := payload.Reason
		patch := store.StepPatch{Notes: &notes, FailureCount: &failures}
		if payload.QC != nil {
			passed := payload.QC.Passed
			patch.QCPassed = &passed
			qn := qcNotes(payload.QC)
			patch.QCNotes = &qn
		}

		transitioned, err := tx.TransitionStep(ctx, payload.StepID,
			models.StepStatusInProgress, models.StepStatusFailed, patch)
		if err != nil {
			return err
		}
		if !transitioned {
			return nil
		}

		sample, err = tx.GetSample(ctx, payload.SampleID)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if sample == nil {
		return nil
	}

	o.manager.RemoveStep(payload.StepID)
	if err := o.registry.Delete(ctx, payload.StepID); err != nil {
		slog.Warn("Failed to drop failed step from registry",
			"step_id", payload.StepID, "error", err)
	}
	if err := o.registry.RevokeLease(ctx, payload.StepID); err != nil {
		slog.Warn("Failed to revoke lease of failed step",
			"step_id", payload.StepID, "error", err)
	}

	slog.Warn("Step failed",
		"step_id", payload.StepID,
		"sample_id", payload.SampleID,
		"stage", payload.Stage,
		"reason", payload.Reason)

	return o.syncSampleStatus(ctx, sample, models.SampleStatusPrep)
}

// handlePriorityChanged reorders the sample's queued steps in place.
func (o *Orchestrator) handlePriorityChanged(ctx context.Context, evt events.Event) error {
	var payload events.PriorityChangedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding priority.changed: %w", err)
	}

	steps, err := o.store.GetSampleSteps(ctx, payload.SampleID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.StepStatus != models.StepStatusPending {
			continue
		}
		q := o.manager.Queue(step.StepName)
		if q == nil {
			continue
		}
		q.Reorder(step.ID, func(p *store.PendingStep) {
			p.Priority = payload.NewPriority
		})
	}
	return nil
}

// handleSampleStatusChanged drops queued work for archived samples.
func (o *Orchestrator) handleSampleStatusChanged(ctx context.Context, evt events.Event) error {
	var payload events.SampleStatusChangedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding sample.status_changed: %w", err)
	}
	if payload.NewStatus != models.SampleStatusArchived {
		return nil
	}

	steps, err := o.store.GetSampleSteps(ctx, payload.SampleID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.StepStatus == models.StepStatusPending {
			o.manager.RemoveStep(step.ID)
		}
	}
	return nil
}

// syncSampleStatus moves the sample to the given status if it differs,
// publishing sample.status_changed. Terminal statuses are never overwritten
// by derived stage statuses.
func (o *Orchestrator) syncSampleStatus(ctx context.Context, sample *models.Sample, status models.SampleStatus) error {
	if sample.Status == status {
		return nil
	}
	switch sample.Status {
	case models.SampleStatusCompleted, models.SampleStatusDistributed, models.SampleStatusArchived:
		return nil
	}

	if err := o.store.UpdateSampleStatus(ctx, sample.ID, status); err != nil {
		return err
	}
	return o.publisher.Publish(ctx, events.SubjectSampleStatusChanged,
		events.SampleStatusChangedPayload{
			SampleID:     sample.ID,
			SubmissionID: sample.SubmissionID,
			OldStatus:    sample.Status,
			NewStatus:    status,
		})
}

// stageStatus maps an active stage to the sample status it implies.
func stageStatus(stage models.Stage) models.SampleStatus {
	switch stage {
	case models.StageLibraryPrep, models.StageLibraryQC:
		return models.SampleStatusPrep
	case models.StageSequencingSetup, models.StageSequencingRun:
		return models.SampleStatusSequencing
	case models.StageBasecalling, models.StageQualityAssessment, models.StageDataDelivery:
		return models.SampleStatusAnalysis
	}
	return models.SampleStatusSubmitted
}

// qcNotes summarizes a QC verdict for the step row.
func qcNotes(qc *models.QCResult) string {
	if len(qc.Issues) == 0 {
		return fmt.Sprintf("score %d", qc.Score)
	}
	notes := fmt.Sprintf("score %d;", qc.Score)
	for _, issue := range qc.Issues {
		notes += fmt.Sprintf(" [%s] %s: %s;", issue.Severity, issue.Field, issue.Message)
	}
	return notes
}
