// Package workflow holds the pure domain logic of the pipeline: the stage
// dependency resolver and the Sample QC scoring rules.
package workflow

import "github.com/seqlab/nanotrack/pkg/models"

// Dependencies returns the stages that must be completed before the given
// stage may start. The canonical pipeline is a linear chain, so every stage
// except the first depends on exactly its predecessor.
func Dependencies(stage models.Stage) []models.Stage {
	order := stage.Order()
	if order <= 1 {
		return nil
	}
	return []models.Stage{models.CanonicalStages[order-2]}
}

// NextStage returns the stage following the given one, or "" at the end of
// the pipeline.
func NextStage(stage models.Stage) models.Stage {
	order := stage.Order()
	if order == 0 || order >= len(models.CanonicalStages) {
		return ""
	}
	return models.CanonicalStages[order]
}

// Ready reports whether a step may transition to in_progress: it must be
// pending and every dependency step of its sample must be completed.
func Ready(step *models.ProcessingStep, sampleSteps []*models.ProcessingStep) bool {
	if step.StepStatus != models.StepStatusPending {
		return false
	}
	byStage := make(map[models.Stage]*models.ProcessingStep, len(sampleSteps))
	for _, s := range sampleSteps {
		byStage[s.StepName] = s
	}
	for _, dep := range Dependencies(step.StepName) {
		depStep, ok := byStage[dep]
		if !ok || depStep.StepStatus != models.StepStatusCompleted {
			return false
		}
	}
	return true
}

// ReadySteps returns the subset of a sample's steps that are ready to run.
// For the linear pipeline this is at most one step, but the resolver does
// not assume linearity.
func ReadySteps(sampleSteps []*models.ProcessingStep) []*models.ProcessingStep {
	var ready []*models.ProcessingStep
	for _, step := range sampleSteps {
		if Ready(step, sampleSteps) {
			ready = append(ready, step)
		}
	}
	return ready
}

// CurrentStage derives the sample's workflow stage from its steps: the stage
// of the in-progress step if any, otherwise the earliest non-completed step,
// otherwise the final stage.
func CurrentStage(sampleSteps []*models.ProcessingStep) models.Stage {
	for _, step := range sampleSteps {
		if step.StepStatus == models.StepStatusInProgress {
			return step.StepName
		}
	}
	for _, stage := range models.CanonicalStages {
		for _, step := range sampleSteps {
			if step.StepName == stage && step.StepStatus != models.StepStatusCompleted {
				return stage
			}
		}
	}
	return models.StageDataDelivery
}

// AllCompleted reports whether every canonical step of the sample completed.
func AllCompleted(sampleSteps []*models.ProcessingStep) bool {
	if len(sampleSteps) < len(models.CanonicalStages) {
		return false
	}
	completed := 0
	for _, step := range sampleSteps {
		if step.StepStatus == models.StepStatusCompleted {
			completed++
		}
	}
	return completed == len(models.CanonicalStages)
}
