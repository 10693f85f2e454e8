package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/nanotrack/pkg/models"
)

func makeSteps(statuses map[models.Stage]models.StepStatus) []*models.ProcessingStep {
	steps := make([]*models.ProcessingStep, 0, len(models.CanonicalStages))
	for i, stage := range models.CanonicalStages {
		status := models.StepStatusPending
		if s, ok := statuses[stage]; ok {
			status = s
		}
		steps = append(steps, &models.ProcessingStep{
			ID:         string(stage),
			StepName:   stage,
			StepOrder:  i + 1,
			StepStatus: status,
		})
	}
	return steps
}

func TestDependencies_LinearChain(t *testing.T) {
	assert.Empty(t, Dependencies(models.StageSampleQC))
	assert.Equal(t, []models.Stage{models.StageSampleQC}, Dependencies(models.StageLibraryPrep))
	assert.Equal(t, []models.Stage{models.StageBasecalling}, Dependencies(models.StageQualityAssessment))
	assert.Equal(t, []models.Stage{models.StageQualityAssessment}, Dependencies(models.StageDataDelivery))
}

func TestNextStage(t *testing.T) {
	assert.Equal(t, models.StageLibraryPrep, NextStage(models.StageSampleQC))
	assert.Equal(t, models.StageDataDelivery, NextStage(models.StageQualityAssessment))
	assert.Equal(t, models.Stage(""), NextStage(models.StageDataDelivery))
	assert.Equal(t, models.Stage(""), NextStage(models.Stage("bogus")))
}

func TestReady_FirstStageHasNoDependencies(t *testing.T) {
	steps := makeSteps(nil)
	assert.True(t, Ready(steps[0], steps))
}

func TestReady_BlockedByIncompleteDependency(t *testing.T) {
	steps := makeSteps(nil)
	// library_prep waits on sample_qc.
	assert.False(t, Ready(steps[1], steps))

	steps = makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC: models.StepStatusInProgress,
	})
	assert.False(t, Ready(steps[1], steps))

	steps = makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC: models.StepStatusFailed,
	})
	assert.False(t, Ready(steps[1], steps))
}

func TestReady_UnblockedByCompletedDependency(t *testing.T) {
	steps := makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC: models.StepStatusCompleted,
	})
	assert.True(t, Ready(steps[1], steps))
	assert.False(t, Ready(steps[2], steps))
}

func TestReady_NonPendingStepIsNeverReady(t *testing.T) {
	steps := makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC: models.StepStatusInProgress,
	})
	assert.False(t, Ready(steps[0], steps))

	steps = makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC: models.StepStatusCompleted,
	})
	assert.False(t, Ready(steps[0], steps))
}

func TestReadySteps_AtMostOneForLinearPipeline(t *testing.T) {
	steps := makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC:    models.StepStatusCompleted,
		models.StageLibraryPrep: models.StepStatusCompleted,
	})

	ready := ReadySteps(steps)

	require.Len(t, ready, 1)
	assert.Equal(t, models.StageLibraryQC, ready[0].StepName)
}

func TestReadySteps_NoneWhenStepInProgress(t *testing.T) {
	steps := makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC:    models.StepStatusCompleted,
		models.StageLibraryPrep: models.StepStatusInProgress,
	})

	assert.Empty(t, ReadySteps(steps))
}

func TestCurrentStage(t *testing.T) {
	steps := makeSteps(nil)
	assert.Equal(t, models.StageSampleQC, CurrentStage(steps))

	steps = makeSteps(map[models.Stage]models.StepStatus{
		models.StageSampleQC:    models.StepStatusCompleted,
		models.StageLibraryPrep: models.StepStatusInProgress,
	})
	assert.Equal(t, models.StageLibraryPrep, CurrentStage(steps))

	all := make(map[models.Stage]models.StepStatus)
	for _, stage := range models.CanonicalStages {
		all[stage] = models.StepStatusCompleted
	}
	assert.Equal(t, models.StageDataDelivery, CurrentStage(makeSteps(all)))
}

func TestAllCompleted(t *testing.T) {
	all := make(map[models.Stage]models.StepStatus)
	for _, stage := range models.CanonicalStages {
		all[stage] = models.StepStatusCompleted
	}
	assert.True(t, AllCompleted(makeSteps(all)))

	all[models.StageDataDelivery] = models.StepStatusInProgress
	assert.False(t, AllCompleted(makeSteps(all)))

	assert.False(t, AllCompleted(nil))
}
