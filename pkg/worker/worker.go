// Package worker hosts the stage worker plugins and the runtime that drives
// them. Workers never touch the database: they compute an outcome from the
// step and sample they are handed, and all state changes flow through the
// orchestrator via step events.
package worker

import (
	"context"
	"fmt"

	"github.com/seqlab/nanotrack/pkg/models"
)

// Outcome is the result of one worker invocation.
type Outcome struct {
	// Status is completed, failed, or skipped.
	Status models.StepStatus

	// Results is the stage-specific structured output stored on the step.
	Results models.JSONMap

	// QC carries the verdict for QC-gated stages, nil otherwise.
	QC *models.QCResult

	// Notes is surfaced on the step row, typically a failure reason.
	Notes string
}

// StageWorker executes one workflow stage for one sample. Implementations
// must be idempotent: executing the same step twice must produce an
// equivalent outcome.
type StageWorker interface {
	Stage() models.Stage
	Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error)
}

// Registry resolves the worker for a stage. Workers are registered once at
// startup; the registry is read-only afterwards.
type Registry struct {
	workers map[models.Stage]StageWorker
}

// NewRegistry builds a registry from the given workers, rejecting duplicates.
func NewRegistry(workers ...StageWorker) (*Registry, error) {
	m := make(map[models.Stage]StageWorker, len(workers))
	for _, w := range workers {
		if _, ok := m[w.Stage()]; ok {
			return nil, fmt.Errorf("duplicate worker for stage %q", w.Stage())
		}
		m[w.Stage()] = w
	}
	return &Registry{workers: m}, nil
}

// BuiltinRegistry returns a registry with the eight canonical stage workers.
func BuiltinRegistry() *Registry {
	r, err := NewRegistry(
		&SampleQCWorker{},
		&LibraryPrepWorker{},
		&LibraryQCWorker{},
		&SequencingSetupWorker{},
		&SequencingRunWorker{},
		&BasecallingWorker{},
		&QualityAssessmentWorker{},
		&DataDeliveryWorker{},
	)
	if err != nil {
		panic(err) // unreachable with the fixed worker set
	}
	return r
}

// Get returns the worker for a stage.
func (r *Registry) Get(stage models.Stage) (StageWorker, error) {
	w, ok := r.workers[stage]
	if !ok {
		return nil, fmt.Errorf("no worker registered for stage %q", stage)
	}
	return w, nil
}
