// Package orchestrator is the workflow engine: the step state machine, the
// event handlers that advance samples through the pipeline, the startup
// recovery path, and the operator actions exposed over HTTP.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seqlab/nanotrack/pkg/config"
	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/queue"
	"github.com/seqlab/nanotrack/pkg/registry"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/workflow"
)

// Orchestrator coordinates the persistence adapter, step registry, stage
// queues, and event bus. All step state changes after intake flow through its
// event handlers; each handler is a conditional transition, so duplicate
// deliveries are no-ops.
type Orchestrator struct {
	store      *store.Store
	registry   *registry.Registry
	manager    *queue.Manager
	publisher  *events.Publisher
	bus        *events.Bus
	reconciler *queue.Reconciler
	aggregator *Aggregator
	stages     *config.StageRegistry
	cfg        *config.OrchestratorConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires an orchestrator and registers its event handlers on the bus.
func New(
	st *store.Store,
	reg *registry.Registry,
	manager *queue.Manager,
	publisher *events.Publisher,
	bus *events.Bus,
	stages *config.StageRegistry,
	cfg *config.OrchestratorConfig,
) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		registry:   reg,
		manager:    manager,
		publisher:  publisher,
		bus:        bus,
		reconciler: queue.NewReconciler(st, manager, cfg.ReconcileInterval),
		aggregator: NewAggregator(st, cfg.AggregateCoalesce),
		stages:     stages,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
	o.subscribe()
	return o
}

// Aggregator exposes the submission aggregator, mainly for tests.
func (o *Orchestrator) Aggregator() *Aggregator { return o.aggregator }

// Reconciler exposes the queue reconciler, mainly for tests.
func (o *Orchestrator) Reconciler() *queue.Reconciler { return o.reconciler }

// Start recovers orphaned work, rehydrates the step registry, and launches
// the reconciler and the orphan sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.recoverOrphans(ctx); err != nil {
		return err
	}

	o.reconciler.Start(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.orphanSweepLoop(ctx)
	}()

	slog.Info("Orchestrator started")
	return nil
}

// Stop terminates the reconciler, the orphan sweep, and the aggregator.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.reconciler.Stop()
	o.aggregator.Stop()
	o.wg.Wait()
}

// recoverOrphans runs at startup: in-progress steps whose lease is gone are
// returned to pending so the reconciler re-dispatches them, and the remainder
// are re-put into the registry with fresh TTLs.
func (o *Orchestrator) recoverOrphans(ctx context.Context) error {
	inProgress, err := o.store.GetInProgressSteps(ctx)
	if err != nil {
		return err
	}

	var stillLeased []*models.ProcessingStep
	for _, step := range inProgress {
		holder, err := o.registry.LeaseHolder(ctx, step.ID)
		if err != nil {
			// Registry unreachable: keep the step as-is rather than double
			// dispatch against a lease we cannot see.
			slog.Warn("Cannot check lease during recovery", "step_id", step.ID, "error", err)
			stillLeased = append(stillLeased, step)
			continue
		}
		if holder != "" {
			stillLeased = append(stillLeased, step)
			continue
		}

		reverted, err := o.store.TransitionStep(ctx, step.ID,
			models.StepStatusInProgress, models.StepStatusPending, store.StepPatch{})
		if err != nil {
			return err
		}
		if reverted {
			slog.Info("Recovered orphaned step", "step_id", step.ID, "stage", step.StepName)
			if err := o.registry.Delete(ctx, step.ID); err != nil {
				slog.Warn("Failed to drop orphaned registry entry", "step_id", step.ID, "error", err)
			}
		}
	}

	o.registry.Rehydrate(ctx, stillLeased, o.cfg.LeaseTTLMultiplier)
	return nil
}

// orphanSweepLoop repeats orphan recovery on the reconcile interval so that a
// worker crash in a peer replica is healed without a restart.
func (o *Orchestrator) orphanSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.recoverOrphans(ctx); err != nil {
				slog.Error("Orphan sweep failed", "error", err)
			}
		}
	}
}

// pendingProjection builds the queue entry for a step from its sample and
// submission ordering fields.
func (o *Orchestrator) pendingProjection(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*store.PendingStep, error) {
	sub, err := o.store.GetSubmission(ctx, sample.SubmissionID, false)
	if err != nil {
		return nil, err
	}
	return &store.PendingStep{
		StepID:                 step.ID,
		SampleID:               sample.ID,
		StepName:               step.StepName,
		Priority:               sample.Priority,
		SubmissionDate:         sub.SubmissionDate,
		SampleNumber:           sample.SampleNumber,
		EstimatedDurationHours: step.EstimatedDurationHours,
	}, nil
}

// enqueueReady resolves and enqueues the sample's ready steps. Skips paused
// samples and stages.
func (o *Orchestrator) enqueueReady(ctx context.Context, sample *models.Sample, steps []*models.ProcessingStep) error {
	if o.manager.SamplePaused(sample.ID) {
		return nil
	}
	for _, step := range workflow.ReadySteps(steps) {
		if o.manager.Paused(step.StepName) {
			continue
		}
		pending, err := o.pendingProjection(ctx, step, sample)
		if err != nil {
			return err
		}
		if o.manager.Queue(step.StepName).Enqueue(pending) {
			slog.Debug("Enqueued ready step",
				"step_id", step.ID, "sample_id", sample.ID, "stage", step.StepName)
		}
	}
	return nil
}
