package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/workflow"
)

const defaultScanLimit = 200

// Reconciler periodically scans the database for dispatchable pending steps
// and feeds the stage queues. It is the self-healing path: steps that missed
// an event-driven enqueue (crash, failover, manual SQL) are picked up within
// one interval. Enqueue idempotence makes the double-feed harmless.
type Reconciler struct {
	store    *store.Store
	manager  *Manager
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a reconciler scanning every interval.
func NewReconciler(st *store.Store, manager *Manager, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reconciler{
		store:    st,
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scan loop. An initial scan runs immediately so queues
// are populated before the first tick.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.ReconcileOnce(ctx); err != nil {
			slog.Error("Initial queue reconcile failed", "error", err)
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.ReconcileOnce(ctx); err != nil {
					slog.Error("Queue reconcile failed", "error", err)
				}
			}
		}
	}()
	slog.Info("Queue reconciler started", "interval", r.interval)
}

// Stop terminates the scan loop.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// ReconcileOnce scans every stage once. Exposed for tests and for
// event-driven nudges from the orchestrator.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	for _, stage := range models.CanonicalStages {
		if r.manager.Paused(stage) {
			continue
		}
		if err := r.reconcileStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileStage(ctx context.Context, stage models.Stage) error {
	pending, err := r.store.GetPendingSteps(ctx, stage, defaultScanLimit)
	if err != nil {
		return err
	}

	q := r.manager.Queue(stage)
	enqueued := 0
	for _, step := range pending {
		if q.Contains(step.StepID) {
			continue
		}
		if r.manager.SamplePaused(step.SampleID) {
			continue
		}
		ready, err := r.dependenciesMet(ctx, stage, step.SampleID)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		if q.Enqueue(step) {
			enqueued++
		}
	}

	if enqueued > 0 {
		slog.Debug("Reconciler enqueued steps", "stage", stage, "count", enqueued)
	}
	return nil
}

// dependenciesMet checks that every dependency stage of the sample completed.
func (r *Reconciler) dependenciesMet(ctx context.Context, stage models.Stage, sampleID string) (bool, error) {
	deps := workflow.Dependencies(stage)
	if len(deps) == 0 {
		return true, nil
	}
	steps, err := r.store.GetStepDependencies(ctx, sampleID, deps)
	if err != nil {
		return false, err
	}
	if len(steps) < len(deps) {
		return false, nil
	}
	for _, step := range steps {
		if step.StepStatus != models.StepStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}
