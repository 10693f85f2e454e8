package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seqlab/nanotrack/pkg/config"
	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/queue"
	"github.com/seqlab/nanotrack/pkg/registry"
	"github.com/seqlab/nanotrack/pkg/store"
)

// minRenewInterval floors the lease renewal period so short test TTLs do not
// produce a busy loop.
const minRenewInterval = 100 * time.Millisecond

// Runtime dispatches steps from the stage queues to their workers. Each stage
// gets a bounded pool of slots; each slot loops dequeue, lease, transition,
// execute, publish. The conditional pending to in_progress write in the
// database is the authoritative guard against double dispatch; the lease is
// the cross-replica fast path.
type Runtime struct {
	store     *store.Store
	registry  *registry.Registry
	publisher *events.Publisher
	manager   *queue.Manager
	workers   *Registry
	stages    *config.StageRegistry
	cfg       *config.OrchestratorConfig
	holderID  string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	leaseMu      sync.Mutex
	activeLeases map[string]string // step id -> holder id
}

// NewRuntime wires a runtime. holderID identifies this process in leases and
// step assignments.
func NewRuntime(
	st *store.Store,
	reg *registry.Registry,
	publisher *events.Publisher,
	manager *queue.Manager,
	workers *Registry,
	stages *config.StageRegistry,
	cfg *config.OrchestratorConfig,
	holderID string,
) *Runtime {
	return &Runtime{
		store:        st,
		registry:     reg,
		publisher:    publisher,
		manager:      manager,
		workers:      workers,
		stages:       stages,
		cfg:          cfg,
		holderID:     holderID,
		activeLeases: make(map[string]string),
	}
}

// Start launches the per-stage worker pools.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, stage := range models.CanonicalStages {
		for slot := 0; slot < r.cfg.MaxInFlightPerStage; slot++ {
			r.wg.Add(1)
			go func(stage models.Stage) {
				defer r.wg.Done()
				r.slotLoop(runCtx, stage)
			}(stage)
		}
	}
	slog.Info("Stage worker runtime started",
		"holder_id", r.holderID,
		"slots_per_stage", r.cfg.MaxInFlightPerStage)
}

// Stop stops dequeuing, waits up to the graceful shutdown budget for
// in-flight workers, then revokes any leases still held.
func (r *Runtime) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.GracefulShutdownTimeout):
		slog.Warn("Shutdown timeout reached, revoking remaining leases")
	}

	r.leaseMu.Lock()
	remaining := make([]string, 0, len(r.activeLeases))
	for stepID := range r.activeLeases {
		remaining = append(remaining, stepID)
	}
	r.leaseMu.Unlock()
	for _, stepID := range remaining {
		if err := r.registry.RevokeLease(ctx, stepID); err != nil {
			slog.Warn("Failed to revoke lease on shutdown", "step_id", stepID, "error", err)
		}
	}
}

func (r *Runtime) slotLoop(ctx context.Context, stage models.Stage) {
	q := r.manager.Queue(stage)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if r.manager.Paused(stage) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.DequeueTimeout):
			}
			continue
		}

		pending, ok := q.Dequeue(ctx, r.cfg.DequeueTimeout)
		if !ok {
			continue
		}
		r.Process(ctx, pending)
	}
}

// Process runs one dequeued step through its worker. Exposed for tests,
// which dispatch synchronously instead of through slot loops.
func (r *Runtime) Process(ctx context.Context, pending *store.PendingStep) {
	stage := pending.StepName
	log := slog.With("step_id", pending.StepID, "sample_id", pending.SampleID, "stage", stage)

	stageCfg, err := r.stages.Get(stage)
	if err != nil {
		log.Error("Dequeued step for unknown stage", "error", err)
		return
	}
	ttl := stageCfg.LeaseTTL(r.cfg.LeaseTTLMultiplier)

	haveLease := false
	acquired, err := r.registry.AcquireLease(ctx, pending.StepID, r.holderID, ttl)
	if err != nil {
		// Registry down: the conditional database transition below still
		// guarantees single dispatch within this process group.
		log.Warn("Lease acquisition unavailable, relying on database guard", "error", err)
	} else if !acquired {
		log.Debug("Lease held elsewhere, skipping dispatch")
		return
	} else {
		haveLease = true
	}
	r.trackLease(pending.StepID)
	defer r.untrackLease(pending.StepID)

	startedAt := time.Now()
	holder := r.holderID
	transitioned, err := r.store.TransitionStep(ctx, pending.StepID,
		models.StepStatusPending, models.StepStatusInProgress,
		store.StepPatch{StartedAt: &startedAt, AssignedTo: &holder})
	if err != nil {
		log.Error("Failed to transition step to in_progress", "error", err)
		r.releaseLease(ctx, pending.StepID)
		return
	}
	if !transitioned {
		// Stale queue entry; someone else already moved the step.
		r.releaseLease(ctx, pending.StepID)
		return
	}

	step, err := r.store.GetStep(ctx, pending.StepID)
	if err != nil {
		log.Error("Failed to load step after transition", "error", err)
		r.releaseLease(ctx, pending.StepID)
		return
	}
	sample, err := r.store.GetSample(ctx, pending.SampleID)
	if err != nil {
		log.Error("Failed to load sample for step", "error", err)
		r.failStep(ctx, step, fmt.Sprintf("loading sample: %v", err), nil)
		r.releaseLease(ctx, pending.StepID)
		return
	}

	if err := r.registry.Put(ctx, step, ttl); err != nil {
		log.Warn("Failed to cache in-progress step", "error", err)
	}
	if err := r.publisher.Publish(ctx, events.SubjectStepStarted, events.StepStartedPayload{
		StepID:   step.ID,
		SampleID: sample.ID,
		Stage:    stage,
		HolderID: r.holderID,
	}); err != nil {
		log.Error("Failed to publish step.started", "error", err)
	}

	outcome := r.execute(ctx, step, sample, ttl)

	if lost := r.leaseLost(ctx, step.ID, haveLease); lost {
		log.Warn("Lease expired during execution, rejecting worker result")
		r.failStep(ctx, step, "lease expired", nil)
		return
	}

	switch outcome.Status {
	case models.StepStatusCompleted:
		if err := r.publisher.Publish(ctx, events.SubjectStepCompleted, events.StepCompletedPayload{
			StepID:   step.ID,
			SampleID: sample.ID,
			Stage:    stage,
			Results:  outcome.Results,
			QC:       outcome.QC,
		}); err != nil {
			log.Error("Failed to publish step.completed", "error", err)
		}
	case models.StepStatusSkipped:
		if err := r.publisher.Publish(ctx, events.SubjectStepCompleted, events.StepCompletedPayload{
			StepID:   step.ID,
			SampleID: sample.ID,
			Stage:    stage,
			Results:  outcome.Results,
			QC:       outcome.QC,
			Skipped:  true,
		}); err != nil {
			log.Error("Failed to publish step.completed (skipped)", "error", err)
		}
	default:
		r.failStep(ctx, step, outcome.Notes, outcome.QC)
	}
	r.releaseLease(ctx, step.ID)
}

// execute invokes the stage worker under a deadline with background lease
// renewal. A renewal failure cancels the worker.
func (r *Runtime) execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample, ttl time.Duration) *Outcome {
	w, err := r.workers.Get(step.StepName)
	if err != nil {
		return &Outcome{Status: models.StepStatusFailed, Notes: err.Error()}
	}

	workCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		r.renewLoop(workCtx, cancel, step.ID, ttl)
	}()

	outcome, err := w.Execute(workCtx, step, sample)
	cancel()
	<-renewDone

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(workCtx.Err(), context.DeadlineExceeded) {
			if revokeErr := r.registry.RevokeLease(ctx, step.ID); revokeErr != nil {
				slog.Warn("Failed to revoke lease after deadline", "step_id", step.ID, "error", revokeErr)
			}
			return &Outcome{Status: models.StepStatusFailed, Notes: "deadline exceeded"}
		}
		return &Outcome{Status: models.StepStatusFailed, Notes: err.Error()}
	}
	if outcome == nil {
		return &Outcome{Status: models.StepStatusFailed, Notes: "worker returned no outcome"}
	}
	return outcome
}

// renewLoop extends the lease at half-TTL intervals and cancels the worker
// when the lease is lost.
func (r *Runtime) renewLoop(ctx context.Context, cancel context.CancelFunc, stepID string, ttl time.Duration) {
	interval := ttl / 2
	if interval < minRenewInterval {
		interval = minRenewInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.registry.RenewLease(ctx, stepID, r.holderID, ttl)
			if err != nil {
				slog.Warn("Lease renewal unavailable", "step_id", stepID, "error", err)
				continue
			}
			if !ok {
				slog.Warn("Lease lost, cancelling worker", "step_id", stepID)
				cancel()
				return
			}
		}
	}
}

// leaseLost reports whether this runtime no longer holds the step's lease.
// An empty holder after a successful acquire means the lease expired without
// takeover, which invalidates the result just as a steal does. Registry
// unavailability is treated as still-held: the database remains the source of
// truth and pessimistic rejection would fail healthy work.
func (r *Runtime) leaseLost(ctx context.Context, stepID string, held bool) bool {
	holder, err := r.registry.LeaseHolder(ctx, stepID)
	if err != nil {
		return false
	}
	if holder == r.holderID {
		return false
	}
	if holder == "" {
		return held
	}
	return true
}

func (r *Runtime) failStep(ctx context.Context, step *models.ProcessingStep, reason string, qc *models.QCResult) {
	if err := r.publisher.Publish(ctx, events.SubjectStepFailed, events.StepFailedPayload{
		StepID:   step.ID,
		SampleID: step.SampleID,
		Stage:    step.StepName,
		Reason:   reason,
		QC:       qc,
	}); err != nil {
		slog.Error("Failed to publish step.failed", "step_id", step.ID, "error", err)
	}
}

func (r *Runtime) releaseLease(ctx context.Context, stepID string) {
	if err := r.registry.ReleaseLease(ctx, stepID, r.holderID); err != nil {
		slog.Warn("Failed to release lease", "step_id", stepID, "error", err)
	}
}

func (r *Runtime) trackLease(stepID string) {
	r.leaseMu.Lock()
	r.activeLeases[stepID] = r.holderID
	r.leaseMu.Unlock()
}

func (r *Runtime) untrackLease(stepID string) {
	r.leaseMu.Lock()
	delete(r.activeLeases, stepID)
	r.leaseMu.Unlock()
}
