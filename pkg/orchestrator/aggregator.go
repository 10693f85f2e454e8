package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/store"
)

// Aggregator maintains submission counters and status from sample status
// events. Recomputation per submission is coalesced: bursts of sample events
// trigger at most one recompute per interval.
type Aggregator struct {
	store    *store.Store
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewAggregator creates an aggregator. An interval of zero disables
// coalescing and recomputes synchronously, which tests rely on.
func NewAggregator(st *store.Store, interval time.Duration) *Aggregator {
	return &Aggregator{
		store:    st,
		interval: interval,
		timers:   make(map[string]*time.Timer),
	}
}

// Stop cancels outstanding coalescing timers.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, timer := range a.timers {
		timer.Stop()
		delete(a.timers, id)
	}
}

// HandleSampleStatusChanged schedules a recompute for the sample's
// submission.
func (a *Aggregator) HandleSampleStatusChanged(ctx context.Context, evt events.Event) error {
	var payload events.SampleStatusChangedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decoding sample.status_changed: %w", err)
	}
	if payload.SubmissionID == "" {
		return nil
	}

	if a.interval <= 0 {
		return a.Recompute(ctx, payload.SubmissionID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if _, scheduled := a.timers[payload.SubmissionID]; scheduled {
		return nil
	}
	submissionID := payload.SubmissionID
	a.timers[submissionID] = time.AfterFunc(a.interval, func() {
		a.mu.Lock()
		delete(a.timers, submissionID)
		a.mu.Unlock()

		recomputeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Recompute(recomputeCtx, submissionID); err != nil {
			slog.Error("Submission recompute failed",
				"submission_id", submissionID, "error", err)
		}
	})
	return nil
}

// Recompute derives the submission's counters and status from its samples.
func (a *Aggregator) Recompute(ctx context.Context, submissionID string) error {
	counts, err := a.store.CountSamplesByStatus(ctx, submissionID)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	completed := counts[models.SampleStatusCompleted]

	status := deriveSubmissionStatus(counts, total, completed)
	if err := a.store.UpdateSubmissionAggregate(ctx, submissionID, total, completed, status); err != nil {
		return err
	}

	slog.Debug("Submission aggregate updated",
		"submission_id", submissionID,
		"sample_count", total,
		"samples_completed", completed,
		"status", status)
	return nil
}

// deriveSubmissionStatus applies the submission status rules: failed beats
// completed beats processing; a submission whose samples have all yet to
// leave intake stays pending.
func deriveSubmissionStatus(counts map[models.SampleStatus]int, total, completed int) models.SubmissionStatus {
	switch {
	case counts[models.SampleStatusFailed] > 0:
		return models.SubmissionStatusFailed
	case total > 0 && completed == total:
		return models.SubmissionStatusCompleted
	case total > 0 && counts[models.SampleStatusSubmitted] < total:
		return models.SubmissionStatusProcessing
	default:
		return models.SubmissionStatusPending
	}
}
