package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Handler processes one event. Handlers must be idempotent: redelivery after
// a crash or a missed ack is expected.
type Handler func(ctx context.Context, evt Event) error

// Bus dispatches outbox rows to subscribed handlers. A single dispatch
// goroutine claims rows in (created_at, id) order, which preserves
// per-subject ordering from a single publisher. A row is acknowledged only
// after every handler for its subject returns nil; otherwise the claim
// expires after the visibility timeout and the row is redelivered.
type Bus struct {
	db          *gorm.DB
	consumerID  string
	visibility  time.Duration
	pollEvery   time.Duration
	batchSize   int

	mu       sync.RWMutex
	handlers map[string][]Handler

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBus creates a Bus. consumerID identifies this process in claim rows.
func NewBus(db *gorm.DB, consumerID string, visibility time.Duration) *Bus {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Bus{
		db:         db,
		consumerID: consumerID,
		visibility: visibility,
		pollEvery:  time.Second,
		batchSize:  64,
		handlers:   make(map[string][]Handler),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Subscribe registers a handler for a subject. Must be called before Start.
func (b *Bus) Subscribe(subject string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], h)
}

// Wake nudges the dispatcher outside the poll interval. Called by the
// NOTIFY listener; safe from any goroutine.
func (b *Bus) Wake() {
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
	slog.Info("Event bus started", "consumer_id", b.consumerID, "visibility", b.visibility)
}

// Stop terminates the dispatch loop and waits for the in-flight batch.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Bus) run(ctx context.Context) {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-b.wakeCh:
		case <-ticker.C:
		}

		for {
			n, err := b.DispatchPending(ctx)
			if err != nil {
				slog.Error("Event dispatch failed", "error", err)
				break
			}
			if n == 0 {
				break
			}
		}
	}
}

// DispatchPending claims and processes one batch of deliverable events.
// Exposed for tests, which drive the bus synchronously.
func (b *Bus) DispatchPending(ctx context.Context) (int, error) {
	candidates, err := b.loadCandidates(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, evt := range candidates {
		claimed, err := b.claim(ctx, evt.ID)
		if err != nil {
			return processed, err
		}
		if !claimed {
			continue // another replica took it
		}

		if err := b.handle(ctx, evt); err != nil {
			slog.Warn("Event handler failed, leaving claim to expire",
				"event_id", evt.ID, "subject", evt.Subject, "error", err)
			continue
		}

		if err := b.ack(ctx, evt.ID); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (b *Bus) loadCandidates(ctx context.Context) ([]Event, error) {
	cutoff := time.Now().Add(-b.visibility)
	var rows []struct {
		ID            string
		Subject       string
		Payload       string
		Source        string
		CorrelationID string
		CreatedAt     time.Time
		Attempts      int
	}
	err := b.db.WithContext(ctx).
		Table("workflow_events").
		Select("id, subject, payload, source, correlation_id, created_at, attempts").
		Where("acked_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(b.batchSize).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading deliverable events: %w", err)
	}

	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = Event{
			ID:            r.ID,
			Subject:       r.Subject,
			Payload:       []byte(r.Payload),
			Source:        r.Source,
			CorrelationID: r.CorrelationID,
			CreatedAt:     r.CreatedAt,
			Attempts:      r.Attempts,
		}
	}
	return events, nil
}

// claim conditionally takes the event; the WHERE clause loses the race to a
// concurrent claimer, so at most one consumer processes a delivery.
func (b *Bus) claim(ctx context.Context, eventID string) (bool, error) {
	cutoff := time.Now().Add(-b.visibility)
	res := b.db.WithContext(ctx).Exec(
		`UPDATE workflow_events
		 SET claimed_at = ?, claimed_by = ?, attempts = attempts + 1
		 WHERE id = ? AND acked_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)`,
		time.Now(), b.consumerID, eventID, cutoff,
	)
	if res.Error != nil {
		return false, fmt.Errorf("claiming event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (b *Bus) handle(ctx context.Context, evt Event) error {
	b.mu.RLock()
	handlers := b.handlers[evt.Subject]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) ack(ctx context.Context, eventID string) error {
	err := b.db.WithContext(ctx).Exec(
		"UPDATE workflow_events SET acked_at = ? WHERE id = ?",
		time.Now(), eventID,
	).Error
	if err != nil {
		return fmt.Errorf("acking event %s: %w", eventID, err)
	}
	return nil
}
