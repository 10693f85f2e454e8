package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Publisher writes events to the workflow_events outbox. On postgres each
// insert also fires pg_notify in the same transaction, so the NOTIFY is held
// until COMMIT and never announces a row that rolled back.
type Publisher struct {
	db     *gorm.DB
	source string
}

// NewPublisher creates a Publisher. source identifies the publishing
// component in the event envelope.
func NewPublisher(db *gorm.DB, source string) *Publisher {
	return &Publisher{db: db, source: source}
}

// Publish inserts an event using the publisher's own connection.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	return p.publish(ctx, p.db, subject, payload, "")
}

// PublishTx inserts an event inside the caller's transaction so the event
// becomes visible atomically with the state change it describes.
func (p *Publisher) PublishTx(ctx context.Context, tx *gorm.DB, subject string, payload any) error {
	return p.publish(ctx, tx, subject, payload, "")
}

// PublishCorrelated is PublishTx with an explicit correlation id.
func (p *Publisher) PublishCorrelated(ctx context.Context, tx *gorm.DB, subject string, payload any, correlationID string) error {
	return p.publish(ctx, tx, subject, payload, correlationID)
}

func (p *Publisher) publish(ctx context.Context, db *gorm.DB, subject string, payload any, correlationID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", subject, err)
	}

	id := uuid.New().String()
	err = db.WithContext(ctx).Exec(
		`INSERT INTO workflow_events (id, subject, payload, source, correlation_id, created_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		id, subject, string(data), p.source, correlationID, time.Now(),
	).Error
	if err != nil {
		return fmt.Errorf("persisting %s event: %w", subject, err)
	}

	if db.Dialector.Name() == "postgres" {
		// pg_notify is transactional; the wake-up fires at COMMIT.
		if err := db.WithContext(ctx).Exec(
			"SELECT pg_notify(?, ?)", NotifyChannel, id,
		).Error; err != nil {
			return fmt.Errorf("pg_notify for %s event: %w", subject, err)
		}
	}

	return nil
}
