// Package events is the workflow event bus. Events are rows in a
// workflow_events outbox table written in the same transaction as the state
// change they describe; a PostgreSQL NOTIFY nudges the in-process dispatcher,
// which also polls as a backstop. A claimed row that is not acknowledged
// within the visibility timeout becomes claimable again, giving
// at-least-once delivery to idempotent handlers.
package events

import (
	"encoding/json"
	"time"
)

// Subjects published on the bus.
const (
	SubjectSampleCreated       = "sample.created"
	SubjectSampleStatusChanged = "sample.status_changed"
	SubjectStepStarted         = "step.started"
	SubjectStepCompleted       = "step.completed"
	SubjectStepFailed          = "step.failed"
	SubjectPriorityChanged     = "priority.changed"
	SubjectWorkflowCompleted   = "workflow.completed"
)

// NotifyChannel is the PostgreSQL NOTIFY channel used as a dispatcher wake-up.
const NotifyChannel = "workflow_events"

// Event is a single bus message.
type Event struct {
	ID            string          `json:"id"`
	Subject       string          `json:"subject"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
}
