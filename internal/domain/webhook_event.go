package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType labels the outcome a webhook payload reports.
type WebhookEventType string

const (
	EventImportFinished WebhookEventType = "IMPORT_FINISHED"
	EventImportFailed   WebhookEventType = "IMPORT_FAILED"
)

// WebhookEvent records one delivery attempt batch for an import job so that
// deliveries can be audited and resent.
type WebhookEvent struct {
	ID          uuid.UUID        `json:"id"`
	ImportJobID uuid.UUID        `json:"import_job_id"`
	EventType   WebhookEventType `json:"event_type"`
	Payload     json.RawMessage  `json:"payload"`
	Delivered   bool             `json:"delivered"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewWebhookEvent creates an undelivered event for the given job.
func NewWebhookEvent(jobID uuid.UUID, eventType WebhookEventType, payload json.RawMessage) WebhookEvent {
	now := time.Now()
	return WebhookEvent{
		ID:          uuid.New(),
		ImportJobID: jobID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
