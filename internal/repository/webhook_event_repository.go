package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/tabledeck/importd/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// webhookEventRepository implements WebhookEventRepository interface
type webhookEventRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(pool *pgxpool.Pool) WebhookEventRepository {
	return &webhookEventRepository{pool: pool}
}

const webhookEventColumns = `id, import_job_id, event_type, payload, delivered, attempts, last_error, created_at, updated_at`

// Create records a new webhook event
func (r *webhookEventRepository) Create(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (id, import_job_id, event_type, payload, delivered, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+webhookEventColumns,
		event.ID, event.ImportJobID, string(event.EventType), []byte(payload),
		event.Delivered, event.Attempts, textOrNull(event.LastError),
		event.CreatedAt, event.UpdatedAt,
	)

	created, err := scanWebhookEvent(row)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("failed to create webhook event: %w", err)
	}
	return created, nil
}

// GetByID retrieves a webhook event
func (r *webhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id)

	event, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return event, nil
}

// ListByJob retrieves all webhook events for a job, newest first
func (r *webhookEventRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE import_job_id = $1
		ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Update persists delivery state for an event
func (r *webhookEventRepository) Update(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE webhook_events
		SET delivered = $2, attempts = $3, last_error = $4, payload = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+webhookEventColumns,
		event.ID, event.Delivered, event.Attempts, textOrNull(event.LastError), []byte(event.Payload),
	)

	updated, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("failed to update webhook event: %w", err)
	}
	return updated, nil
}

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var (
		event     domain.WebhookEvent
		eventType string
		payload   []byte
		lastError pgtype.Text
	)

	err := row.Scan(
		&event.ID, &event.ImportJobID, &eventType, &payload,
		&event.Delivered, &event.Attempts, &lastError,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	event.EventType = domain.WebhookEventType(eventType)
	event.Payload = payload
	if lastError.Valid {
		event.LastError = lastError.String
	}
	return event, nil
}
