package repository

import (
	"context"
	"time"

	"github.com/tabledeck/importd/internal/domain"

	"github.com/google/uuid"
)

// ImporterRepository defines the interface for importer configuration operations
type ImporterRepository interface {
	Create(ctx context.Context, imp domain.Importer) (domain.Importer, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Importer, error)
	List(ctx context.Context) ([]domain.Importer, error)
	Update(ctx context.Context, imp domain.Importer) (domain.Importer, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ImportJobRepository defines the interface for import job operations
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	List(ctx context.Context, importerID *uuid.UUID, limit, offset int) ([]domain.ImportJob, error)
	Update(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	// SetStatusIf atomically moves the job from one of the expected statuses
	// to the target status. It reports false when the job was not in any of
	// the expected statuses, which is how promotion loses a race cleanly.
	SetStatusIf(ctx context.Context, id uuid.UUID, to domain.ImportStatus, from ...domain.ImportStatus) (bool, error)
	// ListStale returns jobs stuck in the given status longer than maxAge.
	ListStale(ctx context.Context, status domain.ImportStatus, maxAge time.Duration, limit int) ([]domain.ImportJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// WebhookEventRepository defines the interface for webhook delivery records
type WebhookEventRepository interface {
	Create(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.WebhookEvent, error)
	Update(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error)
}
