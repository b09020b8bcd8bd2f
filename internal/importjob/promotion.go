package importjob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/ingestion"
	"github.com/tabledeck/importd/internal/mapping"
	"github.com/tabledeck/importd/internal/queue"
	"github.com/tabledeck/importd/internal/repository"
	"github.com/tabledeck/importd/internal/storage"
)

const (
	// DefaultPollInterval is how often an edit request re-checks a job it is
	// waiting on during promotion.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultPollAttempts bounds the total wait at about three seconds.
	DefaultPollAttempts = 30
)

// promotionLoadFailure is the message surfaced when the raw file cannot be
// loaded back. The underlying error is logged, never returned to callers.
const promotionLoadFailure = "Failed to load data for editing."

// Promoter materializes a lazy job's rows from object storage exactly once.
// The job's own status field is the lock: PROMOTING is acquired with a
// compare-and-swap and released by the final status write, so two racing
// edits can never both load the file.
type Promoter struct {
	jobs       repository.ImportJobRepository
	importers  repository.ImporterRepository
	store      storage.ObjectStore
	dispatcher queue.Dispatcher
	resolver   *mapping.Resolver
	tracker    *Tracker
	logger     *zap.Logger

	pollInterval time.Duration
	pollAttempts int
}

func NewPromoter(
	jobs repository.ImportJobRepository,
	importers repository.ImporterRepository,
	store storage.ObjectStore,
	dispatcher queue.Dispatcher,
	logger *zap.Logger,
) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		jobs:         jobs,
		importers:    importers,
		store:        store,
		dispatcher:   dispatcher,
		resolver:     mapping.NewResolver(),
		tracker:      NewTracker(),
		logger:       logger,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
}

// EnsurePromoted makes sure the job's rows are database-resident before an
// edit proceeds. Already-promoted jobs return immediately. For lazy jobs it
// acquires the PROMOTING lock, hands the file load to the background worker,
// and waits a bounded time for completion; when the wait runs out the caller
// gets domain.ErrPromotionInProgress and is expected to retry. The optional
// edit is carried into the background task so it applies even on timeout.
func (p *Promoter) EnsurePromoted(ctx context.Context, job domain.ImportJob, edit *queue.CellEdit) (domain.ImportJob, error) {
	if job.HasData() {
		return job, nil
	}
	if !job.NeedsPromotion() {
		return job, domain.ErrNoFileData
	}
	if job.Status == domain.StatusPromoting {
		return job, domain.ErrPromotionInProgress
	}
	if job.Status == domain.StatusFailed {
		// FAILED never leaves FAILED; retry-shortly would spin forever.
		return job, fmt.Errorf("%w: status %s", domain.ErrJobNotEditable, job.Status)
	}

	locked, err := p.jobs.SetStatusIf(ctx, job.ID, domain.StatusPromoting,
		domain.StatusCompleted, domain.StatusUncompleted, domain.StatusValidated)
	if err != nil {
		return job, fmt.Errorf("failed to acquire promotion lock: %w", err)
	}
	if !locked {
		// Someone else holds the lock or the job moved on; let the caller retry.
		return job, domain.ErrPromotionInProgress
	}

	task := queue.Task{Type: queue.TaskPromoteJob, JobID: job.ID, Edit: edit}
	if err := p.dispatcher.Enqueue(ctx, task); err != nil {
		// Release the lock so a later edit can retrigger promotion.
		if _, relErr := p.jobs.SetStatusIf(ctx, job.ID, job.Status, domain.StatusPromoting); relErr != nil {
			p.logger.Error("failed to release promotion lock after enqueue failure",
				zap.String("job_id", job.ID.String()), zap.Error(relErr))
		}
		return job, fmt.Errorf("failed to enqueue promotion: %w", err)
	}

	p.logger.Info("promotion started",
		zap.String("job_id", job.ID.String()),
		zap.String("storage_path", job.FileMetadata.StoragePath))

	return p.waitForPromotion(ctx, job.ID)
}

// waitForPromotion polls the job until its rows materialize, it fails, or
// the bounded wait runs out.
func (p *Promoter) waitForPromotion(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error) {
	var last domain.ImportJob
	for attempt := 0; attempt < p.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(p.pollInterval):
		}

		job, err := p.jobs.GetByID(ctx, jobID)
		if err != nil {
			return last, fmt.Errorf("failed to poll promotion status: %w", err)
		}
		last = job
		if job.Status == domain.StatusFailed {
			return job, fmt.Errorf("promotion failed: %s", job.FailureReason)
		}
		if job.HasData() {
			return job, nil
		}
	}
	return last, domain.ErrPromotionInProgress
}

// Promote is the background half of promotion: it loads the raw file,
// applies the resolved column mapping, materializes rows, applies the
// pending edit if one was queued, and releases the PROMOTING lock by writing
// the final status. It is idempotent: a job that already has data is left
// alone apart from releasing the lock.
func (p *Promoter) Promote(ctx context.Context, task queue.Task) error {
	job, err := p.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job for promotion: %w", err)
	}

	if job.HasData() {
		if job.Status == domain.StatusPromoting {
			job.Status = job.ResolveStatus()
			if _, err := p.jobs.Update(ctx, job); err != nil {
				return fmt.Errorf("failed to release promotion lock: %w", err)
			}
		}
		return nil
	}

	if job.FileMetadata == nil || job.FileMetadata.StoragePath == "" {
		return p.failPromotion(ctx, job, "No file path found for promotion.", nil)
	}

	imp, err := p.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return p.failPromotion(ctx, job, promotionLoadFailure, err)
	}

	payload, err := p.store.Download(ctx, job.FileMetadata.StoragePath)
	if err != nil {
		return p.failPromotion(ctx, job, promotionLoadFailure, err)
	}

	table, err := ingestion.Parse(job.FileMetadata.FileName, payload)
	if err != nil {
		return p.failPromotion(ctx, job, promotionLoadFailure, err)
	}

	res := p.resolver.Resolve(table.Headers, imp, job.ColumnMapping)
	if res.Failed {
		job.Errors = append(job.Errors, res.Conflicts...)
		job.ErrorCount = job.ErrorRowCount()
		return p.failPromotion(ctx, job, res.ErrorMessage, nil)
	}
	if res.AutoCreated {
		job.ColumnMapping = res.Mapping
	}

	mapped := selectColumns(table, res.MappedHeaders, imp)
	job.Data = mapped.Records()
	job.RowCount = len(job.Data)

	if task.Edit != nil {
		if _, err := p.tracker.UpdateCell(&job, imp, task.Edit.Row, task.Edit.Field, task.Edit.Value); err != nil {
			p.logger.Warn("pending edit dropped during promotion",
				zap.String("job_id", job.ID.String()),
				zap.Int("row", task.Edit.Row),
				zap.String("field", task.Edit.Field),
				zap.Error(err))
		}
	}

	// Releasing the lock: COMPLETED is preserved when no conflicts remain,
	// otherwise the job lands in UNCOMPLETED ready for editing.
	job.Status = job.ResolveStatus()
	job.UpdatedAt = time.Now()
	if _, err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist promoted job: %w", err)
	}

	p.logger.Info("promotion finished",
		zap.String("job_id", job.ID.String()),
		zap.Int("rows", job.RowCount),
		zap.String("status", string(job.Status)))
	return nil
}

func (p *Promoter) failPromotion(ctx context.Context, job domain.ImportJob, reason string, cause error) error {
	if cause != nil {
		p.logger.Error("promotion failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(cause))
	}
	Fail(&job, reason)
	job.UpdatedAt = time.Now()
	if _, err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}
