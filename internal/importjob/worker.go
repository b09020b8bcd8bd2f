package importjob

import (
	"context"
	"errors"
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
	"github.com/tabledeck/importd/internal/webhook"
	"github.com/tabledeck/importd/pkg/validator"
)

// processFailure is the safe message recorded when the uploaded file cannot
// be loaded or parsed during the full validation pass.
const processFailure = "Failed to process import file."

// Worker runs the expensive full-file validation pass in the background:
// parse, resolve the column mapping, validate every mapped cell, write the
// valid/invalid row exports, and fire the completion webhook.
type Worker struct {
	jobs      repository.ImportJobRepository
	importers repository.ImporterRepository
	store     storage.ObjectStore
	notifier  *webhook.Notifier
	promoter  *Promoter
	resolver  *mapping.Resolver
	validator *validator.FieldValidator
	logger    *zap.Logger
}

func NewWorker(
	jobs repository.ImportJobRepository,
	importers repository.ImporterRepository,
	store storage.ObjectStore,
	notifier *webhook.Notifier,
	promoter *Promoter,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobs:      jobs,
		importers: importers,
		store:     store,
		notifier:  notifier,
		promoter:  promoter,
		resolver:  mapping.NewResolver(),
		validator: validator.NewFieldValidator(),
		logger:    logger,
	}
}

// Handle dispatches queue tasks to the right unit of work.
func (w *Worker) Handle(ctx context.Context, task queue.Task) error {
	switch task.Type {
	case queue.TaskProcessJob:
		return w.Process(ctx, task)
	case queue.TaskPromoteJob:
		return w.promoter.Promote(ctx, task)
	default:
		w.logger.Warn("unknown task type", zap.String("type", task.Type))
		return nil
	}
}

// Process runs the full validation pass for a queued job. The PENDING to
// PROCESSING swap is the at-most-once guard: a redelivered task that loses
// the swap is silently dropped.
func (w *Worker) Process(ctx context.Context, task queue.Task) error {
	started, err := w.jobs.SetStatusIf(ctx, task.JobID, domain.StatusProcessing,
		domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if !started {
		w.logger.Debug("job already claimed or processed", zap.String("job_id", task.JobID.String()))
		return nil
	}

	job, err := w.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	imp, err := w.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return w.failJob(ctx, job, domain.Importer{}, processFailure, err)
	}

	if job.FileMetadata == nil || job.FileMetadata.StoragePath == "" {
		return w.failJob(ctx, job, imp, "No file found for import job.", nil)
	}

	payload, err := w.store.Download(ctx, job.FileMetadata.StoragePath)
	if err != nil {
		return w.failJob(ctx, job, imp, processFailure, err)
	}
	table, err := ingestion.Parse(job.FileMetadata.FileName, payload)
	if err != nil {
		return w.failJob(ctx, job, imp, processFailure, err)
	}

	job.FileMetadata.Headers = table.Headers
	job.FileMetadata.RowCount = table.RowCount()
	job.FileMetadata.Delimiter = table.Delimiter
	job.RowCount = table.RowCount()

	res := w.resolver.Resolve(table.Headers, imp, job.ColumnMapping)
	if res.Failed {
		job.Errors = res.Conflicts
		job.ErrorCount = job.ErrorRowCount()
		return w.failJob(ctx, job, imp, res.ErrorMessage, nil)
	}
	if res.AutoCreated {
		job.ColumnMapping = res.Mapping
	}

	mapped := selectColumns(table, res.MappedHeaders, imp)
	records := mapped.Records()

	job.Errors = w.validateAll(records, imp, job.ColumnMapping)
	job.ProcessedRows = len(records)
	job.ErrorCount = job.ErrorRowCount()
	job.Status = job.ResolveStatus()
	job.UpdatedAt = time.Now()

	w.exportSplits(ctx, job, mapped.Headers, records)

	// Portal jobs keep their rows database-resident for the editing grid;
	// API jobs stay lazy until a first edit promotes them.
	if job.Source == domain.SourcePortal {
		job.Data = records
	}

	if job, err = w.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist processed job: %w", err)
	}

	w.logger.Info("import job processed",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("rows", job.RowCount),
		zap.Int("error_rows", job.ErrorCount))

	w.sendWebhook(ctx, job, imp, records)
	return nil
}

// validateAll checks every mapped cell of every row, producing 1-based
// conflicts in row-major, schema-declaration order.
func (w *Worker) validateAll(records []map[string]any, imp domain.Importer, columnMapping map[string]string) []domain.Conflict {
	var conflicts []domain.Conflict
	for i, record := range records {
		for _, field := range imp.Fields {
			_, value, ok := cellValue(record, columnMapping, field.Name)
			if !ok {
				value = ""
			}
			if msg := w.validator.ValidateField(value, field); msg != "" {
				conflicts = append(conflicts, domain.Conflict{
					Row:     i + 1,
					Field:   field.Name,
					Column:  columnFor(columnMapping, field.Name),
					Value:   domain.CellString(value),
					Message: msg,
				})
			}
		}
	}
	return conflicts
}

// selectColumns applies the resolved header names and, unless the importer
// keeps unmatched columns, projects the table down to schema fields. Row
// cells follow header positions, so one index set projects both.
func selectColumns(table ingestion.Table, mappedHeaders []string, imp domain.Importer) ingestion.Table {
	out := table
	out.Headers = mappedHeaders
	if imp.IncludeUnmatchedColumns {
		return out
	}

	keep := make([]int, 0, len(mappedHeaders))
	for i, h := range mappedHeaders {
		if _, ok := imp.FieldByName(h); ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(mappedHeaders) {
		return out
	}

	headers := make([]string, len(keep))
	for j, i := range keep {
		headers[j] = mappedHeaders[i]
	}
	rows := make([][]string, len(table.Rows))
	for r, row := range table.Rows {
		projected := make([]string, len(keep))
		for j, i := range keep {
			if i < len(row) {
				projected[j] = row[i]
			}
		}
		rows[r] = projected
	}
	out.Headers = headers
	out.Rows = rows
	return out
}

// exportSplits writes the valid and invalid row subsets back to object
// storage as CSV, preserving the mapped header order. Failures are logged
// and never fail the job.
func (w *Worker) exportSplits(ctx context.Context, job domain.ImportJob, headers []string, records []map[string]any) {
	errorRows := make(map[int]struct{}, len(job.Errors))
	structural := false
	for _, c := range job.Errors {
		if c.Type() == domain.ConflictStructural {
			structural = true
		}
		errorRows[c.Row] = struct{}{}
	}

	var valid, invalid []map[string]any
	for i, record := range records {
		if structural {
			invalid = append(invalid, record)
			continue
		}
		if _, bad := errorRows[i+1]; bad {
			invalid = append(invalid, record)
		} else {
			valid = append(valid, record)
		}
	}

	for _, split := range []struct {
		key  string
		rows []map[string]any
	}{
		{fmt.Sprintf("processed/%s_valid.csv", job.ID), valid},
		{fmt.Sprintf("processed/%s_invalid.csv", job.ID), invalid},
	} {
		if len(split.rows) == 0 {
			continue
		}
		out, err := ingestion.ExportCSV(headers, split.rows)
		if err != nil {
			w.logger.Warn("failed to build processed export", zap.String("key", split.key), zap.Error(err))
			continue
		}
		if err := w.store.Upload(ctx, split.key, out); err != nil {
			w.logger.Warn("failed to upload processed export", zap.String("key", split.key), zap.Error(err))
		}
	}
}

func (w *Worker) failJob(ctx context.Context, job domain.ImportJob, imp domain.Importer, reason string, cause error) error {
	if cause != nil {
		w.logger.Error("import job failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(cause))
	}
	Fail(&job, reason)
	job.UpdatedAt = time.Now()
	updated, err := w.jobs.Update(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if imp.ID != uuid.Nil {
		w.sendWebhook(ctx, updated, imp, nil)
	}
	return nil
}

func (w *Worker) sendWebhook(ctx context.Context, job domain.ImportJob, imp domain.Importer, records []map[string]any) {
	if w.notifier == nil {
		return
	}
	// API jobs keep no database-resident rows at this point; feed the payload
	// builder the in-memory rows from this pass instead.
	payloadJob := job
	if !payloadJob.HasData() {
		payloadJob.Data = records
	}
	if _, err := w.notifier.Notify(ctx, payloadJob, imp); err != nil && !errors.Is(err, domain.ErrWebhookDisabled) {
		w.logger.Warn("completion webhook failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
	}
}
