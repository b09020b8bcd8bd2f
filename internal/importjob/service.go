package importjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
)

// DefaultStaleAge is how long a portal upload may sit in PENDING_VALIDATION
// before cleanup reclaims it.
const DefaultStaleAge = 24 * time.Hour

// Service exposes the import job operations consumed by the HTTP layer:
// job creation, interactive editing, revalidation, grid rendering, webhook
// resend, and cleanup.
type Service struct {
	jobs       repository.ImportJobRepository
	importers  repository.ImporterRepository
	store      storage.ObjectStore
	dispatcher queue.Dispatcher
	notifier   *webhook.Notifier
	promoter   *Promoter
	tracker    *Tracker
	resolver   *mapping.Resolver
	logger     *zap.Logger

	staleAge time.Duration
}

func NewService(
	jobs repository.ImportJobRepository,
	importers repository.ImporterRepository,
	store storage.ObjectStore,
	dispatcher queue.Dispatcher,
	notifier *webhook.Notifier,
	promoter *Promoter,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		jobs:       jobs,
		importers:  importers,
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		promoter:   promoter,
		tracker:    NewTracker(),
		resolver:   mapping.NewResolver(),
		logger:     logger,
		staleAge:   DefaultStaleAge,
	}
}

// CreateJobRequest carries one uploaded file into the pipeline.
type CreateJobRequest struct {
	ImporterID    uuid.UUID
	Source        domain.ImportSource
	FileName      string
	Payload       []byte
	ColumnMapping map[string]string
}

// CreateJob stores the raw upload and creates the job record. API jobs go
// straight to the background worker; portal jobs without a column mapping
// wait in PENDING_VALIDATION until the mapping step completes.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (domain.ImportJob, error) {
	if len(req.Payload) == 0 {
		return domain.ImportJob{}, ingestion.ErrEmptyFile
	}
	if strings.TrimSpace(req.FileName) == "" {
		return domain.ImportJob{}, errors.New("file name is required")
	}
	imp, err := s.importers.GetByID(ctx, req.ImporterID)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to load importer: %w", err)
	}

	job := domain.NewImportJob(req.ImporterID, req.Source)
	job.ColumnMapping = req.ColumnMapping

	key := fmt.Sprintf("uploads/%s/%s", job.ID, req.FileName)
	if err := s.store.Upload(ctx, key, req.Payload); err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to store upload: %w", err)
	}
	job.FileMetadata = &domain.FileMetadata{
		FileName:    req.FileName,
		StoragePath: key,
	}
	if table, perr := ingestion.Parse(req.FileName, req.Payload); perr == nil {
		job.FileMetadata.HeaderWarning = s.headerWarning(table.Headers, imp, req.ColumnMapping)
	}

	if req.Source == domain.SourcePortal && len(req.ColumnMapping) == 0 {
		job.Status = domain.StatusPendingValidation
	}

	job, err = s.jobs.Create(ctx, job)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}

	if job.Status == domain.StatusPending {
		if err := s.dispatcher.Enqueue(ctx, queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
			return job, fmt.Errorf("failed to enqueue processing: %w", err)
		}
	}

	s.logger.Info("import job created",
		zap.String("job_id", job.ID.String()),
		zap.String("source", string(job.Source)),
		zap.String("status", string(job.Status)))
	return job, nil
}

// GetJob returns the job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs returns jobs, optionally scoped to one importer.
func (s *Service) ListJobs(ctx context.Context, importerID *uuid.UUID, limit, offset int) ([]domain.ImportJob, error) {
	return s.jobs.List(ctx, importerID, limit, offset)
}

// SetColumnMapping completes the portal mapping step and releases the job to
// the background worker.
func (s *Service) SetColumnMapping(ctx context.Context, id uuid.UUID, columnMapping map[string]string) (domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if job.Status != domain.StatusPendingValidation && job.Status != domain.StatusPending {
		return job, fmt.Errorf("%w: status %s", ErrInvalidTransition, job.Status)
	}

	job.ColumnMapping = columnMapping
	if err := Transition(&job, domain.StatusPending); err != nil {
		return job, err
	}
	job.UpdatedAt = time.Now()
	if job, err = s.jobs.Update(ctx, job); err != nil {
		return job, fmt.Errorf("failed to save column mapping: %w", err)
	}
	if err := s.dispatcher.Enqueue(ctx, queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		return job, fmt.Errorf("failed to enqueue processing: %w", err)
	}
	return job, nil
}

// UpdateCellResult reports the outcome of a single-cell edit.
type UpdateCellResult struct {
	Valid      bool                `json:"valid"`
	Message    string              `json:"message,omitempty"`
	Status     domain.ImportStatus `json:"status"`
	ErrorCount int                 `json:"error_count"`
}

// UpdateCell validates and applies one cell edit. Row is 0-based; column may
// be either a schema field name or the raw file column it maps from. Lazy
// jobs are promoted first, with the edit carried into the background load so
// it is never lost to a promotion timeout.
func (s *Service) UpdateCell(ctx context.Context, id uuid.UUID, rowIdx int, column string, value string) (UpdateCellResult, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return UpdateCellResult{}, err
	}
	imp, err := s.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return UpdateCellResult{}, fmt.Errorf("failed to load importer: %w", err)
	}

	fieldName := s.resolveField(imp, job.ColumnMapping, column)

	if !job.HasData() {
		edit := &queue.CellEdit{Row: rowIdx, Field: fieldName, Value: value}
		if job, err = s.promoter.EnsurePromoted(ctx, job, edit); err != nil {
			return UpdateCellResult{}, err
		}
	}
	if !IsEditable(job.Status) {
		return UpdateCellResult{}, fmt.Errorf("%w: status %s", domain.ErrJobNotEditable, job.Status)
	}

	msg, err := s.tracker.UpdateCell(&job, imp, rowIdx, fieldName, value)
	if err != nil {
		return UpdateCellResult{}, err
	}
	if job, err = s.jobs.Update(ctx, job); err != nil {
		return UpdateCellResult{}, fmt.Errorf("failed to persist cell edit: %w", err)
	}

	return UpdateCellResult{
		Valid:      msg == "",
		Message:    msg,
		Status:     job.Status,
		ErrorCount: job.ErrorCount,
	}, nil
}

// SaveData replaces the job's rows with the supplied ones, revalidating only
// changed cells and carrying conflict state for untouched data.
func (s *Service) SaveData(ctx context.Context, id uuid.UUID, rows []map[string]any) (SaveResult, domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return SaveResult{}, domain.ImportJob{}, err
	}
	imp, err := s.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return SaveResult{}, job, fmt.Errorf("failed to load importer: %w", err)
	}

	if !job.HasData() && job.NeedsPromotion() {
		if job, err = s.promoter.EnsurePromoted(ctx, job, nil); err != nil {
			return SaveResult{}, job, err
		}
	}
	if !IsEditable(job.Status) {
		return SaveResult{}, job, fmt.Errorf("%w: status %s", domain.ErrJobNotEditable, job.Status)
	}

	result := s.tracker.SaveAndValidate(&job, imp, rows)
	if job, err = s.jobs.Update(ctx, job); err != nil {
		return result, job, fmt.Errorf("failed to persist saved data: %w", err)
	}

	s.logger.Info("job data saved",
		zap.String("job_id", job.ID.String()),
		zap.Int("validated_cells", result.ValidatedCells),
		zap.Int("new_errors", result.NewErrors),
		zap.Int("preserved_errors", result.PreservedErrors),
		zap.Int64("processing_time_ms", result.ProcessingTimeMS))
	return result, job, nil
}

// ValidateConflictsOnly re-checks only the cells already carrying conflicts
// against the supplied rows, without committing anything.
func (s *Service) ValidateConflictsOnly(ctx context.Context, id uuid.UUID, rows []map[string]any) (ConflictCheck, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return ConflictCheck{}, err
	}
	imp, err := s.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return ConflictCheck{}, fmt.Errorf("failed to load importer: %w", err)
	}
	return s.tracker.ValidateConflictsOnly(job, imp, rows), nil
}

// GridConflict points the editing grid at one bad cell. Row and Col are
// 0-based into the grid; structural conflicts use -1 for both.
type GridConflict struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Error string `json:"error"`
	Type  string `json:"type"`
}

// GridData renders the job's rows for the editing grid, preserving the
// original file column order.
type GridData struct {
	Headers       []string            `json:"headers"`
	Rows          [][]string          `json:"rows"`
	Conflicts     []GridConflict      `json:"conflicts"`
	Status        domain.ImportStatus `json:"status"`
	RowCount      int                 `json:"row_count"`
	ErrorCount    int                 `json:"error_count"`
	HeaderWarning bool                `json:"header_warning"`
}

// GetData materializes the job if needed and renders its rows as ordered
// string arrays in the original header order, plus grid-addressed conflicts.
func (s *Service) GetData(ctx context.Context, id uuid.UUID) (GridData, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return GridData{}, err
	}
	if !job.HasData() && job.NeedsPromotion() {
		if job, err = s.promoter.EnsurePromoted(ctx, job, nil); err != nil {
			return GridData{}, err
		}
	}

	headers := s.gridHeaders(job)
	// Columns dropped at processing (unmatched ones, unless the importer
	// keeps them) have no keys in the stored rows; skip them in the grid.
	if len(job.Data) > 0 {
		kept := headers[:0:0]
		for _, h := range headers {
			if _, ok := job.Data[0][h]; ok {
				kept = append(kept, h)
			}
		}
		if len(kept) > 0 {
			headers = kept
		}
	}
	grid := GridData{
		Headers:    headers,
		Rows:       make([][]string, len(job.Data)),
		Conflicts:  []GridConflict{},
		Status:     job.Status,
		RowCount:   job.RowCount,
		ErrorCount: job.ErrorCount,
	}
	if job.FileMetadata != nil {
		grid.HeaderWarning = job.FileMetadata.HeaderWarning
	}

	for i, record := range job.Data {
		row := make([]string, len(headers))
		for j, header := range headers {
			row[j] = domain.CellString(record[header])
		}
		grid.Rows[i] = row
	}

	colIndex := make(map[string]int, len(headers))
	for i, h := range headers {
		colIndex[h] = i
	}
	for _, c := range job.Errors {
		gc := GridConflict{Row: -1, Col: -1, Error: c.Message, Type: string(c.Type())}
		if c.Type() == domain.ConflictValidation {
			gc.Row = c.Row - 1
			if idx, ok := colIndex[c.Field]; ok {
				gc.Col = idx
			} else if idx, ok := colIndex[c.Column]; ok {
				gc.Col = idx
			}
		}
		grid.Conflicts = append(grid.Conflicts, gc)
	}
	return grid, nil
}

// headerWarning reports whether the uploaded headers leave any schema field
// without a column. Recorded at upload so clients see the mismatch before
// processing runs.
func (s *Service) headerWarning(headers []string, imp domain.Importer, provided map[string]string) bool {
	res := s.resolver.Resolve(headers, imp, provided)
	if res.Failed {
		return true
	}
	present := make(map[string]struct{}, len(res.MappedHeaders))
	for _, h := range res.MappedHeaders {
		present[h] = struct{}{}
	}
	for _, name := range imp.FieldNames() {
		if _, ok := present[name]; !ok {
			return true
		}
	}
	return false
}

// gridHeaders reproduces the original file column order with mapped columns
// renamed to their field names, matching the keys under which row data is
// stored. Jobs without file metadata fall back to the keys of the first row.
func (s *Service) gridHeaders(job domain.ImportJob) []string {
	if job.FileMetadata != nil && len(job.FileMetadata.Headers) > 0 {
		reverse := make(map[string]string, len(job.ColumnMapping))
		for field, column := range job.ColumnMapping {
			reverse[column] = field
		}
		headers := make([]string, len(job.FileMetadata.Headers))
		for i, h := range job.FileMetadata.Headers {
			if field, ok := reverse[h]; ok {
				headers[i] = field
			} else {
				headers[i] = h
			}
		}
		return headers
	}
	if len(job.Data) > 0 {
		headers := make([]string, 0, len(job.Data[0]))
		for key := range job.Data[0] {
			headers = append(headers, key)
		}
		return headers
	}
	return nil
}

// ResendWebhook fires a fresh webhook for a finished job. The payload is
// rebuilt from current data, so edits made since the first delivery are
// reflected; lazy jobs have their rows read back from storage just for the
// payload, without promoting them.
func (s *Service) ResendWebhook(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if !job.Status.IsTerminal() {
		return domain.WebhookEvent{}, fmt.Errorf("%w: status %s", domain.ErrJobNotEditable, job.Status)
	}
	imp, err := s.importers.GetByID(ctx, job.ImporterID)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("failed to load importer: %w", err)
	}

	if !job.HasData() && job.NeedsPromotion() {
		records, err := s.materializeRows(ctx, job, imp)
		if err != nil {
			s.logger.Warn("could not rebuild rows for webhook resend",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		} else {
			job.Data = records
		}
	}
	return s.notifier.Notify(ctx, job, imp)
}

// materializeRows loads a lazy job's rows for read-only use without writing
// anything back to the job.
func (s *Service) materializeRows(ctx context.Context, job domain.ImportJob, imp domain.Importer) ([]map[string]any, error) {
	payload, err := s.store.Download(ctx, job.FileMetadata.StoragePath)
	if err != nil {
		return nil, err
	}
	table, err := ingestion.Parse(job.FileMetadata.FileName, payload)
	if err != nil {
		return nil, err
	}
	res := s.resolver.Resolve(table.Headers, imp, job.ColumnMapping)
	if res.Failed {
		return nil, errors.New(res.ErrorMessage)
	}
	mapped := selectColumns(table, res.MappedHeaders, imp)
	return mapped.Records(), nil
}

// DeleteJob removes the job, its raw upload, and the derived exports.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.FileMetadata != nil && job.FileMetadata.StoragePath != "" {
		if err := s.store.Delete(ctx, job.FileMetadata.StoragePath); err != nil {
			s.logger.Warn("failed to delete raw upload",
				zap.String("job_id", id.String()), zap.Error(err))
		}
	}
	for _, key := range []string{
		fmt.Sprintf("processed/%s_valid.csv", id),
		fmt.Sprintf("processed/%s_invalid.csv", id),
	} {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Debug("no derived export to delete", zap.String("key", key))
		}
	}
	return s.jobs.Delete(ctx, id)
}

// CleanupStale deletes portal uploads that never finished the mapping step.
func (s *Service) CleanupStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.jobs.ListStale(ctx, domain.StatusPendingValidation, s.staleAge, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	deleted := 0
	for _, job := range stale {
		if err := s.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn("failed to delete stale job",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("stale import jobs cleaned up", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

// resolveField maps a grid column reference onto a schema field name: exact
// field names pass through, raw file columns resolve through the mapping.
func (s *Service) resolveField(imp domain.Importer, columnMapping map[string]string, column string) string {
	if _, ok := imp.FieldByName(column); ok {
		return column
	}
	for field, mappedColumn := range columnMapping {
		if mappedColumn == column {
			return field
		}
	}
	return column
}
