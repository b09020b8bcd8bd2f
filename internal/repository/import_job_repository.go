package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tabledeck/importd/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// importJobRepository implements ImportJobRepository interface
type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository creates a new import job repository
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

const importJobColumns = `id, importer_id, status, import_source, row_count, processed_rows,
	error_count, data, errors, column_mapping, file_metadata, error_message, created_at, updated_at`

// Create persists a new import job
func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	dataJSON, errorsJSON, mappingJSON, metaJSON, err := encodeJobJSON(job)
	if err != nil {
		return domain.ImportJob{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (id, importer_id, status, import_source, row_count, processed_rows,
			error_count, data, errors, column_mapping, file_metadata, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+importJobColumns,
		job.ID, job.ImporterID, string(job.Status), string(job.Source),
		job.RowCount, job.ProcessedRows, job.ErrorCount,
		dataJSON, errorsJSON, mappingJSON, metaJSON,
		textOrNull(job.FailureReason), job.CreatedAt, job.UpdatedAt,
	)

	created, err := scanImportJob(row)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}
	return created, nil
}

// GetByID retrieves an import job by ID
func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)

	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, domain.ErrNotFound
		}
		return domain.ImportJob{}, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

// List retrieves import jobs, optionally filtered by importer
func (r *importJobRepository) List(ctx context.Context, importerID *uuid.UUID, limit, offset int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + importJobColumns + ` FROM import_jobs`
	args := []any{}
	if importerID != nil {
		query += ` WHERE importer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, *importerID, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update persists the full job state
func (r *importJobRepository) Update(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	dataJSON, errorsJSON, mappingJSON, metaJSON, err := encodeJobJSON(job)
	if err != nil {
		return domain.ImportJob{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = $2, row_count = $3, processed_rows = $4, error_count = $5,
			data = $6, errors = $7, column_mapping = $8, file_metadata = $9,
			error_message = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING `+importJobColumns,
		job.ID, string(job.Status), job.RowCount, job.ProcessedRows, job.ErrorCount,
		dataJSON, errorsJSON, mappingJSON, metaJSON, textOrNull(job.FailureReason),
	)

	updated, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, domain.ErrNotFound
		}
		return domain.ImportJob{}, fmt.Errorf("failed to update import job: %w", err)
	}
	return updated, nil
}

// SetStatusIf performs a conditional status update so that two requests
// racing on the same job cannot both win the transition.
func (r *importJobRepository) SetStatusIf(ctx context.Context, id uuid.UUID, to domain.ImportStatus, from ...domain.ImportStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no expected statuses given")
	}

	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(to), expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition import job status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStale returns jobs that have sat in the given status longer than maxAge
func (r *importJobRepository) ListStale(ctx context.Context, status domain.ImportStatus, maxAge time.Duration, limit int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 100
	}

	cutoff := time.Now().Add(-maxAge)
	rows, err := r.pool.Query(ctx, `
		SELECT `+importJobColumns+`
		FROM import_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		string(status), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes an import job and its webhook events
func (r *importJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func encodeJobJSON(job domain.ImportJob) (data, errs, mapping, meta []byte, err error) {
	dataJSON, err := job.DataAsJSONB()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode job data: %w", err)
	}
	errorsJSON, err := job.ErrorsAsJSONB()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode job errors: %w", err)
	}

	mappingJSON := []byte("{}")
	if job.ColumnMapping != nil {
		if mappingJSON, err = json.Marshal(job.ColumnMapping); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to encode column mapping: %w", err)
		}
	}

	metaJSON := []byte("null")
	if job.FileMetadata != nil {
		if metaJSON, err = json.Marshal(job.FileMetadata); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to encode file metadata: %w", err)
		}
	}

	return jsonbOrEmpty(dataJSON), jsonbOrEmpty(errorsJSON), mappingJSON, metaJSON, nil
}

func scanImportJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job          domain.ImportJob
		status       string
		source       string
		dataJSON     []byte
		errorsJSON   []byte
		mappingJSON  []byte
		metaJSON     []byte
		errorMessage pgtype.Text
	)

	err := row.Scan(
		&job.ID, &job.ImporterID, &status, &source, &job.RowCount, &job.ProcessedRows,
		&job.ErrorCount, &dataJSON, &errorsJSON, &mappingJSON, &metaJSON,
		&errorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.ImportJob{}, err
	}

	job.Status = domain.ImportStatus(status)
	job.Source = domain.ImportSource(source)

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &job.Data); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to decode job data: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to decode job errors: %w", err)
		}
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &job.ColumnMapping); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to decode column mapping: %w", err)
		}
	}
	if len(metaJSON) > 0 && string(metaJSON) != "null" {
		job.FileMetadata = &domain.FileMetadata{}
		if err := json.Unmarshal(metaJSON, job.FileMetadata); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to decode file metadata: %w", err)
		}
	}
	if errorMessage.Valid {
		job.FailureReason = errorMessage.String
	}
	return job, nil
}
