package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tabledeck/importd/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// importerRepository implements ImporterRepository interface
type importerRepository struct {
	pool *pgxpool.Pool
}

// NewImporterRepository creates a new importer repository
func NewImporterRepository(pool *pgxpool.Pool) ImporterRepository {
	return &importerRepository{pool: pool}
}

const importerColumns = `id, name, fields, webhook_url, webhook_enabled, include_data_in_webhook,
	truncate_data, webhook_data_sample_size, include_unmatched_columns, filter_invalid_rows,
	created_at, updated_at`

// Create creates a new importer
func (r *importerRepository) Create(ctx context.Context, imp domain.Importer) (domain.Importer, error) {
	fieldsJSON, err := imp.FieldsAsJSONB()
	if err != nil {
		return domain.Importer{}, fmt.Errorf("failed to encode importer fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO importers (id, name, fields, webhook_url, webhook_enabled, include_data_in_webhook,
			truncate_data, webhook_data_sample_size, include_unmatched_columns, filter_invalid_rows,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+importerColumns,
		imp.ID, imp.Name, fieldsJSON,
		textOrNull(imp.WebhookURL), imp.WebhookEnabled, imp.IncludeDataInWebhook,
		imp.TruncateData, intOrNull(imp.WebhookDataSampleSize), imp.IncludeUnmatchedColumns,
		imp.FilterInvalidRows, imp.CreatedAt, imp.UpdatedAt,
	)

	created, err := scanImporter(row)
	if err != nil {
		return domain.Importer{}, fmt.Errorf("failed to create importer: %w", err)
	}
	return created, nil
}

// GetByID retrieves an importer by ID
func (r *importerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Importer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importerColumns+` FROM importers WHERE id = $1`, id)

	imp, err := scanImporter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Importer{}, domain.ErrNotFound
		}
		return domain.Importer{}, fmt.Errorf("failed to get importer: %w", err)
	}
	return imp, nil
}

// List retrieves all importers ordered by creation time
func (r *importerRepository) List(ctx context.Context) ([]domain.Importer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+importerColumns+` FROM importers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list importers: %w", err)
	}
	defer rows.Close()

	var importers []domain.Importer
	for rows.Next() {
		imp, err := scanImporter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan importer: %w", err)
		}
		importers = append(importers, imp)
	}
	return importers, rows.Err()
}

// Update updates an importer's configuration
func (r *importerRepository) Update(ctx context.Context, imp domain.Importer) (domain.Importer, error) {
	fieldsJSON, err := imp.FieldsAsJSONB()
	if err != nil {
		return domain.Importer{}, fmt.Errorf("failed to encode importer fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE importers
		SET name = $2, fields = $3, webhook_url = $4, webhook_enabled = $5,
			include_data_in_webhook = $6, truncate_data = $7, webhook_data_sample_size = $8,
			include_unmatched_columns = $9, filter_invalid_rows = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING `+importerColumns,
		imp.ID, imp.Name, fieldsJSON,
		textOrNull(imp.WebhookURL), imp.WebhookEnabled, imp.IncludeDataInWebhook,
		imp.TruncateData, intOrNull(imp.WebhookDataSampleSize), imp.IncludeUnmatchedColumns,
		imp.FilterInvalidRows,
	)

	updated, err := scanImporter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Importer{}, domain.ErrNotFound
		}
		return domain.Importer{}, fmt.Errorf("failed to update importer: %w", err)
	}
	return updated, nil
}

// Delete removes an importer
func (r *importerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM importers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete importer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanImporter(row pgx.Row) (domain.Importer, error) {
	var (
		imp        domain.Importer
		fieldsJSON []byte
		webhookURL pgtype.Text
		sampleSize pgtype.Int4
	)

	err := row.Scan(
		&imp.ID, &imp.Name, &fieldsJSON, &webhookURL, &imp.WebhookEnabled,
		&imp.IncludeDataInWebhook, &imp.TruncateData, &sampleSize,
		&imp.IncludeUnmatchedColumns, &imp.FilterInvalidRows,
		&imp.CreatedAt, &imp.UpdatedAt,
	)
	if err != nil {
		return domain.Importer{}, err
	}

	fields, err := domain.FieldsFromJSONB(fieldsJSON)
	if err != nil {
		return domain.Importer{}, fmt.Errorf("failed to decode importer fields: %w", err)
	}
	imp.Fields = fields

	if webhookURL.Valid {
		imp.WebhookURL = webhookURL.String
	}
	if sampleSize.Valid {
		size := int(sampleSize.Int32)
		imp.WebhookDataSampleSize = &size
	}
	return imp, nil
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func intOrNull(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}

func jsonbOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}
