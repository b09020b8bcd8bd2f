package importjob

import (
	"fmt"
	"time"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/pkg/validator"
)

// Tracker maintains a job's conflict list across full passes, bulk saves,
// and single-cell edits. Validation is referentially transparent, so results
// for unchanged cells are carried over instead of recomputed.
type Tracker struct {
	validator *validator.FieldValidator
}

func NewTracker() *Tracker {
	return &Tracker{validator: validator.NewFieldValidator()}
}

// SaveResult reports what a diff-based save actually did.
type SaveResult struct {
	ValidatedCells   int   `json:"validated_cells"`
	TotalErrors      int   `json:"total_errors"`
	NewErrors        int   `json:"new_errors"`
	PreservedErrors  int   `json:"preserved_errors"`
	ProcessingTimeMS int64 `json:"processing_time_ms"`
}

type cellKey struct {
	row   int // 0-based
	field string
}

// SaveAndValidate replaces the job's rows with the incoming ones, validating
// only cells whose stringified value differs from the current data (or that
// belong to new rows). Conflicts for untouched cells carry over by
// (row, field) key; conflicts for rows that no longer exist are dropped.
func (t *Tracker) SaveAndValidate(job *domain.ImportJob, imp domain.Importer, rows []map[string]any) SaveResult {
	start := time.Now()
	result := SaveResult{}

	changed := make(map[cellKey]struct{})
	var fresh []domain.Conflict

	for i, row := range rows {
		var existing map[string]any
		if i < len(job.Data) {
			existing = job.Data[i]
		}
		for _, field := range imp.Fields {
			_, value, ok := cellValue(row, job.ColumnMapping, field.Name)
			if !ok {
				// A row that omits the key entirely reads as an empty
				// cell, the same way the full pass treats a short row.
				value = ""
			}
			if existing != nil {
				_, prev, had := cellValue(existing, job.ColumnMapping, field.Name)
				if !had {
					prev = ""
				}
				if domain.CellString(prev) == domain.CellString(value) {
					continue
				}
			}
			changed[cellKey{row: i, field: field.Name}] = struct{}{}
			result.ValidatedCells++
			if msg := t.validator.ValidateField(value, field); msg != "" {
				fresh = append(fresh, domain.Conflict{
					Row:     i + 1,
					Field:   field.Name,
					Column:  columnFor(job.ColumnMapping, field.Name),
					Value:   domain.CellString(value),
					Message: msg,
				})
			}
		}
	}

	var merged []domain.Conflict
	for _, c := range job.Errors {
		if c.Type() == domain.ConflictValidation {
			if c.Row > len(rows) {
				continue
			}
			if _, wasChanged := changed[cellKey{row: c.Row - 1, field: c.Field}]; wasChanged {
				continue
			}
		}
		merged = append(merged, c)
		result.PreservedErrors++
	}
	merged = append(merged, fresh...)
	result.NewErrors = len(fresh)
	result.TotalErrors = len(merged)

	job.Data = rows
	job.RowCount = len(rows)
	job.Errors = merged
	job.ErrorCount = job.ErrorRowCount()
	job.Status = job.ResolveStatus()
	job.UpdatedAt = time.Now()

	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	return result
}

// ConflictCheck reports the outcome of re-checking known conflicts against
// freshly supplied values without committing anything.
type ConflictCheck struct {
	Remaining []domain.Conflict `json:"remaining"`
	Checked   int               `json:"checked"`
	Resolved  int               `json:"resolved"`
}

// ValidateConflictsOnly re-runs exactly the cells already carrying conflicts
// against the supplied rows. The job itself is not modified; callers use this
// to preview whether pending edits resolve known conflicts before saving.
func (t *Tracker) ValidateConflictsOnly(job domain.ImportJob, imp domain.Importer, rows []map[string]any) ConflictCheck {
	check := ConflictCheck{}
	for _, c := range job.Errors {
		if c.Type() == domain.ConflictStructural {
			check.Remaining = append(check.Remaining, c)
			continue
		}
		idx := c.Row - 1
		if idx < 0 || idx >= len(rows) {
			check.Remaining = append(check.Remaining, c)
			continue
		}
		field, ok := imp.FieldByName(c.Field)
		if !ok {
			check.Remaining = append(check.Remaining, c)
			continue
		}
		_, value, found := cellValue(rows[idx], job.ColumnMapping, c.Field)
		if !found {
			check.Remaining = append(check.Remaining, c)
			continue
		}
		check.Checked++
		if msg := t.validator.ValidateField(value, field); msg != "" {
			c.Value = domain.CellString(value)
			c.Message = msg
			check.Remaining = append(check.Remaining, c)
		} else {
			check.Resolved++
		}
	}
	return check
}

// UpdateCell applies a single edit to the job's materialized data, replaces
// any conflict recorded for that (row, field) pair, and recomputes the job's
// terminal status. rowIdx is 0-based. The returned message is empty when the
// new value validates cleanly.
func (t *Tracker) UpdateCell(job *domain.ImportJob, imp domain.Importer, rowIdx int, fieldName string, value any) (string, error) {
	if rowIdx < 0 || rowIdx >= len(job.Data) {
		return "", fmt.Errorf("row index %d out of range (%d rows)", rowIdx, len(job.Data))
	}

	key := fieldName
	if _, exists := job.Data[rowIdx][key]; !exists {
		if column := columnFor(job.ColumnMapping, fieldName); column != "" {
			key = column
		}
	}
	job.Data[rowIdx][key] = value

	row := rowIdx + 1
	kept := job.Errors[:0:0]
	for _, c := range job.Errors {
		if c.Row == row && c.Field == fieldName {
			continue
		}
		kept = append(kept, c)
	}
	job.Errors = kept

	var msg string
	if field, ok := imp.FieldByName(fieldName); ok {
		if msg = t.validator.ValidateField(value, field); msg != "" {
			job.Errors = append(job.Errors, domain.Conflict{
				Row:     row,
				Field:   fieldName,
				Column:  columnFor(job.ColumnMapping, fieldName),
				Value:   domain.CellString(value),
				Message: msg,
			})
		}
	}

	job.ErrorCount = job.ErrorRowCount()
	job.Status = job.ResolveStatus()
	job.UpdatedAt = time.Now()
	return msg, nil
}

// cellValue fetches a field's value from a row record, trying the schema
// field name first and falling back to the raw column it is mapped from.
func cellValue(row map[string]any, mapping map[string]string, fieldName string) (key string, value any, ok bool) {
	if v, found := row[fieldName]; found {
		return fieldName, v, true
	}
	if column, mapped := mapping[fieldName]; mapped && column != fieldName {
		if v, found := row[column]; found {
			return column, v, true
		}
	}
	return "", nil, false
}

// columnFor returns the raw column name feeding a field when it differs from
// the field name, for conflict reporting.
func columnFor(mapping map[string]string, fieldName string) string {
	if column, ok := mapping[fieldName]; ok && column != fieldName {
		return column
	}
	return ""
}
