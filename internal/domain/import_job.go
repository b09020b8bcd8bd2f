package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ImportStatus tracks an import job through its lifecycle.
type ImportStatus string

const (
	StatusPendingValidation ImportStatus = "PENDING_VALIDATION"
	StatusPending           ImportStatus = "PENDING"
	StatusProcessing        ImportStatus = "PROCESSING"
	StatusPromoting         ImportStatus = "PROMOTING"
	StatusSaving            ImportStatus = "SAVING"
	StatusValidating        ImportStatus = "VALIDATING"
	StatusValidated         ImportStatus = "VALIDATED"
	StatusImporting         ImportStatus = "IMPORTING"
	StatusCompleted         ImportStatus = "COMPLETED"
	StatusUncompleted       ImportStatus = "UNCOMPLETED"
	StatusFailed            ImportStatus = "FAILED"
)

// IsTerminal reports whether the status represents a finished validation pass.
func (s ImportStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusUncompleted || s == StatusFailed
}

// ImportSource identifies where an import job originated.
type ImportSource string

const (
	SourceAPI    ImportSource = "api"
	SourcePortal ImportSource = "portal"
)

// HeaderRow is the sentinel row index for structural conflicts that are not
// tied to any data row (missing columns, mapping failures).
const HeaderRow = -1

// ConflictType distinguishes header-level problems from per-cell ones.
type ConflictType string

const (
	ConflictStructural ConflictType = "structural"
	ConflictValidation ConflictType = "validation"
)

// Conflict is one validation error attached to an import job. Row is 1-based
// for cell conflicts and HeaderRow for structural ones; on the wire a
// structural conflict serializes its row as the string "Header". Column holds
// the raw file column name when it differs from the schema field under a
// mapping. At most one conflict exists per (row, field) pair at any time.
type Conflict struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"error"`
}

// Type classifies the conflict by its row sentinel.
func (c Conflict) Type() ConflictType {
	if c.Row == HeaderRow {
		return ConflictStructural
	}
	return ConflictValidation
}

// MarshalJSON emits the row as "Header" for structural conflicts to stay
// compatible with consumers that expect the historical payload shape.
func (c Conflict) MarshalJSON() ([]byte, error) {
	var row any = c.Row
	if c.Row == HeaderRow {
		row = "Header"
	}
	return json.Marshal(struct {
		Row     any    `json:"row"`
		Field   string `json:"field"`
		Column  string `json:"column,omitempty"`
		Value   string `json:"value,omitempty"`
		Message string `json:"error"`
	}{row, c.Field, c.Column, c.Value, c.Message})
}

// UnmarshalJSON accepts numeric rows, the "Header" sentinel, and the legacy
// encoding that used "column" for the field name and "message" for the error.
func (c *Conflict) UnmarshalJSON(data []byte) error {
	var raw struct {
		Row     json.RawMessage `json:"row"`
		Field   string          `json:"field"`
		Column  string          `json:"column"`
		Value   string          `json:"value"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Field = raw.Field
	c.Column = raw.Column
	if c.Field == "" {
		c.Field = raw.Column
	}
	c.Value = raw.Value
	c.Message = raw.Error
	if c.Message == "" {
		c.Message = raw.Message
	}
	c.Row = HeaderRow
	if len(raw.Row) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Row, &s); err == nil {
		if s == "Header" {
			c.Row = HeaderRow
			return nil
		}
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return fmt.Errorf("invalid conflict row %q", s)
		}
		c.Row = n
		return nil
	}
	var n int
	if err := json.Unmarshal(raw.Row, &n); err != nil {
		return fmt.Errorf("invalid conflict row: %w", err)
	}
	c.Row = n
	return nil
}

// FileMetadata records what was learned about the uploaded file at ingest
// time, before any rows are materialized into the job.
type FileMetadata struct {
	FileName    string   `json:"file_name,omitempty"`
	StoragePath string   `json:"storage_path,omitempty"`
	Headers     []string `json:"headers,omitempty"`
	RowCount    int      `json:"row_count,omitempty"`
	Delimiter   string   `json:"delimiter,omitempty"`
	// HeaderWarning flags an upload whose headers leave schema fields
	// without a column, recorded before processing starts.
	HeaderWarning bool `json:"header_warning,omitempty"`
}

// ImportJob is one upload working its way through validation. Data holds the
// materialized rows keyed by schema field name; it stays empty for lazy jobs
// until promotion pulls the file out of object storage.
type ImportJob struct {
	ID            uuid.UUID         `json:"id"`
	ImporterID    uuid.UUID         `json:"importer_id"`
	Status        ImportStatus      `json:"status"`
	Source        ImportSource      `json:"source"`
	RowCount      int               `json:"row_count"`
	ProcessedRows int               `json:"processed_rows"`
	ErrorCount    int               `json:"error_count"`
	Data          []map[string]any  `json:"data,omitempty"`
	Errors        []Conflict        `json:"errors,omitempty"`
	ColumnMapping map[string]string `json:"column_mapping,omitempty"`
	FileMetadata  *FileMetadata     `json:"file_metadata,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewImportJob creates a job in PENDING state for the given importer.
func NewImportJob(importerID uuid.UUID, source ImportSource) ImportJob {
	now := time.Now()
	return ImportJob{
		ID:         uuid.New(),
		ImporterID: importerID,
		Status:     StatusPending,
		Source:     source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HasData reports whether rows have been materialized into the job.
func (j ImportJob) HasData() bool {
	return len(j.Data) > 0
}

// NeedsPromotion reports whether the job's rows still live only in object
// storage and must be loaded before cell-level operations can run.
func (j ImportJob) NeedsPromotion() bool {
	return !j.HasData() && j.FileMetadata != nil && j.FileMetadata.StoragePath != ""
}

// StructuralErrors returns only header-level conflicts.
func (j ImportJob) StructuralErrors() []Conflict {
	var out []Conflict
	for _, c := range j.Errors {
		if c.Type() == ConflictStructural {
			out = append(out, c)
		}
	}
	return out
}

// HasStructuralErrors reports whether any header-level conflict exists.
func (j ImportJob) HasStructuralErrors() bool {
	for _, c := range j.Errors {
		if c.Type() == ConflictStructural {
			return true
		}
	}
	return false
}

// ErrorRowCount counts distinct data rows with at least one conflict. When a
// structural error is present every row counts as failed.
func (j ImportJob) ErrorRowCount() int {
	if j.HasStructuralErrors() {
		return j.RowCount
	}
	rows := make(map[int]struct{}, len(j.Errors))
	for _, c := range j.Errors {
		rows[c.Row] = struct{}{}
	}
	return len(rows)
}

// ResolveStatus derives the terminal status from the current error count.
// COMPLETED is preserved when nothing is wrong; any remaining conflict leaves
// the job UNCOMPLETED.
func (j ImportJob) ResolveStatus() ImportStatus {
	if len(j.Errors) == 0 {
		return StatusCompleted
	}
	return StatusUncompleted
}

// DataAsJSONB returns the materialized rows for database storage.
func (j ImportJob) DataAsJSONB() (json.RawMessage, error) {
	if j.Data == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(j.Data)
}

// ErrorsAsJSONB returns the conflicts for database storage.
func (j ImportJob) ErrorsAsJSONB() (json.RawMessage, error) {
	if j.Errors == nil {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(j.Errors)
}
