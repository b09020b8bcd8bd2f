package webhook

import (
	"time"

	"github.com/tabledeck/importd/internal/domain"
)

// DefaultSampleSize caps webhook data when truncation is enabled but the
// importer never set an explicit sample size.
const DefaultSampleSize = 100

// Results summarizes a validation pass for webhook consumers.
type Results struct {
	TotalRows int `json:"totalRows"`
	ValidRows int `json:"validRows"`
	ErrorRows int `json:"errorRows"`
}

// Payload is the outbound webhook body. Data holds valid rows and Errors
// holds the rows that carry conflicts; both stay empty unless the importer
// opted into data inclusion.
type Payload struct {
	ImportJobID  string           `json:"importJobID"`
	ImporterID   string           `json:"importer_id"`
	Status       string           `json:"status"`
	CreatedAt    string           `json:"created_at"`
	Results      Results          `json:"results"`
	Data         []map[string]any `json:"data"`
	Errors       []map[string]any `json:"errors"`
	DataIncluded bool             `json:"data_included"`
	TruncateData bool             `json:"truncate_data"`
	SampleSize   *int             `json:"sample_size"`
	Timestamp    string           `json:"timestamp"`
	WebhookID    *string          `json:"webhook_id"`
}

// Builder assembles webhook payloads from job state. It owns no I/O so the
// same builder serves both first-fire and manual resend paths.
type Builder struct {
	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// EventType picks the event record type for the job's terminal status.
func EventType(status domain.ImportStatus) domain.WebhookEventType {
	if status == domain.StatusCompleted || status == domain.StatusUncompleted {
		return domain.EventImportFinished
	}
	return domain.EventImportFailed
}

// Build constructs a fresh payload from the job's current rows and conflicts.
// Rows whose 1-based index carries any conflict are error rows; a structural
// conflict marks the whole dataset invalid and no valid rows are emitted.
func (b *Builder) Build(job domain.ImportJob, imp domain.Importer) Payload {
	now := b.now()
	payload := Payload{
		ImportJobID: job.ID.String(),
		ImporterID:  imp.ID.String(),
		Status:      statusLabel(job.Status),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		Results: Results{
			TotalRows: job.RowCount,
			ValidRows: validRowTotal(job),
			ErrorRows: job.ErrorCount,
		},
		Data:         []map[string]any{},
		Errors:       []map[string]any{},
		DataIncluded: imp.IncludeDataInWebhook,
		TruncateData: imp.TruncateData,
		Timestamp:    now.Format(time.RFC3339),
	}
	if imp.TruncateData {
		size := DefaultSampleSize
		if imp.WebhookDataSampleSize != nil {
			size = *imp.WebhookDataSampleSize
		}
		payload.SampleSize = &size
	}
	if !imp.IncludeDataInWebhook {
		return payload
	}

	valid, failed := SplitRows(job)
	payload.Data = capRecords(valid, payload.SampleSize)
	payload.Errors = capRecords(failed, payload.SampleSize)
	return payload
}

// SplitRows partitions the job's materialized rows into valid and error rows
// using the 1-based row numbers recorded on its conflicts.
func SplitRows(job domain.ImportJob) (valid, failed []map[string]any) {
	if job.HasStructuralErrors() {
		return nil, job.Data
	}
	errorRows := make(map[int]struct{}, len(job.Errors))
	for _, c := range job.Errors {
		errorRows[c.Row] = struct{}{}
	}
	for i, row := range job.Data {
		if _, bad := errorRows[i+1]; bad {
			failed = append(failed, row)
		} else {
			valid = append(valid, row)
		}
	}
	return valid, failed
}

func capRecords(rows []map[string]any, limit *int) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	if limit != nil && len(rows) > *limit {
		return rows[:*limit]
	}
	return rows
}

func validRowTotal(job domain.ImportJob) int {
	n := job.RowCount - job.ErrorCount
	if n < 0 {
		return 0
	}
	return n
}

func statusLabel(status domain.ImportStatus) string {
	switch status {
	case domain.StatusCompleted:
		return "completed"
	case domain.StatusUncompleted:
		return "uncompleted"
	default:
		return "failed"
	}
}
