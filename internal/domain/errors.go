package domain

import "errors"

// Sentinel errors shared across the import pipeline. Handlers translate these
// into HTTP status codes; services wrap them with context via fmt.Errorf %w.
var (
	// ErrNotFound signals a missing job or importer.
	ErrNotFound = errors.New("not found")

	// ErrPromotionInProgress is returned when a job's file is already being
	// materialized by another request and the caller should retry shortly.
	ErrPromotionInProgress = errors.New("data preparation in progress, try again shortly")

	// ErrJobNotEditable is returned when a job is in a state that does not
	// accept cell edits or saves.
	ErrJobNotEditable = errors.New("import job is not editable in its current state")

	// ErrNoFileData is returned when a lazy job has neither materialized rows
	// nor a storage path to load them from.
	ErrNoFileData = errors.New("import job has no data or source file")

	// ErrWebhookDisabled is returned when a webhook delivery is requested for
	// an importer that has no enabled webhook.
	ErrWebhookDisabled = errors.New("webhook delivery is not enabled for this importer")
)
