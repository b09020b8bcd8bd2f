// Package importjob drives import jobs from upload through validation,
// interactive editing, promotion, and webhook delivery.
package importjob

import (
	"errors"
	"fmt"

	"github.com/tabledeck/importd/internal/domain"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the job state machine.
var ErrInvalidTransition = errors.New("invalid import job status transition")

// transitions lists the allowed next states per status. PROMOTING and FAILED
// are handled separately: PROMOTING is enterable from any non-terminal lock
// state and FAILED from anywhere.
var transitions = map[domain.ImportStatus][]domain.ImportStatus{
	domain.StatusPendingValidation: {domain.StatusPending, domain.StatusProcessing},
	domain.StatusPending:           {domain.StatusProcessing},
	domain.StatusProcessing:        {domain.StatusCompleted, domain.StatusUncompleted, domain.StatusValidating},
	domain.StatusValidating:        {domain.StatusValidated, domain.StatusUncompleted},
	domain.StatusValidated:         {domain.StatusImporting, domain.StatusUncompleted},
	domain.StatusImporting:         {domain.StatusCompleted, domain.StatusUncompleted},
	domain.StatusPromoting:         {domain.StatusCompleted, domain.StatusUncompleted},
	domain.StatusSaving:            {domain.StatusCompleted, domain.StatusUncompleted},
	domain.StatusCompleted:         {domain.StatusUncompleted},
	domain.StatusUncompleted:       {domain.StatusCompleted},
}

// CanTransition reports whether a job may move from one status to another.
// COMPLETED and UNCOMPLETED flip freely between each other as conflicts are
// introduced and resolved; FAILED is reachable from every state and is
// terminal.
func CanTransition(from, to domain.ImportStatus) bool {
	if from == to {
		return true
	}
	if from == domain.StatusFailed {
		return false
	}
	if to == domain.StatusFailed {
		return true
	}
	if to == domain.StatusPromoting || to == domain.StatusSaving {
		return IsEditable(from) || from == domain.StatusProcessing
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to the job, rejecting moves the state
// machine does not allow.
func Transition(job *domain.ImportJob, to domain.ImportStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

// IsEditable reports whether cell edits and saves may run against the job.
// Only jobs that have finished a validation pass accept edits; transient
// lock states and failure are excluded.
func IsEditable(status domain.ImportStatus) bool {
	switch status {
	case domain.StatusCompleted, domain.StatusUncompleted, domain.StatusValidated:
		return true
	}
	return false
}

// Fail marks the job FAILED with a human-readable reason. Structural and
// load failures are terminal; the caller must re-upload.
func Fail(job *domain.ImportJob, reason string) {
	job.Status = domain.StatusFailed
	job.FailureReason = reason
}
