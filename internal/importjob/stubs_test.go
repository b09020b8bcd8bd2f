package importjob

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/queue"
)

// stubJobRepo is an in-memory ImportJobRepository with the same CAS
// semantics as the real one.
type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ImportJob
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: make(map[uuid.UUID]domain.ImportJob)}
}

func (r *stubJobRepo) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return job, nil
}

func (r *stubJobRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ImportJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (r *stubJobRepo) List(_ context.Context, importerID *uuid.UUID, limit, offset int) ([]domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ImportJob
	for _, job := range r.jobs {
		if importerID == nil || job.ImporterID == *importerID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *stubJobRepo) Update(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ImportJob{}, domain.ErrNotFound
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *stubJobRepo) SetStatusIf(_ context.Context, id uuid.UUID, to domain.ImportStatus, from ...domain.ImportStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, status := range from {
		if job.Status == status {
			job.Status = to
			r.jobs[id] = job
			return true, nil
		}
	}
	return false, nil
}

func (r *stubJobRepo) ListStale(_ context.Context, status domain.ImportStatus, maxAge time.Duration, limit int) ([]domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var out []domain.ImportJob
	for _, job := range r.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			out = append(out, job)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *stubJobRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

type stubImporterRepo struct {
	mu        sync.Mutex
	importers map[uuid.UUID]domain.Importer
}

func newStubImporterRepo(importers ...domain.Importer) *stubImporterRepo {
	r := &stubImporterRepo{importers: make(map[uuid.UUID]domain.Importer)}
	for _, imp := range importers {
		r.importers[imp.ID] = imp
	}
	return r
}

func (r *stubImporterRepo) Create(_ context.Context, imp domain.Importer) (domain.Importer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[imp.ID] = imp
	return imp, nil
}

func (r *stubImporterRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Importer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.importers[id]
	if !ok {
		return domain.Importer{}, domain.ErrNotFound
	}
	return imp, nil
}

func (r *stubImporterRepo) List(_ context.Context) ([]domain.Importer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Importer
	for _, imp := range r.importers {
		out = append(out, imp)
	}
	return out, nil
}

func (r *stubImporterRepo) Update(_ context.Context, imp domain.Importer) (domain.Importer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[imp.ID] = imp
	return imp, nil
}

func (r *stubImporterRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.importers, id)
	return nil
}

type stubEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]domain.WebhookEvent
}

func newStubEventRepo() *stubEventRepo {
	return &stubEventRepo{events: make(map[uuid.UUID]domain.WebhookEvent)}
}

func (r *stubEventRepo) Create(_ context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
	return event, nil
}

func (r *stubEventRepo) GetByID(_ context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return domain.WebhookEvent{}, domain.ErrNotFound
	}
	return event, nil
}

func (r *stubEventRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, event := range r.events {
		if event.ImportJobID == jobID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *stubEventRepo) Update(_ context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
	return event, nil
}

type stubSender struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (s *stubSender) Send(_ context.Context, _ string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	return nil
}

// syncDispatcher runs tasks inline so tests observe completed background
// work without sleeping.
type syncDispatcher struct {
	handler queue.Handler
	tasks   []queue.Task
}

func (d *syncDispatcher) Enqueue(ctx context.Context, task queue.Task) error {
	d.tasks = append(d.tasks, task)
	if d.handler != nil {
		return d.handler(ctx, task)
	}
	return nil
}

// dropDispatcher records tasks without running them, for timeout paths.
type dropDispatcher struct {
	tasks []queue.Task
}

func (d *dropDispatcher) Enqueue(_ context.Context, task queue.Task) error {
	d.tasks = append(d.tasks, task)
	return nil
}
