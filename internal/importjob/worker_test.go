package importjob

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/queue"
	"github.com/tabledeck/importd/internal/storage"
	"github.com/tabledeck/importd/internal/webhook"
)

type workerFixture struct {
	worker    *Worker
	jobs      *stubJobRepo
	importers *stubImporterRepo
	store     storage.ObjectStore
	events    *stubEventRepo
	sender    *stubSender
}

func newWorkerFixture(t *testing.T, imp domain.Importer) *workerFixture {
	t.Helper()
	jobs := newStubJobRepo()
	importers := newStubImporterRepo(imp)
	store := storage.NewMemoryStore()
	events := newStubEventRepo()
	sender := &stubSender{}
	notifier := webhook.NewNotifier(events, sender, nil)
	promoter := NewPromoter(jobs, importers, store, &dropDispatcher{}, nil)
	return &workerFixture{
		worker:    NewWorker(jobs, importers, store, notifier, promoter, nil),
		jobs:      jobs,
		importers: importers,
		store:     store,
		events:    events,
		sender:    sender,
	}
}

func (f *workerFixture) seedJob(t *testing.T, imp domain.Importer, source domain.ImportSource, csv string) domain.ImportJob {
	t.Helper()
	job := domain.NewImportJob(imp.ID, source)
	job.FileMetadata = &domain.FileMetadata{
		FileName:    "people.csv",
		StoragePath: "uploads/" + job.ID.String() + "/people.csv",
	}
	if err := f.store.Upload(context.Background(), job.FileMetadata.StoragePath, []byte(csv)); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	if _, err := f.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job failed: %v", err)
	}
	return job
}

func TestProcessValidCSVCompletes(t *testing.T) {
	imp := trackerImporter()
	imp.WebhookEnabled = true
	imp.WebhookURL = "https://example.com/hook"
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "name,email,age\nAda,ada@example.com,36\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.FailureReason)
	}
	if got.RowCount != 1 || got.ErrorCount != 0 {
		t.Fatalf("unexpected counts: rows=%d errors=%d", got.RowCount, got.ErrorCount)
	}
	if got.HasData() {
		t.Fatal("API job must stay lazy after processing")
	}
	if len(got.ColumnMapping) == 0 {
		t.Fatal("resolved mapping must be persisted")
	}
	if len(f.sender.bodies) != 1 {
		t.Fatalf("expected one webhook delivery, got %d", len(f.sender.bodies))
	}
}

func TestProcessPortalJobKeepsData(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourcePortal, "name,email,age\nAda,ada@example.com,36\n")
	job.ColumnMapping = map[string]string{"name": "name", "email": "email", "age": "age"}
	if _, err := f.jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if !got.HasData() {
		t.Fatal("portal job must keep rows database-resident")
	}
}

func TestProcessRecordsCellConflicts(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "name,email,age\nAda,bad-email,36\n,grace@example.com,x\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusUncompleted {
		t.Fatalf("expected UNCOMPLETED, got %s", got.Status)
	}
	if got.ErrorCount != 2 {
		t.Fatalf("expected 2 error rows, got %d", got.ErrorCount)
	}
	if len(got.Errors) != 3 {
		t.Fatalf("expected 3 conflicts (bad email, blank name, bad age), got %v", got.Errors)
	}
	for _, c := range got.Errors {
		if c.Row < 1 {
			t.Fatalf("cell conflicts must be 1-based, got %d", c.Row)
		}
	}
}

func TestProcessFuzzyHeaderMatch(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "Names,EMAIL,Age\nAda,ada@example.com,36\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected fuzzy mapping to succeed, got %s (%s)", got.Status, got.FailureReason)
	}
	if got.ColumnMapping["name"] != "Names" {
		t.Fatalf("expected name mapped to Names, got %v", got.ColumnMapping)
	}
}

func TestProcessMissingRequiredColumnFails(t *testing.T) {
	imp := trackerImporter()
	imp.WebhookEnabled = true
	imp.WebhookURL = "https://example.com/hook"
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "name,age\nAda,36\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}
	if len(got.Errors) != 1 || got.Errors[0].Row != domain.HeaderRow {
		t.Fatalf("expected one structural conflict, got %v", got.Errors)
	}
	if got.ErrorCount != got.RowCount {
		t.Fatalf("structural failure must count all rows as failed: %d != %d", got.ErrorCount, got.RowCount)
	}

	if len(f.sender.bodies) != 1 {
		t.Fatalf("failure webhook missing, got %d deliveries", len(f.sender.bodies))
	}
	var payload webhook.Payload
	if err := json.Unmarshal(f.sender.bodies[0], &payload); err != nil {
		t.Fatalf("bad webhook body: %v", err)
	}
	if payload.Status != "failed" {
		t.Fatalf("expected failed payload status, got %q", payload.Status)
	}
}

func TestProcessExportsValidAndInvalidSplits(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "name,email,age\nAda,ada@example.com,36\nGrace,bad,45\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	valid, err := f.store.Download(context.Background(), "processed/"+job.ID.String()+"_valid.csv")
	if err != nil {
		t.Fatalf("valid export missing: %v", err)
	}
	invalid, err := f.store.Download(context.Background(), "processed/"+job.ID.String()+"_invalid.csv")
	if err != nil {
		t.Fatalf("invalid export missing: %v", err)
	}
	if string(valid) == "" || string(invalid) == "" {
		t.Fatal("expected non-empty exports")
	}
}

func TestProcessDropsUnmatchedColumns(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourcePortal, "name,email,age,notes\nAda,ada@example.com,36,vip\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.FailureReason)
	}
	if _, ok := got.Data[0]["notes"]; ok {
		t.Fatalf("unmatched column must be dropped, got %v", got.Data[0])
	}
	if got.Data[0]["name"] != "Ada" {
		t.Fatalf("mapped columns must survive the projection, got %v", got.Data[0])
	}
}

func TestProcessKeepsUnmatchedColumnsWhenEnabled(t *testing.T) {
	imp := trackerImporter()
	imp.IncludeUnmatchedColumns = true
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourcePortal, "name,email,age,notes\nAda,ada@example.com,36,vip\n")

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Data[0]["notes"] != "vip" {
		t.Fatalf("expected unmatched column kept, got %v", got.Data[0])
	}
}

func TestProcessSkipsJobAwaitingMapping(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourcePortal, "name,email,age\nAda,ada@example.com,36\n")
	job.Status = domain.StatusPendingValidation
	if _, err := f.jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := f.worker.Process(context.Background(), queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusPendingValidation {
		t.Fatalf("job awaiting mapping must not be processed, got %s", got.Status)
	}
}

func TestProcessRedeliveredTaskDropped(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)
	job := f.seedJob(t, imp, domain.SourceAPI, "name,email,age\nAda,ada@example.com,36\n")

	task := queue.Task{Type: queue.TaskProcessJob, JobID: job.ID}
	if err := f.worker.Process(context.Background(), task); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	first, _ := f.jobs.GetByID(context.Background(), job.ID)

	if err := f.worker.Process(context.Background(), task); err != nil {
		t.Fatalf("redelivered Process errored: %v", err)
	}
	second, _ := f.jobs.GetByID(context.Background(), job.ID)
	if second.UpdatedAt != first.UpdatedAt {
		t.Fatal("redelivered task must be a no-op")
	}
}

func TestHandleDispatchesPromote(t *testing.T) {
	imp := trackerImporter()
	f := newWorkerFixture(t, imp)

	job := domain.NewImportJob(imp.ID, domain.SourceAPI)
	job.Status = domain.StatusPromoting
	job.Data = []map[string]any{{"name": "Ada"}}
	if _, err := f.jobs.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := f.worker.Handle(context.Background(), queue.Task{Type: queue.TaskPromoteJob, JobID: job.ID}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("promote task not dispatched, status %s", got.Status)
	}
}
