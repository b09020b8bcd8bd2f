package importjob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/queue"
	"github.com/tabledeck/importd/internal/storage"
)

func promotionFixture(t *testing.T, csv string) (*Promoter, *stubJobRepo, domain.ImportJob, domain.Importer) {
	t.Helper()
	imp := trackerImporter()
	importers := newStubImporterRepo(imp)
	jobs := newStubJobRepo()
	store := storage.NewMemoryStore()

	job := domain.NewImportJob(imp.ID, domain.SourceAPI)
	job.Status = domain.StatusUncompleted
	job.RowCount = 2
	job.FileMetadata = &domain.FileMetadata{
		FileName:    "people.csv",
		StoragePath: "uploads/people.csv",
	}
	if csv != "" {
		if err := store.Upload(context.Background(), job.FileMetadata.StoragePath, []byte(csv)); err != nil {
			t.Fatalf("seed upload failed: %v", err)
		}
	}
	if _, err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job failed: %v", err)
	}

	p := NewPromoter(jobs, importers, store, &dropDispatcher{}, nil)
	return p, jobs, job, imp
}

const promotionCSV = "name,email,age\nAda,ada@example.com,36\nGrace,bad-email,45\n"

func TestPromoteMaterializesRows(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, promotionCSV)
	job.Status = domain.StatusPromoting
	job.Errors = []domain.Conflict{{Row: 2, Field: "email", Value: "bad-email", Message: "email must be a valid email address"}}
	job.ErrorCount = 1
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := p.Promote(context.Background(), queue.Task{Type: queue.TaskPromoteJob, JobID: job.ID}); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	got, _ := jobs.GetByID(context.Background(), job.ID)
	if !got.HasData() {
		t.Fatal("expected rows materialized")
	}
	if got.Status != domain.StatusUncompleted {
		t.Fatalf("expected UNCOMPLETED after release, got %s", got.Status)
	}
	if len(got.Data) != 2 || got.Data[0]["name"] != "Ada" {
		t.Fatalf("unexpected data: %v", got.Data)
	}
}

func TestPromoteAppliesPendingEdit(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, promotionCSV)
	job.Status = domain.StatusPromoting
	job.Errors = []domain.Conflict{{Row: 2, Field: "email", Value: "bad-email", Message: "email must be a valid email address"}}
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	task := queue.Task{
		Type:  queue.TaskPromoteJob,
		JobID: job.ID,
		Edit:  &queue.CellEdit{Row: 1, Field: "email", Value: "grace@example.com"},
	}
	if err := p.Promote(context.Background(), task); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	got, _ := jobs.GetByID(context.Background(), job.ID)
	if got.Data[1]["email"] != "grace@example.com" {
		t.Fatalf("pending edit not applied: %v", got.Data[1])
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("edit resolved the only conflict, expected COMPLETED, got %s", got.Status)
	}
}

func TestPromoteIdempotentWhenDataPresent(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, "")
	job.Status = domain.StatusPromoting
	job.Data = []map[string]any{{"name": "Ada"}}
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := p.Promote(context.Background(), queue.Task{Type: queue.TaskPromoteJob, JobID: job.ID}); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	got, _ := jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected lock released to COMPLETED, got %s", got.Status)
	}
	if len(got.Data) != 1 {
		t.Fatalf("data must not be reloaded, got %d rows", len(got.Data))
	}
}

func TestPromoteFailsOnMissingFile(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, "")
	job.Status = domain.StatusPromoting
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if err := p.Promote(context.Background(), queue.Task{Type: queue.TaskPromoteJob, JobID: job.ID}); err != nil {
		t.Fatalf("Promote returned error: %v", err)
	}
	got, _ := jobs.GetByID(context.Background(), job.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED on unreadable file, got %s", got.Status)
	}
	if got.FailureReason != promotionLoadFailure {
		t.Fatalf("unexpected failure reason: %q", got.FailureReason)
	}
}

func TestEnsurePromotedShortCircuitsOnData(t *testing.T) {
	p, _, job, _ := promotionFixture(t, promotionCSV)
	job.Data = []map[string]any{{"name": "Ada"}}

	got, err := p.EnsurePromoted(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("EnsurePromoted failed: %v", err)
	}
	if len(got.Data) != 1 {
		t.Fatal("expected job returned as-is")
	}
}

func TestEnsurePromotedRejectsConcurrent(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, promotionCSV)
	job.Status = domain.StatusPromoting
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if _, err := p.EnsurePromoted(context.Background(), job, nil); !errors.Is(err, domain.ErrPromotionInProgress) {
		t.Fatalf("expected ErrPromotionInProgress, got %v", err)
	}
}

func TestEnsurePromotedRejectsFailedJobTerminally(t *testing.T) {
	p, jobs, job, _ := promotionFixture(t, promotionCSV)
	job.Status = domain.StatusFailed
	job.FailureReason = "Failed to process import file."
	if _, err := jobs.Update(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	_, err := p.EnsurePromoted(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrJobNotEditable) {
		t.Fatalf("expected terminal ErrJobNotEditable, got %v", err)
	}
	if errors.Is(err, domain.ErrPromotionInProgress) {
		t.Fatal("a FAILED job must not signal retry-shortly")
	}
}

func TestEnsurePromotedNoFileData(t *testing.T) {
	p, _, job, _ := promotionFixture(t, promotionCSV)
	job.FileMetadata = nil

	if _, err := p.EnsurePromoted(context.Background(), job, nil); !errors.Is(err, domain.ErrNoFileData) {
		t.Fatalf("expected ErrNoFileData, got %v", err)
	}
}

func TestEnsurePromotedTimesOutToRetrySignal(t *testing.T) {
	p, _, job, _ := promotionFixture(t, promotionCSV)
	p.pollInterval = time.Millisecond
	p.pollAttempts = 3

	// Dispatcher drops the task, so the poll can never observe data.
	_, err := p.EnsurePromoted(context.Background(), job, nil)
	if !errors.Is(err, domain.ErrPromotionInProgress) {
		t.Fatalf("expected retry signal on timeout, got %v", err)
	}
}

func TestEnsurePromotedWaitsForBackgroundLoad(t *testing.T) {
	imp := trackerImporter()
	importers := newStubImporterRepo(imp)
	jobs := newStubJobRepo()
	store := storage.NewMemoryStore()

	job := domain.NewImportJob(imp.ID, domain.SourceAPI)
	job.Status = domain.StatusUncompleted
	job.FileMetadata = &domain.FileMetadata{FileName: "people.csv", StoragePath: "uploads/people.csv"}
	if err := store.Upload(context.Background(), job.FileMetadata.StoragePath, []byte(promotionCSV)); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	dispatcher := &syncDispatcher{}
	p := NewPromoter(jobs, importers, store, dispatcher, nil)
	p.pollInterval = time.Millisecond
	dispatcher.handler = p.Promote

	got, err := p.EnsurePromoted(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("EnsurePromoted failed: %v", err)
	}
	if !got.HasData() {
		t.Fatal("expected promoted job with data")
	}
	if len(dispatcher.tasks) != 1 {
		t.Fatalf("expected exactly one promotion task, got %d", len(dispatcher.tasks))
	}
}
