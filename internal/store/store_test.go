package store

import (
	"testing"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobRepositoryInsertAndGetByID(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now().UTC().Truncate(time.Second)
	job := &domain.Job{
		ID: "job-1", WorkspaceID: "ws-1", ProjectID: "proj-1",
		JobType: domain.JobSpawnAgent, Payload: map[string]any{"agentType": "dev"},
		Status: domain.JobPending, Priority: 50, MaxAttempts: 3,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Insert(job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.GetByID("job-1", "ws-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != "job-1" || got.JobType != domain.JobSpawnAgent || got.Status != domain.JobPending {
		t.Fatalf("got %+v", got)
	}
	if got.Payload["agentType"] != "dev" {
		t.Fatalf("expected payload round trip, got %+v", got.Payload)
	}
}

func TestJobRepositoryGetByIDWrongWorkspaceNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now()
	job := &domain.Job{ID: "job-1", WorkspaceID: "ws-1", ProjectID: "proj-1",
		JobType: domain.JobChat, Status: domain.JobPending, MaxAttempts: 3, CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := repo.GetByID("job-1", "ws-other")
	if err != ErrNotFound {
		t.Fatalf("got err %v, want ErrNotFound", err)
	}
}

func TestJobRepositoryUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now()
	job := &domain.Job{ID: "job-1", WorkspaceID: "ws-1", ProjectID: "proj-1",
		JobType: domain.JobChat, Status: domain.JobPending, MaxAttempts: 3, CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	job.Status = domain.JobCompleted
	job.Result = map[string]any{"ok": true}
	job.UpdatedAt = time.Now()
	if err := repo.Update(job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByID("job-1", "ws-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("got status %v", got.Status)
	}
	if result, ok := got.Result["ok"].(bool); !ok || !result {
		t.Fatalf("expected result round trip, got %+v", got.Result)
	}
}

func TestJobRepositoryListByStatusOrdersByPriorityThenCreatedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	// spec.md §3: "Priority is an integer (1 = highest, <= 100)" — lower
	// numbers run first, ties broken by creation order.
	base := time.Now()
	jobs := []*domain.Job{
		{ID: "high-early", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat, Status: domain.JobPending, Priority: 10, MaxAttempts: 3, CreatedAt: base, UpdatedAt: base},
		{ID: "low", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat, Status: domain.JobPending, Priority: 90, MaxAttempts: 3, CreatedAt: base.Add(time.Second), UpdatedAt: base},
		{ID: "high-late", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat, Status: domain.JobPending, Priority: 10, MaxAttempts: 3, CreatedAt: base.Add(2 * time.Second), UpdatedAt: base},
	}
	for _, j := range jobs {
		if err := repo.Insert(j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := repo.ListByStatus(domain.JobPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(got))
	}
	wantOrder := []string{"high-early", "high-late", "low"}
	for i, w := range wantOrder {
		if got[i].ID != w {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, w)
		}
	}
}

func TestJobRepositoryListFiltersAndPaginates(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now()
	for i := 0; i < 5; i++ {
		j := &domain.Job{
			ID: "job-" + string(rune('a'+i)), WorkspaceID: "ws-1", ProjectID: "p",
			JobType: domain.JobSpawnAgent, Status: domain.JobPending, MaxAttempts: 3,
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}
		if err := repo.Insert(j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	other := &domain.Job{ID: "other-ws", WorkspaceID: "ws-2", ProjectID: "p", JobType: domain.JobSpawnAgent, Status: domain.JobPending, MaxAttempts: 3, CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(other); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	page, total, err := repo.List("ws-1", ListFilter{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Fatalf("got total %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("got page len %d, want 2", len(page))
	}
}

func TestJobRepositoryStats(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now()
	statuses := []domain.JobStatus{domain.JobPending, domain.JobProcessing, domain.JobCompleted, domain.JobFailed, domain.JobFailed}
	for i, st := range statuses {
		j := &domain.Job{ID: "job-" + string(rune('a'+i)), WorkspaceID: "ws-1", ProjectID: "p",
			JobType: domain.JobChat, Status: st, MaxAttempts: 3, CreatedAt: now, UpdatedAt: now}
		if err := repo.Insert(j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	stats, err := repo.Stats("ws-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Waiting != 1 || stats.Active != 1 || stats.Completed != 1 || stats.Failed != 2 {
		t.Fatalf("got %+v", stats)
	}
}

func TestJobRepositoryPurgeRetained(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)

	now := time.Now()
	old := now.Add(-8 * 24 * time.Hour)
	recent := now.Add(-1 * time.Hour)

	completedOld := &domain.Job{ID: "completed-old", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat,
		Status: domain.JobCompleted, MaxAttempts: 3, CreatedAt: old, UpdatedAt: old, CompletedAt: &old}
	completedRecent := &domain.Job{ID: "completed-recent", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat,
		Status: domain.JobCompleted, MaxAttempts: 3, CreatedAt: recent, UpdatedAt: recent, CompletedAt: &recent}
	for _, j := range []*domain.Job{completedOld, completedRecent} {
		if err := repo.Insert(j); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := repo.PurgeRetained(now, 7*24*time.Hour, 30*24*time.Hour); err != nil {
		t.Fatalf("PurgeRetained: %v", err)
	}

	if _, err := repo.GetByID("completed-old", "ws-1"); err != ErrNotFound {
		t.Fatalf("expected old completed job to be purged, got err %v", err)
	}
	if _, err := repo.GetByID("completed-recent", "ws-1"); err != nil {
		t.Fatalf("expected recent completed job to survive, got err %v", err)
	}
}

func TestProjectLockSerializesSequentialAcquires(t *testing.T) {
	db := newTestDB(t)

	lock1, err := Acquire(db, "proj-1", "holder-a")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	lock2, err := Acquire(db, "proj-1", "holder-b")
	if err != nil {
		t.Fatalf("second Acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestProjectLockAbortDoesNotPersistHolder(t *testing.T) {
	db := newTestDB(t)

	lock, err := Acquire(db, "proj-1", "holder-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	lock2, err := Acquire(db, "proj-1", "holder-b")
	if err != nil {
		t.Fatalf("Acquire after abort: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
