package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devos-ai/orchestrator/internal/domain"
	"github.com/devos-ai/orchestrator/internal/logging"
	"github.com/devos-ai/orchestrator/internal/store"
)

type scriptedDispatcher struct {
	mu      sync.Mutex
	calls   int
	failFor int // number of leading calls to fail before succeeding
	result  map[string]any
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, job *domain.Job) (map[string]any, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	if call <= d.failFor {
		return nil, errors.New("transient failure")
	}
	return d.result, nil
}

func newTestQueue(t *testing.T, dispatcher Dispatcher, maxParallel int64) (*Queue, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	jobs := store.NewJobRepository(db)
	q := New(jobs, dispatcher, logging.New(false), maxParallel)
	return q, db
}

func TestEnqueueDefaultsPriority(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, 1)

	job, err := q.Enqueue("ws-1", "proj-1", domain.JobSpawnAgent, nil, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Priority != domain.DefaultPriority {
		t.Fatalf("got priority %d, want default %d", job.Priority, domain.DefaultPriority)
	}
	if job.Status != domain.JobPending {
		t.Fatalf("got status %v, want pending", job.Status)
	}
	if job.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("got max attempts %d", job.MaxAttempts)
	}
}

func TestCancelJobPendingSucceeds(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, 1)

	job, err := q.Enqueue("ws-1", "proj-1", domain.JobChat, nil, 50)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.CancelJob(job.ID, "ws-1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, err := q.GetJob(job.ID, "ws-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != domain.JobFailed || got.ErrorMessage != "Cancelled by user" {
		t.Fatalf("got %+v", got)
	}
}

func TestCancelJobTerminalFails(t *testing.T) {
	q, db := newTestQueue(t, &scriptedDispatcher{}, 1)
	jobs := store.NewJobRepository(db)

	now := time.Now()
	job := &domain.Job{ID: "job-1", WorkspaceID: "ws-1", ProjectID: "p", JobType: domain.JobChat,
		Status: domain.JobCompleted, MaxAttempts: 3, CreatedAt: now, UpdatedAt: now, CompletedAt: &now}
	if err := jobs.Insert(job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := q.CancelJob("job-1", "ws-1"); err == nil {
		t.Fatal("expected cancelling a completed job to fail")
	}
}

func TestGetStatsAggregatesByWorkspace(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, 1)
	if _, err := q.Enqueue("ws-1", "p", domain.JobChat, nil, 50); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue("ws-1", "p", domain.JobChat, nil, 50); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := q.GetStats("ws-1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Waiting != 2 {
		t.Fatalf("got %+v", stats)
	}
}

func TestRunDispatchesPendingJobToCompletion(t *testing.T) {
	dispatcher := &scriptedDispatcher{result: map[string]any{"ok": true}}
	q, _ := newTestQueue(t, dispatcher, 4)
	q.pollEvery = 10 * time.Millisecond

	job, err := q.Enqueue("ws-1", "p", domain.JobChat, nil, 50)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.GetJob(job.ID, "ws-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == domain.JobCompleted {
			cancel()
			<-done
			if got.Result["ok"] != true {
				t.Fatalf("expected result round trip, got %+v", got.Result)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("job never reached completed status")
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	dispatcher := &scriptedDispatcher{failFor: 1, result: map[string]any{"ok": true}}
	q, _ := newTestQueue(t, dispatcher, 4)
	q.pollEvery = 10 * time.Millisecond

	job, err := q.Enqueue("ws-1", "p", domain.JobChat, nil, 50)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.GetJob(job.ID, "ws-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == domain.JobCompleted {
			if got.Attempts < 2 {
				t.Fatalf("expected at least 2 attempts, got %d", got.Attempts)
			}
			return
		}
		if got.Status == domain.JobFailed {
			t.Fatalf("expected eventual success, job failed: %s", got.ErrorMessage)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached completed status")
}

func TestRunExhaustsRetriesAndFails(t *testing.T) {
	dispatcher := &scriptedDispatcher{failFor: 999}
	q, _ := newTestQueue(t, dispatcher, 4)
	q.pollEvery = 10 * time.Millisecond

	job, err := q.Enqueue("ws-1", "p", domain.JobChat, nil, 50)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.GetJob(job.ID, "ws-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status == domain.JobFailed {
			if got.Attempts != domain.DefaultMaxAttempts {
				t.Fatalf("got attempts %d, want %d", got.Attempts, domain.DefaultMaxAttempts)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached failed status")
}
