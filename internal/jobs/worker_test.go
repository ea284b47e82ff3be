package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/agentflow/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", id, err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	id, err := Enqueue(store, "github_sync", map[string]string{"team_id": "t-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var gotPayload map[string]string
	w := NewWorker(store, 0)
	w.Handle("github_sync", func(_ context.Context, job *storage.Job) error {
		return json.Unmarshal([]byte(job.PayloadJSON), &gotPayload)
	})

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if gotPayload["team_id"] != "t-1" {
		t.Errorf("payload = %v", gotPayload)
	}
	if status, _ := jobStatus(t, store, id); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_IgnoresUnregisteredTypes(t *testing.T) {
	store := openTestStore(t)
	if _, err := Enqueue(store, "jira_refresh", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, 0)
	if didWork, _ := w.RunOnce(context.Background()); didWork {
		t.Error("worker without handlers claimed a job")
	}
	w.Handle("github_sync", func(context.Context, *storage.Job) error { return nil })
	if didWork, _ := w.RunOnce(context.Background()); didWork {
		t.Error("worker claimed a job of an unregistered type")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	id, err := Enqueue(store, "github_sync", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var calls atomic.Int32
	w := NewWorker(store, 0)
	w.Handle("github_sync", func(context.Context, *storage.Job) error {
		n := calls.Add(1)
		if n <= 2 {
			return fmt.Errorf("transient error %d", n)
		}
		return nil
	})
	ctx := context.Background()

	// 1st attempt fails and stays retryable.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	if status, attempts := jobStatus(t, store, id); status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	// Backoff keeps the job out of reach until run_after passes.
	if didWork, _ := w.RunOnce(ctx); didWork {
		t.Error("job claimed during backoff")
	}
	resetRunAfter(t, store, id)

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	resetRunAfter(t, store, id)

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobStatus(t, store, id); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	id, _ := Enqueue(store, "github_sync", nil)

	w := NewWorker(store, 0)
	w.Handle("github_sync", func(context.Context, *storage.Job) error {
		return fmt.Errorf("permanent error")
	})

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, id)
		}
	}

	if status, _ := jobStatus(t, store, id); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
	j, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.LastError != "permanent error" {
		t.Errorf("LastError = %q", j.LastError)
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				if _, err := Enqueue(store, "github_sync", map[string]int{"g": g, "j": j}); err != nil {
					t.Errorf("Enqueue %d-%d: %v", g, j, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	var handled atomic.Int32
	w := NewWorker(store, 0)
	w.Handle("github_sync", func(context.Context, *storage.Job) error {
		handled.Add(1)
		return nil
	})

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}
	if int(handled.Load()) != total {
		t.Errorf("handled %d jobs, want %d", handled.Load(), total)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, 10*time.Millisecond)
	w.Handle("github_sync", func(context.Context, *storage.Job) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEnqueueOnce_ReusesActiveJob(t *testing.T) {
	store := openTestStore(t)

	first, queued, err := EnqueueOnce(store, "github_sync", map[string]string{"repo": "acme/app"})
	if err != nil || !queued {
		t.Fatalf("first EnqueueOnce = (%q, %v, %v)", first, queued, err)
	}
	second, queued, err := EnqueueOnce(store, "github_sync", map[string]string{"repo": "acme/app"})
	if err != nil {
		t.Fatalf("second EnqueueOnce: %v", err)
	}
	if queued || second != first {
		t.Errorf("second EnqueueOnce = (%q, %v), want (%q, false)", second, queued, first)
	}
}

func TestWorker_RunRequeuesInterruptedJobs(t *testing.T) {
	store := openTestStore(t)
	id, err := Enqueue(store, "github_sync", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Simulate a crash mid-job: claimed but never completed.
	if _, err := store.ClaimNextJob([]string{"github_sync"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	handled := make(chan string, 1)
	w := NewWorker(store, 10*time.Millisecond)
	w.Handle("github_sync", func(_ context.Context, job *storage.Job) error {
		handled <- job.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case got := <-handled:
		if got != id {
			t.Errorf("handled %q, want %q", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted job was not requeued")
	}
}
