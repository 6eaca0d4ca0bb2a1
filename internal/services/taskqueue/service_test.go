package taskqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"memenote/internal/storage"
	logx "memenote/pkg/logx"
)

func testService(t *testing.T, cfg Config) (*Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "queue.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return New(cfg, st, logx.Nop(), nil), st
}

func waitNotPending(t *testing.T, st storage.Store, kind, key string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := st.PendingTask(context.Background(), kind, key)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if !pending {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s/%s never consumed", kind, key)
}

func TestSubmitAndExecute(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1})
	ctx := context.Background()

	got := make(chan Task, 1)
	svc.Register("ping", func(_ context.Context, task Task) error {
		got <- task
		return nil
	})

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "ping", "ping:1", []byte("hello"), time.Time{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case task := <-got:
		if task.Key != "ping:1" || string(task.Payload) != "hello" {
			t.Fatalf("handler got %+v", task)
		}
		if task.Attempts != 1 {
			t.Fatalf("attempts = %d, want 1", task.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}

	waitNotPending(t, st, "ping", "ping:1")
}

func TestFutureTaskWaits(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1})
	ctx := context.Background()

	var runs atomic.Int32
	svc.Register("ping", func(context.Context, Task) error {
		runs.Add(1)
		return nil
	})

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "ping", "ping:later", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("future task ran %d times", n)
	}
	pending, err := st.PendingTask(ctx, "ping", "ping:later")
	if err != nil || !pending {
		t.Fatalf("pending = %v, %v; want true", pending, err)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1, RetryMax: 3})
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan struct{})
	svc.Register("flaky", func(context.Context, Task) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "flaky", "flaky:1", nil, time.Time{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("handler never succeeded (%d calls)", calls.Load())
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
	waitNotPending(t, st, "flaky", "flaky:1")
}

func TestUnknownKindConsumed(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1})
	ctx := context.Background()

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "nobody", "nobody:1", nil, time.Time{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The row must not be re-delivered forever.
	waitNotPending(t, st, "nobody", "nobody:1")
}

func TestCancelPending(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1})
	ctx := context.Background()

	var runs atomic.Int32
	svc.Register("ping", func(context.Context, Task) error {
		runs.Add(1)
		return nil
	})

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "ping", "ping:cancel", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Cancel(ctx, "ping", "ping:cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pending, err := st.PendingTask(ctx, "ping", "ping:cancel")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending {
		t.Fatal("canceled task still pending")
	}
	if n := runs.Load(); n != 0 {
		t.Fatalf("canceled task ran %d times", n)
	}
}

func TestSupersedeWhileInFlight(t *testing.T) {
	svc, st := testService(t, Config{Workers: 1})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	svc.Register("slow", func(_ context.Context, task Task) error {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	})

	svc.Start(ctx)
	defer svc.Stop(ctx)

	if err := svc.Submit(ctx, "slow", "slow:1", []byte("old"), time.Time{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first instance never started")
	}

	// Resubmit while the old instance is still running. Its finish must not
	// consume this newer submission.
	if err := svc.Submit(ctx, "slow", "slow:1", []byte("new"), time.Time{}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runs.Load(); n < 2 {
		t.Fatalf("superseding submission never ran (runs = %d)", n)
	}
	waitNotPending(t, st, "slow", "slow:1")
}

func TestSubmitWrapsStoreError(t *testing.T) {
	svc, st := testService(t, Config{})
	_ = st.Close()

	err := svc.Submit(context.Background(), "ping", "ping:1", nil, time.Time{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	svc, _ := testService(t, Config{Workers: 2})
	ctx := context.Background()

	svc.Start(ctx)
	svc.Start(ctx)
	svc.Stop(ctx)
	svc.Stop(ctx)

	svc.Start(ctx)
	snap := svc.Snapshot()
	if snap.Workers != 2 {
		t.Fatalf("workers = %d, want 2", snap.Workers)
	}
	svc.Stop(ctx)
}
