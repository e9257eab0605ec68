package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndWait(t *testing.T) {
	p := New(2, 10)
	defer p.Stop()

	id, err := p.Submit("rebuild", func(context.Context) (any, error) {
		return map[string]int{"vectors": 3}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := p.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	if got := task.Result.(map[string]int)["vectors"]; got != 3 {
		t.Errorf("result vectors = %d, want 3", got)
	}
	if task.StartedAt == nil || task.CompletedAt == nil || task.Duration == nil {
		t.Errorf("timestamps not set: %+v", task)
	}
}

func TestFailedAndPanickingTasks(t *testing.T) {
	p := New(1, 10)
	defer p.Stop()

	p.Submit("fails", func(context.Context) (any, error) { return nil, errors.New("boom") })
	p.Submit("panics", func(context.Context) (any, error) { panic("bad state") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for id, want := range map[string]string{"fails": "boom", "panics": "panic: bad state"} {
		task, err := p.Wait(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if task.Status != StatusFailed || task.Error != want {
			t.Errorf("%s: status %s error %q, want failed %q", id, task.Status, task.Error, want)
		}
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	p := New(1, 10)
	defer p.Stop()

	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		runs.Add(1)
		<-release
		return nil, nil
	}
	for range 3 {
		if id, err := p.Submit("same", fn); err != nil || id != "same" {
			t.Fatalf("Submit = %q, %v", id, err)
		}
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Wait(ctx, "same"); err != nil {
		t.Fatal(err)
	}
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
	if len(p.List()) != 1 {
		t.Errorf("List() = %d tasks, want 1", len(p.List()))
	}
}

func TestStatusAndQueue(t *testing.T) {
	p := New(1, 2)
	defer p.Stop()

	if _, err := p.Status("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Status(missing) = %v, want ErrTaskNotFound", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit("blocker", func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	noop := func(context.Context) (any, error) { return nil, nil }
	p.Submit("a", noop)
	p.Submit("b", noop)
	if got := p.QueueSize(); got != 2 {
		t.Errorf("QueueSize() = %d, want 2", got)
	}
	if _, err := p.Submit("c", noop); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit on full queue = %v, want ErrQueueFull", err)
	}
	if task, _ := p.Status("a"); task.Status != StatusPending {
		t.Errorf("queued status = %s, want pending", task.Status)
	}
	if task, _ := p.Status("blocker"); task.Status != StatusRunning {
		t.Errorf("blocker status = %s, want running", task.Status)
	}
	close(release)
}

func TestWaitRespectsContext(t *testing.T) {
	p := New(1, 2)
	defer p.Stop()

	release := make(chan struct{})
	defer close(release)
	p.Submit("slow", func(context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	p := New(1, 10)
	defer p.Stop()

	p.Submit("done", func(context.Context) (any, error) { return "ok", nil })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Wait(ctx, "done"); err != nil {
		t.Fatal(err)
	}

	if n := p.CleanupOlderThan(time.Hour); n != 0 {
		t.Errorf("fresh task removed: %d", n)
	}
	if n := p.CleanupOlderThan(-time.Second); n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := p.Status("done"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Status after cleanup = %v", err)
	}
}

func TestStopCancelsRunningTasks(t *testing.T) {
	p := New(1, 2)
	started := make(chan struct{})
	p.Submit("long", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	p.Stop()

	task, err := p.Status("long")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != StatusFailed {
		t.Errorf("status after stop = %s, want failed", task.Status)
	}
	if _, err := p.Submit("late", func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after stop = %v, want ErrStopped", err)
	}
}
