// Package worker runs slow jobs such as index rebuilds and bulk embedding
// extraction off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultRetention is how long finished tasks stay queryable.
const DefaultRetention = time.Hour

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueFull    = errors.New("task queue is full")
	ErrStopped      = errors.New("worker pool stopped")
)

// Func is the work a task performs. ctx is cancelled when the pool stops.
type Func func(ctx context.Context) (any, error)

// Task is the JSON view of a task.
type Task struct {
	ID          string     `json:"task_id"`
	Status      Status     `json:"status"`
	Result      any        `json:"result"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Duration    *float64   `json:"duration"`
}

type task struct {
	mu          sync.RWMutex
	id          string
	fn          Func
	status      Status
	result      any
	err         string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}
}

func (t *task) view() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := Task{
		ID:        t.id,
		Status:    t.status,
		Result:    t.result,
		Error:     t.err,
		CreatedAt: t.createdAt,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		v.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		v.CompletedAt = &completed
		if !t.startedAt.IsZero() {
			d := t.completedAt.Sub(t.startedAt).Seconds()
			v.Duration = &d
		}
	}
	return v
}

func (t *task) finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == StatusCompleted || t.status == StatusFailed
}

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	queue  chan *task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*task
	stopped bool
}

// New starts workers goroutines reading from a queue of queueSize tasks.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan *task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
	for i := range workers {
		p.wg.Add(1)
		go p.run(i)
	}
	logging.Info("background worker started", "workers", workers)
	return p
}

func (p *Pool) run(worker int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.queue:
			logging.Debug("worker picked up task", "worker", worker, "task_id", t.id)
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t *task) {
	t.mu.Lock()
	t.status = StatusRunning
	t.startedAt = time.Now()
	t.mu.Unlock()
	logging.Info("executing task", "task_id", t.id)

	result, err := safeCall(p.ctx, t.fn)

	t.mu.Lock()
	t.completedAt = time.Now()
	duration := t.completedAt.Sub(t.startedAt)
	if err != nil {
		t.status = StatusFailed
		t.err = err.Error()
	} else {
		t.status = StatusCompleted
		t.result = result
	}
	t.mu.Unlock()
	close(t.done)

	if err != nil {
		logging.Error("task failed", "task_id", t.id, "error", err)
		return
	}
	logging.Info("task completed", "task_id", t.id, "duration", duration.Round(time.Millisecond))
}

func safeCall(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Submit queues fn under id. Submitting an id that is already known returns
// that id without queueing anything.
func (p *Pool) Submit(id string, fn Func) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", ErrStopped
	}
	if _, ok := p.tasks[id]; ok {
		logging.Warn("task already exists", "task_id", id)
		return id, nil
	}

	t := &task{
		id:        id,
		fn:        fn,
		status:    StatusPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	select {
	case p.queue <- t:
	default:
		return "", ErrQueueFull
	}
	p.tasks[id] = t
	logging.Info("task queued", "task_id", id, "queue_size", len(p.queue))
	return id, nil
}

func (p *Pool) get(id string) (*task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tasks[id]
	return t, ok
}

// Status returns a snapshot of one task.
func (p *Pool) Status(id string) (Task, error) {
	t, ok := p.get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t.view(), nil
}

// List returns every known task, newest first.
func (p *Pool) List() []Task {
	p.mu.RLock()
	out := make([]Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t.view())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until the task finishes or ctx is done.
func (p *Pool) Wait(ctx context.Context, id string) (Task, error) {
	t, ok := p.get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	select {
	case <-t.done:
		return t.view(), nil
	case <-ctx.Done():
		return t.view(), ctx.Err()
	}
}

// QueueSize is the number of tasks waiting for a worker.
func (p *Pool) QueueSize() int {
	return len(p.queue)
}

// CleanupOlderThan forgets finished tasks created more than age ago and
// returns how many were dropped.
func (p *Pool) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, t := range p.tasks {
		if t.finished() && t.createdAt.Before(cutoff) {
			delete(p.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Info("cleaned up old tasks", "count", removed)
	}
	return removed
}

// StartCleanup runs CleanupOlderThan(retention) every interval until the
// pool stops.
func (p *Pool) StartCleanup(interval, retention time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.CleanupOlderThan(retention)
			}
		}
	}()
}

// Stop cancels running tasks and waits for the workers to exit. Tasks still
// queued are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	logging.Info("background worker stopped")
}
