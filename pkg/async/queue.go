package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hq-analytics/hqbridge/pkg/observability"
)

// SafeGo executes fn in a goroutine with panic recovery, a timeout and
// error logging. Failures are logged, never propagated; use a TaskQueue
// when the caller needs to observe completion.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	log := observability.FromContext(parentCtx).WithField("task", taskName)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]any{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).Error("background task failed")
		}
	}()
}

type task struct {
	id string
	fn func(context.Context) error
}

// TaskQueue runs submitted tasks on a fixed set of workers. Every task gets
// a uuid handle; IsPending reports whether that task is still queued or
// running.
type TaskQueue struct {
	taskName string
	timeout  time.Duration
	workCh   chan task
	doneCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{}

	shutdownOnce sync.Once
}

// NewTaskQueue creates a queue with the given worker count and per-task
// timeout
func NewTaskQueue(ctx context.Context, workers int, taskName string, timeout time.Duration) *TaskQueue {
	ctx, cancel := context.WithCancel(ctx)

	q := &TaskQueue{
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan task, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.worker()
			}()
		}
		wg.Wait()
		close(q.doneCh)
	}()

	return q
}

// Submit enqueues a task and returns its handle. Returns an error if the
// queue is shut down or its buffer is full.
func (q *TaskQueue) Submit(fn func(context.Context) error) (string, error) {
	select {
	case <-q.doneCh:
		return "", fmt.Errorf("task queue shut down")
	default:
	}

	id := uuid.NewString()
	q.mu.Lock()
	q.pending[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.workCh <- task{id: id, fn: fn}:
		return id, nil
	case <-q.doneCh:
		q.finish(id)
		return "", fmt.Errorf("task queue shut down")
	default:
		q.finish(id)
		return "", fmt.Errorf("task queue full")
	}
}

// IsPending reports whether the task behind a handle is still queued or
// running. Unknown and completed handles both report false.
func (q *TaskQueue) IsPending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Shutdown stops accepting tasks and waits up to timeout for workers to
// drain what is already queued
func (q *TaskQueue) Shutdown(timeout time.Duration) error {
	var shutdownErr error
	q.shutdownOnce.Do(func() {
		close(q.workCh)
		select {
		case <-q.doneCh:
			q.cancel()
		case <-time.After(timeout):
			q.cancel()
			shutdownErr = fmt.Errorf("task queue shutdown timed out after %v", timeout)
		}
	})
	return shutdownErr
}

func (q *TaskQueue) finish(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

func (q *TaskQueue) worker() {
	log := observability.FromContext(q.ctx).WithField("task", q.taskName)
	for {
		select {
		case <-q.ctx.Done():
			return

		case t, ok := <-q.workCh:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
			func() {
				defer cancel()
				defer q.finish(t.id)
				defer func() {
					if r := recover(); r != nil {
						log.WithFields(map[string]any{
							"task_id": t.id,
							"panic":   fmt.Sprintf("%v", r),
							"stack":   string(debug.Stack()),
						}).Error("panic in queued task")
					}
				}()

				if err := t.fn(ctx); err != nil {
					log.WithField("task_id", t.id).WithError(err).Error("queued task failed")
				}
			}()
		}
	}
}
