package apmz

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// TaskStatus is the settlement state of a Task.
type TaskStatus int32

const (
	TaskPending TaskStatus = iota
	TaskCompleted
	TaskFaulted
	TaskCanceled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskCompleted:
		return "completed"
	case TaskFaulted:
		return "faulted"
	case TaskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	// ErrTaskFaulted is returned by Await for a task that faulted without an error.
	ErrTaskFaulted = errors.New("task faulted")
	// ErrTaskCanceled is returned by Await for a task canceled without a cause.
	ErrTaskCanceled = errors.New("task canceled")
)

// Task is a result that becomes available later. It settles exactly once:
// completed with a value, faulted with an optional error, or canceled with
// an optional cause.
// Safe for concurrent use.
type Task[T any] struct {
	value     T
	err       error
	done      chan struct{}
	observers []func(*Task[T])
	status    TaskStatus
	mu        sync.Mutex
}

// NewTask returns a pending task settled by Resolve, Fail or Cancel.
func NewTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and returns a task for its result.
// A context error from fn cancels the task, a panic or any other error
// faults it.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	t := NewTask[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fail(panicError(r))
			}
		}()
		v, err := fn(ctx)
		switch {
		case err == nil:
			t.Resolve(v)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			t.Cancel(cancelCause(ctx, err))
		default:
			t.Fail(err)
		}
	}()
	return t
}

// cancelCause returns the error worth reporting for a cancellation, or nil
// for a plain cancel.
func cancelCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if cause == context.Canceled {
			return nil
		}
		return cause
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

// Resolve completes the task with v. Returns false if already settled.
func (t *Task[T]) Resolve(v T) bool {
	return t.settle(TaskCompleted, v, nil)
}

// Fail faults the task. err may be nil.
func (t *Task[T]) Fail(err error) bool {
	var zero T
	return t.settle(TaskFaulted, zero, err)
}

// Cancel cancels the task. cause may be nil.
func (t *Task[T]) Cancel(cause error) bool {
	var zero T
	return t.settle(TaskCanceled, zero, cause)
}

func (t *Task[T]) settle(status TaskStatus, v T, err error) bool {
	t.mu.Lock()
	if t.status != TaskPending {
		t.mu.Unlock()
		return false
	}
	t.status = status
	t.value = v
	t.err = err
	observers := t.observers
	t.observers = nil
	t.mu.Unlock()

	// Done closes after the observers have run.
	defer close(t.done)
	for _, fn := range observers {
		fn(t)
	}
	return true
}

// OnSettled registers fn to run once the task settles. fn runs on the
// goroutine that settles the task, or immediately if it already has. It
// must not block.
func (t *Task[T]) OnSettled(fn func(*Task[T])) {
	t.mu.Lock()
	if t.status == TaskPending {
		t.observers = append(t.observers, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn(t)
}

// Done is closed when the task settles.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Status returns the current state.
func (t *Task[T]) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the fault or cancellation cause, which may be nil.
func (t *Task[T]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Value returns the result of a completed task, or the zero value.
func (t *Task[T]) Value() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Await blocks until the task settles or ctx is done.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-t.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case TaskCompleted:
		return t.value, nil
	case TaskCanceled:
		if t.err != nil {
			return zero, t.err
		}
		return zero, ErrTaskCanceled
	default:
		if t.err != nil {
			return zero, t.err
		}
		return zero, ErrTaskFaulted
	}
}
