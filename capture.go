package apmz

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Culprits and messages for settlements that carry no error.
const (
	faultedMessage  = "Task faulted"
	faultedCulprit  = "A task faulted"
	canceledMessage = "Task canceled"
	canceledCulprit = "A task was canceled"
)

// CaptureSpan runs fn inside a new span. A returned error or a panic is
// reported against the span, and the span is ended on every path.
//
// Captured errors are swallowed: CaptureSpan returns nil and does not
// re-panic, unless the tracer was configured with RethrowCaptured.
func (tx *Transaction) CaptureSpan(name, spanType string, fn func(*Span) error, opts ...SpanOption) error {
	span := tx.StartSpan(name, spanType, opts...)
	defer span.End()

	return tx.runCaptured(span, func() error { return fn(span) })
}

// CaptureSpanResult is CaptureSpan for callables that produce a value. On a
// captured failure the zero value is returned.
func CaptureSpanResult[T any](tx *Transaction, name, spanType string, fn func(*Span) (T, error), opts ...SpanOption) (T, error) {
	span := tx.StartSpan(name, spanType, opts...)
	defer span.End()

	var result T
	err := tx.runCaptured(span, func() error {
		v, err := fn(span)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (tx *Transaction) runCaptured(span *Span, fn func() error) (err error) {
	rethrow := tx.tracer.rethrow.Load()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		span.CaptureException(panicError(r))
		if rethrow {
			panic(r)
		}
		err = nil
	}()

	if ferr := fn(); ferr != nil {
		span.CaptureException(ferr)
		if rethrow {
			return ferr
		}
	}
	return nil
}

// CaptureSpanAsync starts a span, obtains a task from fn and ends the span
// when the task settles. The task is returned unchanged.
//
// A fault or cancellation is reported against the span. A panic in fn, or a
// nil task, yields a faulted task so the caller still gets something to
// await.
func CaptureSpanAsync[T any](tx *Transaction, name, spanType string, fn func(*Span) *Task[T], opts ...SpanOption) *Task[T] {
	span := tx.StartSpan(name, spanType, opts...)
	task := startTask(span, fn)
	observeTask(span, task)
	return task
}

// CaptureSpanGo runs fn on a new goroutine inside a span, see Go and
// CaptureSpanAsync.
func CaptureSpanGo[T any](ctx context.Context, tx *Transaction, name, spanType string, fn func(context.Context, *Span) (T, error), opts ...SpanOption) *Task[T] {
	return CaptureSpanAsync(tx, name, spanType, func(s *Span) *Task[T] {
		return Go(ctx, func(ctx context.Context) (T, error) {
			return fn(ctx, s)
		})
	}, opts...)
}

func startTask[T any](span *Span, fn func(*Span) *Task[T]) (task *Task[T]) {
	defer func() {
		if r := recover(); r != nil {
			task = NewTask[T]()
			task.Fail(panicError(r))
		}
	}()

	task = fn(span)
	if task == nil {
		task = NewTask[T]()
		task.Fail(nil)
	}
	return task
}

func observeTask[T any](span *Span, task *Task[T]) {
	task.OnSettled(func(t *Task[T]) {
		defer span.End()
		reportSettlement(span, t.Status(), t.Err())
	})
}

// reportSettlement reports at most one error for a settled task.
func reportSettlement(span *Span, status TaskStatus, err error) {
	switch status {
	case TaskFaulted:
		if err == nil {
			span.CaptureError(faultedMessage, faultedCulprit, CurrentFrames())
			return
		}
		span.CaptureException(flattenErrors(err))
	case TaskCanceled:
		if err == nil {
			span.CaptureError(canceledMessage, canceledCulprit, CurrentFrames())
			return
		}
		span.CaptureException(err)
	}
}

// flattenErrors returns the single leaf of an aggregate, or one composite
// error holding every leaf.
func flattenErrors(err error) error {
	leaves := leafErrors(err)
	if len(leaves) == 1 {
		return leaves[0]
	}
	return multierr.Combine(leaves...)
}

func leafErrors(err error) []error {
	if err == nil {
		return nil
	}
	var inner []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		inner = joined.Unwrap()
	} else if errs := multierr.Errors(err); len(errs) > 1 {
		inner = errs
	}
	if len(inner) == 0 {
		return []error{err}
	}

	var out []error
	for _, e := range inner {
		out = append(out, leafErrors(e)...)
	}
	return out
}

// panicError converts a recovered value into an error carrying a stack.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("panic: %v", r)
}
