package apmz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSettlesOnce(t *testing.T) {
	task := NewTask[int]()

	assert.Equal(t, TaskPending, task.Status())
	assert.True(t, task.Resolve(1))
	assert.False(t, task.Resolve(2))
	assert.False(t, task.Fail(errors.New("late")))
	assert.False(t, task.Cancel(nil))

	assert.Equal(t, TaskCompleted, task.Status())
	assert.Equal(t, 1, task.Value())
	assert.NoError(t, task.Err())

	select {
	case <-task.Done():
	default:
		t.Fatal("Done should be closed after settlement")
	}
}

func TestTaskObserversRunOnce(t *testing.T) {
	task := NewTask[string]()

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		task.OnSettled(func(tk *Task[string]) {
			calls.Add(1)
			assert.Equal(t, TaskFaulted, tk.Status())
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Fail(errors.New("boom"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestTaskObserverAfterSettlementRunsImmediately(t *testing.T) {
	task := NewTask[int]()
	task.Cancel(nil)

	ran := false
	task.OnSettled(func(*Task[int]) { ran = true })
	assert.True(t, ran)
}

func TestTaskObserversRunBeforeDone(t *testing.T) {
	task := NewTask[int]()

	var observed atomic.Bool
	task.OnSettled(func(*Task[int]) {
		time.Sleep(5 * time.Millisecond)
		observed.Store(true)
	})

	go task.Resolve(1)
	<-task.Done()
	assert.True(t, observed.Load())
}

func TestTaskAwait(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		task := NewTask[int]()
		task.Resolve(3)
		v, err := task.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})

	t.Run("faulted", func(t *testing.T) {
		task := NewTask[int]()
		task.Fail(errors.New("boom"))
		_, err := task.Await(context.Background())
		assert.EqualError(t, err, "boom")
	})

	t.Run("faulted without error", func(t *testing.T) {
		task := NewTask[int]()
		task.Fail(nil)
		_, err := task.Await(context.Background())
		assert.Equal(t, ErrTaskFaulted, err)
	})

	t.Run("canceled", func(t *testing.T) {
		task := NewTask[int]()
		task.Cancel(nil)
		_, err := task.Await(context.Background())
		assert.Equal(t, ErrTaskCanceled, err)
	})

	t.Run("context done first", func(t *testing.T) {
		task := NewTask[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_, err := task.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, TaskPending, task.Status())
	})
}

func TestGo(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		task := Go(context.Background(), func(context.Context) (string, error) {
			return "ok", nil
		})
		v, err := task.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("error faults", func(t *testing.T) {
		task := Go(context.Background(), func(context.Context) (string, error) {
			return "", errors.New("boom")
		})
		_, err := task.Await(context.Background())
		assert.EqualError(t, err, "boom")
		assert.Equal(t, TaskFaulted, task.Status())
	})

	t.Run("panic faults", func(t *testing.T) {
		task := Go(context.Background(), func(context.Context) (string, error) {
			panic("bad")
		})
		_, err := task.Await(context.Background())
		assert.EqualError(t, err, "panic: bad")
		assert.Equal(t, TaskFaulted, task.Status())
	})

	t.Run("deadline cancels with cause", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		task := Go(ctx, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		_, err := task.Await(context.Background())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, TaskCanceled, task.Status())
	})

	t.Run("canceled by callee without cancelled context", func(t *testing.T) {
		task := Go(context.Background(), func(context.Context) (int, error) {
			return 0, context.Canceled
		})
		_, err := task.Await(context.Background())
		assert.Equal(t, ErrTaskCanceled, err)
	})
}

func TestTaskStatusString(t *testing.T) {
	assert.Equal(t, "pending", TaskPending.String())
	assert.Equal(t, "completed", TaskCompleted.String())
	assert.Equal(t, "faulted", TaskFaulted.String())
	assert.Equal(t, "canceled", TaskCanceled.String())
	assert.Equal(t, "unknown", TaskStatus(99).String())
}
