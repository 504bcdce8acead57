package apmz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextTagsAndCustom(t *testing.T) {
	c := newContext()

	c.SetTag("region", "eu")
	c.SetCustom("cart", map[string]int{"items": 3})

	v, ok := c.Tag("region")
	assert.True(t, ok)
	assert.Equal(t, "eu", v)

	_, ok = c.Tag("missing")
	assert.False(t, ok)

	custom, ok := c.Custom("cart")
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"items": 3}, custom)
}

func TestContextSnapshotIsACopy(t *testing.T) {
	c := newContext()
	c.SetTag("a", "1")

	snap := c.Snapshot()
	c.SetTag("b", "2")

	assert.Equal(t, map[Key]string{"a": "1"}, snap.Tags)
	assert.Nil(t, snap.Custom)
}

func TestContextConcurrentWrites(t *testing.T) {
	c := newContext()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetTag(fmt.Sprintf("k%d", i), "v")
			_ = c.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Snapshot().Tags, 50)
}

func TestContextMarshalJSON(t *testing.T) {
	c := newContext()
	c.SetTag("region", "eu")

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tags":{"region":"eu"}}`, string(raw))
}

func TestTransactionFromContextEmpty(t *testing.T) {
	assert.Nil(t, TransactionFromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Nil(t, TransactionFromContext(nil))
}

func TestContextWithEndedTransaction(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")
	tx.End()

	ctx := ContextWithTransaction(context.Background(), tx)
	assert.Nil(t, TransactionFromContext(ctx))
}

func TestCurrentTransactionAcrossGoroutines(t *testing.T) {
	tracer, collector, _ := newTestTracer(t)
	ctx, tx := tracer.StartTransaction(context.Background(), "checkout", "request")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current := TransactionFromContext(ctx)
			if current != nil {
				current.StartSpan("work", "internal").End()
			}
		}()
	}
	wg.Wait()
	tx.End()

	assert.Equal(t, int64(10), tx.SpanCount().Started())
	assert.Len(t, collector.Export().Spans, 10)
}

func TestContextWithNilTransaction(t *testing.T) {
	parent := context.Background()

	var ctx context.Context
	assert.NotPanics(t, func() {
		ctx = ContextWithTransaction(parent, nil)
	})
	assert.Equal(t, parent, ctx)
	assert.Nil(t, TransactionFromContext(ctx))
}
