package apmz

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanStart(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")

	span := tx.StartSpan("SELECT orders", "db", WithSubtype("postgresql"), WithAction("query"))

	assert.Equal(t, "SELECT orders", span.Name())
	assert.Equal(t, "db", span.Type())
	assert.Equal(t, "postgresql", span.Subtype())
	assert.Equal(t, "query", span.Action())
	assert.Equal(t, tx.ID(), span.TransactionID())
	assert.Equal(t, tx.ID(), span.ParentID())
	assert.Equal(t, tx.TraceID(), span.TraceID())
	assert.Same(t, tx, span.Transaction())
	assert.NotEqual(t, tx.ID(), span.ID())
	assert.Equal(t, testEpoch.UnixMicro(), span.Timestamp())
	assert.Equal(t, int64(1), tx.SpanCount().Started())
}

func TestSpanEmptyOptionsIgnored(t *testing.T) {
	tracer, _, _ := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")

	span := tx.StartSpan("work", "internal", WithSubtype(""), WithAction(""))

	assert.Empty(t, span.Subtype())
	assert.Empty(t, span.Action())
}

func TestSpanEnd(t *testing.T) {
	tracer, collector, clock := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")

	span := tx.StartSpan("work", "internal")
	clock.Advance(25 * time.Millisecond)
	span.End()
	clock.Advance(25 * time.Millisecond)
	span.End()

	d, ok := span.Duration()
	require.True(t, ok)
	assert.InDelta(t, 25.0, d, 0.0001)
	assert.True(t, span.IsEnded())

	batch := collector.Export()
	require.Len(t, batch.Spans, 1)
	assert.Same(t, span, batch.Spans[0])
	assert.Empty(t, batch.Transactions, "ending a span does not end its transaction")
}

func TestSpanConcurrentEnd(t *testing.T) {
	tracer, collector, _ := newTestTracer(t)
	span := tracer.NewTransaction("checkout", "request").StartSpan("work", "internal")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			span.End()
		}()
	}
	wg.Wait()

	assert.Len(t, collector.Export().Spans, 1)
}

func TestSpanExplicitDuration(t *testing.T) {
	tracer, _, clock := newTestTracer(t)
	span := tracer.NewTransaction("checkout", "request").StartSpan("work", "internal")

	span.SetDuration(3)
	clock.Advance(time.Second)
	span.End()
	span.SetDuration(9)

	d, _ := span.Duration()
	assert.Equal(t, 3.0, d)
}

func TestSpanCaptureExceptionDefaultsParentToSpan(t *testing.T) {
	tracer, collector, _ := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")
	span := tx.StartSpan("work", "internal")

	span.CaptureException(errors.New("boom"))
	span.CaptureException(errors.New("linked"), WithParentID(tx.ID()))
	span.CaptureError("message", "worker", nil)

	errs := collector.Export().Errors
	require.Len(t, errs, 3)
	assert.Equal(t, span.ID(), errs[0].ParentID)
	assert.Equal(t, tx.ID(), errs[0].TransactionID)
	assert.Equal(t, tx.TraceID(), errs[0].TraceID)
	assert.Equal(t, tx.ID(), errs[1].ParentID)
	assert.Equal(t, span.ID(), errs[2].ParentID)
	assert.Equal(t, "worker", errs[2].Culprit)
}

func TestSpanMarshalJSON(t *testing.T) {
	tracer, _, clock := newTestTracer(t)
	tx := tracer.NewTransaction("checkout", "request")
	span := tx.StartSpan("GET /inventory", "external", WithSubtype("http"))
	clock.Advance(5 * time.Millisecond)
	span.End()

	raw, err := json.Marshal(span)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, span.ID(), out["id"])
	assert.Equal(t, tx.ID(), out["parent_id"])
	assert.Equal(t, "http", out["subtype"])
	assert.NotContains(t, out, "action")
	assert.InDelta(t, 5.0, out["duration"], 0.0001)
}
