package integration

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/apmz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and accumulation across exports.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	all apmz.Batch
	*apmz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := apmz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// Export returns newly collected records and clears the buffer.
func (m *MockCollector) Export() apmz.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.Collector.Export()
	m.all.Transactions = append(m.all.Transactions, batch.Transactions...)
	m.all.Spans = append(m.all.Spans, batch.Spans...)
	m.all.Errors = append(m.all.Errors, batch.Errors...)
	return batch
}

// GetAll returns every record seen so far.
func (m *MockCollector) GetAll() apmz.Batch {
	m.Export()

	m.mu.Lock()
	defer m.mu.Unlock()
	return apmz.Batch{
		Transactions: append([]*apmz.Transaction(nil), m.all.Transactions...),
		Spans:        append([]*apmz.Span(nil), m.all.Spans...),
		Errors:       append([]*apmz.Error(nil), m.all.Errors...),
	}
}

// WaitForRecords waits until at least expected records have been collected.
func (m *MockCollector) WaitForRecords(expected int, timeout time.Duration) apmz.Batch {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if all := m.GetAll(); all.Len() >= expected {
			return all
		}
		<-ticker.C
	}

	all := m.GetAll()
	m.t.Errorf("Timeout waiting for records: expected %d, got %d", expected, all.Len())
	return all
}

// AssertSpanNamed returns the first span with the given name.
func (m *MockCollector) AssertSpanNamed(name string) *apmz.Span {
	for _, span := range m.GetAll().Spans {
		if span.Name() == name {
			return span
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// AssertBelongsTo verifies a span is owned by the transaction.
func (m *MockCollector) AssertBelongsTo(span *apmz.Span, tx *apmz.Transaction) {
	if span == nil || tx == nil {
		return
	}
	if span.TransactionID() != tx.ID() {
		m.t.Errorf("Span %s not owned by %s: TransactionID=%s, want %s",
			span.Name(), tx.Name(), span.TransactionID(), tx.ID())
	}
	if span.TraceID() != tx.TraceID() {
		m.t.Errorf("Trace ID mismatch: transaction=%s, span=%s", tx.TraceID(), span.TraceID())
	}
}

// MockService simulates an external service for integration testing.
type MockService struct {
	name         string
	latency      time.Duration
	mu           sync.Mutex
	requestCount int
	failureRate  float32
}

// NewMockService creates a simulated service.
func NewMockService(name string) *MockService {
	return &MockService{
		name:    name,
		latency: 5 * time.Millisecond,
	}
}

// SetLatency configures response time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFailureRate configures error probability (0.0-1.0).
func (m *MockService) SetFailureRate(rate float32) {
	m.mu.Lock()
	m.failureRate = rate
	m.mu.Unlock()
}

// Requests returns the number of calls served.
func (m *MockService) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

func (m *MockService) next() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++
	return m.latency, rand.Float32() < m.failureRate
}

// Call simulates a synchronous service call captured as a span of the
// current transaction.
func (m *MockService) Call(ctx context.Context, operation string) error {
	tx := apmz.TransactionFromContext(ctx)
	if tx == nil {
		return errors.Errorf("%s: no active transaction", m.name)
	}

	return tx.CaptureSpan(fmt.Sprintf("%s.%s", m.name, operation), "external",
		func(*apmz.Span) error {
			latency, fail := m.next()
			time.Sleep(latency)
			if fail {
				return errors.Errorf("%s: simulated failure", m.name)
			}
			return nil
		},
		apmz.WithSubtype("http"), apmz.WithAction(operation))
}

// CallAsync simulates a call whose outcome arrives on another goroutine.
func (m *MockService) CallAsync(ctx context.Context, operation string) *apmz.Task[string] {
	tx := apmz.TransactionFromContext(ctx)
	if tx == nil {
		return failedTask(errors.Errorf("%s: no active transaction", m.name))
	}

	return apmz.CaptureSpanGo(ctx, tx, fmt.Sprintf("%s.%s", m.name, operation), "external",
		func(ctx context.Context, _ *apmz.Span) (string, error) {
			latency, fail := m.next()
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			if fail {
				return "", errors.Errorf("%s: simulated failure", m.name)
			}
			return m.name + ":" + operation, nil
		},
		apmz.WithSubtype("grpc"), apmz.WithAction(operation))
}

func failedTask(err error) *apmz.Task[string] {
	task := apmz.NewTask[string]()
	task.Fail(err)
	return task
}

// TraceAnalyzer groups collected records by transaction.
type TraceAnalyzer struct {
	batch  apmz.Batch
	spans  map[string][]*apmz.Span
	errors map[string][]*apmz.Error
}

// NewTraceAnalyzer creates an analyzer for a batch.
func NewTraceAnalyzer(batch apmz.Batch) *TraceAnalyzer {
	a := &TraceAnalyzer{
		batch:  batch,
		spans:  make(map[string][]*apmz.Span),
		errors: make(map[string][]*apmz.Error),
	}
	for _, span := range batch.Spans {
		a.spans[span.TransactionID()] = append(a.spans[span.TransactionID()], span)
	}
	for _, e := range batch.Errors {
		a.errors[e.TransactionID] = append(a.errors[e.TransactionID], e)
	}
	return a
}

// SpansOf returns the spans owned by a transaction.
func (a *TraceAnalyzer) SpansOf(tx *apmz.Transaction) []*apmz.Span {
	return a.spans[tx.ID()]
}

// ErrorsOf returns the errors reported within a transaction.
func (a *TraceAnalyzer) ErrorsOf(tx *apmz.Transaction) []*apmz.Error {
	return a.errors[tx.ID()]
}

// VerifyIntegrity checks every span and error references a collected
// transaction and every span was ended.
func (a *TraceAnalyzer) VerifyIntegrity() error {
	known := make(map[string]string, len(a.batch.Transactions))
	for _, tx := range a.batch.Transactions {
		known[tx.ID()] = tx.TraceID()
	}
	for _, span := range a.batch.Spans {
		trace, ok := known[span.TransactionID()]
		if !ok {
			return errors.Errorf("span %s references unknown transaction %s", span.Name(), span.TransactionID())
		}
		if trace != span.TraceID() {
			return errors.Errorf("span %s has trace %s, want %s", span.Name(), span.TraceID(), trace)
		}
		if !span.IsEnded() {
			return errors.Errorf("span %s was collected before ending", span.Name())
		}
	}
	for _, e := range a.batch.Errors {
		if _, ok := known[e.TransactionID]; !ok {
			return errors.Errorf("error %s references unknown transaction %s", e.ID, e.TransactionID)
		}
	}
	return nil
}
