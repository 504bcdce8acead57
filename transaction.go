package apmz

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Transaction is the root timed record of one unit of work.
// Safe for concurrent use. It must not be reused after End.
//
//nolint:govet // Field order optimized for readability over memory
type Transaction struct {
	tracer    *Tracer
	reporter  *reporter
	logger    *zap.Logger
	start     time.Time
	id        string
	traceID   string
	spanCount SpanCount
	service   atomic.Pointer[Service]

	ctxOnce sync.Once
	ctx     *Context

	mu       sync.Mutex
	name     string
	txType   string
	result   string
	duration *float64
	slots    []*slot

	ended atomic.Bool
}

func newTransaction(t *Tracer, name, transactionType string) *Transaction {
	tx := &Transaction{
		tracer:   t,
		reporter: t.reporter(),
		logger:   t.logger.Named("Transaction"),
		start:    t.clock.Now(),
		id:       t.ids.SpanID(),
		traceID:  t.ids.TraceID(),
		name:     name,
		txType:   transactionType,
	}
	tx.service.Store(t.service)
	return tx
}

// ID returns the transaction identifier.
func (tx *Transaction) ID() string { return tx.id }

// TraceID returns the identifier shared by everything in this trace.
func (tx *Transaction) TraceID() string { return tx.traceID }

// Name returns the transaction name.
func (tx *Transaction) Name() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.name
}

// SetName renames the transaction. No-op once ended.
func (tx *Transaction) SetName(name string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended.Load() {
		tx.name = name
	}
}

// Type returns the transaction type, e.g. "request".
func (tx *Transaction) Type() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.txType
}

// SetType changes the transaction type. No-op once ended.
func (tx *Transaction) SetType(transactionType string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended.Load() {
		tx.txType = transactionType
	}
}

// Result returns the outcome, typically an HTTP status or "success".
func (tx *Transaction) Result() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.result
}

// SetResult records the outcome. No-op once ended.
func (tx *Transaction) SetResult(result string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended.Load() {
		tx.result = result
	}
}

// Duration returns the duration in milliseconds, if it has been set
// explicitly or computed by End.
func (tx *Transaction) Duration() (float64, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.duration == nil {
		return 0, false
	}
	return *tx.duration, true
}

// SetDuration overrides the duration in milliseconds. End keeps an
// explicit duration. No-op once ended.
func (tx *Transaction) SetDuration(ms float64) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended.Load() {
		tx.duration = &ms
	}
}

// Start returns the start time.
func (tx *Transaction) Start() time.Time { return tx.start }

// Timestamp returns the start time in microseconds since the Unix epoch.
func (tx *Transaction) Timestamp() int64 { return tx.start.UnixMicro() }

// SpanCount returns the span counters.
func (tx *Transaction) SpanCount() *SpanCount { return &tx.spanCount }

// Context returns the tags and custom data, creating them on first use.
func (tx *Transaction) Context() *Context {
	tx.ctxOnce.Do(func() {
		tx.ctx = newContext()
	})
	return tx.ctx
}

// SetTag is shorthand for Context().SetTag.
func (tx *Transaction) SetTag(key Key, value string) {
	tx.Context().SetTag(key, value)
}

// Tags returns a copy of the tags.
func (tx *Transaction) Tags() map[Key]string {
	return tx.Context().Snapshot().Tags
}

// Service returns the owning service.
func (tx *Transaction) Service() *Service { return tx.service.Load() }

// SetService replaces the owning service.
func (tx *Transaction) SetService(service *Service) { tx.service.Store(service) }

// IsEnded reports whether End has been called.
func (tx *Transaction) IsEnded() bool { return tx.ended.Load() }

// End computes the duration unless one was set, hands the transaction to
// the sender and clears it as the current transaction. Calls after the
// first are ignored.
func (tx *Transaction) End() {
	tx.mu.Lock()
	if !tx.ended.CompareAndSwap(false, true) {
		tx.mu.Unlock()
		tx.logger.Debug("transaction already ended", zap.String("id", tx.id))
		return
	}
	if tx.duration == nil {
		ms := durationMillis(tx.tracer.clock.Now().Sub(tx.start))
		tx.duration = &ms
	}
	slots := tx.slots
	tx.slots = nil
	name, txType := tx.name, tx.txType
	tx.mu.Unlock()

	tx.tracer.sender.QueueTransaction(tx)
	tx.logger.Debug("ending transaction",
		zap.String("id", tx.id),
		zap.String("name", name),
		zap.String("type", txType))

	for _, s := range slots {
		s.tx.CompareAndSwap(tx, nil)
	}
}

func (tx *Transaction) attach(s *slot) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended.Load() {
		s.tx.Store(nil)
		return
	}
	tx.slots = append(tx.slots, s)
}

// StartSpan starts a span owned by this transaction.
func (tx *Transaction) StartSpan(name, spanType string, opts ...SpanOption) *Span {
	span := newSpan(tx, name, spanType, opts)
	tx.spanCount.incStarted()
	span.logger.Debug("starting span",
		zap.String("id", span.id),
		zap.String("transaction_id", tx.id),
		zap.String("trace_id", tx.traceID),
		zap.String("name", name),
		zap.String("type", spanType))
	return span
}

// CaptureException reports err against this transaction. The parent
// defaults to the transaction itself.
func (tx *Transaction) CaptureException(err error, opts ...CaptureOption) {
	tx.reporter.exception(origin{tx: tx, entityID: tx.id}, err, opts)
}

// CaptureError reports a message with the given frames, for example those
// returned by CurrentFrames.
func (tx *Transaction) CaptureError(message, culprit string, frames []sentry.Frame, opts ...CaptureOption) {
	tx.reporter.message(origin{tx: tx, entityID: tx.id}, message, culprit, frames, opts)
}

// MarshalJSON implements json.Marshaler.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	tx.mu.Lock()
	name, txType, result, duration := tx.name, tx.txType, tx.result, tx.duration
	tx.mu.Unlock()

	return json.Marshal(struct {
		Duration  *float64   `json:"duration"`
		SpanCount *SpanCount `json:"span_count"`
		Context   *Context   `json:"context"`
		Service   *Service   `json:"service,omitempty"`
		ID        string     `json:"id"`
		TraceID   string     `json:"trace_id"`
		Name      string     `json:"name"`
		Type      string     `json:"type"`
		Result    string     `json:"result,omitempty"`
		Timestamp int64      `json:"timestamp"`
	}{
		ID:        tx.id,
		TraceID:   tx.traceID,
		Name:      name,
		Type:      txType,
		Result:    result,
		Duration:  duration,
		Timestamp: tx.Timestamp(),
		SpanCount: &tx.spanCount,
		Context:   tx.Context(),
		Service:   tx.Service(),
	})
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
