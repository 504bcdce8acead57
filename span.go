package apmz

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Span is a timed sub-operation inside a transaction.
// Safe for concurrent use. Ended spans are immutable.
//
//nolint:govet // Field order optimized for readability over memory
type Span struct {
	tx       *Transaction
	logger   *zap.Logger
	start    time.Time
	id       string
	name     string
	spanType string
	subtype  string
	action   string

	mu       sync.Mutex
	duration *float64
	ended    atomic.Bool
}

// SpanOption sets optional span attributes at start.
type SpanOption func(*Span)

// WithSubtype sets the span subtype, e.g. "postgresql". Empty values are ignored.
func WithSubtype(subtype string) SpanOption {
	return func(s *Span) {
		if subtype != "" {
			s.subtype = subtype
		}
	}
}

// WithAction sets the span action, e.g. "query". Empty values are ignored.
func WithAction(action string) SpanOption {
	return func(s *Span) {
		if action != "" {
			s.action = action
		}
	}
}

func newSpan(tx *Transaction, name, spanType string, opts []SpanOption) *Span {
	s := &Span{
		tx:       tx,
		logger:   tx.tracer.logger.Named("Span"),
		start:    tx.tracer.clock.Now(),
		id:       tx.tracer.ids.SpanID(),
		name:     name,
		spanType: spanType,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the span identifier.
func (s *Span) ID() string { return s.id }

// TransactionID returns the owning transaction's identifier.
func (s *Span) TransactionID() string { return s.tx.id }

// TraceID returns the owning trace's identifier.
func (s *Span) TraceID() string { return s.tx.traceID }

// ParentID returns the identifier of the span's parent, the owning
// transaction.
func (s *Span) ParentID() string { return s.tx.id }

// Transaction returns the owning transaction.
func (s *Span) Transaction() *Transaction { return s.tx }

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Type returns the span type, e.g. "db".
func (s *Span) Type() string { return s.spanType }

// Subtype returns the span subtype, or "" if none was set.
func (s *Span) Subtype() string { return s.subtype }

// Action returns the span action, or "" if none was set.
func (s *Span) Action() string { return s.action }

// Start returns the start time.
func (s *Span) Start() time.Time { return s.start }

// Timestamp returns the start time in microseconds since the Unix epoch.
func (s *Span) Timestamp() int64 { return s.start.UnixMicro() }

// Duration returns the duration in milliseconds once set or ended.
func (s *Span) Duration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration == nil {
		return 0, false
	}
	return *s.duration, true
}

// SetDuration overrides the duration in milliseconds. No-op once ended.
func (s *Span) SetDuration(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended.Load() {
		s.duration = &ms
	}
}

// IsEnded reports whether End has been called.
func (s *Span) IsEnded() bool { return s.ended.Load() }

// End computes the duration unless one was set and hands the span to the
// sender. Safe to call multiple times - subsequent calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	if !s.ended.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.logger.Debug("span already ended", zap.String("id", s.id))
		return
	}
	if s.duration == nil {
		ms := durationMillis(s.tx.tracer.clock.Now().Sub(s.start))
		s.duration = &ms
	}
	s.mu.Unlock()

	s.tx.tracer.sender.QueueSpan(s)
	s.logger.Debug("ending span",
		zap.String("id", s.id),
		zap.String("name", s.name),
		zap.String("type", s.spanType))
}

// CaptureException reports err with this span as the default parent.
func (s *Span) CaptureException(err error, opts ...CaptureOption) {
	s.tx.reporter.exception(origin{tx: s.tx, entityID: s.id}, err, opts)
}

// CaptureError reports a message with this span as the default parent.
func (s *Span) CaptureError(message, culprit string, frames []sentry.Frame, opts ...CaptureOption) {
	s.tx.reporter.message(origin{tx: s.tx, entityID: s.id}, message, culprit, frames, opts)
}

// MarshalJSON implements json.Marshaler.
func (s *Span) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	duration := s.duration
	s.mu.Unlock()

	return json.Marshal(struct {
		Duration      *float64 `json:"duration"`
		ID            string   `json:"id"`
		TransactionID string   `json:"transaction_id"`
		TraceID       string   `json:"trace_id"`
		ParentID      string   `json:"parent_id"`
		Name          string   `json:"name"`
		Type          string   `json:"type"`
		Subtype       string   `json:"subtype,omitempty"`
		Action        string   `json:"action,omitempty"`
		Timestamp     int64    `json:"timestamp"`
	}{
		ID:            s.id,
		TransactionID: s.tx.id,
		TraceID:       s.tx.traceID,
		ParentID:      s.tx.id,
		Name:          s.name,
		Type:          s.spanType,
		Subtype:       s.subtype,
		Action:        s.action,
		Duration:      duration,
		Timestamp:     s.Timestamp(),
	})
}
