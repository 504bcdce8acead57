package apmz

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

const (
	stackTraceFailure = "failed capturing stacktrace"
	captureFailure    = "failed capturing error"
)

// Error is a reported error linked to its trace, transaction and parent.
// Errors are immutable once queued.
type Error struct {
	Context       ContextData      `json:"context"`
	Exception     ExceptionDetails `json:"exception"`
	ID            string           `json:"id"`
	TraceID       string           `json:"trace_id"`
	TransactionID string           `json:"transaction_id"`
	ParentID      string           `json:"parent_id"`
	Culprit       string           `json:"culprit"`
	Timestamp     int64            `json:"timestamp"`
}

// ExceptionDetails describes the captured error itself.
type ExceptionDetails struct {
	Stacktrace []StackFrame `json:"stacktrace,omitempty"`
	Message    string       `json:"message"`
	Type       string       `json:"type,omitempty"`
	Handled    bool         `json:"handled"`
}

// CaptureOption customises a single capture call.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	culprit  string
	parentID string
	handled  bool
}

// WithCulprit labels the source of the error.
func WithCulprit(culprit string) CaptureOption {
	return func(o *captureOptions) { o.culprit = culprit }
}

// WithParentID links the error to an explicit parent instead of the
// reporting transaction or span.
func WithParentID(id string) CaptureOption {
	return func(o *captureOptions) { o.parentID = id }
}

// Handled marks whether the application handled the error.
func Handled(handled bool) CaptureOption {
	return func(o *captureOptions) { o.handled = handled }
}

// reporter assembles Error records and queues them. It is shared by a
// transaction and all of its spans.
type reporter struct {
	sender    Sender
	formatter StackTraceFormatter
	logger    *zap.Logger
	clock     clockz.Clock
	ids       *IDGenerator
}

// origin identifies who is reporting.
type origin struct {
	tx       *Transaction
	entityID string
}

func (r *reporter) exception(o origin, err error, opts []CaptureOption) {
	defer r.recoverCapture(o)
	if err == nil {
		r.logger.Debug("ignoring nil error passed to CaptureException", zap.String("id", o.entityID))
		return
	}
	co := captureOptions{}
	for _, opt := range opts {
		opt(&co)
	}
	ed := ExceptionDetails{
		Message: err.Error(),
		Type:    fmt.Sprintf("%T", errors.Cause(err)),
		Handled: co.handled,
	}
	ed.Stacktrace = formatStackTrace(r.formatter, errorFrames(err), r.logger, stackTraceFailure)
	r.queue(o, ed, co)
}

func (r *reporter) message(o origin, message, culprit string, frames []sentry.Frame, opts []CaptureOption) {
	defer r.recoverCapture(o)
	co := captureOptions{culprit: culprit}
	for _, opt := range opts {
		opt(&co)
	}
	ed := ExceptionDetails{Message: message}
	ed.Stacktrace = formatStackTrace(r.formatter, frames, r.logger, stackTraceFailure)
	r.queue(o, ed, co)
}

// recoverCapture drops a record whose capture panicked, either while reading
// the error or inside the sender.
func (r *reporter) recoverCapture(o origin) {
	if rec := recover(); rec != nil {
		r.logger.Debug(captureFailure,
			zap.String("id", o.entityID),
			zap.String("panic", fmt.Sprint(rec)))
	}
}

func (r *reporter) queue(o origin, ed ExceptionDetails, co captureOptions) {
	culprit := co.culprit
	if culprit == "" {
		culprit = DefaultCulprit
	}
	parentID := co.parentID
	if parentID == "" {
		parentID = o.entityID
	}
	e := &Error{
		ID:            r.ids.ErrorID(),
		TraceID:       o.tx.TraceID(),
		TransactionID: o.tx.ID(),
		ParentID:      parentID,
		Culprit:       culprit,
		Timestamp:     r.clock.Now().UnixMicro(),
		Exception:     ed,
		Context:       o.tx.Context().Snapshot(),
	}
	r.logger.Debug("capturing error",
		zap.String("trace_id", e.TraceID),
		zap.String("parent_id", e.ParentID),
		zap.String("culprit", e.Culprit),
		zap.String("message", ed.Message))
	r.sender.QueueError(e)
}
