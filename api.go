// Package apmz provides the in-process tracing core of an APM agent.
//
// apmz models transactions (a logical unit of work such as one request) and
// the spans nested inside them. It guarantees that every span and transaction
// is ended exactly once, with an accurate duration and with any error captured,
// whether the instrumented code runs synchronously or on another goroutine.
//
// Core Components:
//   - Tracer: Owns the clock, logger, ID generator and sender.
//   - Transaction: The root timed record; the factory for spans.
//   - Span: A timed sub-operation inside a transaction.
//   - Task: A pending result observed by the asynchronous capture variants.
//   - Collector: Buffers completed records for export.
//   - Dispatcher: Fans completed records out to handlers.
//
// Basic Usage:
//
//	collector := apmz.NewCollector("default", 1024)
//	defer collector.Close()
//
//	tracer := apmz.New(collector)
//	defer tracer.Close()
//
//	ctx, tx := tracer.StartTransaction(ctx, "GET /checkout", "request")
//	defer tx.End()
//
//	err := tx.CaptureSpan("SELECT orders", "db", func(s *apmz.Span) error {
//		return queryOrders(ctx)
//	}, apmz.WithSubtype("postgresql"))
//
// Asynchronous Capture:
//
//	task := apmz.CaptureSpanGo(ctx, tx, "fetch", "external",
//		func(ctx context.Context, s *apmz.Span) (int, error) {
//			return fetch(ctx)
//		})
//	n, err := task.Await(ctx)
//
// The span above is ended when the task settles, not when CaptureSpanGo
// returns. The caller sees the task exactly as the callable produced it.
//
// Current Transaction:
//
// The active transaction travels in a context.Context. Use
// TransactionFromContext to read it. Ending the transaction clears it.
//
// Thread Safety:
//
// Tracer, Transaction, Span, Collector and Dispatcher are safe for concurrent
// use by multiple goroutines. Records handed to a Sender must not be modified.
package apmz

// Key represents a tag or custom context key.
type Key = string

// Culprit used when a capture call does not name one.
const DefaultCulprit = "PublicAPI-CaptureException"
