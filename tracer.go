package apmz

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tracer creates transactions and owns what they share: the clock, the
// logger, the ID generator, the sender and the service metadata.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability over memory
type Tracer struct {
	sender    Sender
	formatter StackTraceFormatter
	clock     clockz.Clock
	logger    *zap.Logger
	ids       *IDGenerator
	service   *Service
	ownsIDs   bool
	config    Config
	rethrow   atomic.Bool
}

// New creates a tracer that hands completed records to sender.
// Uses the real clock, a no-op logger and the shared ID generator.
func New(sender Sender) *Tracer {
	if sender == nil {
		sender = Discard
	}
	cfg := DefaultConfig()
	return &Tracer{
		sender:    sender,
		formatter: DefaultFormatter{Limit: cfg.StackTraceLimit},
		clock:     clockz.RealClock,
		logger:    zap.NewNop(),
		ids:       SharedIDGenerator(),
		service:   ServiceFromConfig(cfg),
		config:    cfg,
	}
}

// NewFromConfig validates cfg and creates a tracer with a production logger
// at cfg.LogLevel.
func NewFromConfig(cfg Config, sender Sender) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid apm config")
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	t := New(sender).WithLogger(logger)
	t.config = cfg
	t.rethrow.Store(cfg.RethrowCaptured)
	t.service = ServiceFromConfig(cfg)
	t.formatter = DefaultFormatter{Limit: cfg.StackTraceLimit}
	if cfg.IDPoolSize > 0 {
		t.ids = NewIDGenerator(cfg.IDPoolSize)
		t.ownsIDs = true
	}
	return t, nil
}

// WithClock sets the clock used for timestamps and durations.
// Enables clock injection for deterministic testing.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	t.clock = clock
	return t
}

// WithLogger sets the logger. Components log through named children.
func (t *Tracer) WithLogger(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.logger = logger
	return t
}

// WithFormatter replaces the stack trace formatter.
func (t *Tracer) WithFormatter(formatter StackTraceFormatter) *Tracer {
	t.formatter = formatter
	return t
}

// WithIDGenerator replaces the shared ID generator.
func (t *Tracer) WithIDGenerator(ids *IDGenerator) *Tracer {
	t.ids = ids
	return t
}

// WithService sets the service new transactions report under.
func (t *Tracer) WithService(service *Service) *Tracer {
	t.service = service
	return t
}

// WithRethrow controls whether the synchronous CaptureSpan variants return
// captured errors to the caller. Safe to toggle on a live tracer.
func (t *Tracer) WithRethrow(rethrow bool) *Tracer {
	t.rethrow.Store(rethrow)
	return t
}

// Config returns the tracer configuration.
func (t *Tracer) Config() Config {
	cfg := t.config
	cfg.RethrowCaptured = t.rethrow.Load()
	return cfg
}

// StartTransaction begins a transaction and returns a context carrying it
// as the current transaction.
func (t *Tracer) StartTransaction(ctx context.Context, name, transactionType string) (context.Context, *Transaction) {
	tx := t.NewTransaction(name, transactionType)
	return ContextWithTransaction(ctx, tx), tx
}

// NewTransaction begins a transaction without installing it in a context.
func (t *Tracer) NewTransaction(name, transactionType string) *Transaction {
	tx := newTransaction(t, name, transactionType)
	t.logger.Named("Transaction").Debug("starting transaction",
		zap.String("id", tx.ID()),
		zap.String("trace_id", tx.TraceID()),
		zap.String("name", name),
		zap.String("type", transactionType))
	return tx
}

// Close releases resources owned by the tracer and flushes the logger.
// The shared ID generator is left running.
func (t *Tracer) Close() {
	if t.ownsIDs {
		t.ids.Close()
	}
	_ = t.logger.Sync()
}

func (t *Tracer) reporter() *reporter {
	return &reporter{
		sender:    t.sender,
		formatter: t.formatter,
		logger:    t.logger.Named("Reporter"),
		clock:     t.clock,
		ids:       t.ids,
	}
}
