package apmz

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Batch is the set of records exported by a collector, in arrival order
// per kind.
type Batch struct {
	Transactions []*Transaction
	Spans        []*Span
	Errors       []*Error
}

// Len returns the total number of records.
func (b Batch) Len() int {
	return len(b.Transactions) + len(b.Spans) + len(b.Errors)
}

// Collector is a Sender that buffers completed records for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	batch        Batch
	eventsCh     chan Event
	stopCh       chan struct{}
	done         chan struct{}
	logger       *zap.Logger
	metrics      *Metrics
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewCollector creates a collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:     name,
		eventsCh: make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	go c.start()
	return c
}

// WithLogger sets the logger used to report drops.
func (c *Collector) WithLogger(logger *zap.Logger) *Collector {
	c.logger = logger.Named("Collector").With(zap.String("collector", c.name))
	return c
}

// WithMetrics counts queued and dropped records.
func (c *Collector) WithMetrics(m *Metrics) *Collector {
	c.metrics = m
	return c
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case ev := <-c.eventsCh:
					c.buffer(ev)
				default:
					return
				}
			}
		case ev := <-c.eventsCh:
			c.buffer(ev)
		}
	}
}

// Close stops the collector after draining queued records. Records
// arriving afterwards are dropped.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
			c.logger.Warn("collector did not drain before close timeout")
		}
	})
}

// QueueTransaction implements Sender.
func (c *Collector) QueueTransaction(tx *Transaction) {
	c.Handle(Event{Kind: KindTransaction, Transaction: tx})
}

// QueueSpan implements Sender.
func (c *Collector) QueueSpan(span *Span) {
	c.Handle(Event{Kind: KindSpan, Span: span})
}

// QueueError implements Sender.
func (c *Collector) QueueError(err *Error) {
	c.Handle(Event{Kind: KindError, Error: err})
}

// Handle buffers an event with backpressure protection. If the internal
// channel is full the event is dropped and the drop counter incremented.
// Handle can be registered as a Dispatcher handler.
func (c *Collector) Handle(ev Event) {
	if ev.Transaction == nil && ev.Span == nil && ev.Error == nil {
		c.drop(ev, "empty event")
		return
	}
	if c.closed.Load() {
		c.drop(ev, "collector closed")
		return
	}

	if c.syncMode.Load() {
		c.buffer(ev)
		return
	}

	select {
	case c.eventsCh <- ev:
		if c.closed.Load() {
			c.drainLate()
		}
	default:
		c.drop(ev, "buffer full")
	}
}

// drainLate buffers records that raced Close into the channel after the
// collector goroutine stopped reading it.
func (c *Collector) drainLate() {
	<-c.done
	for {
		select {
		case ev := <-c.eventsCh:
			c.buffer(ev)
		default:
			return
		}
	}
}

func (c *Collector) drop(ev Event, reason string) {
	c.droppedCount.Add(1)
	c.metrics.dropped(c.name, ev.Kind)
	c.logger.Warn("dropping record", zap.Stringer("kind", ev.Kind), zap.String("reason", reason))
}

func (c *Collector) buffer(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case KindTransaction:
		c.batch.Transactions = append(c.batch.Transactions, ev.Transaction)
	case KindSpan:
		c.batch.Spans = append(c.batch.Spans, ev.Span)
	case KindError:
		c.batch.Errors = append(c.batch.Errors, ev.Error)
	default:
		return
	}
	c.metrics.queued(c.name, ev.Kind)
}

// Export returns all buffered records and clears the buffer.
func (c *Collector) Export() Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.batch
	c.batch = Batch{}
	return out
}

// Count returns the current number of buffered records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch.Len()
}

// DroppedCount returns the total number of records dropped.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, records are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered records and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.batch = Batch{}
	c.droppedCount.Store(0)
}
