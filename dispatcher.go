package apmz

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handler receives every completed record.
type Handler func(ev Event)

type handlerEntry struct {
	handler Handler
	id      uint64
	async   bool
}

var (
	// ErrWorkerPoolEnabled is returned when EnableWorkerPool is called twice.
	ErrWorkerPoolEnabled = errors.New("worker pool already enabled")
	// ErrInvalidPoolSize is returned for non-positive worker or queue sizes.
	ErrInvalidPoolSize = errors.New("workers and queue size must be > 0")
)

// Dispatcher is a Sender that fans records out to registered handlers.
// Sync handlers run on the goroutine that queued the record; async
// handlers run on their own goroutine or on the worker pool.
// A panicking handler is recovered and reported to the panic hook.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Dispatcher struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r any)
	workers      *workerPool
	logger       *zap.Logger
	handlersLock sync.RWMutex
	nextID       atomic.Uint64
	dropped      atomic.Uint64
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make([]handlerEntry, 0),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the logger used to report handler panics.
func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger.Named("Dispatcher")
	return d
}

// OnEvent registers a synchronous handler and returns its ID.
func (d *Dispatcher) OnEvent(handler Handler) uint64 {
	return d.register(handler, false)
}

// OnEventAsync registers an asynchronous handler and returns its ID.
func (d *Dispatcher) OnEventAsync(handler Handler) uint64 {
	return d.register(handler, true)
}

func (d *Dispatcher) register(handler Handler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := d.nextID.Add(1)

	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()

	d.handlers = append(d.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (d *Dispatcher) RemoveHandler(id uint64) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()

	// Preserve order
	for i, h := range d.handlers {
		if h.id == id {
			copy(d.handlers[i:], d.handlers[i+1:])
			d.handlers = d.handlers[:len(d.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (d *Dispatcher) SetPanicHook(hook func(handlerID uint64, r any)) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	d.panicHook = hook
}

// QueueTransaction implements Sender.
func (d *Dispatcher) QueueTransaction(tx *Transaction) {
	d.dispatch(Event{Kind: KindTransaction, Transaction: tx})
}

// QueueSpan implements Sender.
func (d *Dispatcher) QueueSpan(span *Span) {
	d.dispatch(Event{Kind: KindSpan, Span: span})
}

// QueueError implements Sender.
func (d *Dispatcher) QueueError(err *Error) {
	d.dispatch(Event{Kind: KindError, Error: err})
}

func (d *Dispatcher) dispatch(ev Event) {
	d.handlersLock.RLock()
	if len(d.handlers) == 0 {
		d.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(d.handlers))
	copy(handlers, d.handlers)
	workers := d.workers
	d.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			d.safeCall(h, ev)
			continue
		}
		entry := h
		if workers != nil {
			workers.submit(func() {
				d.safeCall(entry, ev)
			})
		} else {
			go d.safeCall(entry, ev)
		}
	}
}

func (d *Dispatcher) safeCall(entry handlerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("handler panicked",
				zap.Uint64("handler_id", entry.id),
				zap.Stringer("kind", ev.Kind),
				zap.String("panic", fmt.Sprint(r)))

			d.handlersLock.RLock()
			hook := d.panicHook
			d.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(ev)
}

// EnableWorkerPool runs async handlers on a bounded pool. Records that do
// not fit in the queue are dropped and counted.
func (d *Dispatcher) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 || queueSize <= 0 {
		return ErrInvalidPoolSize
	}

	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	if d.workers != nil {
		return ErrWorkerPoolEnabled
	}

	d.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &d.dropped,
	}

	d.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.workers.run()
	}

	return nil
}

// DroppedEvents returns the number of async deliveries dropped due to a
// full worker queue.
func (d *Dispatcher) DroppedEvents() uint64 {
	return d.dropped.Load()
}

// Close removes all handlers and waits for the worker pool to stop.
func (d *Dispatcher) Close() {
	d.handlersLock.Lock()
	d.handlers = nil
	workers := d.workers
	d.workers = nil
	d.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
