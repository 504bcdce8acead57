package apmz

// Sender takes ownership of completed records. Implementations must not
// block and must be safe for concurrent use.
type Sender interface {
	QueueTransaction(tx *Transaction)
	QueueSpan(span *Span)
	QueueError(err *Error)
}

// EventKind identifies which record an Event carries.
type EventKind uint8

const (
	KindTransaction EventKind = iota + 1
	KindSpan
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindTransaction:
		return "transaction"
	case KindSpan:
		return "span"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event wraps one completed record. Exactly one of the pointers is set,
// matching Kind.
type Event struct {
	Transaction *Transaction
	Span        *Span
	Error       *Error
	Kind        EventKind
}

// Discard is a Sender that drops everything.
var Discard Sender = discard{}

type discard struct{}

func (discard) QueueTransaction(*Transaction) {}
func (discard) QueueSpan(*Span)               {}
func (discard) QueueError(*Error)             {}
