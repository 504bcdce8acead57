package apmz

import (
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestTracer returns a tracer backed by a sync-mode collector and a fake
// clock, all closed when the test ends.
func newTestTracer(t *testing.T) (*Tracer, *Collector, *clockz.FakeClock) {
	t.Helper()

	collector := NewCollector("test", 64)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)

	clock := clockz.NewFakeClockAt(testEpoch)
	tracer := New(collector).WithClock(clock)
	t.Cleanup(tracer.Close)

	return tracer, collector, clock
}

// invalidOperation mimics an application error type.
type invalidOperation struct {
	msg string
}

func (e *invalidOperation) Error() string { return e.msg }
