package integration

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/apmz"
)

// TestChannelSaturation verifies the capture path never blocks on a full
// collector. 1000 transactions are generated instantly into a buffer of 100.
func TestChannelSaturation(t *testing.T) {
	collector := apmz.NewCollector("test", 100)
	defer collector.Close()
	tracer := apmz.New(collector)
	defer tracer.Close()

	const generated = 1000
	start := time.Now()
	for i := 0; i < generated; i++ {
		tracer.NewTransaction("burst", "request").End()
	}
	generationTime := time.Since(start)

	if generationTime > 100*time.Millisecond {
		t.Errorf("Generation took too long: %v (indicates blocking behavior)", generationTime)
	}

	time.Sleep(100 * time.Millisecond)

	dropped := collector.DroppedCount()
	collected := collector.Export().Len()
	t.Logf("Generated: %d, Collected: %d, Dropped: %d, GenTime: %v",
		generated, collected, dropped, generationTime)

	if collected == 0 {
		t.Error("Nothing collected - collector not functioning")
	}
	if collected+int(dropped) != generated {
		t.Errorf("Accounting error: generated=%d, collected+dropped=%d", generated, collected+int(dropped))
	}
}

// TestCollectorShutdownUnderLoad verifies Close during continuous
// generation neither hangs nor leaks goroutines.
func TestCollectorShutdownUnderLoad(t *testing.T) {
	// The shared ID generator owns long-lived refill goroutines.
	apmz.SharedIDGenerator()
	before := runtime.NumGoroutine()

	collector := apmz.NewCollector("test", 500)
	tracer := apmz.New(collector)

	stop := make(chan struct{})
	generationDone := make(chan struct{})
	go func() {
		defer close(generationDone)
		for {
			select {
			case <-stop:
				return
			default:
				tx := tracer.NewTransaction("load", "request")
				tx.StartSpan("step", "internal").End()
				tx.End()
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)

	closeDone := make(chan struct{})
	go func() {
		collector.Close()
		close(closeDone)
	}()
	close(stop)

	select {
	case <-generationDone:
	case <-time.After(2 * time.Second):
		t.Error("Generation goroutine didn't stop")
	}
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Error("Collector close timed out")
	}

	time.Sleep(100 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("Goroutine leak: before=%d, after=%d", before, after)
	}

	batch := collector.Export()
	for _, tx := range batch.Transactions {
		if !tx.IsEnded() {
			t.Error("Collected transaction was not ended")
		}
		if _, ok := tx.Duration(); !ok {
			t.Error("Collected transaction has no duration")
		}
	}
	tracer.NewTransaction("after-close", "request").End()
	if collector.DroppedCount() == 0 {
		t.Error("Record queued after close should be dropped")
	}
}

// TestMultipleCollectorsCompetition verifies collectors fed by one
// dispatcher operate independently.
func TestMultipleCollectorsCompetition(t *testing.T) {
	dispatcher := apmz.NewDispatcher()
	defer dispatcher.Close()

	small := apmz.NewCollector("small", 10)
	defer small.Close()
	large := apmz.NewCollector("large", 10000)
	defer large.Close()
	dispatcher.OnEvent(small.Handle)
	dispatcher.OnEvent(large.Handle)

	tracer := apmz.New(dispatcher)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tracer.NewTransaction("work", "job").End()
			}
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	smallTotal := small.Export().Len() + int(small.DroppedCount())
	largeTotal := large.Export().Len() + int(large.DroppedCount())
	if smallTotal != 1000 || largeTotal != 1000 {
		t.Errorf("Accounting error: small=%d large=%d, want 1000 each", smallTotal, largeTotal)
	}
	if large.DroppedCount() > small.DroppedCount() {
		t.Errorf("Large buffer dropped more than small: %d > %d",
			large.DroppedCount(), small.DroppedCount())
	}
}

// TestCapturedErrorsUnderBackpressure verifies errors share the same
// non-blocking path as transactions.
func TestCapturedErrorsUnderBackpressure(t *testing.T) {
	collector := apmz.NewCollector("errors", 5)
	defer collector.Close()
	tracer := apmz.New(collector)

	ctx, tx := tracer.StartTransaction(context.Background(), "batch", "job")
	for i := 0; i < 500; i++ {
		_ = apmz.TransactionFromContext(ctx).CaptureSpan("item", "internal", func(*apmz.Span) error {
			return context.DeadlineExceeded
		})
	}
	tx.End()

	time.Sleep(50 * time.Millisecond)
	batch := collector.Export()
	if total := batch.Len() + int(collector.DroppedCount()); total != 1001 {
		t.Errorf("Expected 1001 records accounted for, got %d", total)
	}
}
