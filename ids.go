package apmz

import (
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

// IDGenerator produces trace, transaction, span and error identifiers.
// A single generator is shared by every tracer in the process; see
// SharedIDGenerator.
type IDGenerator struct {
	traces   *IDPool
	spans    *IDPool
	fallback atomic.Uint64
}

// NewIDGenerator creates a generator whose pools hold poolSize IDs each.
// A poolSize of zero sizes the pools from the CPU count.
func NewIDGenerator(poolSize int) *IDGenerator {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 100
	}
	g := &IDGenerator{}
	g.traces = NewIDPool(poolSize, func() string { return g.random(traceIDBytes) })
	g.spans = NewIDPool(poolSize, func() string { return g.random(spanIDBytes) })
	return g
}

var (
	sharedIDs     *IDGenerator
	sharedIDsOnce sync.Once
)

// SharedIDGenerator returns the process-wide generator.
func SharedIDGenerator() *IDGenerator {
	sharedIDsOnce.Do(func() {
		sharedIDs = NewIDGenerator(0)
	})
	return sharedIDs
}

// TraceID returns a 32 character hex identifier.
func (g *IDGenerator) TraceID() string {
	return g.traces.Get()
}

// SpanID returns a 16 character hex identifier. Transactions and spans share
// this format.
func (g *IDGenerator) SpanID() string {
	return g.spans.Get()
}

// ErrorID returns a random UUID.
func (*IDGenerator) ErrorID() string {
	return uuid.NewString()
}

// Close stops the background refill goroutines.
func (g *IDGenerator) Close() {
	g.traces.Close()
	g.spans.Close()
}

func (g *IDGenerator) random(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failed; a counter mixed with the wall clock keeps IDs unique
		// within the process.
		seq := g.fallback.Add(1)
		id := strconv.FormatInt(time.Now().UnixNano(), 16) + strconv.FormatUint(seq, 16)
		for len(id) < 2*n {
			id = "0" + id
		}
		return id[len(id)-2*n:]
	}
	return hex.EncodeToString(b)
}
