package apmz

import (
	"encoding/json"
	"sync/atomic"
)

// SpanCount tracks how many spans a transaction started and dropped.
// Dropped is reserved for span limiting and stays zero in this package.
type SpanCount struct {
	started atomic.Int64
	dropped atomic.Int64
}

// Started returns the number of spans started.
func (c *SpanCount) Started() int64 {
	return c.started.Load()
}

// Dropped returns the number of spans dropped.
func (c *SpanCount) Dropped() int64 {
	return c.dropped.Load()
}

func (c *SpanCount) incStarted() {
	c.started.Add(1)
}

// MarshalJSON implements json.Marshaler.
func (c *SpanCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Started int64 `json:"started"`
		Dropped int64 `json:"dropped"`
	}{c.Started(), c.Dropped()})
}
