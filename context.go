package apmz

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Context is the bag of tags and custom data attached to a transaction.
// Safe for concurrent use.
type Context struct {
	tags   *xsync.MapOf[Key, string]
	custom *xsync.MapOf[Key, any]
}

func newContext() *Context {
	return &Context{
		tags:   xsync.NewMapOf[Key, string](),
		custom: xsync.NewMapOf[Key, any](),
	}
}

// SetTag sets an indexed string tag.
func (c *Context) SetTag(key Key, value string) {
	c.tags.Store(key, value)
}

// Tag returns the value of a tag.
func (c *Context) Tag(key Key) (string, bool) {
	return c.tags.Load(key)
}

// SetCustom stores arbitrary, non-indexed data.
func (c *Context) SetCustom(key Key, value any) {
	c.custom.Store(key, value)
}

// Custom returns custom data by key.
func (c *Context) Custom(key Key) (any, bool) {
	return c.custom.Load(key)
}

// Snapshot copies the current contents.
func (c *Context) Snapshot() ContextData {
	data := ContextData{}
	if n := c.tags.Size(); n > 0 {
		data.Tags = make(map[Key]string, n)
		c.tags.Range(func(k Key, v string) bool {
			data.Tags[k] = v
			return true
		})
	}
	if n := c.custom.Size(); n > 0 {
		data.Custom = make(map[Key]any, n)
		c.custom.Range(func(k Key, v any) bool {
			data.Custom[k] = v
			return true
		})
	}
	return data
}

// MarshalJSON implements json.Marshaler.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

// ContextData is a point-in-time copy of a Context.
type ContextData struct {
	Tags   map[Key]string `json:"tags,omitempty"`
	Custom map[Key]any    `json:"custom,omitempty"`
}

// slotKeyType is a private type for context keys to avoid collisions.
type slotKeyType struct{}

var slotKey slotKeyType

// slot holds the transaction currently active for one unit of work.
type slot struct {
	tx atomic.Pointer[Transaction]
}

// ContextWithTransaction returns a context carrying tx as the current
// transaction. Ending tx clears it. A nil tx returns parent unchanged.
func ContextWithTransaction(parent context.Context, tx *Transaction) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	if tx == nil {
		return parent
	}
	s := &slot{}
	s.tx.Store(tx)
	tx.attach(s)
	return context.WithValue(parent, slotKey, s)
}

// TransactionFromContext returns the current transaction, or nil when none
// is active.
func TransactionFromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(slotKey).(*slot); ok {
		return s.tx.Load()
	}
	return nil
}
