package store

import (
	"sync"
	"time"

	"github.com/skilltrace/lrs/pkg/types"
)

// Clock hands out the stored timestamps. Values are strictly increasing at
// millisecond precision so stored never collides within a batch and the
// consistent-through horizon never moves backward.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

func NewClock() *Clock {
	return &Clock{}
}

// Stamp returns the next stored timestamp.
func (c *Clock) Stamp() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Millisecond)
	}
	c.last = now
	return types.Timestamp{Time: now}
}

// ConsistentThrough returns the horizon at or before which every stored
// statement is visible.
func (c *Clock) ConsistentThrough() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.IsZero() {
		return types.Timestamp{Time: time.Now().UTC().Truncate(time.Millisecond)}
	}
	return types.Timestamp{Time: c.last}
}
