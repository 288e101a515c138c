package sink

import (
	"context"
	"sync/atomic"
)

// Chan hands updates to another goroutine through a buffered channel. When
// the buffer is full the update is dropped: the next tick supersedes it.
type Chan struct {
	ch      chan Update
	dropped atomic.Uint64
}

// NewChan returns a Chan with the given buffer size (minimum 1).
func NewChan(size int) *Chan {
	if size < 1 {
		size = 1
	}
	return &Chan{ch: make(chan Update, size)}
}

// Present implements Sink. It never blocks.
func (c *Chan) Present(_ context.Context, u Update) error {
	select {
	case c.ch <- u:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// C returns the receive side.
func (c *Chan) C() <-chan Update {
	return c.ch
}

// Dropped returns how many updates were discarded because the buffer was
// full.
func (c *Chan) Dropped() uint64 {
	return c.dropped.Load()
}
