package exam

import "sync"

// Clock is a process-local Lamport clock. Every coordination message carries
// a value produced by Tick on send and is folded in with Observe on receipt.
type Clock struct {
	mu    sync.Mutex
	value int64
}

func NewClock() *Clock {
	return &Clock{}
}

// Tick increments the counter and returns the new value.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe merges a remote timestamp: local = max(local, remote) + 1.
func (c *Clock) Observe(remote int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.value {
		c.value = remote
	}
	c.value++
	return c.value
}

// Now returns the current value without advancing it.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
