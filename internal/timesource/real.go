package timesource

import (
	"sync"
	"time"
)

// RealClock is the production TimeSource: real monotonic time plus
// per-task time.AfterFunc timers tracked by handle so they can be
// canceled individually or drained together on shutdown.
type RealClock struct {
	mu      sync.Mutex
	nextID  Handle
	pending map[Handle]*time.Timer
}

// NewRealClock constructs a RealClock ready for use.
func NewRealClock() *RealClock {
	return &RealClock{pending: make(map[Handle]*time.Timer)}
}

// Now returns the current wall-clock time.
func (c *RealClock) Now() time.Time { return time.Now() }

// CallLater schedules task via time.AfterFunc and tracks it for Cancel.
func (c *RealClock) CallLater(delay time.Duration, task func()) Handle {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		task()
	})

	c.mu.Lock()
	c.pending[id] = t
	c.mu.Unlock()

	return id
}

// Cancel stops the timer for h, if it is still pending.
func (c *RealClock) Cancel(h Handle) {
	c.mu.Lock()
	t, ok := c.pending[h]
	if ok {
		delete(c.pending, h)
	}
	c.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// Close stops every pending timer. Callers should invoke this on
// shutdown so that no orphaned timer outlives the owning stack.
func (c *RealClock) Close() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[Handle]*time.Timer)
	c.mu.Unlock()

	for _, t := range pending {
		t.Stop()
	}
}
