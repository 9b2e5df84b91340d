package timesource

import (
	"container/heap"
	"sync"
	"time"
)

// scheduledTask is one entry in the virtual clock's priority queue,
// ordered by (fireAt, seq) so that same-instant tasks fire in the order
// they were scheduled.
type scheduledTask struct {
	id      Handle
	fireAt  time.Time
	seq     uint64
	task    func()
	index   int // heap.Interface bookkeeping
	skipped bool
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*scheduledTask) //nolint:forcetypeassert // internal heap element
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// VirtualClock is the deterministic test TimeSource: time only advances
// when RunTimeMachine is called, and due callbacks fire in strict
// (time, insertion) order — a test double sharing the TimeSource
// interface with production code.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  Handle
	nextSeq uint64
	queue   taskHeap
	byID    map[Handle]*scheduledTask
}

// NewVirtualClock creates a VirtualClock starting at t0.
func NewVirtualClock(t0 time.Time) *VirtualClock {
	return &VirtualClock{
		now:  t0,
		byID: make(map[Handle]*scheduledTask),
	}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// CallLater schedules task to fire delay after the current virtual time.
// A non-positive delay fires at the current virtual time (still requires
// a RunTimeMachine call to execute).
func (c *VirtualClock) CallLater(delay time.Duration, task func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.nextSeq++

	st := &scheduledTask{
		id:     id,
		fireAt: c.now.Add(delay),
		seq:    c.nextSeq,
		task:   task,
	}
	heap.Push(&c.queue, st)
	c.byID[id] = st
	return id
}

// Cancel marks the scheduled task as skipped so it will not run when due.
func (c *VirtualClock) Cancel(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.byID[h]; ok {
		st.skipped = true
		delete(c.byID, h)
	}
}

// RunTimeMachine advances virtual time by d, executing every due callback
// in strict (time, insertion) order as the clock passes it. This is the
// only way time passes in tests. After it returns, no callback scheduled
// at time <= the new now remains pending.
func (c *VirtualClock) RunTimeMachine(d time.Duration) {
	c.mu.Lock()
	horizon := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.queue.Len() == 0 || c.queue[0].fireAt.After(horizon) {
			c.now = horizon
			c.mu.Unlock()
			return
		}

		st := heap.Pop(&c.queue).(*scheduledTask) //nolint:forcetypeassert // internal heap element
		delete(c.byID, st.id)
		c.now = st.fireAt
		skipped := st.skipped
		task := st.task
		c.mu.Unlock()

		if !skipped && task != nil {
			task()
		}
	}
}

// Pending reports how many callbacks remain scheduled (including those
// marked skipped but not yet popped). Useful in tests asserting the
// "no callbacks scheduled at time <= T remain pending" invariant.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
