package clock

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Virtual is a logical Clock for goroutine-based discrete-event runs.
//
// Every goroutine that sleeps or waits on a Virtual clock must be attached.
// Time only moves when no attached goroutine is runnable; then the earliest
// parked goroutine is released and the clock jumps to its deadline. Exactly one
// goroutine is released per advancement, so a run executes one step at a time in
// (deadline, registration order), which is what makes logical runs repeatable.
//
// Waiters returned by NewWaiter are idle waits: their timeouts only fire while
// some Sleep is still scheduled. When nothing but idle timeouts remain the run is
// quiescent and the clock stops instead of spinning through empty polls.
type Virtual struct {
	mu      sync.Mutex
	epoch   time.Time
	now     time.Duration
	active  int    // attached goroutines that are currently runnable
	events  int    // scheduled wakeups that are not idle timeouts
	seq     uint64 // registration sequence, tie-breaker for equal deadlines
	pending wakeupHeap
}

// NewVirtual creates a logical clock whose time zero is epoch.
func NewVirtual(epoch time.Time) *Virtual {
	c := &Virtual{
		epoch:   epoch,
		pending: make(wakeupHeap, 0),
	}
	heap.Init(&c.pending)
	return c
}

func (c *Virtual) Mode() Mode { return ModeLogical }

// Now returns epoch plus the logical time elapsed so far.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.Add(c.now)
}

// Elapsed returns the logical time elapsed since epoch.
func (c *Virtual) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Virtual) Attach() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

func (c *Virtual) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	if c.active < 0 {
		panic("clock: Detach without matching Attach")
	}
	c.advanceLocked()
}

// Sleep parks the caller until logical time reaches now+d.
func (c *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	_, err := c.newWaiter(false).Wait(ctx, d)
	return err
}

func (c *Virtual) NewWaiter() Waiter {
	return c.newWaiter(true)
}

func (c *Virtual) newWaiter(idle bool) *virtualWaiter {
	return &virtualWaiter{
		c:     c,
		idle:  idle,
		index: -1,
		ch:    make(chan struct{}),
	}
}

// advanceLocked releases the earliest parked goroutine when nothing is runnable.
// c.mu must be held.
func (c *Virtual) advanceLocked() {
	for c.active == 0 && c.pending.Len() > 0 && c.events > 0 {
		w := heap.Pop(&c.pending).(*virtualWaiter)
		if !w.idle {
			c.events--
		}
		if w.at > c.now {
			c.now = w.at
		}
		w.fired = true
		c.active++
		close(w.ch)
	}
}

func (c *Virtual) scheduleLocked(w *virtualWaiter) {
	c.seq++
	w.seq = c.seq
	if !w.idle {
		c.events++
	}
	heap.Push(&c.pending, w)
}

func (c *Virtual) unscheduleLocked(w *virtualWaiter) {
	heap.Remove(&c.pending, w.index)
	if !w.idle {
		c.events--
	}
}

type virtualWaiter struct {
	c     *Virtual
	at    time.Duration
	seq   uint64
	index int // position in the pending heap, -1 when not scheduled
	idle  bool
	used  bool
	woken bool
	fired bool
	ch    chan struct{}
}

func (w *virtualWaiter) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	c := w.c
	c.mu.Lock()
	if w.used {
		c.mu.Unlock()
		panic("clock: Waiter reused")
	}
	w.used = true
	if w.woken {
		w.fired = true
		c.mu.Unlock()
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		w.fired = true
		c.mu.Unlock()
		return false, err
	}
	if timeout < 0 {
		timeout = 0
	}
	w.at = c.now + timeout
	c.scheduleLocked(w)
	c.active--
	if c.active < 0 {
		c.mu.Unlock()
		panic("clock: Wait from a goroutine that is not attached")
	}
	c.advanceLocked()
	c.mu.Unlock()

	select {
	case <-w.ch:
		return w.woken, nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	if w.index >= 0 {
		c.unscheduleLocked(w)
		w.fired = true
		c.active++
		c.mu.Unlock()
		return false, ctx.Err()
	}
	c.mu.Unlock()
	// Released concurrently with cancellation; the release already counted us.
	<-w.ch
	return w.woken, nil
}

func (w *virtualWaiter) Wake() bool {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.fired || w.woken {
		return false
	}
	w.woken = true
	if w.index >= 0 {
		if w.idle {
			w.idle = false
			c.events++
		}
		w.at = c.now
		c.seq++
		w.seq = c.seq
		heap.Fix(&c.pending, w.index)
		c.advanceLocked()
	}
	return true
}

// wakeupHeap orders parked waiters by deadline, then registration sequence.
type wakeupHeap []*virtualWaiter

func (h wakeupHeap) Len() int { return len(h) }

func (h wakeupHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h wakeupHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeupHeap) Push(x any) {
	w := x.(*virtualWaiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *wakeupHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[0 : n-1]
	return w
}
