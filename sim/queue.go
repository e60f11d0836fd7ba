// Implements the StageQueue, which holds orders waiting for a worker in one stage.
// Orders are enqueued by the previous stage (or the generator) and pulled by executors.

package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
)

// PollResult is the outcome of a Dequeue.
type PollResult int

const (
	// PollItem means an order was returned.
	PollItem PollResult = iota
	// PollEmpty means the timeout elapsed with nothing to take. Poll again.
	PollEmpty
	// PollShutdown means the caller's context is done. Stop polling.
	PollShutdown
)

func (r PollResult) String() string {
	switch r {
	case PollItem:
		return "item"
	case PollEmpty:
		return "empty"
	case PollShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("PollResult(%d)", int(r))
	}
}

// StageQueue is an unbounded FIFO of orders, safe for multiple producers and
// consumers. Consumers block in Dequeue through the clock, so waiting is
// cancellable and, on a logical clock, counts as parked.
type StageQueue struct {
	stage StageName
	clock clock.Clock

	mu      sync.Mutex
	items   []*Order
	waiters []clock.Waiter // parked consumers, oldest first
}

// NewStageQueue creates an empty queue for stage.
func NewStageQueue(stage StageName, clk clock.Clock) *StageQueue {
	if clk == nil {
		panic("NewStageQueue: clock must not be nil")
	}
	return &StageQueue{stage: stage, clock: clk}
}

// Enqueue appends o to the back of the queue and wakes the oldest parked consumer.
// It never blocks and never fails.
func (q *StageQueue) Enqueue(o *Order) {
	if o == nil {
		panic("Enqueue: order must not be nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, o)
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		if w.Wake() {
			break
		}
	}
}

// Dequeue removes and returns the order at the front of the queue, waiting up
// to timeout for one to arrive. A done ctx wins over queued orders: once
// shutdown is signalled nothing more is handed out.
func (q *StageQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Order, PollResult) {
	deadline := q.clock.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return nil, PollShutdown
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, PollItem
		}
		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			q.mu.Unlock()
			return nil, PollEmpty
		}
		w := q.clock.NewWaiter()
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		_, err := w.Wait(ctx, remaining)
		q.removeWaiter(w)
		if err != nil {
			return nil, PollShutdown
		}
	}
}

func (q *StageQueue) removeWaiter(w clock.Waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, x := range q.waiters {
		if x == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// Len returns the number of orders waiting.
func (q *StageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every waiting order, front first.
func (q *StageQueue) Drain() []*Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *StageQueue) String() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var sb strings.Builder
	sb.WriteString(string(q.stage))
	sb.WriteString("[")
	for i, o := range q.items {
		fmt.Fprintf(&sb, "%d", o.ID)
		if i < len(q.items)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
