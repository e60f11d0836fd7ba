package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
)

// Acquire retries a full pool with exponential backoff between these bounds.
const (
	acquireBackoffMin = 10 * time.Millisecond
	acquireBackoffMax = 250 * time.Millisecond
)

// WorkerPool is the fixed set of workers of one stage.
// Busy count is always within [0, Capacity].
type WorkerPool struct {
	stage StageName

	mu        sync.Mutex
	busy      []bool
	busyCount int
	peak      int
}

// NewWorkerPool creates a pool with capacity idle workers.
// Panics if capacity < 1; configuration is validated before pools are built.
func NewWorkerPool(stage StageName, capacity int) *WorkerPool {
	if capacity < 1 {
		panic(fmt.Sprintf("NewWorkerPool(%s): capacity must be >= 1, got %d", stage, capacity))
	}
	return &WorkerPool{stage: stage, busy: make([]bool, capacity)}
}

// Lease is one worker marked busy. Release it exactly once.
type Lease struct {
	ID int

	pool     *WorkerPool
	released atomic.Bool
}

// Release returns the worker to the pool. A second Release panics.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("worker %d of %s released twice", l.ID, l.pool.stage))
	}
	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy[l.ID] = false
	p.busyCount--
}

// TryAcquire marks the lowest-numbered idle worker busy.
// Returns false when every worker is busy; that is backpressure, not an error.
func (p *WorkerPool) TryAcquire() (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range p.busy {
		if b {
			continue
		}
		p.busy[i] = true
		p.busyCount++
		if p.busyCount > p.peak {
			p.peak = p.busyCount
		}
		return &Lease{ID: i, pool: p}, true
	}
	return nil, false
}

// Acquire waits for an idle worker, backing off through clk between attempts.
// It returns ctx.Err() if ctx is done first.
func (p *WorkerPool) Acquire(ctx context.Context, clk clock.Clock) (*Lease, error) {
	backoff := acquireBackoffMin
	for {
		if l, ok := p.TryAcquire(); ok {
			return l, nil
		}
		if err := clk.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, acquireBackoffMax)
	}
}

func (p *WorkerPool) Capacity() int {
	return len(p.busy)
}

func (p *WorkerPool) BusyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busyCount
}

// PeakBusy returns the highest busy count observed.
func (p *WorkerPool) PeakBusy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}
