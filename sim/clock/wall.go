package clock

import (
	"context"
	"sync"
	"time"
)

// Wall is a Clock backed by the system clock.
type Wall struct{}

// NewWall creates a wall clock.
func NewWall() *Wall {
	return &Wall{}
}

func (*Wall) Now() time.Time { return time.Now() }
func (*Wall) Mode() Mode     { return ModeWall }
func (*Wall) Attach()        {}
func (*Wall) Detach()        {}

// Sleep blocks for d of real time.
func (*Wall) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (*Wall) NewWaiter() Waiter {
	return &wallWaiter{ch: make(chan struct{}, 1)}
}

// wallWaiter carries at most one pending wakeup in a buffered channel.
// Once Wait has returned the waiter is spent and Wake reports false.
type wallWaiter struct {
	mu    sync.Mutex
	spent bool
	ch    chan struct{}
}

func (w *wallWaiter) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	defer w.spend()
	select {
	case <-w.ch:
		return true, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if timeout <= 0 {
		return false, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (w *wallWaiter) spend() {
	w.mu.Lock()
	w.spent = true
	w.mu.Unlock()
}

func (w *wallWaiter) Wake() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.spent {
		return false
	}
	select {
	case w.ch <- struct{}{}:
		return true
	default:
		return false
	}
}
