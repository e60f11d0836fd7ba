// Package clock provides the time source shared by every executor in a run.
//
// Two implementations satisfy Clock:
//   - Wall: real time. Sleep is a timed suspension and Now reads the system clock.
//   - Virtual: logical time. Sleep registers a future wakeup and time jumps to the
//     earliest wakeup once every participating goroutine is parked.
//
// The rest of the engine only sees the Clock interface, so executors, queues and
// the order generator run unchanged in either mode.
package clock

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how simulated time advances.
type Mode string

const (
	// ModeWall advances with real elapsed time.
	ModeWall Mode = "wall"
	// ModeLogical advances only at event boundaries.
	ModeLogical Mode = "logical"
)

// validModes maps accepted mode strings.
var validModes = map[Mode]bool{
	ModeWall:    true,
	ModeLogical: true,
}

// IsValidMode returns true if the given string names a supported clock mode.
func IsValidMode(mode string) bool {
	return validModes[Mode(mode)]
}

// Clock is the time source used by executors and queues.
type Clock interface {
	// Now returns the current time of the run.
	Now() time.Time
	// Sleep suspends the caller for d. It returns ctx.Err() if ctx is done first.
	Sleep(ctx context.Context, d time.Duration) error
	// NewWaiter returns a single-use handle for parking until woken or timed out.
	NewWaiter() Waiter
	// Attach registers one more goroutine that takes part in the run.
	// Call it before spawning the goroutine.
	Attach()
	// Detach unregisters a participating goroutine. Call it when the goroutine exits.
	Detach()
	// Mode reports how this clock advances.
	Mode() Mode
}

// Waiter is a single-use wakeup handle.
//
// Wait blocks until Wake is called, the timeout elapses, or ctx is done.
// It reports woken=true only when released by Wake. A Wake that happens
// before Wait makes the following Wait return immediately.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (woken bool, err error)
	Wake() bool
}

// New builds the clock for the given mode. Logical clocks start at epoch.
func New(mode Mode, epoch time.Time) (Clock, error) {
	switch mode {
	case ModeWall:
		return NewWall(), nil
	case ModeLogical:
		return NewVirtual(epoch), nil
	default:
		return nil, fmt.Errorf("unknown clock mode %q", mode)
	}
}
