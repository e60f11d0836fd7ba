package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtual_Sleep_ReleasesInDeadlineOrder(t *testing.T) {
	// GIVEN three attached goroutines sleeping 30s, 10s and 20s of logical time
	c := NewVirtual(testEpoch)
	var mu sync.Mutex
	var woke []time.Duration
	var wg sync.WaitGroup
	for _, d := range []time.Duration{30 * time.Second, 10 * time.Second, 20 * time.Second} {
		c.Attach()
		wg.Add(1)
		go func(d time.Duration) {
			defer wg.Done()
			defer c.Detach()
			assert.NoError(t, c.Sleep(context.Background(), d))
			mu.Lock()
			woke = append(woke, c.Now().Sub(testEpoch))
			mu.Unlock()
		}(d)
	}

	// WHEN all of them finish
	wg.Wait()

	// THEN each woke exactly at its deadline, earliest first
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, woke)
	assert.Equal(t, 30*time.Second, c.Elapsed())
}

func TestVirtual_IdleWaiter_DoesNotAdvanceQuiescentClock(t *testing.T) {
	// GIVEN one attached goroutine parked on an idle waiter with a long timeout
	c := NewVirtual(testEpoch)
	w := c.NewWaiter()
	result := make(chan bool, 1)
	c.Attach()
	go func() {
		defer c.Detach()
		woken, err := w.Wait(context.Background(), time.Hour)
		assert.NoError(t, err)
		result <- woken
	}()

	// WHEN nothing else is scheduled
	time.Sleep(20 * time.Millisecond)

	// THEN logical time has not moved
	assert.Equal(t, time.Duration(0), c.Elapsed())

	// AND a Wake from outside the run releases the waiter at the current time
	assert.True(t, w.Wake())
	assert.True(t, <-result)
	assert.Equal(t, time.Duration(0), c.Elapsed())
}

func TestVirtual_IdleTimeout_FiresWhileSleepPending(t *testing.T) {
	// GIVEN an idle wait of 1s and a sleep of 5s
	c := NewVirtual(testEpoch)
	var idleAt, sleepAt time.Duration
	var idleWoken bool
	var wg sync.WaitGroup

	c.Attach()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Detach()
		idleWoken, _ = c.NewWaiter().Wait(context.Background(), time.Second)
		idleAt = c.Elapsed()
	}()
	c.Attach()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Detach()
		_ = c.Sleep(context.Background(), 5*time.Second)
		sleepAt = c.Elapsed()
	}()

	wg.Wait()

	// THEN the idle wait timed out at 1s and the sleep ended at 5s
	assert.False(t, idleWoken)
	assert.Equal(t, time.Second, idleAt)
	assert.Equal(t, 5*time.Second, sleepAt)
}

func TestVirtual_WakeBeforeWait_ReturnsImmediately(t *testing.T) {
	c := NewVirtual(testEpoch)
	w := c.NewWaiter()
	require.True(t, w.Wake())
	assert.False(t, w.Wake(), "second Wake must report the waiter already signalled")

	c.Attach()
	defer c.Detach()
	woken, err := w.Wait(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, woken)
}

func TestVirtual_Sleep_CancelledWhileScheduled_ReturnsError(t *testing.T) {
	// GIVEN a sleeper that cannot be released because another participant stays runnable
	c := NewVirtual(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	hold := make(chan struct{})
	errCh := make(chan error, 1)

	c.Attach()
	go func() {
		defer c.Detach()
		<-hold
	}()
	c.Attach()
	go func() {
		defer c.Detach()
		errCh <- c.Sleep(ctx, time.Hour)
	}()
	time.Sleep(10 * time.Millisecond)

	// WHEN the sleeper's context is cancelled
	cancel()

	// THEN Sleep reports the cancellation and logical time never reached the deadline
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, time.Duration(0), c.Elapsed())
	close(hold)
}

func TestVirtual_Sleep_AlreadyCancelled(t *testing.T) {
	c := NewVirtual(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Attach()
	defer c.Detach()
	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
}

func TestVirtual_Wait_CancelWhileParked(t *testing.T) {
	// GIVEN a goroutine parked on an idle waiter in a quiescent clock
	c := NewVirtual(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	c.Attach()
	go func() {
		defer c.Detach()
		_, err := c.NewWaiter().Wait(ctx, time.Hour)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	// WHEN its context is cancelled
	cancel()

	// THEN the wait ends with the context error and no time passed
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, time.Duration(0), c.Elapsed())
}

func TestVirtual_WaiterReuse_Panics(t *testing.T) {
	c := NewVirtual(testEpoch)
	w := c.NewWaiter()
	w.Wake()
	c.Attach()
	defer c.Detach()
	_, _ = w.Wait(context.Background(), 0)
	assert.Panics(t, func() { _, _ = w.Wait(context.Background(), 0) })
}

func TestNew_UnknownMode_ReturnsError(t *testing.T) {
	_, err := New("sundial", testEpoch)
	assert.Error(t, err)

	c, err := New(ModeLogical, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, ModeLogical, c.Mode())
	assert.True(t, IsValidMode("wall"))
	assert.False(t, IsValidMode(""))
}
