package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
)

func TestWorkerPool_TryAcquire_LowestIdleFirst(t *testing.T) {
	// GIVEN a pool of 3 with worker 0 released after both 0 and 1 were taken
	p := NewWorkerPool(StagePackaging, 3)
	l0, ok := p.TryAcquire()
	require.True(t, ok)
	l1, ok := p.TryAcquire()
	require.True(t, ok)
	l0.Release()

	// WHEN another worker is acquired
	l, ok := p.TryAcquire()

	// THEN the lowest idle id is reused
	require.True(t, ok)
	assert.Equal(t, 0, l.ID)
	assert.Equal(t, 1, l1.ID)
	assert.Equal(t, 2, p.BusyCount())
}

func TestWorkerPool_TryAcquire_FullPoolIsBackpressure(t *testing.T) {
	p := NewWorkerPool(StageShipping, 1)
	_, ok := p.TryAcquire()
	require.True(t, ok)

	l, ok := p.TryAcquire()

	assert.False(t, ok)
	assert.Nil(t, l)
	assert.Equal(t, 1, p.BusyCount())
}

func TestWorkerPool_Release_Twice_Panics(t *testing.T) {
	p := NewWorkerPool(StageShipping, 1)
	l, _ := p.TryAcquire()
	l.Release()

	assert.Panics(t, func() { l.Release() })
	assert.Equal(t, 0, p.BusyCount())
}

func TestNewWorkerPool_ZeroCapacity_Panics(t *testing.T) {
	assert.Panics(t, func() { NewWorkerPool(StageAvailability, 0) })
}

func TestWorkerPool_Acquire_WaitsForRelease(t *testing.T) {
	// GIVEN a full pool on a logical clock and a holder that releases after 1s
	c := clock.NewVirtual(testEpoch)
	p := NewWorkerPool(StageAvailability, 1)
	held, _ := p.TryAcquire()
	c.Attach()
	c.Attach()
	go func() {
		defer c.Detach()
		assert.NoError(t, c.Sleep(context.Background(), time.Second))
		held.Release()
	}()

	// WHEN another caller acquires
	l, err := p.Acquire(context.Background(), c)
	at := c.Elapsed()
	c.Detach()

	// THEN it gets the worker once released, after backing off in bounded steps
	require.NoError(t, err)
	assert.Equal(t, 0, l.ID)
	assert.GreaterOrEqual(t, at, time.Second)
	assert.Less(t, at, time.Second+acquireBackoffMax)
}

func TestWorkerPool_Acquire_CancelledContext(t *testing.T) {
	p := NewWorkerPool(StageAvailability, 1)
	p.TryAcquire()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx, clock.NewWall())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_ConcurrentLeases_NeverExceedCapacity(t *testing.T) {
	// GIVEN 16 goroutines contending for a pool of 3
	p := NewWorkerPool(StagePackaging, 3)
	c := clock.NewWall()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l, err := p.Acquire(context.Background(), c)
				if !assert.NoError(t, err) {
					return
				}
				assert.LessOrEqual(t, p.BusyCount(), p.Capacity())
				l.Release()
			}
		}()
	}

	// WHEN they all finish
	wg.Wait()

	// THEN the pool is idle and never went above capacity
	assert.Equal(t, 0, p.BusyCount())
	assert.LessOrEqual(t, p.PeakBusy(), 3)
	assert.GreaterOrEqual(t, p.PeakBusy(), 1)
}
