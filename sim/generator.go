package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// idSource hands out order ids 1, 2, 3, ... and is safe for concurrent callers.
type idSource struct {
	last atomic.Int64
}

func (s *idSource) next() int64 {
	return s.last.Add(1)
}

// OrderGenerator creates orders at sampled intervals and submits them to the pipeline.
type OrderGenerator struct {
	pipeline  *Pipeline
	clock     clock.Clock
	ids       *idSource
	arrival   workload.DurationSampler
	items     workload.IntRange
	catalog   *workload.Catalog
	rng       *rand.Rand // owned by the generator goroutine
	maxOrders int
}

// Run generates orders until ctx is done, the pipeline closes, or maxOrders
// have been submitted. It returns the number submitted and nil only in the
// last case.
func (g *OrderGenerator) Run(ctx context.Context) (int, error) {
	n := 0
	for g.maxOrders == 0 || n < g.maxOrders {
		if err := g.clock.Sleep(ctx, g.arrival.Sample(g.rng)); err != nil {
			return n, err
		}
		o, err := g.build()
		if err != nil {
			logrus.Warnf("generator: skipping order: %v", err)
			continue
		}
		if err := g.pipeline.Submit(o); err != nil {
			if errors.Is(err, ErrPipelineClosed) {
				return n, err
			}
			logrus.Warnf("generator: %v", err)
			continue
		}
		n++
	}
	return n, nil
}

// build samples one order. A panicking sampler costs one order, not the generator.
func (g *OrderGenerator) build() (o *Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sampling payload: %v", r)
		}
	}()
	items := g.catalog.SampleItems(g.rng, g.items.Sample(g.rng))
	return NewOrder(g.ids.next(), items, g.clock.Now()), nil
}
