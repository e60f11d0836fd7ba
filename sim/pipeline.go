// Implements the three-stage pipeline: admission into the first queue, the
// executor loop that serves one stage, and the handoff between stages.

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// Pipeline wires stages together and owns admission.
//
// Ownership of an order passes with it through the queues: only the executor
// that dequeued an order stamps it, and it stops touching the order as soon
// as it has been enqueued downstream or resolved.
type Pipeline struct {
	clock     clock.Clock
	stages    []*Stage
	collector *Collector
	notify    *notifier
	poll      time.Duration

	mu        sync.Mutex // guards closed
	closed    bool
	admitting sync.WaitGroup // admissions accepted but not yet enqueued
}

// pipelineParts are the per-run inputs to newPipeline.
type pipelineParts struct {
	clock     clock.Clock
	rng       *PartitionedRNG
	catalog   *workload.Catalog
	collector *Collector
	notify    *notifier
}

func newPipeline(cfg Config, parts pipelineParts) (*Pipeline, error) {
	p := &Pipeline{
		clock:     parts.clock,
		stages:    make([]*Stage, len(Stages)),
		collector: parts.collector,
		notify:    parts.notify,
		poll:      cfg.PollInterval,
	}
	for i, name := range Stages {
		sampler, err := workload.NewDurationSampler(cfg.Service[name])
		if err != nil {
			return nil, &ConfigurationError{Field: "service." + string(name), Reason: "bad distribution", Err: err}
		}
		var rule StageRule
		if name == StageAvailability {
			rule = AvailabilityRule{Catalog: parts.catalog}
		}
		p.stages[i] = newStage(name, i,
			NewStageQueue(name, parts.clock),
			NewWorkerPool(name, cfg.Workers[name]),
			sampler, parts.rng.ForSubsystem(SubsystemStage(name)), rule)
		if i > 0 {
			p.stages[i-1].Next = p.stages[i]
		}
	}
	return p, nil
}

// Stage returns the named stage.
func (p *Pipeline) Stage(name StageName) *Stage {
	idx, ok := StageIndex(name)
	if !ok {
		return nil
	}
	return p.stages[idx]
}

// Submit admits o into the first stage's queue.
// Returns ErrPipelineClosed once Close has been called.
func (p *Pipeline) Submit(o *Order) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	first := p.stages[0]
	now := p.clock.Now()
	if err := o.markEnqueued(first, now); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("admitting order %d: %w", o.ID, err)
	}
	p.collector.Admit(o)
	p.admitting.Add(1)
	p.mu.Unlock()
	defer p.admitting.Done()

	// Published before the enqueue so order_created precedes every stage event of o.
	p.publish(EventOrderCreated, o, "", now, nil, "")
	first.Queue.Enqueue(o)
	return nil
}

// Close stops admission. It returns once every admission accepted before
// it has reached the first queue; orders already admitted are unaffected.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.admitting.Wait()
}

// Abandon drains every queue and counts the orders that never started service.
func (p *Pipeline) Abandon() int {
	n := 0
	for _, st := range p.stages {
		for _, o := range st.Queue.Drain() {
			o.interrupt(fmt.Sprintf("abandoned in %s queue at shutdown", st.Name))
			n++
		}
	}
	p.collector.Abandon(n)
	return n
}

// Snapshot computes statistics including live pool and queue figures.
func (p *Pipeline) Snapshot() Snapshot {
	return p.collector.Snapshot(p.stages)
}

// spawnExecutors starts one executor per worker of every stage.
// Executors stop taking orders when intake is done; service bounds the
// order each one is currently serving.
func (p *Pipeline) spawnExecutors(intake, service context.Context, wg *sync.WaitGroup) {
	for _, st := range p.stages {
		for i := 0; i < st.Pool.Capacity(); i++ {
			p.clock.Attach()
			wg.Add(1)
			go p.runExecutor(intake, service, st, wg)
		}
	}
}

func (p *Pipeline) runExecutor(intake, service context.Context, st *Stage, wg *sync.WaitGroup) {
	defer wg.Done()
	defer p.clock.Detach()
	for {
		o, res := st.Queue.Dequeue(intake, p.poll)
		switch res {
		case PollShutdown:
			return
		case PollEmpty:
			continue
		}
		p.serve(service, st, o)
	}
}

// errInterrupted marks service cut short by shutdown.
var errInterrupted = errors.New("service interrupted")

// serve runs one order through st under a worker lease. Any panic or
// bookkeeping error rejects the order as faulted; the executor carries on.
func (p *Pipeline) serve(service context.Context, st *Stage, o *Order) {
	lease, err := st.Pool.Acquire(service, p.clock)
	if err != nil {
		p.collector.Interrupt(o, fmt.Sprintf("interrupted waiting for a %s worker", st.Name))
		return
	}
	defer lease.Release()
	defer func() {
		if r := recover(); r != nil {
			p.fault(st, o, fmt.Errorf("panic: %v", r))
		}
	}()

	err = p.process(service, st, o)
	switch {
	case err == nil:
	case errors.Is(err, errInterrupted):
		logrus.Warnf("order %d interrupted in %s by shutdown", o.ID, st.Name)
		p.collector.Interrupt(o, fmt.Sprintf("interrupted in %s after grace period", st.Name))
	default:
		p.fault(st, o, err)
	}
}

func (p *Pipeline) process(service context.Context, st *Stage, o *Order) error {
	start := p.clock.Now()
	if err := o.markStarted(st, start); err != nil {
		return err
	}
	p.publish(EventStageEntered, o, st.Name, start, nil, "")

	if err := p.clock.Sleep(service, st.sampleService()); err != nil {
		return fmt.Errorf("%w: %v", errInterrupted, err)
	}
	missing := st.rule.Inspect(o)

	end := p.clock.Now()
	if err := o.markFinished(st, end); err != nil {
		return err
	}
	if len(missing) > 0 {
		if p.collector.Reject(o, end, missing, "", false) {
			p.publish(EventOrderRejected, o, st.Name, end, missing, "")
		}
		return nil
	}
	if st.Terminal() {
		if err := p.collector.Complete(o, end); err != nil {
			return err
		}
		p.publish(EventOrderCompleted, o, "", end, nil, "")
		return nil
	}
	if err := o.markEnqueued(st.Next, end); err != nil {
		return err
	}
	st.Next.Queue.Enqueue(o)
	return nil
}

func (p *Pipeline) fault(st *Stage, o *Order, err error) {
	diag := fmt.Sprintf("%s executor fault: %v", st.Name, err)
	logrus.Warnf("order %d: %s", o.ID, diag)
	at := p.clock.Now()
	if p.collector.Reject(o, at, nil, diag, true) {
		p.publish(EventOrderRejected, o, st.Name, at, nil, diag)
	}
}

func (p *Pipeline) publish(kind EventKind, o *Order, stage StageName, at time.Time, missing []int, diag string) {
	if p.notify == nil {
		return
	}
	p.notify.publish(Event{
		Kind:       kind,
		OrderID:    o.ID,
		Stage:      stage,
		Items:      o.Items(),
		Missing:    missing,
		Diagnostic: diag,
		Created:    o.Created(),
		At:         at,
	})
}
