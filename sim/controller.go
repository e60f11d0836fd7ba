package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// RunState is the controller lifecycle state.
type RunState string

const (
	StateConfigured RunState = "configured"
	StateRunning    RunState = "running"
	StateStopping   RunState = "stopping"
	StateStopped    RunState = "stopped"
)

// LogicalEpoch is time zero of every logical-mode run.
var LogicalEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Controller owns the simulation lifecycle: configure, start, stop, and the
// read-only views of the current (or most recent) run.
//
// A run that reaches its horizon or drains its order budget finishes on its
// own: Done is closed and no new orders enter, but the state stays running
// until Stop collects the executors.
type Controller struct {
	lifecycle sync.Mutex // serialises Start and Reconfigure

	mu     sync.Mutex
	cfg    Config
	state  RunState
	run    *run
	notify *notifier
}

// NewController validates cfg and returns a controller in the configured state.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg.Clone(),
		state:  StateConfigured,
		notify: newNotifier(),
	}, nil
}

// Config returns a copy of the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

// State returns the current lifecycle state.
func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Configure replaces the per-stage worker counts. It fails with
// ErrAlreadyRunning while a run is active and leaves the configuration
// unchanged on any error.
func (c *Controller) Configure(pools map[StageName]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning || c.state == StateStopping {
		return ErrAlreadyRunning
	}
	if err := ValidatePools(pools); err != nil {
		return err
	}
	workers := make(map[StageName]int, len(pools))
	for k, v := range pools {
		workers[k] = v
	}
	c.cfg.Workers = workers
	c.state = StateConfigured
	logrus.Infof("configured workers: availability=%d packaging=%d shipping=%d",
		workers[StageAvailability], workers[StagePackaging], workers[StageShipping])
	return nil
}

// Reconfigure stops any active run and then applies pools. Invalid pools are
// rejected before anything is stopped. No Start can begin between the stop
// and the apply. A grace-period warning from the stop is returned alongside
// a successful reconfiguration.
func (c *Controller) Reconfigure(pools map[StageName]int) error {
	if err := ValidatePools(pools); err != nil {
		return err
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	stopErr := c.Stop()
	if err := c.Configure(pools); err != nil {
		return errors.Join(err, stopErr)
	}
	return stopErr
}

// Start begins a new run. It is a no-op while running and fails with
// ErrAlreadyRunning while a stop is still in progress.
func (c *Controller) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning:
		return nil
	case StateStopping:
		return ErrAlreadyRunning
	}
	r, err := newRun(c.cfg.Clone(), c.notify)
	if err != nil {
		return err
	}
	c.run = r
	c.state = StateRunning
	r.launch()
	logrus.Infof("run %s started in %s mode (seed %d)", r.id, c.cfg.Mode, c.cfg.Seed)
	return nil
}

// Stop ends the active run. Executors stop taking orders at once; orders in
// service finish their current stage unless the grace period runs out, in
// which case they are interrupted and Stop returns an error wrapping
// ErrShutdownTimeout. Either way the run is fully stopped on return.
// Stop is idempotent and safe for concurrent callers; callers that arrive
// during a stop wait for it and share its result.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.run
	switch c.state {
	case StateStopping:
		c.mu.Unlock()
		<-r.stopped
		return r.stopErr
	case StateRunning:
		c.state = StateStopping
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return nil
	}

	r.stopErr = r.shutdown(c.notify)
	close(r.stopped)

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	return r.stopErr
}

// Inject submits an order with the given items to the running pipeline and
// returns its id. It is the only way orders enter a manual run.
func (c *Controller) Inject(items []int) (int64, error) {
	ids, err := c.InjectBatch([][]int{items})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InjectBatch submits several orders at one clock instant, in the given order.
// On a logical clock time cannot advance until the whole batch is admitted.
// On error, the ids of the orders admitted so far are returned with it.
func (c *Controller) InjectBatch(batch [][]int) ([]int64, error) {
	c.mu.Lock()
	r, state := c.run, c.state
	c.mu.Unlock()
	if state != StateRunning {
		return nil, ErrNotRunning
	}
	r.clock.Attach()
	defer r.clock.Detach()
	ids := make([]int64, 0, len(batch))
	for _, items := range batch {
		o := NewOrder(r.ids.next(), items, r.clock.Now())
		if err := r.pipeline.Submit(o); err != nil {
			return ids, err
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// Snapshot returns statistics for the current or most recent run. Before the
// first run it reports zero counts with the configured capacities.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	r := c.run
	workers := c.cfg.Workers
	c.mu.Unlock()
	if r == nil {
		snap := NewCollector().Snapshot(nil)
		for i := range snap.Stages {
			snap.Stages[i].Capacity = workers[snap.Stages[i].Stage]
		}
		return snap
	}
	snap := r.pipeline.Snapshot()
	snap.RunID = r.id
	return snap
}

// History returns the resolved orders of the current or most recent run.
func (c *Controller) History() []OrderRecord {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.collector.History()
}

// RunID returns the id of the current or most recent run, or "" before the first.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.id
}

// Elapsed returns clock time since the current or most recent run started.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.clock.Now().Sub(r.started)
}

// Done is closed when the current run finishes by horizon, drain or Stop.
// Before the first run it returns an already-closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.run.done
}

// Reason reports why the current run finished: "horizon", "drained",
// "stopped", or "" while it is still going.
func (c *Controller) Reason() string {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return ""
	}
	return r.finishReason()
}

// WaitSettled blocks until every admitted order of the current run is accounted for.
func (c *Controller) WaitSettled(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.collector.WaitSettled(ctx)
}

// Subscribe registers o for lifecycle events of this and later runs.
func (c *Controller) Subscribe(id string, o Observer) error {
	return c.notify.subscribe(id, o)
}

// Unsubscribe removes the observer registered under id.
func (c *Controller) Unsubscribe(id string) error {
	return c.notify.unsubscribe(id)
}

// run is one start-to-stop lifetime of the pipeline.
type run struct {
	id        string
	cfg       Config
	clock     clock.Clock
	started   time.Time
	pipeline  *Pipeline
	collector *Collector
	ids       *idSource
	generator *OrderGenerator // nil in manual mode

	intake        context.Context // cancelled when the run finishes
	cancelIntake  context.CancelFunc
	service       context.Context // cancelled when the grace period expires
	cancelService context.CancelFunc

	executors sync.WaitGroup
	helpers   sync.WaitGroup // generator and horizon watchdog

	finishOnce sync.Once
	reasonMu   sync.Mutex
	reason     string
	done       chan struct{}

	stopped chan struct{}
	stopErr error // written before stopped is closed
}

func newRun(cfg Config, notify *notifier) (*run, error) {
	clk, err := clock.New(cfg.Mode, LogicalEpoch)
	if err != nil {
		return nil, &ConfigurationError{Field: "mode", Reason: "unsupported", Err: err}
	}
	rng := NewPartitionedRNG(NewSimulationKey(cfg.Seed))
	catalog, err := workload.NewCatalog(cfg.Catalog, rng.ForSubsystem(SubsystemCatalog))
	if err != nil {
		return nil, &ConfigurationError{Field: "catalog", Reason: "cannot build", Err: err}
	}
	collector := NewCollector()
	id := uuid.NewString()
	notify.setRunID(id)
	p, err := newPipeline(cfg, pipelineParts{
		clock:     clk,
		rng:       rng,
		catalog:   catalog,
		collector: collector,
		notify:    notify,
	})
	if err != nil {
		return nil, err
	}

	r := &run{
		id:        id,
		cfg:       cfg,
		clock:     clk,
		started:   clk.Now(),
		pipeline:  p,
		collector: collector,
		ids:       &idSource{},
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if !cfg.Manual {
		arrival, err := workload.NewDurationSampler(cfg.Arrival)
		if err != nil {
			return nil, &ConfigurationError{Field: "arrival", Reason: "bad distribution", Err: err}
		}
		r.generator = &OrderGenerator{
			pipeline:  p,
			clock:     clk,
			ids:       r.ids,
			arrival:   arrival,
			items:     cfg.ItemsPerOrder,
			catalog:   catalog,
			rng:       rng.ForSubsystem(SubsystemGenerator),
			maxOrders: cfg.MaxOrders,
		}
	}
	r.intake, r.cancelIntake = context.WithCancel(context.Background())
	r.service, r.cancelService = context.WithCancel(context.Background())
	return r, nil
}

// launch spawns every participant. On a logical clock each one is attached
// before any of them starts, so time cannot move until all are parked.
func (r *run) launch() {
	r.pipeline.spawnExecutors(r.intake, r.service, &r.executors)

	if r.generator != nil {
		r.clock.Attach()
		r.helpers.Add(1)
		go r.generate()
	}
	if r.cfg.Horizon > 0 {
		r.clock.Attach()
		r.helpers.Add(1)
		go r.watchHorizon()
	}
}

func (r *run) generate() {
	defer r.helpers.Done()
	n, err := r.generator.Run(r.intake)
	r.clock.Detach()
	if err != nil {
		return
	}
	logrus.Infof("run %s: generator submitted %d orders", r.id, n)
	if r.collector.WaitSettled(r.intake) == nil {
		r.finish("drained")
	}
}

func (r *run) watchHorizon() {
	defer r.helpers.Done()
	defer r.clock.Detach()
	if r.clock.Sleep(r.intake, r.cfg.Horizon) == nil {
		r.finish("horizon")
	}
}

// finish closes admission and tells executors to stop dequeuing. Safe to call repeatedly.
func (r *run) finish(reason string) {
	r.finishOnce.Do(func() {
		r.reasonMu.Lock()
		r.reason = reason
		r.reasonMu.Unlock()
		r.pipeline.Close()
		r.cancelIntake()
		close(r.done)
		logrus.Infof("run %s finished: %s", r.id, reason)
	})
}

func (r *run) finishReason() string {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

// shutdown finishes the run, waits up to the grace period for executors, and
// accounts for orders left in queues. Each wait is bounded by the grace
// period, so shutdown returns within three of them: executors finishing,
// executors reacting to interruption, and subscribers catching up.
func (r *run) shutdown(notify *notifier) error {
	r.finish("stopped")

	exited := make(chan struct{})
	go func() {
		r.executors.Wait()
		r.helpers.Wait()
		close(exited)
	}()

	var errs []error
	grace := time.NewTimer(r.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-exited:
	case <-grace.C:
		logrus.Warnf("run %s: executors still busy after %s, interrupting service", r.id, r.cfg.GracePeriod)
		r.cancelService()
		grace.Reset(r.cfg.GracePeriod)
		select {
		case <-exited:
		case <-grace.C:
			logrus.Warnf("run %s: executors did not exit within %s of interruption, leaving them behind", r.id, r.cfg.GracePeriod)
		}
		errs = append(errs, fmt.Errorf("run %s: %w", r.id, ErrShutdownTimeout))
	}
	r.cancelService()

	if n := r.pipeline.Abandon(); n > 0 {
		logrus.Infof("run %s: %d queued orders abandoned", r.id, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GracePeriod)
	defer cancel()
	if err := notify.flush(ctx); err != nil {
		logrus.Warnf("run %s: undelivered events: %v", r.id, err)
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("run %s: %w: %w", r.id, ErrShutdownTimeout, err))
		}
	}
	logrus.Infof("run %s stopped", r.id)
	return errors.Join(errs...)
}
