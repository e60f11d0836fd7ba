// Collects per-order lifecycle outcomes and derives run statistics from them.
// Stage stamps live on the order; the collector owns counters and history.

package sim

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Collector aggregates order outcomes for one run. Safe for concurrent use.
//
// Terminal transitions go through the collector so that the order's final
// stamp and the history append happen in one critical section; a Snapshot
// therefore never sees an order counted but missing from history or the reverse.
type Collector struct {
	mu sync.Mutex

	admitted    int
	completed   int
	rejected    int
	faulted     int
	interrupted int
	abandoned   int

	history      []OrderRecord // resolved orders, in resolution order
	firstCreated time.Time
	lastComplete time.Time

	changed chan struct{} // closed and replaced on every count change
}

func NewCollector() *Collector {
	return &Collector{changed: make(chan struct{})}
}

func (c *Collector) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Admit counts an order that entered the pipeline.
func (c *Collector) Admit(o *Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitted++
	if c.firstCreated.IsZero() || o.Created().Before(c.firstCreated) {
		c.firstCreated = o.Created()
	}
	c.notifyLocked()
}

// Complete stamps o completed at t and appends it to history.
func (c *Collector) Complete(o *Order, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := o.complete(t); err != nil {
		return err
	}
	rec := o.Record()
	c.history = append(c.history, rec)
	c.completed++
	if rec.Resolved.After(c.lastComplete) {
		c.lastComplete = rec.Resolved
	}
	c.notifyLocked()
	return nil
}

// Reject stamps o rejected at t and appends it to history.
// Returns false if o had already reached a terminal state.
func (c *Collector) Reject(o *Order, t time.Time, missing []int, diagnostic string, faulted bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !o.reject(t, missing, diagnostic, faulted) {
		return false
	}
	c.history = append(c.history, o.Record())
	c.rejected++
	if faulted {
		c.faulted++
	}
	c.notifyLocked()
	return true
}

// Interrupt counts an order whose service was cut short at shutdown.
// Interrupted orders never enter history, so they never reach any mean.
func (c *Collector) Interrupt(o *Order, diagnostic string) {
	o.interrupt(diagnostic)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted++
	c.notifyLocked()
}

// Abandon counts orders left queued at shutdown.
func (c *Collector) Abandon(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned += n
	c.notifyLocked()
}

func (c *Collector) inFlightLocked() int {
	return c.admitted - c.completed - c.rejected - c.interrupted - c.abandoned
}

// InFlight returns the number of admitted orders that are not yet accounted for.
func (c *Collector) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlightLocked()
}

// Admitted returns the number of orders that entered the pipeline.
func (c *Collector) Admitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admitted
}

// WaitSettled blocks until no admitted order is in flight, or ctx is done.
func (c *Collector) WaitSettled(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inFlightLocked() == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// History returns copies of every resolved order, in resolution order.
func (c *Collector) History() []OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OrderRecord, len(c.history))
	for i, r := range c.history {
		r.Items = slices.Clone(r.Items)
		r.Missing = slices.Clone(r.Missing)
		stages := make(map[StageName]StageTimes, len(r.Stages))
		for k, v := range r.Stages {
			stages[k] = v
		}
		r.Stages = stages
		out[i] = r
	}
	return out
}

// DurationSummary describes a set of duration samples.
// A nil *DurationSummary means there were no samples.
type DurationSummary struct {
	Count int           `yaml:"count"`
	Mean  time.Duration `yaml:"mean"`
	Min   time.Duration `yaml:"min"`
	Max   time.Duration `yaml:"max"`
	P50   time.Duration `yaml:"p50"`
	P95   time.Duration `yaml:"p95"`
}

// Summarize computes a DurationSummary, or nil for no samples.
func Summarize(samples []time.Duration) *DurationSummary {
	if len(samples) == 0 {
		return nil
	}
	xs := make([]float64, len(samples))
	for i, d := range samples {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)
	return &DurationSummary{
		Count: len(xs),
		Mean:  time.Duration(stat.Mean(xs, nil)),
		Min:   time.Duration(xs[0]),
		Max:   time.Duration(xs[len(xs)-1]),
		P50:   time.Duration(stat.Quantile(0.50, stat.Empirical, xs, nil)),
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
	}
}

// StageStats is the per-stage part of a Snapshot.
type StageStats struct {
	Stage       StageName        `yaml:"stage"`
	Capacity    int              `yaml:"capacity"`
	Busy        int              `yaml:"busy"`
	PeakBusy    int              `yaml:"peak_busy"`
	QueueLength int              `yaml:"queue_length"`
	Visits      int              `yaml:"visits"`
	Wait        *DurationSummary `yaml:"wait,omitempty"`
	Service     *DurationSummary `yaml:"service,omitempty"`
}

// Snapshot is a consistent, read-only view of a run's statistics.
// Derived values that have no samples are zero (rates) or nil (summaries).
type Snapshot struct {
	RunID          string           `yaml:"run_id,omitempty"`
	TotalOrders    int              `yaml:"total_orders"`
	Completed      int              `yaml:"completed"`
	Rejected       int              `yaml:"rejected"`
	Faulted        int              `yaml:"faulted"`
	Interrupted    int              `yaml:"interrupted"`
	Abandoned      int              `yaml:"abandoned"`
	InFlight       int              `yaml:"in_flight"`
	CompletionRate float64          `yaml:"completion_rate"`
	Throughput     float64          `yaml:"throughput_per_second"`
	EndToEnd       *DurationSummary `yaml:"end_to_end,omitempty"`
	Stages         []StageStats     `yaml:"stages"`
}

// Snapshot computes statistics over the resolved history. Live pool and queue
// figures are read from stages; a nil slice yields zero-valued stage gauges.
func (c *Collector) Snapshot(stages []*Stage) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		TotalOrders: c.admitted,
		Completed:   c.completed,
		Rejected:    c.rejected,
		Faulted:     c.faulted,
		Interrupted: c.interrupted,
		Abandoned:   c.abandoned,
		InFlight:    c.inFlightLocked(),
	}
	if resolved := c.completed + c.rejected; resolved > 0 {
		snap.CompletionRate = float64(c.completed) / float64(resolved)
	}
	if c.completed > 0 {
		if span := c.lastComplete.Sub(c.firstCreated); span > 0 {
			snap.Throughput = float64(c.completed) / span.Seconds()
		}
	}

	var e2e []time.Duration
	waits := make([][]time.Duration, numStages)
	services := make([][]time.Duration, numStages)
	visits := make([]int, numStages)
	for _, rec := range c.history {
		if rec.Status == StatusCompleted {
			if d, ok := rec.EndToEnd(); ok {
				e2e = append(e2e, d)
			}
		}
		for i, name := range Stages {
			st := rec.Stages[name]
			if st.Started.IsZero() {
				continue
			}
			visits[i]++
			if d, ok := st.Wait(); ok {
				waits[i] = append(waits[i], d)
			}
			if d, ok := st.Service(); ok {
				services[i] = append(services[i], d)
			}
		}
	}
	snap.EndToEnd = Summarize(e2e)

	snap.Stages = make([]StageStats, numStages)
	for i, name := range Stages {
		ss := StageStats{
			Stage:   name,
			Visits:  visits[i],
			Wait:    Summarize(waits[i]),
			Service: Summarize(services[i]),
		}
		if i < len(stages) && stages[i] != nil {
			ss.Capacity = stages[i].Pool.Capacity()
			ss.Busy = stages[i].Pool.BusyCount()
			ss.PeakBusy = stages[i].Pool.PeakBusy()
			ss.QueueLength = stages[i].Queue.Len()
		}
		snap.Stages[i] = ss
	}
	return snap
}
