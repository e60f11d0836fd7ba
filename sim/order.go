// Defines the Order struct that models one work item flowing through the pipeline.
// Tracks payload, status and per-stage timestamps for wait/service statistics.

package sim

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusCreated        OrderStatus = "created"
	StatusInAvailability OrderStatus = "in_availability"
	StatusInPackaging    OrderStatus = "in_packaging"
	StatusInShipping     OrderStatus = "in_shipping"
	StatusCompleted      OrderStatus = "completed"
	StatusRejected       OrderStatus = "rejected"
)

// inStageStatus maps each stage to the status an order carries while served there.
var inStageStatus = map[StageName]OrderStatus{
	StageAvailability: StatusInAvailability,
	StagePackaging:    StatusInPackaging,
	StageShipping:     StatusInShipping,
}

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// StageTimes holds the instants an order passed through one stage.
// A zero time means the event has not happened.
type StageTimes struct {
	Enqueued time.Time
	Started  time.Time
	Finished time.Time
}

// Wait is the time spent queued before service started.
func (t StageTimes) Wait() (time.Duration, bool) {
	if t.Enqueued.IsZero() || t.Started.IsZero() {
		return 0, false
	}
	return t.Started.Sub(t.Enqueued), true
}

// Service is the time between service start and finish.
func (t StageTimes) Service() (time.Duration, bool) {
	if t.Started.IsZero() || t.Finished.IsZero() {
		return 0, false
	}
	return t.Finished.Sub(t.Started), true
}

// Order is a work item. Its payload is fixed at creation; status and
// timestamps are only written by the executor that currently owns it, and each
// timestamp is written at most once and never earlier than the previous one.
type Order struct {
	ID int64

	items []int

	mu         sync.Mutex
	status     OrderStatus
	created    time.Time
	resolved   time.Time
	last       time.Time // latest stamp, for monotonicity
	stages     [numStages]StageTimes
	missing    []int
	diagnostic string
	faulted    bool
}

// numStages must match len(Stages).
const numStages = 3

// NewOrder creates an order in the created state. items is copied.
func NewOrder(id int64, items []int, created time.Time) *Order {
	return &Order{
		ID:      id,
		items:   slices.Clone(items),
		status:  StatusCreated,
		created: created,
		last:    created,
	}
}

// Items returns a copy of the order's payload.
func (o *Order) Items() []int {
	return slices.Clone(o.items)
}

func (o *Order) Status() OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Order) Created() time.Time {
	return o.created
}

// Stage returns the timestamps recorded for one stage.
func (o *Order) Stage(name StageName) (StageTimes, bool) {
	idx, ok := StageIndex(name)
	if !ok {
		return StageTimes{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stages[idx], true
}

func (o *Order) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fmt.Sprintf("Order{ID: %d, Status: %s, Items: %v}", o.ID, o.status, o.items)
}

// stampLocked validates that t may be recorded into an unset slot.
func (o *Order) stampLocked(slot *time.Time, what string, t time.Time) error {
	if o.status.Terminal() {
		return fmt.Errorf("order %d: %s stamped after order %s", o.ID, what, o.status)
	}
	if !slot.IsZero() {
		return fmt.Errorf("order %d: %s already recorded", o.ID, what)
	}
	if t.Before(o.last) {
		return fmt.Errorf("order %d: %s at %v precedes previous stamp %v", o.ID, what, t, o.last)
	}
	*slot = t
	o.last = t
	return nil
}

func (o *Order) markEnqueued(stage *Stage, t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stampLocked(&o.stages[stage.Index].Enqueued, string(stage.Name)+" enqueue", t)
}

func (o *Order) markStarted(stage *Stage, t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stampLocked(&o.stages[stage.Index].Started, string(stage.Name)+" start", t); err != nil {
		return err
	}
	o.status = inStageStatus[stage.Name]
	return nil
}

func (o *Order) markFinished(stage *Stage, t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stampLocked(&o.stages[stage.Index].Finished, string(stage.Name)+" finish", t)
}

func (o *Order) complete(t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stampLocked(&o.resolved, "completion", t); err != nil {
		return err
	}
	o.status = StatusCompleted
	return nil
}

// reject moves the order to rejected and reports whether it did. It is also the
// fault path, so unlike the other stamps it tolerates a clock reading earlier
// than the last stamp.
func (o *Order) reject(t time.Time, missing []int, diagnostic string, faulted bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return false
	}
	if t.Before(o.last) {
		t = o.last
	}
	o.resolved = t
	o.last = t
	o.status = StatusRejected
	o.missing = slices.Clone(missing)
	o.diagnostic = diagnostic
	o.faulted = faulted
	return true
}

// interrupt records why an in-service order was abandoned at shutdown.
// Status is left as-is: the order never reached a terminal state.
func (o *Order) interrupt(diagnostic string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.diagnostic = diagnostic
}

// Record returns an immutable copy of the order's state.
func (o *Order) Record() OrderRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec := OrderRecord{
		ID:         o.ID,
		Items:      slices.Clone(o.items),
		Status:     o.status,
		Created:    o.created,
		Resolved:   o.resolved,
		Stages:     make(map[StageName]StageTimes, numStages),
		Missing:    slices.Clone(o.missing),
		Diagnostic: o.diagnostic,
		Faulted:    o.faulted,
	}
	for i, name := range Stages {
		rec.Stages[name] = o.stages[i]
	}
	return rec
}

// OrderRecord is a read-only snapshot of an order, safe to share with collaborators.
type OrderRecord struct {
	ID         int64                    `yaml:"id"`
	Items      []int                    `yaml:"items"`
	Status     OrderStatus              `yaml:"status"`
	Created    time.Time                `yaml:"created"`
	Resolved   time.Time                `yaml:"resolved,omitempty"`
	Stages     map[StageName]StageTimes `yaml:"-"`
	Missing    []int                    `yaml:"missing,omitempty"`
	Diagnostic string                   `yaml:"diagnostic,omitempty"`
	Faulted    bool                     `yaml:"faulted,omitempty"`
}

// EndToEnd returns the time from creation to completion or rejection.
func (r OrderRecord) EndToEnd() (time.Duration, bool) {
	if r.Resolved.IsZero() {
		return 0, false
	}
	return r.Resolved.Sub(r.Created), true
}
