package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fulfillment-sim/fulfillment-sim/sim/trace"
)

// EventKind names an order lifecycle event.
type EventKind string

const (
	EventOrderCreated   EventKind = "order_created"
	EventStageEntered   EventKind = "stage_entered"
	EventOrderRejected  EventKind = "order_rejected"
	EventOrderCompleted EventKind = "order_completed"
)

// Event is published for every order lifecycle transition.
// Stage is empty for order_created and order_completed.
type Event struct {
	Kind       EventKind
	RunID      string
	OrderID    int64
	Stage      StageName
	Items      []int
	Missing    []int
	Diagnostic string
	Created    time.Time
	At         time.Time
}

// Observer receives lifecycle events. Each subscribed observer is called from
// its own goroutine, one event at a time in publication order. Events that
// arrive while it lags more than its mailbox holds are dropped.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// subscriberBuffer is how many undelivered events one subscriber may lag
// behind before further events are dropped for it.
const subscriberBuffer = 1024

// notifier fans events out to subscribers. Each subscriber has its own
// buffered mailbox drained by its own goroutine, so a slow or stuck
// subscriber loses events instead of stalling the executors.
type notifier struct {
	mu     sync.RWMutex
	ids    []string
	subs   map[string]*subscriber
	runID  string
	buffer int
}

func newNotifier() *notifier {
	return newNotifierSize(subscriberBuffer)
}

func newNotifierSize(buffer int) *notifier {
	return &notifier{subs: make(map[string]*subscriber), buffer: buffer}
}

func (n *notifier) subscribe(id string, o Observer) error {
	if o == nil {
		return errors.New("observer cannot be nil")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.subs[id]; exists {
		return ErrSubscriberExists
	}
	s := newSubscriber(id, o, n.buffer)
	n.subs[id] = s
	n.ids = append(n.ids, id)
	go s.loop()
	return nil
}

// unsubscribe stops delivery to id. Events still in its mailbox are discarded.
func (n *notifier) unsubscribe(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, exists := n.subs[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	close(s.quit)
	delete(n.subs, id)
	n.ids = slices.DeleteFunc(n.ids, func(x string) bool { return x == id })
	return nil
}

func (n *notifier) setRunID(id string) {
	n.mu.Lock()
	n.runID = id
	n.mu.Unlock()
}

func (n *notifier) snapshot() []*subscriber {
	n.mu.RLock()
	defer n.mu.RUnlock()
	subs := make([]*subscriber, 0, len(n.ids))
	for _, id := range n.ids {
		subs = append(subs, n.subs[id])
	}
	return subs
}

// publish logs e at debug level and queues it for every subscriber.
// It never blocks.
func (n *notifier) publish(e Event) {
	n.mu.RLock()
	e.RunID = n.runID
	n.mu.RUnlock()

	logObserver{}.Observe(e)
	for _, s := range n.snapshot() {
		s.box.Observe(e)
	}
}

// flush waits until every subscriber has handled the events published
// before the call, or ctx is done. A subscriber that is still busy when ctx
// ends is named in the returned error.
func (n *notifier) flush(ctx context.Context) error {
	subs := n.snapshot()
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.flush(ctx); err != nil {
				errs[i] = fmt.Errorf("observer %q: %w", s.id, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// dropped returns how many events id has lost to a full mailbox.
func (n *notifier) dropped(id string) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if s, ok := n.subs[id]; ok {
		return s.box.Dropped()
	}
	return 0
}

// subscriber is one observer with its mailbox and delivery goroutine.
type subscriber struct {
	id       string
	o        Observer
	events   chan Event
	box      *ChannelObserver
	flushes  chan chan struct{}
	quit     chan struct{}
	reported atomic.Uint64 // drops already logged
}

func newSubscriber(id string, o Observer, buffer int) *subscriber {
	events := make(chan Event, buffer)
	return &subscriber{
		id:      id,
		o:       o,
		events:  events,
		box:     NewChannelObserver(events),
		flushes: make(chan chan struct{}),
		quit:    make(chan struct{}),
	}
}

func (s *subscriber) loop() {
	for {
		select {
		case e := <-s.events:
			s.deliver(e)
		case done := <-s.flushes:
			s.drain()
			close(done)
		case <-s.quit:
			return
		}
	}
}

// drain delivers everything already in the mailbox.
func (s *subscriber) drain() {
	for {
		select {
		case e := <-s.events:
			s.deliver(e)
		default:
			return
		}
	}
}

// deliver hands e to the observer. A panicking observer is logged and skipped.
func (s *subscriber) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("observer %q panicked on %s for order %d: %v", s.id, e.Kind, e.OrderID, r)
		}
	}()
	s.o.Observe(e)
}

func (s *subscriber) flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushes <- done:
	case <-s.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
	case <-s.quit:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d := s.box.Dropped(); d > s.reported.Swap(d) {
		logrus.Warnf("observer %q fell behind: %d events dropped so far", s.id, d)
	}
	return nil
}

// ChannelObserver forwards events to a channel without ever blocking.
// Events that do not fit are dropped and counted.
type ChannelObserver struct {
	ch      chan<- Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewChannelObserver creates an observer that sends to ch. Size the buffer for
// the consumer's expected lag.
func NewChannelObserver(ch chan<- Event) *ChannelObserver {
	if ch == nil {
		panic("NewChannelObserver: channel must not be nil")
	}
	return &ChannelObserver{ch: ch}
}

func (c *ChannelObserver) Observe(e Event) {
	e.Items = slices.Clone(e.Items)
	e.Missing = slices.Clone(e.Missing)
	select {
	case c.ch <- e:
		c.sent.Add(1)
	default:
		c.dropped.Add(1)
	}
}

// Sent returns the number of events delivered to the channel.
func (c *ChannelObserver) Sent() uint64 { return c.sent.Load() }

// Dropped returns the number of events lost to a full channel.
func (c *ChannelObserver) Dropped() uint64 { return c.dropped.Load() }

// NewTraceObserver records events into tr.
func NewTraceObserver(tr *trace.SimulationTrace) Observer {
	return ObserverFunc(func(e Event) {
		tr.Record(trace.Record{
			OrderID: e.OrderID,
			Kind:    string(e.Kind),
			Stage:   string(e.Stage),
			At:      e.At,
			Missing: slices.Clone(e.Missing),
		})
	})
}

// logObserver writes every event at debug level.
type logObserver struct{}

func (logObserver) Observe(e Event) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	switch e.Kind {
	case EventOrderCreated:
		logrus.Debugf("[run %s] order %d created with items %v", e.RunID, e.OrderID, e.Items)
	case EventStageEntered:
		logrus.Debugf("[run %s] order %d entered %s at %s", e.RunID, e.OrderID, e.Stage, e.At.Format(time.RFC3339Nano))
	case EventOrderRejected:
		if e.Diagnostic != "" {
			logrus.Debugf("[run %s] order %d rejected at %s: %s", e.RunID, e.OrderID, e.Stage, e.Diagnostic)
		} else {
			logrus.Debugf("[run %s] order %d rejected at %s, missing %v", e.RunID, e.OrderID, e.Stage, e.Missing)
		}
	case EventOrderCompleted:
		logrus.Debugf("[run %s] order %d completed in %s", e.RunID, e.OrderID, e.At.Sub(e.Created))
	}
}
