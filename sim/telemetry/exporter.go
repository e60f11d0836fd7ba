// Package telemetry exports pipeline activity as Prometheus metrics.
//
// An Exporter is a sim.Observer: subscribe it to a Controller and it counts
// lifecycle events as they happen. TrackSnapshot adds gauges that read the
// controller's live statistics on every scrape.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulfillment-sim/fulfillment-sim/sim"
)

// DefaultNamespace prefixes every metric name when NewExporter gets "".
const DefaultNamespace = "fulfillment"

// Exporter holds the pipeline metrics and the registry that serves them.
type Exporter struct {
	namespace string
	registry  *prometheus.Registry

	OrdersTotal       *prometheus.CounterVec
	StageEntriesTotal *prometheus.CounterVec
	MissingItemsTotal prometheus.Counter
	EndToEnd          prometheus.Histogram
}

// NewExporter creates an exporter with its own registry, so several runs in one
// process never collide on the global one.
func NewExporter(namespace string) *Exporter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	e := &Exporter{
		namespace: namespace,
		registry:  registry,
	}

	e.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order lifecycle events by kind (created, completed, rejected)",
		},
		[]string{"event"},
	)

	e.StageEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_entries_total",
			Help:      "Number of times an order started service at a stage",
		},
		[]string{"stage"},
	)

	e.MissingItemsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_items_total",
			Help:      "Distinct out-of-stock items reported by rejected orders",
		},
	)

	e.EndToEnd = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_end_to_end_seconds",
			Help:      "Time from creation to completion of completed orders, in clock seconds",
			Buckets:   []float64{.5, 1, 2, 4, 6, 8, 10, 15, 20, 30, 60, 120},
		},
	)

	registry.MustRegister(
		e.OrdersTotal,
		e.StageEntriesTotal,
		e.MissingItemsTotal,
		e.EndToEnd,
	)
	return e
}

// Observe implements sim.Observer.
func (e *Exporter) Observe(ev sim.Event) {
	switch ev.Kind {
	case sim.EventOrderCreated:
		e.OrdersTotal.WithLabelValues("created").Inc()
	case sim.EventStageEntered:
		e.StageEntriesTotal.WithLabelValues(string(ev.Stage)).Inc()
	case sim.EventOrderRejected:
		e.OrdersTotal.WithLabelValues("rejected").Inc()
		e.MissingItemsTotal.Add(float64(len(ev.Missing)))
	case sim.EventOrderCompleted:
		e.OrdersTotal.WithLabelValues("completed").Inc()
		e.EndToEnd.Observe(ev.At.Sub(ev.Created).Seconds())
	}
}

// TrackSnapshot registers gauges computed from snapshot at scrape time.
// It fails if called twice on the same exporter.
func (e *Exporter) TrackSnapshot(snapshot func() sim.Snapshot) error {
	return e.registry.Register(newSnapshotCollector(e.namespace, snapshot))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
