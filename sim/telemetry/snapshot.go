package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fulfillment-sim/fulfillment-sim/sim"
)

// snapshotCollector turns one sim.Snapshot per scrape into const metrics.
type snapshotCollector struct {
	snapshot func() sim.Snapshot

	completionRate *prometheus.Desc
	throughput     *prometheus.Desc
	inFlight       *prometheus.Desc
	capacity       *prometheus.Desc
	busy           *prometheus.Desc
	queueLength    *prometheus.Desc
}

func newSnapshotCollector(namespace string, snapshot func() sim.Snapshot) *snapshotCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	return &snapshotCollector{
		snapshot:       snapshot,
		completionRate: prometheus.NewDesc(name("completion_rate"), "Completed over resolved orders", nil, nil),
		throughput:     prometheus.NewDesc(name("throughput_orders_per_second"), "Completed orders per clock second", nil, nil),
		inFlight:       prometheus.NewDesc(name("orders_in_flight"), "Admitted orders not yet resolved", nil, nil),
		capacity:       prometheus.NewDesc(name("stage_workers"), "Worker pool capacity", []string{"stage"}, nil),
		busy:           prometheus.NewDesc(name("stage_busy_workers"), "Workers currently serving an order", []string{"stage"}, nil),
		queueLength:    prometheus.NewDesc(name("stage_queue_length"), "Orders waiting for a worker", []string{"stage"}, nil),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.completionRate
	ch <- c.throughput
	ch <- c.inFlight
	ch <- c.capacity
	ch <- c.busy
	ch <- c.queueLength
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()
	ch <- prometheus.MustNewConstMetric(c.completionRate, prometheus.GaugeValue, snap.CompletionRate)
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, snap.Throughput)
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(snap.InFlight))
	for _, ss := range snap.Stages {
		stage := string(ss.Stage)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(ss.Capacity), stage)
		ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, float64(ss.Busy), stage)
		ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(ss.QueueLength), stage)
	}
}
