// Package sim provides the order-fulfillment pipeline simulation engine.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - order.go: Order lifecycle (created → in stage → completed or rejected) and timestamps
//   - pipeline.go: admission, the per-stage executor loop and the handoff between stages
//   - controller.go: run lifecycle (configure, start, stop) and the read-only views
//
// # Architecture
//
// Every stage owns a StageQueue and a WorkerPool. One executor goroutine runs per
// worker; it dequeues an order, holds a worker lease for the service time, applies
// the stage rule and passes the order on. The OrderGenerator feeds the first queue.
//
// Time comes from a clock.Clock shared by every participant:
//   - sim/clock/: wall time, or logical time that jumps from event to event
//   - sim/workload/: service and interarrival distributions, the item catalog
//   - sim/trace/: optional event trace and summary
//   - sim/telemetry/: Prometheus exporter fed by the Observer interface
//
// # Key Interfaces
//
//   - clock.Clock: Now, Sleep and parkable Waiters
//   - workload.DurationSampler: service and interarrival draws
//   - StageRule: per-stage business rule applied after service
//   - Observer: receives lifecycle events on its own goroutine through a bounded mailbox
//
// In logical mode a run with a fixed seed and configuration reproduces the same
// order history.
package sim
