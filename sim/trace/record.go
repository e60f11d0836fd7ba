// Package trace provides order-lifecycle trace recording for post-run analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

import "time"

// Record kinds. They mirror the engine's event kinds.
const (
	KindCreated   = "order_created"
	KindEntered   = "stage_entered"
	KindRejected  = "order_rejected"
	KindCompleted = "order_completed"
)

// Record captures a single order lifecycle event.
type Record struct {
	OrderID int64
	Kind    string
	Stage   string    // empty for created and completed
	At      time.Time // clock time of the event
	Missing []int     // item ids that caused a rejection (nil otherwise)
}
