package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sim "github.com/fulfillment-sim/fulfillment-sim/sim"
	"github.com/fulfillment-sim/fulfillment-sim/sim/trace"
)

func TestWriteReport_TextFormat(t *testing.T) {
	// GIVEN a report with one stage lacking data
	r := Report{
		RunID:   "run-1",
		Mode:    "logical",
		Seed:    7,
		Reason:  "horizon",
		Elapsed: 90 * time.Second,
		Snapshot: sim.Snapshot{
			TotalOrders:    4,
			Completed:      3,
			Rejected:       1,
			CompletionRate: 0.75,
			Throughput:     0.5,
			EndToEnd:       &sim.DurationSummary{Count: 3, Mean: 2 * time.Second, Min: time.Second, Max: 3 * time.Second, P50: 2 * time.Second, P95: 3 * time.Second},
			Stages: []sim.StageStats{
				{Stage: sim.StageAvailability, Capacity: 2, Visits: 4},
				{Stage: sim.StagePackaging, Capacity: 3},
			},
		},
	}
	var out bytes.Buffer

	// WHEN it is written as text
	assert.NoError(t, writeReport(&out, formatText, r))

	// THEN the headline figures appear
	got := out.String()
	assert.Contains(t, got, "Run:               run-1 (logical mode, seed 7)")
	assert.Contains(t, got, "Finished by:       horizon after 1m30s")
	assert.Contains(t, got, "Completion rate:   75.00%")
	assert.Contains(t, got, "Time in system:    mean=2s min=1s max=3s p50=2s p95=3s")
	assert.Contains(t, got, "Wait:              no data")
	assert.NotContains(t, got, "cut short")
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	assert.Error(t, writeReport(&bytes.Buffer{}, "xml", Report{}))
}

func TestPrintTraceSummary(t *testing.T) {
	ts := &trace.TraceSummary{
		TotalEvents:  5,
		Created:      2,
		Completed:    1,
		Rejected:     1,
		StageEntries: map[string]int{"availability": 2},
		MissingItems: 1,
		TopMissing:   []trace.MissingCount{{ItemID: 4001, Count: 1}},
	}
	var out bytes.Buffer

	printTraceSummary(&out, ts)

	got := out.String()
	assert.Contains(t, got, "Created/completed/rejected: 2/1/1")
	assert.Contains(t, got, "item 4001 missing in 1 orders")
}
