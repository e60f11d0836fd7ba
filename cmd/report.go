package cmd

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	sim "github.com/fulfillment-sim/fulfillment-sim/sim"
	"github.com/fulfillment-sim/fulfillment-sim/sim/trace"
)

const (
	formatText = "text"
	formatYAML = "yaml"
)

// Report is the end-of-run output of the run command.
type Report struct {
	RunID    string        `yaml:"run_id"`
	Mode     string        `yaml:"mode"`
	Seed     int64         `yaml:"seed"`
	Reason   string        `yaml:"finished_by"`
	Elapsed  time.Duration `yaml:"elapsed"`
	Snapshot sim.Snapshot  `yaml:"stats"`
}

func newReport(c *sim.Controller) Report {
	cfg := c.Config()
	return Report{
		RunID:    c.RunID(),
		Mode:     string(cfg.Mode),
		Seed:     cfg.Seed,
		Reason:   c.Reason(),
		Elapsed:  c.Elapsed(),
		Snapshot: c.Snapshot(),
	}
}

// writeReport prints r to w in the given format.
func writeReport(w io.Writer, format string, r Report) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		return enc.Close()
	case formatText, "":
		printTextReport(w, r)
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func printTextReport(w io.Writer, r Report) {
	s := r.Snapshot
	_, _ = fmt.Fprintln(w, "=== Simulation Summary ===")
	_, _ = fmt.Fprintf(w, "Run:               %s (%s mode, seed %d)\n", r.RunID, r.Mode, r.Seed)
	_, _ = fmt.Fprintf(w, "Finished by:       %s after %s\n", r.Reason, r.Elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "Orders created:    %d\n", s.TotalOrders)
	_, _ = fmt.Fprintf(w, "Orders completed:  %d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Orders rejected:   %d (%d faulted)\n", s.Rejected, s.Faulted)
	if s.Interrupted > 0 || s.Abandoned > 0 {
		_, _ = fmt.Fprintf(w, "Orders cut short:  %d interrupted, %d abandoned\n", s.Interrupted, s.Abandoned)
	}
	_, _ = fmt.Fprintf(w, "Completion rate:   %.2f%%\n", 100*s.CompletionRate)
	_, _ = fmt.Fprintf(w, "Throughput:        %.3f orders/s\n", s.Throughput)
	printSummaryLine(w, "Time in system", s.EndToEnd)
	for _, st := range s.Stages {
		_, _ = fmt.Fprintf(w, "\n--- %s (%d workers, peak %d busy, %d visits) ---\n", st.Stage, st.Capacity, st.PeakBusy, st.Visits)
		printSummaryLine(w, "Wait", st.Wait)
		printSummaryLine(w, "Service", st.Service)
	}
}

func printSummaryLine(w io.Writer, name string, d *sim.DurationSummary) {
	if d == nil {
		_, _ = fmt.Fprintf(w, "%-18s no data\n", name+":")
		return
	}
	_, _ = fmt.Fprintf(w, "%-18s mean=%s min=%s max=%s p50=%s p95=%s\n", name+":",
		round(d.Mean), round(d.Min), round(d.Max), round(d.P50), round(d.P95))
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

// printTraceSummary writes the aggregate of an event trace.
func printTraceSummary(w io.Writer, ts *trace.TraceSummary) {
	_, _ = fmt.Fprintln(w, "\n=== Trace Summary ===")
	_, _ = fmt.Fprintf(w, "Events:            %d\n", ts.TotalEvents)
	_, _ = fmt.Fprintf(w, "Created/completed/rejected: %d/%d/%d\n", ts.Created, ts.Completed, ts.Rejected)
	for _, name := range sim.Stages {
		_, _ = fmt.Fprintf(w, "  %-14s %d entries\n", name, ts.StageEntries[string(name)])
	}
	_, _ = fmt.Fprintf(w, "Missing items:     %d\n", ts.MissingItems)
	for _, mc := range ts.TopMissing {
		_, _ = fmt.Fprintf(w, "  item %d missing in %d orders\n", mc.ItemID, mc.Count)
	}
}
