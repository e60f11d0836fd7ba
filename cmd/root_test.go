package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	sim "github.com/fulfillment-sim/fulfillment-sim/sim"
	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/trace"
)

// withOutputFlags sets the output flags for one test.
func withOutputFlags(t *testing.T, format string, summary bool) {
	t.Helper()
	level := string(trace.TraceLevelNone)
	if summary {
		level = string(trace.TraceLevelEvents)
	}
	oldFormat, oldLevel, oldAddr := outputFormat, traceLevel, metricsAddr
	outputFormat, traceLevel, metricsAddr = format, level, ""
	t.Cleanup(func() {
		outputFormat, traceLevel, metricsAddr = oldFormat, oldLevel, oldAddr
	})
}

func logicalConfig(orders int) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Mode = clock.ModeLogical
	cfg.MaxOrders = orders
	return cfg
}

func TestRunSimulation_TextReport(t *testing.T) {
	// GIVEN a logical run of 20 orders with the trace summary enabled
	withOutputFlags(t, formatText, true)
	var out bytes.Buffer

	// WHEN it runs to completion
	require.NoError(t, runSimulation(context.Background(), logicalConfig(20), &out))

	// THEN the summary and the trace summary are printed
	got := out.String()
	assert.Contains(t, got, "=== Simulation Summary ===")
	assert.Contains(t, got, "Finished by:       drained")
	assert.Contains(t, got, "Orders created:    20")
	assert.Contains(t, got, "--- packaging (3 workers")
	assert.Contains(t, got, "=== Trace Summary ===")
	assert.Less(t, strings.Index(got, "Simulation Summary"), strings.Index(got, "Trace Summary"))
}

func TestRunSimulation_YAMLReport(t *testing.T) {
	// GIVEN yaml output
	withOutputFlags(t, formatYAML, false)
	var out bytes.Buffer

	// WHEN a logical run of 15 orders finishes
	require.NoError(t, runSimulation(context.Background(), logicalConfig(15), &out))

	// THEN the report decodes and balances
	var r Report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, "drained", r.Reason)
	assert.Equal(t, "logical", r.Mode)
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, 15, r.Snapshot.TotalOrders)
	assert.Equal(t, 15, r.Snapshot.Completed+r.Snapshot.Rejected)
	assert.Len(t, r.Snapshot.Stages, 3)
}

func TestRunSimulation_CancelledContextStops(t *testing.T) {
	// GIVEN a wall-clock run with no natural end
	withOutputFlags(t, formatText, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	// WHEN the context is already cancelled
	err := runSimulation(ctx, sim.DefaultConfig(), &out)

	// THEN the run stops at once and still reports
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Finished by:       stopped")
}

func TestRunSimulation_InvalidConfig(t *testing.T) {
	withOutputFlags(t, formatText, false)
	cfg := sim.DefaultConfig()
	cfg.Workers[sim.StageShipping] = 0

	err := runSimulation(context.Background(), cfg, &bytes.Buffer{})

	assert.Error(t, err)
}

func TestDefaultsCommand_PrintsScenario(t *testing.T) {
	var out bytes.Buffer
	defaultsCmd.SetOut(&out)
	defer defaultsCmd.SetOut(nil)

	require.NoError(t, defaultsCmd.RunE(defaultsCmd, nil))

	cfg, err := parseScenario(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultConfig(), cfg)
}

func TestDefaultsCommand_Preset(t *testing.T) {
	var out bytes.Buffer
	defaultsCmd.SetOut(&out)
	defer defaultsCmd.SetOut(nil)

	require.NoError(t, defaultsCmd.RunE(defaultsCmd, []string{"peak"}))
	cfg, err := parseScenario(out.Bytes())
	require.NoError(t, err)
	peak, _ := sim.Preset("peak")
	assert.Equal(t, peak, cfg)

	assert.Error(t, defaultsCmd.RunE(defaultsCmd, []string{"black-friday"}))
}

func TestCheckRunFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "defaults", args: nil},
		{name: "logical mode", args: []string{"--mode", "logical"}},
		{name: "events trace", args: []string{"--trace-level", "events"}},
		{name: "unknown mode", args: []string{"--mode", "sundial"}, wantErr: "--mode"},
		{name: "unknown trace level", args: []string{"--trace-level", "verbose"}, wantErr: "--trace-level"},
		{name: "unknown format", args: []string{"--format", "csv"}, wantErr: "--format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a fresh run command parsing the flags
			cmd := &cobra.Command{Use: "run"}
			withOutputFlags(t, formatText, false)
			oldMode := mode
			t.Cleanup(func() { mode = oldMode })
			cmd.Flags().StringVar(&mode, "mode", "wall", "")
			cmd.Flags().StringVar(&traceLevel, "trace-level", "none", "")
			cmd.Flags().StringVar(&outputFormat, "format", formatText, "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			// WHEN the flags are checked
			err := checkRunFlags(cmd)

			// THEN only the unknown value is rejected, naming its flag
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
