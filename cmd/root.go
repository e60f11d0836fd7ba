package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/fulfillment-sim/fulfillment-sim/sim"
	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/telemetry"
	"github.com/fulfillment-sim/fulfillment-sim/sim/trace"
)

var (
	// CLI flags for the run command
	configPath          string        // Scenario YAML file
	presetName          string        // Built-in scenario used when no file is given
	logLevel            string        // Log verbosity level
	mode                string        // Clock mode: wall or logical
	seed                int64         // Master seed for every random stream
	horizon             time.Duration // Clock time after which the run finishes
	maxOrders           int           // Number of generated orders, 0 for unbounded
	availabilityWorkers int           // Workers in the availability stage
	packagingWorkers    int           // Workers in the packaging stage
	shippingWorkers     int           // Workers in the shipping stage
	gracePeriod         time.Duration // Real time Stop waits for orders in service
	metricsAddr         string        // Listen address for /metrics, empty to disable
	outputFormat        string        // Report format: text or yaml
	traceLevel          string        // Trace verbosity: none or events
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "fulfillment-sim",
	Short: "Concurrent simulation of an order-fulfillment pipeline",
}

// runCmd executes the simulation using the scenario file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fulfillment simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if err := checkRunFlags(cmd); err != nil {
			logrus.Fatalf("%v", err)
		}

		cfg, ok := sim.Preset(presetName)
		if !ok {
			logrus.Fatalf("Unknown --preset %q; valid presets are %v", presetName, sim.PresetNames())
		}
		if configPath != "" {
			cfg, err = loadScenario(configPath)
			if err != nil {
				logrus.Fatalf("Failed to load scenario: %v", err)
			}
		}
		applyFlagOverrides(cmd, &cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runSimulation(ctx, cfg, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// defaultsCmd prints a built-in scenario as YAML, ready to edit and pass to --config
var defaultsCmd = &cobra.Command{
	Use:   "defaults [preset]",
	Short: "Print the default (or a preset) scenario as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "default"
		if len(args) == 1 {
			name = args[0]
		}
		cfg, ok := sim.Preset(name)
		if !ok {
			return fmt.Errorf("unknown preset %q; valid presets are %v", name, sim.PresetNames())
		}
		return writeScenario(cmd.OutOrStdout(), cfg)
	},
}

// checkRunFlags rejects flag values that the scenario validator never sees.
func checkRunFlags(cmd *cobra.Command) error {
	if outputFormat != formatText && outputFormat != formatYAML {
		return fmt.Errorf("invalid --format %q; valid formats are %s, %s", outputFormat, formatText, formatYAML)
	}
	if cmd.Flags().Changed("mode") && !clock.IsValidMode(mode) {
		return fmt.Errorf("invalid --mode %q; valid modes are %s, %s", mode, clock.ModeWall, clock.ModeLogical)
	}
	if !trace.IsValidTraceLevel(traceLevel) {
		return fmt.Errorf("invalid --trace-level %q; valid levels are %s, %s", traceLevel, trace.TraceLevelNone, trace.TraceLevelEvents)
	}
	return nil
}

// applyFlagOverrides copies every explicitly set flag over the scenario values.
func applyFlagOverrides(cmd *cobra.Command, cfg *sim.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = clock.Mode(mode)
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("max-orders") {
		cfg.MaxOrders = maxOrders
	}
	if flags.Changed("grace") {
		cfg.GracePeriod = gracePeriod
	}
	workers := map[string]struct {
		stage sim.StageName
		value int
	}{
		"availability-workers": {sim.StageAvailability, availabilityWorkers},
		"packaging-workers":    {sim.StagePackaging, packagingWorkers},
		"shipping-workers":     {sim.StageShipping, shippingWorkers},
	}
	for flag, w := range workers {
		if flags.Changed(flag) {
			if cfg.Workers == nil {
				cfg.Workers = make(map[sim.StageName]int)
			}
			cfg.Workers[w.stage] = w.value
		}
	}
}

// runSimulation runs cfg until it finishes on its own or ctx is cancelled,
// then writes the report to out.
func runSimulation(ctx context.Context, cfg sim.Config, out io.Writer) error {
	c, err := sim.NewController(cfg)
	if err != nil {
		return err
	}

	var tr *trace.SimulationTrace
	if trace.TraceLevel(traceLevel) == trace.TraceLevelEvents {
		tr = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelEvents, TopMissing: 10})
		if err := c.Subscribe("trace", sim.NewTraceObserver(tr)); err != nil {
			return err
		}
	}

	if metricsAddr != "" {
		srv, err := serveMetrics(c, metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logrus.Infof("Starting simulation: mode=%s seed=%d workers=%v horizon=%s max_orders=%d",
		cfg.Mode, cfg.Seed, cfg.Workers, cfg.Horizon, cfg.MaxOrders)
	if err := c.Start(); err != nil {
		return err
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		logrus.Info("Interrupted, stopping simulation")
	}
	stopErr := c.Stop()
	switch {
	case errors.Is(stopErr, sim.ErrShutdownTimeout):
		logrus.Warnf("%v", stopErr)
	case stopErr != nil:
		return stopErr
	}

	report := newReport(c)
	if err := writeReport(out, outputFormat, report); err != nil {
		return err
	}
	if tr != nil {
		printTraceSummary(out, trace.Summarize(tr))
	}
	return nil
}

// serveMetrics exposes the controller's metrics on addr until the returned
// server is shut down.
func serveMetrics(c *sim.Controller, addr string) (*http.Server, error) {
	exp := telemetry.NewExporter(telemetry.DefaultNamespace)
	if err := c.Subscribe("metrics", exp); err != nil {
		return nil, err
	}
	if err := exp.TrackSnapshot(c.Snapshot); err != nil {
		return nil, fmt.Errorf("tracking snapshot: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	return srv, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	defaults := sim.DefaultConfig()

	runCmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML file (defaults are used when empty)")
	runCmd.Flags().StringVar(&presetName, "preset", "default", fmt.Sprintf("Built-in scenario %v", sim.PresetNames()))
	runCmd.MarkFlagsMutuallyExclusive("config", "preset")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&mode, "mode", string(defaults.Mode), "Clock mode (wall, logical)")
	runCmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "Seed for arrivals, payloads, stock and service times")
	runCmd.Flags().DurationVar(&horizon, "horizon", 0, "Clock time after which the run finishes (0 for none)")
	runCmd.Flags().IntVar(&maxOrders, "max-orders", 0, "Number of orders to generate (0 for unbounded)")

	// Worker pools
	runCmd.Flags().IntVar(&availabilityWorkers, "availability-workers", defaults.Workers[sim.StageAvailability], "Workers in the availability stage")
	runCmd.Flags().IntVar(&packagingWorkers, "packaging-workers", defaults.Workers[sim.StagePackaging], "Workers in the packaging stage")
	runCmd.Flags().IntVar(&shippingWorkers, "shipping-workers", defaults.Workers[sim.StageShipping], "Workers in the shipping stage")

	// Shutdown and output
	runCmd.Flags().DurationVar(&gracePeriod, "grace", defaults.GracePeriod, "Real time Stop waits for orders in service")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().StringVar(&outputFormat, "format", formatText, "Report format (text, yaml)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.TraceLevelNone), "Trace verbosity (none, events); events prints a trace summary after the report")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(defaultsCmd)
}
