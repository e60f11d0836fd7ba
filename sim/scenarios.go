package sim

import (
	"sort"
	"time"

	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// Built-in scenario presets for common demand patterns.
// Each returns a valid Config derived from DefaultConfig.
var presets = map[string]func() Config{
	"default":  DefaultConfig,
	"bursty":   ScenarioBurstyDemand,
	"peak":     ScenarioPeakSeason,
	"stockout": ScenarioStockout,
}

// Preset returns the named scenario.
func Preset(name string) (Config, bool) {
	build, ok := presets[name]
	if !ok {
		return Config{}, false
	}
	return build(), true
}

// PresetNames lists the built-in scenarios in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioBurstyDemand keeps the default mean arrival rate but draws gaps from a
// Gamma process with CV=3.5, so orders come in clumps that queue up at availability.
func ScenarioBurstyDemand() Config {
	cfg := DefaultConfig()
	cfg.Arrival = workload.DistSpec{Type: "gamma", Params: map[string]float64{"rate": 1 / 1.05, "cv": 3.5}}
	return cfg
}

// ScenarioPeakSeason quadruples demand with Poisson arrivals and staffs every
// stage for it. Packaging remains the bottleneck.
func ScenarioPeakSeason() Config {
	cfg := DefaultConfig()
	cfg.Arrival = workload.DistSpec{Type: "poisson", Params: map[string]float64{"rate": 4}}
	cfg.Workers = map[StageName]int{
		StageAvailability: 6,
		StagePackaging:    8,
		StageShipping:     7,
	}
	cfg.ItemsPerOrder = workload.IntRange{Min: 1, Max: 8}
	return cfg
}

// ScenarioStockout shrinks the in-stock set to ten items, so nearly every order
// is rejected at availability and the later stages sit idle.
func ScenarioStockout() Config {
	cfg := DefaultConfig()
	cfg.Catalog.Available = 10
	cfg.Service[StageAvailability] = workload.Uniform(200*time.Millisecond, time.Second)
	return cfg
}
