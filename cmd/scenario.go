package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	sim "github.com/fulfillment-sim/fulfillment-sim/sim"
)

// loadScenario reads a scenario YAML file over the defaults and validates it.
// Keys the file leaves out keep their default values; unknown keys are errors
// so that typos never silently fall back to defaults.
func loadScenario(path string) (sim.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sim.Config{}, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return sim.Config{}, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, err
	}
	return cfg, nil
}

// writeScenario encodes cfg in the format loadScenario accepts.
func writeScenario(w io.Writer, cfg sim.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}
	return enc.Close()
}
