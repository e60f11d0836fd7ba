package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DistSpec parameterizes a duration distribution. Params are in seconds,
// except the rate of the arrival processes, which is per second.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// Uniform is shorthand for a uniform DistSpec over [min, max].
func Uniform(min, max time.Duration) DistSpec {
	return DistSpec{Type: "uniform", Params: map[string]float64{"min": min.Seconds(), "max": max.Seconds()}}
}

// Constant is shorthand for a DistSpec that always yields d.
func Constant(d time.Duration) DistSpec {
	return DistSpec{Type: "constant", Params: map[string]float64{"value": d.Seconds()}}
}

// UnmarshalYAML replaces s wholesale, so a scenario file that changes the
// distribution type never inherits parameters of the one it overrides.
func (s *DistSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if key := value.Content[i].Value; key != "type" && key != "params" {
				return fmt.Errorf("line %d: field %s not found in distribution", value.Content[i].Line, key)
			}
		}
	}
	type plain DistSpec
	var out plain
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = DistSpec(out)
	return nil
}

func (s DistSpec) String() string {
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, s.Params[k]))
	}
	return fmt.Sprintf("%s(%s)", s.Type, strings.Join(parts, ","))
}

// DurationSampler generates service or interarrival durations.
type DurationSampler interface {
	// Sample returns a non-negative duration.
	Sample(rng *rand.Rand) time.Duration
}

// UniformSampler draws uniformly from [min, max].
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) time.Duration {
	if s.max <= s.min {
		return seconds(s.min)
	}
	return seconds(s.min + rng.Float64()*(s.max-s.min))
}

// ExponentialSampler produces exponentially-distributed durations.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) time.Duration {
	return seconds(rng.ExpFloat64() * s.mean)
}

// GaussianSampler produces clamped Gaussian durations.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) time.Duration {
	if s.min == s.max {
		return seconds(s.min)
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	return seconds(math.Min(s.max, math.Max(s.min, val)))
}

// ConstantSampler always returns the same fixed value.
// Used for deterministic runs where service time must not vary.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) time.Duration {
	return seconds(s.value)
}

// seconds converts a float number of seconds, clamping negatives and
// non-finite values to zero.
func seconds(v float64) time.Duration {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewDurationSampler creates a DurationSampler from a DistSpec.
func NewDurationSampler(spec DistSpec) (DurationSampler, error) {
	switch spec.Type {
	case "uniform":
		if err := requireParam(spec.Params, "min", "max"); err != nil {
			return nil, err
		}
		lo, hi := spec.Params["min"], spec.Params["max"]
		if lo < 0 || hi < lo {
			return nil, fmt.Errorf("uniform distribution needs 0 <= min <= max, got min=%g max=%g", lo, hi)
		}
		return &UniformSampler{min: lo, max: hi}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		if spec.Params["mean"] < 0 {
			return nil, fmt.Errorf("exponential mean must be >= 0, got %g", spec.Params["mean"])
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil

	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		if spec.Params["max"] < spec.Params["min"] {
			return nil, fmt.Errorf("gaussian distribution needs min <= max")
		}
		return &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    spec.Params["min"],
			max:    spec.Params["max"],
		}, nil

	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: spec.Params["value"]}, nil

	case "poisson", "gamma", "weibull":
		return newArrivalSampler(spec)

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
