package sim

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fulfillment-sim/fulfillment-sim/sim/clock"
	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// Config describes one simulation scenario. The zero value is not usable;
// start from DefaultConfig and override.
type Config struct {
	Mode clock.Mode `yaml:"mode" validate:"oneof=wall logical"`
	Seed int64      `yaml:"seed"`

	// Workers is the pool capacity of each stage. Every stage must be present.
	Workers map[StageName]int `yaml:"workers" validate:"required"`
	// Service is the service-time distribution of each stage.
	Service map[StageName]workload.DistSpec `yaml:"service" validate:"required"`

	Arrival       workload.DistSpec    `yaml:"arrival"`
	ItemsPerOrder workload.IntRange    `yaml:"items_per_order"`
	Catalog       workload.CatalogSpec `yaml:"catalog"`

	MaxOrders int           `yaml:"max_orders" validate:"gte=0"` // 0 = unbounded
	Manual    bool          `yaml:"manual"`                      // no generator; orders come from Inject
	Horizon   time.Duration `yaml:"horizon" validate:"gte=0"`    // clock time after which the run finishes; 0 = none

	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"` // executor dequeue timeout
	GracePeriod  time.Duration `yaml:"grace_period" validate:"gt=0"`  // real time Stop waits for in-service orders
}

// DefaultConfig returns the reference scenario: 2 availability, 3 packaging and
// 2 shipping workers, uniform 0.5-3s service, uniform 0.1-2s interarrival,
// 1-5 items per order drawn from ids 1000-5000 of which 100 are in stock.
func DefaultConfig() Config {
	service := workload.Uniform(500*time.Millisecond, 3*time.Second)
	return Config{
		Mode: clock.ModeWall,
		Seed: 4232,
		Workers: map[StageName]int{
			StageAvailability: 2,
			StagePackaging:    3,
			StageShipping:     2,
		},
		Service: map[StageName]workload.DistSpec{
			StageAvailability: service,
			StagePackaging:    service,
			StageShipping:     service,
		},
		Arrival:       workload.Uniform(100*time.Millisecond, 2*time.Second),
		ItemsPerOrder: workload.IntRange{Min: 1, Max: 5},
		Catalog:       workload.CatalogSpec{MinID: 1000, MaxID: 5000, Available: 100},
		PollInterval:  100 * time.Millisecond,
		GracePeriod:   5 * time.Second,
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.Workers = make(map[StageName]int, len(c.Workers))
	for k, v := range c.Workers {
		out.Workers[k] = v
	}
	out.Service = make(map[StageName]workload.DistSpec, len(c.Service))
	for k, v := range c.Service {
		out.Service[k] = cloneDist(v)
	}
	out.Arrival = cloneDist(c.Arrival)
	out.Catalog.AvailableIDs = append([]int(nil), c.Catalog.AvailableIDs...)
	return out
}

func cloneDist(d workload.DistSpec) workload.DistSpec {
	if d.Params == nil {
		return d
	}
	params := make(map[string]float64, len(d.Params))
	for k, v := range d.Params {
		params[k] = v
	}
	d.Params = params
	return d
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// configValidator returns the shared validator, reporting fields by their yaml names.
func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the whole configuration. Every failure is a *ConfigurationError.
func (c Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{
				Field:  strings.TrimPrefix(fe.Namespace(), "Config."),
				Reason: describeFieldError(fe),
			}
		}
		return &ConfigurationError{Field: "config", Reason: "invalid", Err: err}
	}
	if err := ValidatePools(c.Workers); err != nil {
		return err
	}
	if err := validateStageKeys("service", keysOf(c.Service)); err != nil {
		return err
	}
	for _, name := range Stages {
		if _, err := workload.NewDurationSampler(c.Service[name]); err != nil {
			return &ConfigurationError{Field: "service." + string(name), Reason: "bad distribution", Err: err}
		}
	}
	if !c.Manual {
		if _, err := workload.NewDurationSampler(c.Arrival); err != nil {
			return &ConfigurationError{Field: "arrival", Reason: "bad distribution", Err: err}
		}
	}
	if len(c.Catalog.AvailableIDs) == 0 {
		if span := c.Catalog.MaxID - c.Catalog.MinID + 1; c.Catalog.Available > span {
			return configErrorf("catalog.available", "%d exceeds the %d ids in [%d, %d]",
				c.Catalog.Available, span, c.Catalog.MinID, c.Catalog.MaxID)
		}
	}
	if c.Mode == clock.ModeLogical && c.Horizon == 0 && c.MaxOrders == 0 && !c.Manual {
		return configErrorf("mode", "logical runs need a horizon, max_orders or manual injection to finish")
	}
	return nil
}

// ValidatePools checks a per-stage worker map: every stage present, nothing
// else, and every count at least 1.
func ValidatePools(pools map[StageName]int) error {
	if err := validateStageKeys("workers", keysOf(pools)); err != nil {
		return err
	}
	for _, name := range Stages {
		if n := pools[name]; n < 1 {
			return configErrorf("workers."+string(name), "must be >= 1, got %d", n)
		}
	}
	return nil
}

func keysOf[V any](m map[StageName]V) []StageName {
	keys := make([]StageName, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func validateStageKeys(field string, keys []StageName) error {
	present := make(map[StageName]bool, len(keys))
	for _, k := range keys {
		if !IsValidStage(string(k)) {
			return configErrorf(field+"."+string(k), "unknown stage; valid stages are %v", Stages)
		}
		present[k] = true
	}
	for _, name := range Stages {
		if !present[name] {
			return configErrorf(field+"."+string(name), "missing")
		}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("must be > %s, got %v", fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
