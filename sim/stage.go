package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fulfillment-sim/fulfillment-sim/sim/workload"
)

// StageName identifies a pipeline stage.
type StageName string

const (
	StageAvailability StageName = "availability"
	StagePackaging    StageName = "packaging"
	StageShipping     StageName = "shipping"
)

// Stages is the fixed pipeline order. Orders visit stages in this order only.
var Stages = []StageName{StageAvailability, StagePackaging, StageShipping}

// StageIndex returns the ordinal position of name in the pipeline.
func StageIndex(name StageName) (int, bool) {
	for i, s := range Stages {
		if s == name {
			return i, true
		}
	}
	return -1, false
}

// IsValidStage returns true if name is one of the pipeline stages.
func IsValidStage(name string) bool {
	_, ok := StageIndex(StageName(name))
	return ok
}

// StageRule applies a stage's business rule to an order after service.
// A non-empty missing list rejects the order.
type StageRule interface {
	Inspect(o *Order) (missing []int)
}

// AvailabilityRule rejects orders that contain items not in stock.
type AvailabilityRule struct {
	Catalog *workload.Catalog
}

func (r AvailabilityRule) Inspect(o *Order) []int {
	return r.Catalog.Missing(o.Items())
}

// passThrough never rejects.
type passThrough struct{}

func (passThrough) Inspect(*Order) []int { return nil }

// Stage is one step of the pipeline: a queue of waiting orders served by a
// fixed pool of workers.
type Stage struct {
	Name  StageName
	Index int
	Next  *Stage // nil for the terminal stage

	Queue *StageQueue
	Pool  *WorkerPool

	rule    StageRule
	service workload.DurationSampler

	rngMu sync.Mutex // executors of one stage share its RNG
	rng   *rand.Rand
}

func newStage(name StageName, index int, queue *StageQueue, pool *WorkerPool,
	service workload.DurationSampler, rng *rand.Rand, rule StageRule) *Stage {
	if service == nil {
		panic(fmt.Sprintf("stage %s: service sampler must not be nil", name))
	}
	if rule == nil {
		rule = passThrough{}
	}
	return &Stage{
		Name:    name,
		Index:   index,
		Queue:   queue,
		Pool:    pool,
		rule:    rule,
		service: service,
		rng:     rng,
	}
}

// Terminal reports whether orders leaving this stage are complete.
func (s *Stage) Terminal() bool {
	return s.Next == nil
}

// sampleService draws one service duration from the stage's distribution.
func (s *Stage) sampleService() time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.service.Sample(s.rng)
}
