package trace

import "sync"

// TraceLevel controls the verbosity of order tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures every order lifecycle event.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level      TraceLevel
	TopMissing int // number of most-missed item ids kept in the summary
}

// SimulationTrace collects lifecycle records during a run.
// Record is safe to call from concurrent executors.
type SimulationTrace struct {
	Config TraceConfig

	mu      sync.Mutex
	records []Record
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:  config,
		records: make([]Record, 0),
	}
}

// Record appends a lifecycle record. It is a no-op at TraceLevelNone.
func (st *SimulationTrace) Record(r Record) {
	if st.Config.Level != TraceLevelEvents {
		return
	}
	st.mu.Lock()
	st.records = append(st.records, r)
	st.mu.Unlock()
}

// Records returns a copy of everything recorded so far, in arrival order.
func (st *SimulationTrace) Records() []Record {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Record, len(st.records))
	copy(out, st.records)
	return out
}
