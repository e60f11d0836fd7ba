package trace

import "sort"

// MissingCount pairs an item id with the number of rejections it caused.
type MissingCount struct {
	ItemID int
	Count  int
}

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalEvents  int
	Created      int
	Completed    int
	Rejected     int
	StageEntries map[string]int // stage name → number of entries
	MissingItems int            // sum of missing ids over all rejections
	TopMissing   []MissingCount // most frequently missing ids, count desc then id asc
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		StageEntries: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	missing := make(map[int]int)
	for _, r := range st.Records() {
		summary.TotalEvents++
		switch r.Kind {
		case KindCreated:
			summary.Created++
		case KindEntered:
			summary.StageEntries[r.Stage]++
		case KindRejected:
			summary.Rejected++
			for _, id := range r.Missing {
				missing[id]++
				summary.MissingItems++
			}
		case KindCompleted:
			summary.Completed++
		}
	}

	if st.Config.TopMissing > 0 && len(missing) > 0 {
		counts := make([]MissingCount, 0, len(missing))
		for id, n := range missing {
			counts = append(counts, MissingCount{ItemID: id, Count: n})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return counts[i].Count > counts[j].Count
			}
			return counts[i].ItemID < counts[j].ItemID
		})
		if len(counts) > st.Config.TopMissing {
			counts = counts[:st.Config.TopMissing]
		}
		summary.TopMissing = counts
	}

	return summary
}
