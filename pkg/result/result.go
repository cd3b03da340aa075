// Package result aggregates the flow metrics of every policy into the
// comparison table and writes it out for the operator and the renderer.
package result

import (
	"sort"

	"github.com/kyokomi/emoji"

	"github.com/litmuschaos/litmus-qos/pkg/types"
)

// Entry is one row of the comparison table
type Entry struct {
	PolicyID int               `json:"policy_id"`
	Label    string            `json:"label"`
	Metrics  types.FlowMetrics `json:"metrics"`

	// Measured is false for a policy reported with zeroed metrics
	Measured bool `json:"measured"`
}

// ComparisonTable holds one entry per policy ordered by policy id
type ComparisonTable struct {
	Entries []Entry `json:"entries"`
}

// Aggregate builds the comparison table of the given policy ids. Every id
// gets an entry, with zeroed metrics when none were derived, and metrics of
// ids outside the list are kept. The first metrics of an id win.
func Aggregate(metrics []types.PolicyMetrics, ids []int, label func(int) string) ComparisonTable {
	byID := map[int]types.FlowMetrics{}
	for _, m := range metrics {
		if _, ok := byID[m.PolicyID]; !ok {
			byID[m.PolicyID] = m.Metrics
		}
	}

	seen := map[int]bool{}
	var all []int
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}
	for id := range byID {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}
	sort.Ints(all)

	table := ComparisonTable{Entries: make([]Entry, 0, len(all))}
	for _, id := range all {
		m, ok := byID[id]
		e := Entry{PolicyID: id, Metrics: m, Measured: ok}
		if label != nil {
			e.Label = label(id)
		}
		table.Entries = append(table.Entries, e)
	}
	return table
}

// Entry returns the entry of the policy
func (t ComparisonTable) Entry(policyID int) (Entry, bool) {
	for _, e := range t.Entries {
		if e.PolicyID == policyID {
			return e, true
		}
	}
	return Entry{}, false
}

// Verdict decorates a run verdict for the terminal
func Verdict(verdict string) string {
	switch verdict {
	case types.PassVerdict:
		return verdict + emoji.Sprint(" :thumbsup:")
	case types.DegradedVerdict:
		return verdict + emoji.Sprint(" :warning:")
	case types.AbortVerdict:
		return verdict + emoji.Sprint(" :no_entry:")
	default:
		return verdict + emoji.Sprint(" :thumbsdown:")
	}
}
