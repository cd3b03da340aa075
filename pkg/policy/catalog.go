// Package policy holds the catalog of traffic shaping policies compared by
// the harness. Policies are structural templates; the catalog never touches
// an interface.
package policy

import (
	"time"

	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

const (
	// MaxPolicyID is the highest id of the catalog
	MaxPolicyID = 5

	// VideoPort, AudioPort carry the media flow and BulkPort the competing traffic
	VideoPort = 5004
	AudioPort = 5006
	BulkPort  = 5001

	// MediaMark, BulkMark are the values set by the marking stage of policy 5
	MediaMark = 10
	BulkMark  = 20

	mbit = 1000 * 1000
	kb   = 1024

	rootHandle    = "1:"
	rootClass     = "1:1"
	mediaClass    = "1:10"
	bulkClass     = "1:20"
	defaultClass  = "1:30"
	filterParent  = "1:0"
	linkRate      = 10 * mbit
	defaultMinor  = 30
	sfqPerturbSec = 10
)

var labels = map[int]string{
	0: "baseline (unshaped)",
	1: "token bucket (tbf)",
	2: "stochastic fairness (sfq)",
	3: "htb + u32 port filters",
	4: "htb + u32 filters + sfq leaves",
	5: "htb + sfq leaves + mark classification",
}

// IDs returns every policy id from 0 up to max, capped at MaxPolicyID
func IDs(max int) []int {
	if max > MaxPolicyID || max < 0 {
		max = MaxPolicyID
	}
	ids := make([]int, 0, max+1)
	for id := 0; id <= max; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Label returns the human label of the policy, empty for unknown ids
func Label(id int) string {
	return labels[id]
}

// Describe returns the ordered operations of the given policy
func Describe(id int) (types.Policy, error) {
	p := types.Policy{ID: id, Label: labels[id]}
	switch id {
	case 0:
		p.Operations = []types.Operation{}
	case 1:
		p.Operations = []types.Operation{
			{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindTBF, Rate: 5 * mbit, Burst: 10 * kb, Latency: 70 * time.Millisecond},
		}
	case 2:
		p.Operations = []types.Operation{
			{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindSFQ, Perturb: sfqPerturbSec},
		}
	case 3:
		p.Operations = append(htbHierarchy(), portFilters()...)
	case 4:
		p.Operations = append(append(htbHierarchy(), portFilters()...), sfqLeaves()...)
	case 5:
		p.Operations = append(append(append(markingStage(), htbHierarchy()...), sfqLeaves()...), markFilters()...)
	default:
		return types.Policy{}, cerrors.InvalidPolicy{PolicyID: id, Max: MaxPolicyID}
	}
	return p, nil
}

// htbHierarchy is the root htb with one parent class and three children:
// media (priority), secondary (bulk) and best-effort default
func htbHierarchy() []types.Operation {
	return []types.Operation{
		{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindHTB, Handle: rootHandle, DefaultClass: defaultMinor},
		{Scope: types.ScopeClass, Action: types.ActionAdd, Kind: types.KindHTB, Parent: rootHandle, Handle: rootClass, Rate: linkRate, Ceil: linkRate},
		{Scope: types.ScopeClass, Action: types.ActionAdd, Kind: types.KindHTB, Parent: rootClass, Handle: mediaClass, Rate: 4 * mbit, Ceil: 8 * mbit, Prio: 0},
		{Scope: types.ScopeClass, Action: types.ActionAdd, Kind: types.KindHTB, Parent: rootClass, Handle: bulkClass, Rate: 2 * mbit, Ceil: 5 * mbit, Prio: 1},
		{Scope: types.ScopeClass, Action: types.ActionAdd, Kind: types.KindHTB, Parent: rootClass, Handle: defaultClass, Rate: 1 * mbit, Ceil: 2 * mbit, Prio: 2},
	}
}

func portFilters() []types.Operation {
	return []types.Operation{
		{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindU32, Parent: filterParent, Prio: 1, Match: &types.Match{Protocol: "ip", DPort: VideoPort}, FlowID: mediaClass},
		{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindU32, Parent: filterParent, Prio: 1, Match: &types.Match{Protocol: "ip", DPort: AudioPort}, FlowID: mediaClass},
		{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindU32, Parent: filterParent, Prio: 2, Match: &types.Match{Protocol: "ip", DPort: BulkPort}, FlowID: bulkClass},
	}
}

func sfqLeaves() []types.Operation {
	return []types.Operation{
		{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindSFQ, Parent: mediaClass, Handle: "10:", Perturb: sfqPerturbSec},
		{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindSFQ, Parent: bulkClass, Handle: "20:", Perturb: sfqPerturbSec},
		{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: types.KindSFQ, Parent: defaultClass, Handle: "30:", Perturb: sfqPerturbSec},
	}
}

func markingStage() []types.Operation {
	return []types.Operation{
		{Scope: types.ScopeMark, Action: types.ActionAdd, Kind: types.KindMark, Match: &types.Match{Protocol: "udp", DPort: VideoPort}, Mark: MediaMark},
		{Scope: types.ScopeMark, Action: types.ActionAdd, Kind: types.KindMark, Match: &types.Match{Protocol: "udp", DPort: AudioPort}, Mark: MediaMark},
		{Scope: types.ScopeMark, Action: types.ActionAdd, Kind: types.KindMark, Match: &types.Match{Protocol: "udp", DPort: BulkPort}, Mark: BulkMark},
	}
}

func markFilters() []types.Operation {
	return []types.Operation{
		{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindFW, Parent: filterParent, Prio: 1, Mark: MediaMark, FlowID: mediaClass},
		{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindFW, Parent: filterParent, Prio: 2, Mark: BulkMark, FlowID: bulkClass},
	}
}

// IsRootAttach reports whether the operation adds the interface root discipline,
// as opposed to a child discipline attached under a class
func IsRootAttach(op types.Operation) bool {
	return op.Scope == types.ScopeRoot && op.Action == types.ActionAdd && op.Parent == ""
}
