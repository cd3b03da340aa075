package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPhaseRecordsTransitions(t *testing.T) {
	run := RunDetails{}
	run.SetPhase(PhaseIdle)
	run.SetPhase(PhasePolicyApplied)
	run.SetPhase(PhaseStopped)

	assert.Equal(t, PhaseStopped, run.Phase)
	require.Len(t, run.Phases, 3)
	assert.Equal(t, PhaseIdle, run.Phases[0].Phase)
	assert.False(t, run.Phases[2].At.Before(run.Phases[0].At))
}

func TestRecordFailure(t *testing.T) {
	run := RunDetails{}
	run.RecordFailure("launch of %s failed: %v", "sender", "exit status 1")
	assert.Equal(t, []string{"launch of sender failed: exit status 1"}, run.Failures)
}

func TestTask(t *testing.T) {
	run := RunDetails{Tasks: []TaskRecord{{Name: "sender"}, {Name: "monitor"}}}
	task := run.Task("monitor")
	require.NotNil(t, task)
	task.Terminated = true
	assert.True(t, run.Tasks[1].Terminated)
	assert.Nil(t, run.Task("player"))
}

func TestPolicyHasMarking(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want bool
	}{
		{name: "empty", ops: nil, want: false},
		{name: "port filters", ops: []Operation{{Scope: ScopeRoot}, {Scope: ScopeFilter}}, want: false},
		{name: "marking stage", ops: []Operation{{Scope: ScopeMark}, {Scope: ScopeFilter}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Policy{Operations: tt.ops}.HasMarking())
		})
	}
}

func TestOperationString(t *testing.T) {
	op := Operation{Scope: ScopeClass, Action: ActionAdd, Kind: KindHTB, Parent: "1:1", Handle: "1:10", Latency: time.Millisecond}
	assert.Equal(t, "add class htb handle 1:10 parent 1:1", op.String())
	assert.Equal(t, "s1/s1-eth3", InterfaceHandle{Host: "s1", Name: "s1-eth3"}.String())
	assert.Equal(t, "eth0", InterfaceHandle{Name: "eth0"}.String())
}
