package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		id      int
		ops     int
		first   types.Kind
		marking bool
	}{
		{id: 0, ops: 0},
		{id: 1, ops: 1, first: types.KindTBF},
		{id: 2, ops: 1, first: types.KindSFQ},
		{id: 3, ops: 8, first: types.KindHTB},
		{id: 4, ops: 11, first: types.KindHTB},
		{id: 5, ops: 13, first: types.KindMark, marking: true},
	}
	for _, tt := range tests {
		p, err := Describe(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.id, p.ID)
		assert.NotEmpty(t, p.Label)
		require.Len(t, p.Operations, tt.ops, "policy %d", tt.id)
		if tt.ops > 0 {
			assert.Equal(t, tt.first, p.Operations[0].Kind)
		}
		assert.Equal(t, tt.marking, p.HasMarking())
	}
}

func TestDescribeIsPure(t *testing.T) {
	a, err := Describe(4)
	require.NoError(t, err)
	a.Operations[0].Rate = 1

	b, err := Describe(4)
	require.NoError(t, err)
	assert.Zero(t, b.Operations[0].Rate)
}

func TestDescribeUnknownPolicy(t *testing.T) {
	for _, id := range []int{-1, 6, 9} {
		_, err := Describe(id)
		require.Error(t, err)
		assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeInvalidPolicy))
		assert.Contains(t, err.Error(), "0-5")
	}
}

func TestExactlyOneRootAttach(t *testing.T) {
	for _, id := range IDs(MaxPolicyID)[1:] {
		p, err := Describe(id)
		require.NoError(t, err)
		roots := 0
		for _, op := range p.Operations {
			if IsRootAttach(op) {
				roots++
			}
		}
		assert.Equal(t, 1, roots, "policy %d", id)
	}
}

func TestMediaSharesTheClass(t *testing.T) {
	p, err := Describe(3)
	require.NoError(t, err)
	flows := map[int]string{}
	for _, op := range p.Operations {
		if op.Scope == types.ScopeFilter && op.Match != nil {
			flows[op.Match.DPort] = op.FlowID
		}
	}
	assert.Equal(t, flows[VideoPort], flows[AudioPort])
	assert.NotEqual(t, flows[VideoPort], flows[BulkPort])
}

func TestIDs(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, IDs(MaxPolicyID))
	assert.Equal(t, []int{0, 1, 2}, IDs(2))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, IDs(42))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "baseline (unshaped)", Label(0))
	assert.Empty(t, Label(7))
}
