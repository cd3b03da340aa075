package tc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litmuschaos/litmus-qos/pkg/host"
	"github.com/litmuschaos/litmus-qos/pkg/policy"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

func renderAll(t *testing.T, id int) []string {
	p, err := policy.Describe(id)
	require.NoError(t, err)
	var cmds []string
	for _, op := range p.Operations {
		argv, err := Render("s1-eth3", types.MarkingEgress, op)
		require.NoError(t, err)
		cmds = append(cmds, strings.Join(argv, " "))
	}
	return cmds
}

func TestRenderPolicies(t *testing.T) {
	htb := []string{
		"tc qdisc add dev s1-eth3 root handle 1: htb default 30",
		"tc class add dev s1-eth3 parent 1: classid 1:1 htb rate 10mbit ceil 10mbit",
		"tc class add dev s1-eth3 parent 1:1 classid 1:10 htb rate 4mbit ceil 8mbit",
		"tc class add dev s1-eth3 parent 1:1 classid 1:20 htb rate 2mbit ceil 5mbit prio 1",
		"tc class add dev s1-eth3 parent 1:1 classid 1:30 htb rate 1mbit ceil 2mbit prio 2",
	}
	ports := []string{
		"tc filter add dev s1-eth3 protocol ip parent 1:0 prio 1 u32 match ip dport 5004 0xffff flowid 1:10",
		"tc filter add dev s1-eth3 protocol ip parent 1:0 prio 1 u32 match ip dport 5006 0xffff flowid 1:10",
		"tc filter add dev s1-eth3 protocol ip parent 1:0 prio 2 u32 match ip dport 5001 0xffff flowid 1:20",
	}
	leaves := []string{
		"tc qdisc add dev s1-eth3 parent 1:10 handle 10: sfq perturb 10",
		"tc qdisc add dev s1-eth3 parent 1:20 handle 20: sfq perturb 10",
		"tc qdisc add dev s1-eth3 parent 1:30 handle 30: sfq perturb 10",
	}
	marks := []string{
		"tc filter add dev s1-eth3 egress protocol ip prio 1 u32 match ip protocol 17 0xff match ip dport 5004 0xffff action skbedit mark 10",
		"tc filter add dev s1-eth3 egress protocol ip prio 1 u32 match ip protocol 17 0xff match ip dport 5006 0xffff action skbedit mark 10",
		"tc filter add dev s1-eth3 egress protocol ip prio 1 u32 match ip protocol 17 0xff match ip dport 5001 0xffff action skbedit mark 20",
	}
	fw := []string{
		"tc filter add dev s1-eth3 protocol ip parent 1:0 prio 1 handle 10 fw flowid 1:10",
		"tc filter add dev s1-eth3 protocol ip parent 1:0 prio 2 handle 20 fw flowid 1:20",
	}

	tests := []struct {
		id   int
		want []string
	}{
		{id: 0, want: nil},
		{id: 1, want: []string{"tc qdisc add dev s1-eth3 root tbf rate 5mbit burst 10kb latency 70ms"}},
		{id: 2, want: []string{"tc qdisc add dev s1-eth3 root sfq perturb 10"}},
		{id: 3, want: concat(htb, ports)},
		{id: 4, want: concat(htb, ports, leaves)},
		{id: 5, want: concat(marks, htb, leaves, fw)},
	}
	for _, tt := range tests {
		t.Run(policy.Label(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.want, renderAll(t, tt.id))
		})
	}
}

func TestRenderNetfilterMarks(t *testing.T) {
	p, err := policy.Describe(5)
	require.NoError(t, err)
	var marks []string
	for _, op := range p.Operations {
		if op.Scope != types.ScopeMark {
			continue
		}
		argv, err := Render("r1-eth1", types.MarkingNetfilter, op)
		require.NoError(t, err)
		marks = append(marks, strings.Join(argv, " "))
	}
	assert.Equal(t, []string{
		"iptables -t mangle -A QOSBENCH -o r1-eth1 -p udp --dport 5004 -j MARK --set-mark 10",
		"iptables -t mangle -A QOSBENCH -o r1-eth1 -p udp --dport 5006 -j MARK --set-mark 10",
		"iptables -t mangle -A QOSBENCH -o r1-eth1 -p udp --dport 5001 -j MARK --set-mark 20",
	}, marks)
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestRenderDelete(t *testing.T) {
	argv, err := Render("eth0", types.MarkingEgress, types.Operation{Scope: types.ScopeRoot, Action: types.ActionDelete, Kind: types.KindSFQ})
	require.NoError(t, err)
	assert.Equal(t, "tc qdisc del dev eth0 root", strings.Join(argv, " "))

	argv, err = Render("eth0", types.MarkingEgress, types.Operation{Scope: types.ScopeClass, Action: types.ActionDelete, Kind: types.KindHTB, Parent: "1:1", Handle: "1:10"})
	require.NoError(t, err)
	assert.Equal(t, "tc class del dev eth0 parent 1:1 classid 1:10", strings.Join(argv, " "))

	argv, err = Render("eth0", types.MarkingEgress, types.Operation{Scope: types.ScopeMark, Action: types.ActionDelete, Kind: types.KindMark, Match: &types.Match{Protocol: "udp", DPort: 5004}, Mark: 10})
	require.NoError(t, err)
	assert.Equal(t, "tc filter del dev eth0 egress protocol ip prio 1", strings.Join(argv, " "))
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		op   types.Operation
	}{
		{name: "u32 without match", op: types.Operation{Scope: types.ScopeFilter, Action: types.ActionAdd, Kind: types.KindU32}},
		{name: "mark without match", op: types.Operation{Scope: types.ScopeMark, Action: types.ActionAdd, Kind: types.KindMark}},
		{name: "mark on unknown protocol", op: types.Operation{Scope: types.ScopeMark, Action: types.ActionAdd, Kind: types.KindMark, Match: &types.Match{Protocol: "sctp", DPort: 5004}}},
		{name: "unknown qdisc", op: types.Operation{Scope: types.ScopeRoot, Action: types.ActionAdd, Kind: "netem"}},
		{name: "unknown scope", op: types.Operation{Scope: "bogus", Action: types.ActionAdd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render("eth0", types.MarkingEgress, tt.op)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "5mbit", FormatRate(5000000))
	assert.Equal(t, "512kbit", FormatRate(512000))
	assert.Equal(t, "1500bit", FormatRate(1500))
	assert.Equal(t, "0bit", FormatRate(0))
	assert.Equal(t, "10kb", FormatSize(10240))
	assert.Equal(t, "1500b", FormatSize(1500))
	assert.Equal(t, "70ms", FormatLatency(types.Operation{Latency: 70 * time.Millisecond}))
	assert.Equal(t, "1500us", FormatLatency(types.Operation{Latency: 1500 * time.Microsecond}))
}

func TestRemoveRootToleratesNotFound(t *testing.T) {
	iface := types.InterfaceHandle{Host: "s1", Name: "s1-eth3"}
	tests := []struct {
		name    string
		out     string
		err     error
		wantErr bool
	}{
		{name: "removed", out: "", err: nil},
		{name: "handle of zero", out: "Error: Cannot delete qdisc with handle of zero.", err: errors.New("exit status 2")},
		{name: "no such file", out: "RTNETLINK answers: No such file or directory", err: errors.New("exit status 2")},
		{name: "no such device", out: "Cannot find device \"s1-eth3\"", err: errors.New("exit status 1"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &host.FakeRunner{RunFunc: func(string, []string) ([]byte, error) {
				return []byte(tt.out), tt.err
			}}
			err := NewExecutor(runner, types.MarkingEgress).RemoveRoot(context.Background(), iface)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "Cannot find device")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, []string{"s1: tc qdisc del dev s1-eth3 root"}, runner.Commands)
		})
	}
}

func TestResetEgressMarks(t *testing.T) {
	iface := types.InterfaceHandle{Host: "s1", Name: "s1-eth3"}
	runner := &host.FakeRunner{RunFunc: func(_ string, argv []string) ([]byte, error) {
		if argv[2] == "del" {
			return []byte("Error: Cannot find specified qdisc on specified device."), errors.New("exit status 2")
		}
		return nil, nil
	}}
	require.NoError(t, NewExecutor(runner, types.MarkingEgress).ResetMarks(context.Background(), iface))
	assert.Equal(t, []string{
		"s1: tc qdisc del dev s1-eth3 clsact",
		"s1: tc qdisc add dev s1-eth3 clsact",
	}, runner.Commands)

	runner.Commands = nil
	require.NoError(t, NewExecutor(runner, "").FlushMarks(context.Background(), iface))
	assert.Equal(t, []string{"s1: tc qdisc del dev s1-eth3 clsact"}, runner.Commands)
}

func TestResetNetfilterMarks(t *testing.T) {
	iface := types.InterfaceHandle{Host: "s1", Name: "s1-eth3"}
	runner := &host.FakeRunner{RunFunc: func(_ string, argv []string) ([]byte, error) {
		switch argv[3] {
		case "-N":
			return []byte("iptables: Chain already exists."), errors.New("exit status 1")
		case "-C":
			return []byte("iptables: Bad rule"), errors.New("exit status 1")
		}
		return nil, nil
	}}
	require.NoError(t, NewExecutor(runner, types.MarkingNetfilter).ResetMarks(context.Background(), iface))
	assert.Equal(t, []string{
		"s1: iptables -t mangle -N QOSBENCH",
		"s1: iptables -t mangle -F QOSBENCH",
		"s1: iptables -t mangle -C POSTROUTING -o s1-eth3 -j QOSBENCH",
		"s1: iptables -t mangle -A POSTROUTING -o s1-eth3 -j QOSBENCH",
	}, runner.Commands)
}

func TestFlushMarksWithoutChain(t *testing.T) {
	runner := &host.FakeRunner{RunFunc: func(string, []string) ([]byte, error) {
		return []byte("iptables: No chain/target/match by that name."), errors.New("exit status 1")
	}}
	require.NoError(t, NewExecutor(runner, types.MarkingNetfilter).FlushMarks(context.Background(), types.InterfaceHandle{Host: "s1", Name: "s1-eth3"}))
	assert.Len(t, runner.Commands, 1)
}

func TestSnapshot(t *testing.T) {
	runner := &host.FakeRunner{RunFunc: func(_ string, argv []string) ([]byte, error) {
		if argv[0] == "iptables" {
			return nil, errors.New("exit status 1")
		}
		return []byte(argv[2] + " noqueue\n"), nil
	}}
	out, err := NewExecutor(runner, types.MarkingNetfilter).Snapshot(context.Background(), types.InterfaceHandle{Host: "s1", Name: "s1-eth3"})
	require.NoError(t, err)
	assert.Equal(t, "### qdisc\nqdisc noqueue\n### class\nclass noqueue\n### filter\nfilter noqueue\n", out)

	out, err = NewExecutor(runner, types.MarkingEgress).Snapshot(context.Background(), types.InterfaceHandle{Host: "s1", Name: "s1-eth3"})
	require.NoError(t, err)
	assert.Equal(t, "### qdisc\nqdisc noqueue\n### class\nclass noqueue\n### filter\nfilter noqueue\n### marks\nfilter noqueue\n", out)
}
