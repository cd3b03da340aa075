// Package tc renders the shaping operations to tc and iptables commands and
// runs them on the host owning the interface. The marking stage lives either
// in the clsact egress hook of the interface or in the mangle table.
package tc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/litmuschaos/litmus-qos/pkg/host"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

const (
	qdiscNotFound    = "Cannot delete qdisc with handle of zero"
	qdiscNoFileFound = "RTNETLINK answers: No such file or directory"
	qdiscNotExist    = "Cannot find specified qdisc"
	chainExists      = "Chain already exists"

	// markPrio is the priority of the egress marking filters
	markPrio = "1"

	// MarkChain is the mangle chain holding the marking stage rules
	MarkChain = "QOSBENCH"
	mangle    = "mangle"
)

// Executor runs the rendered commands through the host runner
type Executor struct {
	runner  host.Runner
	marking types.Marking
}

// NewExecutor returns an executor running the commands with the given runner.
// An empty marking selects the egress hook.
func NewExecutor(runner host.Runner, marking types.Marking) *Executor {
	if marking == "" {
		marking = types.MarkingEgress
	}
	return &Executor{runner: runner, marking: marking}
}

// RemoveRoot deletes the root qdisc of the interface
func (e *Executor) RemoveRoot(ctx context.Context, iface types.InterfaceHandle) error {
	out, err := e.runner.Run(ctx, iface.Host, "tc", "qdisc", "del", "dev", iface.Name, "root")
	if err != nil {
		// ignoring err if there is no root qdisc on the interface
		if isNotFound(string(out)) {
			log.Debugf("[Shaping]: no root qdisc on %s", iface)
			return nil
		}
		return commandError(err, out)
	}
	return nil
}

// ResetMarks leaves an empty marking stage: a fresh clsact qdisc, or the
// flushed marking chain jumped to from POSTROUTING
func (e *Executor) ResetMarks(ctx context.Context, iface types.InterfaceHandle) error {
	if e.marking == types.MarkingEgress {
		if err := e.removeClsact(ctx, iface); err != nil {
			return err
		}
		if out, err := e.runner.Run(ctx, iface.Host, "tc", "qdisc", "add", "dev", iface.Name, "clsact"); err != nil {
			return commandError(err, out)
		}
		return nil
	}
	if out, err := e.runner.Run(ctx, iface.Host, "iptables", "-t", mangle, "-N", MarkChain); err != nil && !strings.Contains(string(out), chainExists) {
		return commandError(err, out)
	}
	if out, err := e.runner.Run(ctx, iface.Host, "iptables", "-t", mangle, "-F", MarkChain); err != nil {
		return commandError(err, out)
	}
	jump := []string{"POSTROUTING", "-o", iface.Name, "-j", MarkChain}
	if _, err := e.runner.Run(ctx, iface.Host, append([]string{"iptables", "-t", mangle, "-C"}, jump...)...); err == nil {
		return nil
	}
	if out, err := e.runner.Run(ctx, iface.Host, append([]string{"iptables", "-t", mangle, "-A"}, jump...)...); err != nil {
		return commandError(err, out)
	}
	return nil
}

// FlushMarks drops the marking stage, an interface without one has nothing to flush
func (e *Executor) FlushMarks(ctx context.Context, iface types.InterfaceHandle) error {
	if e.marking == types.MarkingEgress {
		return e.removeClsact(ctx, iface)
	}
	if _, err := e.runner.Run(ctx, iface.Host, "iptables", "-t", mangle, "-n", "-L", MarkChain); err != nil {
		return nil
	}
	if out, err := e.runner.Run(ctx, iface.Host, "iptables", "-t", mangle, "-F", MarkChain); err != nil {
		return commandError(err, out)
	}
	return nil
}

func (e *Executor) removeClsact(ctx context.Context, iface types.InterfaceHandle) error {
	out, err := e.runner.Run(ctx, iface.Host, "tc", "qdisc", "del", "dev", iface.Name, "clsact")
	if err != nil && !isNotFound(string(out)) {
		return commandError(err, out)
	}
	return nil
}

// Execute renders the operation and runs it
func (e *Executor) Execute(ctx context.Context, iface types.InterfaceHandle, op types.Operation) error {
	argv, err := Render(iface.Name, e.marking, op)
	if err != nil {
		return err
	}
	log.Infof("[Shaping]: %s", strings.Join(argv, " "))
	if out, err := e.runner.Run(ctx, iface.Host, argv...); err != nil {
		return commandError(err, out)
	}
	return nil
}

// Snapshot collects the qdisc, class and filter statistics and the marking rules
func (e *Executor) Snapshot(ctx context.Context, iface types.InterfaceHandle) (string, error) {
	var sb strings.Builder
	for _, object := range []string{"qdisc", "class", "filter"} {
		out, err := e.runner.Run(ctx, iface.Host, "tc", "-s", object, "show", "dev", iface.Name)
		if err != nil {
			return "", commandError(err, out)
		}
		fmt.Fprintf(&sb, "### %s\n%s", object, out)
	}
	marks := []string{"iptables", "-t", mangle, "-n", "-v", "-L", MarkChain}
	if e.marking == types.MarkingEgress {
		marks = []string{"tc", "-s", "filter", "show", "dev", iface.Name, "egress"}
	}
	if out, err := e.runner.Run(ctx, iface.Host, marks...); err == nil {
		fmt.Fprintf(&sb, "### marks\n%s", out)
	}
	return sb.String(), nil
}

// Render returns the command applying the operation on the named interface
func Render(iface string, marking types.Marking, op types.Operation) ([]string, error) {
	verb := "add"
	if op.Action == types.ActionDelete {
		verb = "del"
	}

	switch op.Scope {
	case types.ScopeRoot:
		argv := []string{"tc", "qdisc", verb, "dev", iface}
		if op.Parent == "" {
			argv = append(argv, "root")
		} else {
			argv = append(argv, "parent", op.Parent)
		}
		if op.Handle != "" {
			argv = append(argv, "handle", op.Handle)
		}
		if op.Action == types.ActionDelete {
			return argv, nil
		}
		params, err := qdiscParams(op)
		if err != nil {
			return nil, err
		}
		return append(argv, params...), nil

	case types.ScopeClass:
		if op.Kind != types.KindHTB {
			return nil, errors.Errorf("unsupported class kind '%s'", op.Kind)
		}
		argv := []string{"tc", "class", verb, "dev", iface, "parent", op.Parent, "classid", op.Handle}
		if op.Action == types.ActionDelete {
			return argv, nil
		}
		argv = append(argv, "htb", "rate", FormatRate(op.Rate))
		if op.Ceil > 0 {
			argv = append(argv, "ceil", FormatRate(op.Ceil))
		}
		if op.Prio > 0 {
			argv = append(argv, "prio", strconv.Itoa(op.Prio))
		}
		return argv, nil

	case types.ScopeFilter:
		argv := []string{"tc", "filter", verb, "dev", iface, "protocol", "ip", "parent", op.Parent, "prio", strconv.Itoa(op.Prio)}
		switch op.Kind {
		case types.KindU32:
			if op.Match == nil {
				return nil, errors.New("u32 filter needs a match")
			}
			return append(argv, "u32", "match", "ip", "dport", strconv.Itoa(op.Match.DPort), "0xffff", "flowid", op.FlowID), nil
		case types.KindFW:
			return append(argv, "handle", strconv.Itoa(op.Mark), "fw", "flowid", op.FlowID), nil
		}
		return nil, errors.Errorf("unsupported filter kind '%s'", op.Kind)

	case types.ScopeMark:
		if op.Match == nil {
			return nil, errors.New("mark rule needs a match")
		}
		if marking == types.MarkingNetfilter {
			flag := "-A"
			if op.Action == types.ActionDelete {
				flag = "-D"
			}
			return append([]string{"iptables", "-t", mangle, flag}, MarkRule(iface, op)...), nil
		}
		proto, err := IPProtocol(op.Match.Protocol)
		if err != nil {
			return nil, err
		}
		argv := []string{"tc", "filter", verb, "dev", iface, "egress", "protocol", "ip", "prio", markPrio}
		if op.Action == types.ActionDelete {
			return argv, nil
		}
		return append(argv, "u32",
			"match", "ip", "protocol", strconv.Itoa(int(proto)), "0xff",
			"match", "ip", "dport", strconv.Itoa(op.Match.DPort), "0xffff",
			"action", "skbedit", "mark", strconv.Itoa(op.Mark)), nil
	}
	return nil, errors.Errorf("unsupported scope '%s'", op.Scope)
}

// MarkRule returns the chain and rulespec of a mark operation
func MarkRule(iface string, op types.Operation) []string {
	return []string{MarkChain, "-o", iface, "-p", op.Match.Protocol, "--dport", strconv.Itoa(op.Match.DPort), "-j", "MARK", "--set-mark", strconv.Itoa(op.Mark)}
}

// IPProtocol returns the ip header protocol number of a mark match
func IPProtocol(name string) (uint32, error) {
	switch name {
	case "udp":
		return 17, nil
	case "tcp":
		return 6, nil
	}
	return 0, errors.Errorf("unsupported match protocol '%s'", name)
}

func qdiscParams(op types.Operation) ([]string, error) {
	switch op.Kind {
	case types.KindTBF:
		return []string{"tbf", "rate", FormatRate(op.Rate), "burst", FormatSize(op.Burst), "latency", FormatLatency(op)}, nil
	case types.KindSFQ:
		params := []string{"sfq"}
		if op.Perturb > 0 {
			params = append(params, "perturb", strconv.Itoa(op.Perturb))
		}
		return params, nil
	case types.KindHTB:
		params := []string{"htb"}
		if op.DefaultClass > 0 {
			params = append(params, "default", strconv.Itoa(op.DefaultClass))
		}
		return params, nil
	}
	return nil, errors.Errorf("unsupported qdisc kind '%s'", op.Kind)
}

// FormatRate renders a rate in bit/s with the largest exact tc unit
func FormatRate(bps uint64) string {
	switch {
	case bps != 0 && bps%1000000 == 0:
		return fmt.Sprintf("%dmbit", bps/1000000)
	case bps != 0 && bps%1000 == 0:
		return fmt.Sprintf("%dkbit", bps/1000)
	}
	return fmt.Sprintf("%dbit", bps)
}

// FormatSize renders a size in bytes, tc reads kb as 1024 bytes
func FormatSize(bytes uint32) string {
	if bytes != 0 && bytes%1024 == 0 {
		return fmt.Sprintf("%dkb", bytes/1024)
	}
	return fmt.Sprintf("%db", bytes)
}

// FormatLatency renders the latency bound of a tbf operation
func FormatLatency(op types.Operation) string {
	if op.Latency%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", op.Latency.Milliseconds())
	}
	return fmt.Sprintf("%dus", op.Latency.Microseconds())
}

func isNotFound(out string) bool {
	return strings.Contains(out, qdiscNotFound) || strings.Contains(out, qdiscNoFileFound) || strings.Contains(out, qdiscNotExist)
}

func commandError(err error, out []byte) error {
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return errors.Errorf("%s, err: %v", msg, err)
	}
	return err
}
