//go:build linux
// +build linux

package netlink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/go-iptables/iptables"
	"github.com/pkg/errors"
	vnetlink "github.com/vishvananda/netlink"

	"github.com/litmuschaos/litmus-qos/chaoslib/litmus/traffic-shaping/tc"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

const mangle = "mangle"

// Executor programs the interfaces of the harness namespace directly
type Executor struct {
	marking types.Marking

	once sync.Once
	ipt  *iptables.IPTables
	err  error
}

// NewExecutor returns a netlink executor, iptables is looked up on first use.
// An empty marking selects the egress hook.
func NewExecutor(marking types.Marking) (*Executor, error) {
	if marking == "" {
		marking = types.MarkingEgress
	}
	return &Executor{marking: marking}, nil
}

func (e *Executor) iptables() (*iptables.IPTables, error) {
	e.once.Do(func() {
		e.ipt, e.err = iptables.New()
		if e.err != nil {
			e.err = errors.Errorf("unable to find iptables, err: %v", e.err)
		}
	})
	return e.ipt, e.err
}

// RemoveRoot deletes the root qdisc of the link, the default one (handle 0) is left alone
func (e *Executor) RemoveRoot(ctx context.Context, iface types.InterfaceHandle) error {
	link, err := vnetlink.LinkByName(iface.Name)
	if err != nil {
		return errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
	}
	qdiscs, err := vnetlink.QdiscList(link)
	if err != nil {
		return errors.Errorf("unable to list the qdiscs of %s, err: %v", iface.Name, err)
	}
	for _, q := range qdiscs {
		if q.Attrs().Parent != vnetlink.HANDLE_ROOT || q.Attrs().Handle == 0 {
			continue
		}
		if err := vnetlink.QdiscDel(q); err != nil && !isNotFound(err) {
			return errors.Errorf("unable to delete the root qdisc of %s, err: %v", iface.Name, err)
		}
	}
	return nil
}

// ResetMarks leaves an empty marking stage: a fresh clsact qdisc, or the
// cleared marking chain jumped to from POSTROUTING
func (e *Executor) ResetMarks(ctx context.Context, iface types.InterfaceHandle) error {
	if e.marking == types.MarkingEgress {
		link, err := vnetlink.LinkByName(iface.Name)
		if err != nil {
			return errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
		}
		q := newClsact(link.Attrs().Index)
		if err := vnetlink.QdiscDel(q); err != nil && !isNotFound(err) {
			return errors.Errorf("unable to delete the clsact qdisc of %s, err: %v", iface.Name, err)
		}
		return vnetlink.QdiscAdd(q)
	}
	ipt, err := e.iptables()
	if err != nil {
		return err
	}
	if err := ipt.ClearChain(mangle, tc.MarkChain); err != nil {
		return err
	}
	return ipt.AppendUnique(mangle, "POSTROUTING", "-o", iface.Name, "-j", tc.MarkChain)
}

// FlushMarks drops the marking stage if it exists
func (e *Executor) FlushMarks(ctx context.Context, iface types.InterfaceHandle) error {
	if e.marking == types.MarkingEgress {
		link, err := vnetlink.LinkByName(iface.Name)
		if err != nil {
			return errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
		}
		if err := vnetlink.QdiscDel(newClsact(link.Attrs().Index)); err != nil && !isNotFound(err) {
			return errors.Errorf("unable to delete the clsact qdisc of %s, err: %v", iface.Name, err)
		}
		return nil
	}
	ipt, err := e.iptables()
	if err != nil {
		log.Debugf("[Shaping]: skipping mark flush, %v", err)
		return nil
	}
	chains, err := ipt.ListChains(mangle)
	if err != nil {
		return err
	}
	for _, c := range chains {
		if c == tc.MarkChain {
			return ipt.ClearChain(mangle, tc.MarkChain)
		}
	}
	return nil
}

// Execute applies the operation on the link
func (e *Executor) Execute(ctx context.Context, iface types.InterfaceHandle, op types.Operation) error {
	if op.Scope == types.ScopeMark {
		return e.mark(op, iface)
	}
	link, err := vnetlink.LinkByName(iface.Name)
	if err != nil {
		return errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
	}
	index := link.Attrs().Index
	del := op.Action == types.ActionDelete

	switch op.Scope {
	case types.ScopeRoot:
		q, err := newQdisc(index, op)
		if err != nil {
			return err
		}
		if del {
			return vnetlink.QdiscDel(q)
		}
		return vnetlink.QdiscAdd(q)
	case types.ScopeClass:
		c, err := newClass(index, op)
		if err != nil {
			return err
		}
		if del {
			return vnetlink.ClassDel(c)
		}
		return vnetlink.ClassAdd(c)
	case types.ScopeFilter:
		f, err := newFilter(index, op)
		if err != nil {
			return err
		}
		if del {
			return vnetlink.FilterDel(f)
		}
		return vnetlink.FilterAdd(f)
	}
	return errors.Errorf("unsupported scope '%s'", op.Scope)
}

func (e *Executor) mark(op types.Operation, iface types.InterfaceHandle) error {
	if op.Match == nil {
		return errors.New("mark rule needs a match")
	}
	if e.marking == types.MarkingEgress {
		link, err := vnetlink.LinkByName(iface.Name)
		if err != nil {
			return errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
		}
		f, err := newMarkFilter(link.Attrs().Index, op)
		if err != nil {
			return err
		}
		if op.Action == types.ActionDelete {
			return vnetlink.FilterDel(f)
		}
		return vnetlink.FilterAdd(f)
	}
	ipt, err := e.iptables()
	if err != nil {
		return err
	}
	rule := tc.MarkRule(iface.Name, op)
	if op.Action == types.ActionDelete {
		return ipt.DeleteIfExists(mangle, rule[0], rule[1:]...)
	}
	return ipt.Append(mangle, rule[0], rule[1:]...)
}

// Snapshot lists the qdiscs, classes and filters of the link and the marking rules
func (e *Executor) Snapshot(ctx context.Context, iface types.InterfaceHandle) (string, error) {
	link, err := vnetlink.LinkByName(iface.Name)
	if err != nil {
		return "", errors.Errorf("unable to find link %s, err: %v", iface.Name, err)
	}
	var sb strings.Builder

	qdiscs, err := vnetlink.QdiscList(link)
	if err != nil {
		return "", err
	}
	sb.WriteString("### qdisc\n")
	for _, q := range qdiscs {
		fmt.Fprintf(&sb, "%s %s parent %s\n", q.Type(), vnetlink.HandleStr(q.Attrs().Handle), vnetlink.HandleStr(q.Attrs().Parent))
	}

	classes, err := vnetlink.ClassList(link, vnetlink.HANDLE_NONE)
	if err != nil {
		return "", err
	}
	sb.WriteString("### class\n")
	for _, c := range classes {
		fmt.Fprintf(&sb, "%s %s parent %s\n", c.Type(), vnetlink.HandleStr(c.Attrs().Handle), vnetlink.HandleStr(c.Attrs().Parent))
	}

	sb.WriteString("### filter\n")
	for _, q := range qdiscs {
		// clsact filters are listed with the marks
		if q.Attrs().Handle == 0 || q.Type() == "clsact" {
			continue
		}
		filters, err := vnetlink.FilterList(link, q.Attrs().Handle)
		if err != nil {
			return "", err
		}
		for _, f := range filters {
			fmt.Fprintf(&sb, "%s parent %s prio %d\n", f.Type(), vnetlink.HandleStr(f.Attrs().Parent), f.Attrs().Priority)
		}
	}

	if e.marking == types.MarkingEgress {
		filters, err := vnetlink.FilterList(link, vnetlink.HANDLE_MIN_EGRESS)
		if err == nil {
			sb.WriteString("### marks\n")
			for _, f := range filters {
				fmt.Fprintf(&sb, "%s egress prio %d\n", f.Type(), f.Attrs().Priority)
			}
		}
		return sb.String(), nil
	}
	if ipt, err := e.iptables(); err == nil {
		if rules, err := ipt.List(mangle, tc.MarkChain); err == nil {
			sb.WriteString("### marks\n")
			sb.WriteString(strings.Join(rules, "\n") + "\n")
		}
	}
	return sb.String(), nil
}

func handleOf(s string) (uint32, error) {
	major, minor, err := ParseHandle(s)
	if err != nil {
		return 0, err
	}
	return vnetlink.MakeHandle(major, minor), nil
}

func newQdisc(index int, op types.Operation) (vnetlink.Qdisc, error) {
	attrs := vnetlink.QdiscAttrs{LinkIndex: index, Parent: vnetlink.HANDLE_ROOT}
	var err error
	if op.Parent != "" {
		if attrs.Parent, err = handleOf(op.Parent); err != nil {
			return nil, err
		}
	}
	if op.Handle != "" {
		if attrs.Handle, err = handleOf(op.Handle); err != nil {
			return nil, err
		}
	}

	switch op.Kind {
	case types.KindTBF:
		rate := op.Rate / 8
		return &vnetlink.Tbf{
			QdiscAttrs: attrs,
			Rate:       rate,
			Buffer:     vnetlink.Xmittime(rate, op.Burst),
			Limit:      uint32(float64(rate)*op.Latency.Seconds()) + op.Burst,
		}, nil
	case types.KindSFQ:
		return &vnetlink.Sfq{QdiscAttrs: attrs, Perturb: uint8(op.Perturb)}, nil
	case types.KindHTB:
		htb := vnetlink.NewHtb(attrs)
		htb.Defcls = defaultMinor(op.DefaultClass)
		return htb, nil
	}
	return nil, errors.Errorf("unsupported qdisc kind '%s'", op.Kind)
}

func newClass(index int, op types.Operation) (*vnetlink.HtbClass, error) {
	if op.Kind != types.KindHTB {
		return nil, errors.Errorf("unsupported class kind '%s'", op.Kind)
	}
	parent, err := handleOf(op.Parent)
	if err != nil {
		return nil, err
	}
	handle, err := handleOf(op.Handle)
	if err != nil {
		return nil, err
	}
	return vnetlink.NewHtbClass(
		vnetlink.ClassAttrs{LinkIndex: index, Parent: parent, Handle: handle},
		vnetlink.HtbClassAttrs{Rate: op.Rate, Ceil: op.Ceil, Prio: uint32(op.Prio)},
	), nil
}

func newFilter(index int, op types.Operation) (vnetlink.Filter, error) {
	parent, err := handleOf(op.Parent)
	if err != nil {
		return nil, err
	}
	flowID, err := handleOf(op.FlowID)
	if err != nil {
		return nil, err
	}
	attrs := vnetlink.FilterAttrs{LinkIndex: index, Parent: parent, Priority: uint16(op.Prio), Protocol: ethPIP}

	switch op.Kind {
	case types.KindU32:
		if op.Match == nil {
			return nil, errors.New("u32 filter needs a match")
		}
		// destination port is the low half of the word at offset 20 of an ip header without options
		return &vnetlink.U32{
			FilterAttrs: attrs,
			ClassId:     flowID,
			Sel: &vnetlink.TcU32Sel{
				Flags: vnetlink.TC_U32_TERMINAL,
				Nkeys: 1,
				Keys:  []vnetlink.TcU32Key{{Mask: 0x0000ffff, Val: uint32(op.Match.DPort), Off: 20}},
			},
		}, nil
	case types.KindFW:
		attrs.Handle = uint32(op.Mark)
		return &vnetlink.Fw{FilterAttrs: attrs, ClassId: flowID}, nil
	}
	return nil, errors.Errorf("unsupported filter kind '%s'", op.Kind)
}

func newClsact(index int) *vnetlink.GenericQdisc {
	return &vnetlink.GenericQdisc{
		QdiscAttrs: vnetlink.QdiscAttrs{
			LinkIndex: index,
			Handle:    vnetlink.MakeHandle(0xffff, 0),
			Parent:    vnetlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
}

// newMarkFilter builds the egress u32 filter setting the mark of the matching packets
func newMarkFilter(index int, op types.Operation) (*vnetlink.U32, error) {
	if op.Match == nil {
		return nil, errors.New("mark rule needs a match")
	}
	proto, err := tc.IPProtocol(op.Match.Protocol)
	if err != nil {
		return nil, err
	}
	mark := uint32(op.Mark)
	skbedit := vnetlink.NewSkbEditAction()
	skbedit.Mark = &mark
	return &vnetlink.U32{
		FilterAttrs: vnetlink.FilterAttrs{LinkIndex: index, Parent: vnetlink.HANDLE_MIN_EGRESS, Priority: markPrio, Protocol: ethPIP},
		Sel: &vnetlink.TcU32Sel{
			Flags: vnetlink.TC_U32_TERMINAL,
			Nkeys: 2,
			// protocol is the second byte of the word at offset 8, ports as for the class filters
			Keys: []vnetlink.TcU32Key{
				{Mask: 0x00ff0000, Val: proto << 16, Off: 8},
				{Mask: 0x0000ffff, Val: uint32(op.Match.DPort), Off: 20},
			},
		},
		Actions: []vnetlink.Action{skbedit},
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EINVAL)
}
