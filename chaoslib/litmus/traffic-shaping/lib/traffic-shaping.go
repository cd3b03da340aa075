package lib

import (
	"context"
	"strings"

	"github.com/palantir/stacktrace"
	"github.com/sirupsen/logrus"

	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/policy"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

// Executor programs the shaping operations on a live interface
type Executor interface {
	// RemoveRoot deletes the root discipline, an interface without one is not an error
	RemoveRoot(ctx context.Context, iface types.InterfaceHandle) error
	// ResetMarks leaves an empty marking stage, ready for the mark operations
	ResetMarks(ctx context.Context, iface types.InterfaceHandle) error
	// FlushMarks empties the marking stage if it exists
	FlushMarks(ctx context.Context, iface types.InterfaceHandle) error
	// Execute applies a single operation
	Execute(ctx context.Context, iface types.InterfaceHandle, op types.Operation) error
	// Snapshot returns the current shaping state of the interface
	Snapshot(ctx context.Context, iface types.InterfaceHandle) (string, error)
}

// Applier translates catalog policies into executor operations
type Applier struct {
	executor Executor
}

// NewApplier returns an applier programming the interfaces through the given executor
func NewApplier(executor Executor) *Applier {
	return &Applier{executor: executor}
}

// Apply applies the operations of the policy in order. The first failing
// operation aborts the apply, earlier operations are left in place.
func (a *Applier) Apply(ctx context.Context, p types.Policy, iface types.InterfaceHandle) error {
	log.InfoWithValues("[Shaping]: Applying the shaping policy with following details", logrus.Fields{
		"Policy":     p.ID,
		"Label":      p.Label,
		"Interface":  iface.String(),
		"Operations": len(p.Operations),
	})

	marksReady := false
	for step, op := range p.Operations {
		if policy.IsRootAttach(op) {
			if err := a.executor.RemoveRoot(ctx, iface); err != nil {
				return stacktrace.Propagate(applyError(p, iface, step, "remove root discipline", err), "could not clear the root discipline")
			}
		}
		if op.Scope == types.ScopeMark && !marksReady {
			if err := a.executor.ResetMarks(ctx, iface); err != nil {
				return stacktrace.Propagate(applyError(p, iface, step, "prepare marking stage", err), "could not prepare the marking stage")
			}
			marksReady = true
		}
		log.Debugf("[Shaping]: step %d: %v", step, op)
		if err := a.executor.Execute(ctx, iface, op); err != nil {
			return stacktrace.Propagate(applyError(p, iface, step, op.String(), err), "could not apply the operation")
		}
	}
	log.Infof("[Shaping]: Policy %d is live on %s", p.ID, iface)
	return nil
}

// Reset brings the interface back to the unshaped baseline
func (a *Applier) Reset(ctx context.Context, iface types.InterfaceHandle) error {
	if err := a.executor.RemoveRoot(ctx, iface); err != nil {
		return stacktrace.Propagate(cerrors.ApplyError{PolicyID: -1, Interface: iface.String(), Operation: "reset root discipline", Reason: err.Error()}, "could not reset the interface")
	}
	if err := a.executor.FlushMarks(ctx, iface); err != nil {
		return stacktrace.Propagate(cerrors.ApplyError{PolicyID: -1, Interface: iface.String(), Operation: "flush marking stage", Reason: err.Error()}, "could not reset the interface")
	}
	log.Infof("[Shaping]: %s reset to the unshaped baseline", iface)
	return nil
}

// DescribeCurrent returns a read-only snapshot of the interface shaping state
func (a *Applier) DescribeCurrent(ctx context.Context, iface types.InterfaceHandle) (string, error) {
	snapshot, err := a.executor.Snapshot(ctx, iface)
	if err != nil {
		return "", stacktrace.Propagate(err, "could not describe %s", iface)
	}
	return snapshot, nil
}

func applyError(p types.Policy, iface types.InterfaceHandle, step int, operation string, err error) cerrors.ApplyError {
	return cerrors.ApplyError{
		PolicyID:  p.ID,
		Interface: iface.String(),
		Step:      step,
		Operation: operation,
		Reason:    strings.TrimSpace(err.Error()),
	}
}
