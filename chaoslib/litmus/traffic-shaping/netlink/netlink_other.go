//go:build !linux
// +build !linux

package netlink

import (
	"context"

	"github.com/pkg/errors"

	"github.com/litmuschaos/litmus-qos/pkg/types"
)

var errUnsupported = errors.New("netlink shaping backend is only supported on linux")

// Executor is unavailable outside linux
type Executor struct{}

// NewExecutor always fails outside linux
func NewExecutor(marking types.Marking) (*Executor, error) {
	return nil, errUnsupported
}

func (e *Executor) RemoveRoot(ctx context.Context, iface types.InterfaceHandle) error {
	return errUnsupported
}

func (e *Executor) ResetMarks(ctx context.Context, iface types.InterfaceHandle) error {
	return errUnsupported
}

func (e *Executor) FlushMarks(ctx context.Context, iface types.InterfaceHandle) error {
	return errUnsupported
}

func (e *Executor) Execute(ctx context.Context, iface types.InterfaceHandle, op types.Operation) error {
	return errUnsupported
}

func (e *Executor) Snapshot(ctx context.Context, iface types.InterfaceHandle) (string, error) {
	return "", errUnsupported
}
