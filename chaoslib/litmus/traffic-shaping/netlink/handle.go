// Package netlink programs the shaping operations through the kernel netlink
// interface, and the marking stage through a clsact egress filter or iptables.
// It only reaches the interfaces of the network namespace the harness runs in.
package netlink

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	ethPIP = 0x0800
	// markPrio is the priority of the egress marking filters
	markPrio = 1
)

// ParseHandle reads a tc handle 'major:minor' written in hex, an empty minor is 0
func ParseHandle(handle string) (major, minor uint16, err error) {
	parts := strings.SplitN(handle, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, errors.Errorf("invalid tc handle '%s'", handle)
	}
	ma, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, errors.Errorf("invalid tc handle '%s', err: %v", handle, err)
	}
	if parts[1] == "" {
		return uint16(ma), 0, nil
	}
	mi, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, errors.Errorf("invalid tc handle '%s', err: %v", handle, err)
	}
	return uint16(ma), uint16(mi), nil
}

// defaultMinor converts the decimal written default class to the hex minor tc reads
func defaultMinor(class int) uint32 {
	v, err := strconv.ParseUint(strconv.Itoa(class), 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
