// Package sniff claims a handler slot on the cjdns UpperDistributor and runs
// a capture session on it.
package sniff

import (
	"errors"
	"fmt"
)

// ErrNotActive is returned by operations that need an Active session.
var ErrNotActive = errors.New("sniff: session not active")

var errNoLocalPort = errors.New("socket has no local port")

// AdminError reports a failed distributor call: either the RPC itself failed
// (Err set) or the daemon answered with a non-success status.
type AdminError struct {
	Op     string
	Status string
	Err    error
}

func (e *AdminError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sniff: admin %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sniff: admin %s returned %q", e.Op, e.Status)
}

func (e *AdminError) Unwrap() error { return e.Err }

// BindConflictError means an advertised handler port is bound by someone else.
// The negotiator consumes it and moves to the next candidate.
type BindConflictError struct {
	Port int
	Err  error
}

func (e *BindConflictError) Error() string {
	return fmt.Sprintf("sniff: port %d already in use", e.Port)
}

func (e *BindConflictError) Unwrap() error { return e.Err }

// BindError is any bind failure other than a port conflict.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("sniff: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
