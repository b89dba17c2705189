// Package control applies the throttled/unthrottled policy to processes.
//
// A Controller reads the state currently enforced on a target and changes it.
// Enforce wraps both and only writes when the two differ.
package control

import (
	"context"
	"fmt"
	"strings"
)

// State is the two-level policy output.
type State int

const (
	Unthrottled State = iota
	Throttled
	// Unknown is returned by Current when the enforced value matches neither
	// level. Enforce treats it as differing from any desired state.
	Unknown
)

func (s State) String() string {
	switch s {
	case Unthrottled:
		return "unthrottled"
	case Throttled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Target is the process a controller acts on.
type Target struct {
	PID int
}

// Controller is implemented by each enforcement backend.
type Controller interface {
	Name() string
	Current(ctx context.Context, t Target) (State, error)
	Apply(ctx context.Context, t Target, s State) error
	Close() error
}

// Grouper is implemented by controllers whose enforced resource can be
// shared by several targets. Targets with the same key receive one state.
type Grouper interface {
	GroupKey(ctx context.Context, t Target) (string, error)
}

// Outcome reports what Enforce did.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeWritten
)

func (o Outcome) String() string {
	if o == OutcomeWritten {
		return "written"
	}
	return "unchanged"
}

// Enforce brings t to the desired state, writing only when the current
// enforced state differs.
func Enforce(ctx context.Context, c Controller, t Target, desired State) (Outcome, error) {
	current, err := c.Current(ctx, t)
	if err != nil {
		return OutcomeUnchanged, err
	}
	if current == desired {
		return OutcomeUnchanged, nil
	}
	if err := c.Apply(ctx, t, desired); err != nil {
		return OutcomeUnchanged, err
	}
	return OutcomeWritten, nil
}

// LookupError means the target could not be resolved: the process exited, or
// no unit owns it. These are expected and the node is simply skipped.
type LookupError struct {
	Backend string
	PID     int
	Reason  string
	Err     error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("%s: pid %d: %s", e.Backend, e.PID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error { return e.Err }

// ApplyError means the backend refused or failed to change the value.
type ApplyError struct {
	Backend string
	PID     int
	Op      string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: pid %d: %s: %v", e.Backend, e.PID, e.Op, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Backend names accepted by New.
const (
	BackendPriority = "priority"
	BackendQuota    = "quota"
)

// ParseBackend normalizes a backend name.
func ParseBackend(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case BackendPriority, BackendQuota:
		return v, nil
	case "nice":
		return BackendPriority, nil
	case "cgroup", "systemd":
		return BackendQuota, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want priority or quota)", s)
	}
}

// New opens the named backend.
func New(ctx context.Context, backend string, prio PriorityConfig, quota QuotaConfig) (Controller, error) {
	name, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}
	if name == BackendPriority {
		p, err := NewPriority(prio)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	q, err := NewQuota(ctx, quota)
	if err != nil {
		return nil, err
	}
	return q, nil
}
