// Package classify decides which window-tree nodes map to a governable
// process and what state that process should be in.
package classify

import (
	"github.com/1broseidon/focusgov/internal/control"
	"github.com/1broseidon/focusgov/internal/tree"
)

// Reason explains why a node is not controllable.
type Reason string

const (
	ReasonNone  Reason = ""
	ReasonKind  Reason = "not an application container"
	ReasonNoPID Reason = "container has no pid"
)

// Unit is a controllable window: a container owned by a process.
type Unit struct {
	NodeID  int64
	Name    string
	PID     int
	Visible bool
}

// Target returns the controller target for u.
func (u Unit) Target() control.Target {
	return control.Target{PID: u.PID}
}

// Desired returns the policy output for u.
func (u Unit) Desired() control.State {
	return Desired(u.Visible)
}

// Classify returns the unit for n, or the reason n is skipped. Missing
// visibility counts as not visible.
func Classify(n tree.Node) (Unit, Reason) {
	switch n.Kind {
	case tree.KindCon, tree.KindFloatingCon:
	default:
		return Unit{}, ReasonKind
	}
	if n.PID <= 0 {
		return Unit{}, ReasonNoPID
	}
	return Unit{
		NodeID:  n.ID,
		Name:    n.Name,
		PID:     n.PID,
		Visible: n.HasVisible && n.Visible,
	}, ReasonNone
}

// Desired is the whole policy: visible windows run unthrottled, everything
// else is throttled.
func Desired(visible bool) control.State {
	if visible {
		return control.Unthrottled
	}
	return control.Throttled
}
