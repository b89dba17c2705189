package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Policy decides what a walk does when a visit fails.
type Policy int

const (
	// PolicyContinue visits every node and reports all failures together.
	PolicyContinue Policy = iota
	// PolicyAbort stops at the first failure and returns it.
	PolicyAbort
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return PolicyContinue, nil
	case "abort":
		return PolicyAbort, nil
	default:
		return PolicyContinue, fmt.Errorf("unknown walk policy %q (want continue or abort)", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	default:
		return "continue"
	}
}

// VisitFunc is called once per node. It may block and may fail.
type VisitFunc func(ctx context.Context, index int, n Node) error

// Options tune a walk. The zero value walks sequentially and continues past
// failures.
type Options struct {
	Policy      Policy
	Parallelism int
}

// NodeError is a visit failure tied to the node that produced it.
type NodeError struct {
	Index int
	Node  Node
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %d (%s id=%d): %v", e.Index, e.Node.Kind, e.Node.ID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// WalkError aggregates the per-node failures of a PolicyContinue walk.
type WalkError struct {
	Failures []*NodeError
}

func (e *WalkError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	return fmt.Sprintf("%d nodes failed; first: %v", len(e.Failures), e.Failures[0])
}

// Unwrap exposes every failure to errors.Is / errors.As.
func (e *WalkError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Order returns node indices in preorder: root first, then each subtree
// depth-first in child order.
func Order(s *Snapshot) []int {
	if s.Len() == 0 {
		return nil
	}
	order := make([]int, 0, s.Len())
	stack := []int{rootIndex}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, idx)
		children := s.nodes[idx].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order
}

// Walk visits every node of s exactly once, parents before children.
//
// With PolicyContinue a failing visit is recorded and the walk goes on; the
// result is a *WalkError when anything failed. With PolicyAbort the first
// failure is returned as a *NodeError and no further visits start. A
// cancelled ctx ends the walk with ctx.Err(). A panicking visit counts as a
// failure of its node.
func Walk(ctx context.Context, s *Snapshot, visit VisitFunc, opts Options) error {
	if s.Len() == 0 {
		return nil
	}
	order := Order(s)
	if opts.Parallelism > 1 {
		return walkParallel(ctx, s, order, visit, opts)
	}

	var failures []*NodeError
	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := s.nodes[idx]
		if err := safeVisit(ctx, visit, idx, n); err != nil {
			nerr := &NodeError{Index: idx, Node: n, Err: err}
			if opts.Policy == PolicyAbort {
				return nerr
			}
			failures = append(failures, nerr)
		}
	}
	if len(failures) > 0 {
		return &WalkError{Failures: failures}
	}
	return nil
}

// safeVisit turns a panicking visit into an error for its node.
func safeVisit(ctx context.Context, visit VisitFunc, idx int, n Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return visit(ctx, idx, n)
}

func walkParallel(ctx context.Context, s *Snapshot, order []int, visit VisitFunc, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	var (
		mu       sync.Mutex
		failures []*NodeError
	)
	for _, idx := range order {
		if gctx.Err() != nil {
			break
		}
		idx := idx
		n := s.nodes[idx]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			err := safeVisit(gctx, visit, idx, n)
			if err == nil {
				return nil
			}
			nerr := &NodeError{Index: idx, Node: n, Err: err}
			if opts.Policy == PolicyAbort {
				return nerr
			}
			mu.Lock()
			failures = append(failures, nerr)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failures) > 0 {
		// Stable report order regardless of scheduling.
		sort.Slice(failures, func(i, j int) bool {
			return failures[i].Index < failures[j].Index
		})
		return &WalkError{Failures: failures}
	}
	return nil
}
