package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/1broseidon/focusgov/internal/classify"
	"github.com/1broseidon/focusgov/internal/control"
	"github.com/1broseidon/focusgov/internal/metrics"
	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

type cycleCounters struct {
	visited      atomic.Int64
	controllable atomic.Int64
	written      atomic.Int64
	unchanged    atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
}

// cycle fetches a fresh tree and enforces the policy once per controllable
// target. The returned error is non-nil only when Run must stop.
func (d *Dispatcher) cycle(ctx context.Context, trigger platform.ChangeKind) (stats CycleStats, err error) {
	stats = CycleStats{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	logger := d.logger.With("cycle", stats.ID, "trigger", string(trigger))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle panic recovered", "error", r)
			stats.Err = fmt.Errorf("panic: %v", r)
		}
		d.setState(StateIdle)
		stats.Duration = time.Since(stats.StartedAt)
		d.record(stats)
		if d.metrics != nil {
			d.metrics.ObserveCycle(cycleResult(stats), stats.Duration)
		}
	}()

	d.setState(StateFetching)
	snap, ferr := d.source.Tree(ctx)
	if ferr != nil {
		if ctx.Err() != nil {
			stats.Err = ctx.Err()
			return stats, nil
		}
		stats.Err = ferr
		if d.metrics != nil {
			d.metrics.ObserveTreeError()
		}
		if d.skipTree {
			logger.Error("tree fetch failed, waiting for next event", "error", ferr)
			return stats, nil
		}
		return stats, fmt.Errorf("fetch window tree: %w", ferr)
	}

	d.setState(StateWalking)
	var c cycleCounters
	groups := d.plan(ctx, snap, logger, &c)
	werr := tree.Walk(ctx, snap, d.visitor(logger, &c, groups), d.walk)

	stats.Visited = int(c.visited.Load())
	stats.Controllable = int(c.controllable.Load())
	stats.Written = int(c.written.Load())
	stats.Unchanged = int(c.unchanged.Load())
	stats.Skipped = int(c.skipped.Load())
	stats.Failed = int(c.failed.Load())
	stats.Err = werr

	var walkErr *tree.WalkError
	var nodeErr *tree.NodeError
	switch {
	case werr == nil:
	case ctx.Err() != nil:
		logger.Debug("walk cancelled")
		return stats, nil
	case errors.As(werr, &walkErr):
		logger.Warn("walk finished with failures", "failed", len(walkErr.Failures), "first", walkErr.Failures[0])
	case errors.As(werr, &nodeErr):
		logger.Warn("walk aborted", "error", nodeErr)
	default:
		logger.Warn("walk failed", "error", werr)
	}

	logger.Info("cycle done",
		"visited", stats.Visited,
		"controllable", stats.Controllable,
		"written", stats.Written,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration", time.Since(stats.StartedAt))
	return stats, nil
}

// group is the merged desired state of every unit sharing one enforced
// resource. A pid shown in several windows is one group, and so is every pid
// of a unit when the controller implements control.Grouper.
type group struct {
	target  control.Target
	desired control.State
	units   []classify.Unit
}

// plan classifies every node and merges units by target. Any visible window
// unthrottles its whole group. The result is keyed by the preorder index of
// the first node of each group, where the walk enforces it.
func (d *Dispatcher) plan(ctx context.Context, snap *tree.Snapshot, logger *slog.Logger, c *cycleCounters) map[int]*group {
	grouper, _ := d.controller.(control.Grouper)
	byKey := make(map[string]*group)
	groups := make(map[int]*group)
	noPID := 0

	for _, idx := range tree.Order(snap) {
		n := snap.Node(idx)
		unit, reason := classify.Classify(n)
		if reason != classify.ReasonNone {
			if reason == classify.ReasonNoPID {
				noPID++
				logger.Debug("node skipped", "node", n.ID, "name", n.Name, "reason", string(reason))
			}
			continue
		}
		c.controllable.Add(1)

		key := "pid:" + strconv.Itoa(unit.PID)
		if grouper != nil && ctx.Err() == nil {
			// Unresolvable pids stay on their own; Enforce reports the skip.
			if k, err := grouper.GroupKey(ctx, unit.Target()); err == nil && k != "" {
				key = "group:" + k
			}
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{target: unit.Target(), desired: unit.Desired()}
			byKey[key] = g
			groups[idx] = g
		}
		if unit.Visible {
			g.desired = classify.Desired(true)
		}
		g.units = append(g.units, unit)
	}

	if noPID > 0 && c.controllable.Load() == 0 {
		if d.pidWarned.CompareAndSwap(false, true) {
			logger.Warn("no window in the tree carries a pid; nothing can be enforced", "containers", noPID)
		}
	}
	return groups
}

// visitor enforces each planned group at its first node. Lookup failures
// skip the group; apply failures are returned to the walker.
func (d *Dispatcher) visitor(logger *slog.Logger, c *cycleCounters, groups map[int]*group) tree.VisitFunc {
	backend := d.controller.Name()
	return func(ctx context.Context, idx int, n tree.Node) error {
		c.visited.Add(1)

		g, ok := groups[idx]
		if !ok {
			return nil
		}
		outcome, err := control.Enforce(ctx, d.controller, g.target, g.desired)

		var lookup *control.LookupError
		switch {
		case err == nil && outcome == control.OutcomeWritten:
			c.written.Add(1)
			d.observeNode(backend, metrics.ResultWritten)
			logger.Debug("state applied", "node", n.ID, "name", n.Name, "pid", g.target.PID, "windows", len(g.units), "state", g.desired.String())
			return nil
		case err == nil:
			c.unchanged.Add(1)
			d.observeNode(backend, metrics.ResultUnchanged)
			return nil
		case errors.As(err, &lookup):
			c.skipped.Add(1)
			d.observeNode(backend, metrics.ResultSkipped)
			logger.Debug("node skipped", "node", n.ID, "name", n.Name, "pid", g.target.PID, "reason", err)
			return nil
		default:
			c.failed.Add(1)
			d.observeNode(backend, metrics.ResultFailed)
			if ctx.Err() == nil {
				logger.Warn("apply failed", "node", n.ID, "name", n.Name, "pid", g.target.PID, "state", g.desired.String(), "error", err)
			}
			return err
		}
	}
}

func (d *Dispatcher) observeNode(backend, result string) {
	if d.metrics != nil {
		d.metrics.ObserveNode(backend, result)
	}
}

func cycleResult(s CycleStats) string {
	switch {
	case s.Err == nil:
		return "ok"
	case s.Failed > 0:
		return "partial"
	default:
		return "error"
	}
}
