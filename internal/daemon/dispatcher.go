// Package daemon runs the event loop that keeps process throttling in step
// with window visibility.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/focusgov/internal/control"
	"github.com/1broseidon/focusgov/internal/ipc"
	"github.com/1broseidon/focusgov/internal/metrics"
	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

// ErrSubscriptionClosed is returned by Run when the event stream ends without
// an explanation from the source.
var ErrSubscriptionClosed = errors.New("window event subscription closed")

// State is the dispatcher's position in a cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateWalking
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateWalking:
		return "walking"
	default:
		return "idle"
	}
}

// CycleStats summarizes one fetch-and-walk cycle.
type CycleStats struct {
	ID           string
	Trigger      platform.ChangeKind
	StartedAt    time.Time
	Duration     time.Duration
	Visited      int
	Controllable int
	Written      int
	Unchanged    int
	Skipped      int
	Failed       int
	Err          error
}

// Config wires a Dispatcher.
type Config struct {
	Source     platform.Source
	Controller control.Controller
	Triggers   platform.TriggerSet
	Walk       tree.Options
	// SkipTreeErrors logs a failed tree fetch and waits for the next event
	// instead of ending Run.
	SkipTreeErrors bool
	// ScanOnStart runs one cycle before the first event.
	ScanOnStart bool
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Dispatcher consumes window events and runs at most one cycle at a time.
type Dispatcher struct {
	source     platform.Source
	controller control.Controller
	triggers   platform.TriggerSet
	walk       tree.Options
	skipTree   bool
	scanStart  bool
	metrics    *metrics.Metrics
	logger     *slog.Logger

	rescan    chan struct{}
	state     atomic.Int32
	events    atomic.Uint64
	startedAt time.Time
	pidWarned atomic.Bool

	mu     sync.Mutex
	cycles uint64
	last   *CycleStats
}

var _ ipc.Handler = (*Dispatcher)(nil)

// New returns a dispatcher. A nil trigger set means the default triggers.
func New(cfg Config) *Dispatcher {
	triggers := cfg.Triggers
	if triggers == nil {
		triggers, _ = platform.NewTriggerSet(platform.DefaultTriggers())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source:     cfg.Source,
		controller: cfg.Controller,
		triggers:   triggers,
		walk:       cfg.Walk,
		skipTree:   cfg.SkipTreeErrors,
		scanStart:  cfg.ScanOnStart,
		metrics:    cfg.Metrics,
		logger:     logger,
		rescan:     make(chan struct{}, 1),
		startedAt:  time.Now(),
	}
}

// Run subscribes to the source and processes events until ctx is cancelled
// (nil), the subscription ends, or a tree fetch fails under the fatal policy.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, errs, err := d.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", d.source.Name(), err)
	}

	d.logger.Info("dispatcher started",
		"source", d.source.Name(),
		"backend", d.controller.Name(),
		"triggers", d.triggers.Names(),
		"policy", d.walk.Policy.String(),
		"parallelism", d.walk.Parallelism)

	if d.scanStart {
		if _, err := d.cycle(ctx, platform.ChangeRescan); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s event stream: %w", d.source.Name(), err)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case err := <-errs:
					return fmt.Errorf("%s event stream: %w", d.source.Name(), err)
				default:
					return ErrSubscriptionClosed
				}
			}
			if err := d.handle(ctx, ev); err != nil {
				return err
			}
		case <-d.rescan:
			if _, err := d.cycle(ctx, platform.ChangeRescan); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev platform.Event) error {
	d.events.Add(1)
	triggered := d.triggers.Has(ev.Kind)
	if d.metrics != nil {
		d.metrics.ObserveEvent(string(ev.Kind), triggered)
	}
	if !triggered {
		d.logger.Debug("event ignored", "change", ev.Change, "container", ev.ContainerID)
		return nil
	}
	d.logger.Debug("event", "change", ev.Change, "container", ev.ContainerID)
	_, err := d.cycle(ctx, ev.Kind)
	return err
}

// Rescan queues a cycle. It reports false when one is already pending.
func (d *Dispatcher) Rescan() bool {
	select {
	case d.rescan <- struct{}{}:
		return true
	default:
		return false
	}
}

// State returns the current cycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// LastCycle returns the stats of the most recent cycle.
func (d *Dispatcher) LastCycle() (CycleStats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return CycleStats{}, false
	}
	return *d.last, true
}

// Status reports dispatcher state for the control socket.
func (d *Dispatcher) Status() ipc.StatusData {
	d.mu.Lock()
	cycles := d.cycles
	var last *ipc.CycleData
	if d.last != nil {
		last = cycleData(*d.last)
	}
	d.mu.Unlock()

	return ipc.StatusData{
		PID:           os.Getpid(),
		Source:        d.source.Name(),
		Backend:       d.controller.Name(),
		State:         d.State().String(),
		Triggers:      d.triggers.Names(),
		StartedAt:     d.startedAt,
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		Events:        d.events.Load(),
		Cycles:        cycles,
		LastCycle:     last,
	}
}

func cycleData(s CycleStats) *ipc.CycleData {
	out := &ipc.CycleData{
		ID:           s.ID,
		Trigger:      string(s.Trigger),
		StartedAt:    s.StartedAt,
		Duration:     s.Duration,
		Visited:      s.Visited,
		Controllable: s.Controllable,
		Written:      s.Written,
		Unchanged:    s.Unchanged,
		Skipped:      s.Skipped,
		Failed:       s.Failed,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Dispatcher) record(stats CycleStats) {
	d.mu.Lock()
	d.cycles++
	d.last = &stats
	d.mu.Unlock()
}
