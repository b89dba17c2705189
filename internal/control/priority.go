package control

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// PriorityConfig holds the nice values for each state.
type PriorityConfig struct {
	Unthrottled int
	Throttled   int
}

// DefaultPriorityConfig matches the defaults in the config package.
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{Unthrottled: 0, Throttled: 10}
}

// Validate checks that both values are in the nice range and distinct.
func (c PriorityConfig) Validate() error {
	for _, v := range []int{c.Unthrottled, c.Throttled} {
		if v < -20 || v > 19 {
			return fmt.Errorf("nice value %d out of range [-20, 19]", v)
		}
	}
	if c.Unthrottled == c.Throttled {
		return fmt.Errorf("throttled and unthrottled nice values must differ")
	}
	return nil
}

// prioritySys is the scheduling-priority sink.
type prioritySys interface {
	// Alive reports whether pid names a running process.
	Alive(pid int) (bool, error)
	Nice(pid int) (int, error)
	SetNice(pid int, nice int) error
}

// Priority adjusts the nice value of the window's process directly.
type Priority struct {
	cfg PriorityConfig
	sys prioritySys
}

var _ Controller = (*Priority)(nil)

// NewPriority returns a priority backend using the host's setpriority(2).
func NewPriority(cfg PriorityConfig) (*Priority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Priority{cfg: cfg, sys: hostPriority{}}, nil
}

func (p *Priority) Name() string { return BackendPriority }

// Current maps the process's nice value to a State. Values other than the two
// configured levels report Unknown.
func (p *Priority) Current(_ context.Context, t Target) (State, error) {
	if t.PID <= 0 {
		return Unknown, &LookupError{Backend: p.Name(), PID: t.PID, Reason: "invalid pid"}
	}
	alive, err := p.sys.Alive(t.PID)
	if err != nil {
		return Unknown, &LookupError{Backend: p.Name(), PID: t.PID, Reason: "process lookup failed", Err: err}
	}
	if !alive {
		return Unknown, &LookupError{Backend: p.Name(), PID: t.PID, Reason: "process exited"}
	}

	nice, err := p.sys.Nice(t.PID)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return Unknown, &LookupError{Backend: p.Name(), PID: t.PID, Reason: "process exited", Err: err}
		}
		return Unknown, &LookupError{Backend: p.Name(), PID: t.PID, Reason: "getpriority", Err: err}
	}

	switch nice {
	case p.cfg.Unthrottled:
		return Unthrottled, nil
	case p.cfg.Throttled:
		return Throttled, nil
	default:
		return Unknown, nil
	}
}

// Apply sets the nice value for s. A process that exited in the meantime is
// a LookupError, anything else an ApplyError.
func (p *Priority) Apply(_ context.Context, t Target, s State) error {
	nice, err := p.niceFor(s)
	if err != nil {
		return &ApplyError{Backend: p.Name(), PID: t.PID, Op: "setpriority", Err: err}
	}
	if err := p.sys.SetNice(t.PID, nice); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return &LookupError{Backend: p.Name(), PID: t.PID, Reason: "process exited", Err: err}
		}
		return &ApplyError{Backend: p.Name(), PID: t.PID, Op: fmt.Sprintf("setpriority %d", nice), Err: err}
	}
	return nil
}

func (p *Priority) Close() error { return nil }

func (p *Priority) niceFor(s State) (int, error) {
	switch s {
	case Unthrottled:
		return p.cfg.Unthrottled, nil
	case Throttled:
		return p.cfg.Throttled, nil
	default:
		return 0, fmt.Errorf("cannot apply state %s", s)
	}
}
