package control

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

type fakePrioritySys struct {
	nice    map[int]int
	dead    map[int]bool
	setErr  error
	setCall int
}

func (f *fakePrioritySys) Alive(pid int) (bool, error) {
	if f.dead[pid] {
		return false, nil
	}
	_, ok := f.nice[pid]
	return ok, nil
}

func (f *fakePrioritySys) Nice(pid int) (int, error) {
	n, ok := f.nice[pid]
	if !ok {
		return 0, syscall.ESRCH
	}
	return n, nil
}

func (f *fakePrioritySys) SetNice(pid int, nice int) error {
	f.setCall++
	if f.setErr != nil {
		return f.setErr
	}
	f.nice[pid] = nice
	return nil
}

func newTestPriority(sys *fakePrioritySys) *Priority {
	return &Priority{cfg: DefaultPriorityConfig(), sys: sys}
}

func TestPriority_CurrentMapsNiceValues(t *testing.T) {
	sys := &fakePrioritySys{nice: map[int]int{1: 0, 2: 10, 3: 5}}
	p := newTestPriority(sys)

	tests := []struct {
		pid  int
		want State
	}{
		{1, Unthrottled},
		{2, Throttled},
		{3, Unknown},
	}
	for _, tt := range tests {
		got, err := p.Current(context.Background(), Target{PID: tt.pid})
		if err != nil {
			t.Fatalf("Current(%d) error: %v", tt.pid, err)
		}
		if got != tt.want {
			t.Fatalf("Current(%d) = %v, want %v", tt.pid, got, tt.want)
		}
	}
}

func TestPriority_ExitedProcessIsLookupError(t *testing.T) {
	sys := &fakePrioritySys{nice: map[int]int{}, dead: map[int]bool{42: true}}
	p := newTestPriority(sys)

	_, err := p.Current(context.Background(), Target{PID: 42})
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError, got %v", err)
	}

	if _, err := p.Current(context.Background(), Target{PID: 0}); !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError for pid 0, got %v", err)
	}
}

func TestPriority_ApplyIsIdempotentThroughEnforce(t *testing.T) {
	sys := &fakePrioritySys{nice: map[int]int{100: 0, 200: 0}}
	p := newTestPriority(sys)
	ctx := context.Background()

	if out, err := Enforce(ctx, p, Target{PID: 100}, Unthrottled); err != nil || out != OutcomeUnchanged {
		t.Fatalf("Enforce(100) = %v, %v", out, err)
	}
	if out, err := Enforce(ctx, p, Target{PID: 200}, Throttled); err != nil || out != OutcomeWritten {
		t.Fatalf("Enforce(200) = %v, %v", out, err)
	}
	if sys.setCall != 1 {
		t.Fatalf("setpriority calls = %d, want 1", sys.setCall)
	}
	if sys.nice[200] != 10 {
		t.Fatalf("nice(200) = %d, want 10", sys.nice[200])
	}
}

func TestPriority_ApplyErrors(t *testing.T) {
	ctx := context.Background()

	sys := &fakePrioritySys{nice: map[int]int{1: 0}, setErr: syscall.EPERM}
	p := newTestPriority(sys)
	err := p.Apply(ctx, Target{PID: 1}, Throttled)
	var aerr *ApplyError
	if !errors.As(err, &aerr) || !errors.Is(err, syscall.EPERM) {
		t.Fatalf("expected ApplyError wrapping EPERM, got %v", err)
	}

	sys.setErr = syscall.ESRCH
	err = p.Apply(ctx, Target{PID: 1}, Throttled)
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LookupError for ESRCH, got %v", err)
	}

	if err := p.Apply(ctx, Target{PID: 1}, Unknown); !errors.As(err, &aerr) {
		t.Fatalf("expected ApplyError for Unknown state, got %v", err)
	}
}

func TestPriorityConfig_Validate(t *testing.T) {
	if err := DefaultPriorityConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []PriorityConfig{
		{Unthrottled: 0, Throttled: 0},
		{Unthrottled: -21, Throttled: 5},
		{Unthrottled: 0, Throttled: 20},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %+v to be invalid", cfg)
		}
	}
}
