package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/focusgov/internal/ipc"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(good, []byte("backend: priority\n"), 0644)
	os.WriteFile(bad, []byte("backend: priority\nparallelism: 0\n"), 0644)

	out, err := runCLI(t, "config", "validate", "--config", good)
	if err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("validate good: %q, %v", out, err)
	}
	_, err = runCLI(t, "config", "validate", "--config", bad)
	if err == nil || !strings.Contains(err.Error(), "bad.yaml:2:") {
		t.Fatalf("expected located error, got %v", err)
	}
}

func TestConfigPrint(t *testing.T) {
	out, err := runCLI(t, "config", "print", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	for _, want := range []string{"source: sway", "backend: quota", "walk_policy: continue"} {
		if !strings.Contains(out, want) {
			t.Fatalf("printed config missing %q:\n%s", want, out)
		}
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	_, err := runCLI(t, "status", "--socket", filepath.Join(t.TempDir(), "none.sock"))
	if err == nil || !strings.Contains(err.Error(), "is the daemon running") {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestWriteStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	status := &ipc.StatusData{
		PID:       42,
		Source:    "sway",
		Backend:   "quota",
		State:     "idle",
		Triggers:  []string{"close", "focus"},
		StartedAt: now.Add(-2 * time.Hour),
		Events:    12345,
		Cycles:    678,
		LastCycle: &ipc.CycleData{
			ID:        "c1",
			Trigger:   "focus",
			StartedAt: now.Add(-3 * time.Second),
			Duration:  1500 * time.Microsecond,
			Visited:   9,
			Written:   2,
			Error:     "quota: pid 7: set: denied",
		},
	}
	var buf bytes.Buffer
	writeStatus(&buf, status, now)
	out := buf.String()
	for _, want := range []string{"2 hours ago", "12,345", "took 1.5ms", "written 2", "error: quota: pid 7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	status.LastCycle = nil
	writeStatus(&buf, status, now)
	if !strings.Contains(buf.String(), "last cycle: none") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
