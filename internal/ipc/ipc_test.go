package ipc

import (
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1broseidon/focusgov/internal/logging"
)

type fakeHandler struct {
	rescans atomic.Int32
}

func (h *fakeHandler) Status() StatusData {
	return StatusData{
		PID:     1234,
		Source:  "sway",
		Backend: "quota",
		State:   "idle",
		Cycles:  3,
		LastCycle: &CycleData{
			ID:       "c-1",
			Trigger:  "focus",
			Duration: 4 * time.Millisecond,
			Written:  1,
		},
	}
}

func (h *fakeHandler) Rescan() bool {
	return h.rescans.Add(1) == 1
}

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "focusgov.sock")
	srv := NewServer(path, h, logging.Discard())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return path
}

func TestClient_GetStatus(t *testing.T) {
	path := startServer(t, &fakeHandler{})

	status, err := NewClientAt(path).GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Backend != "quota" || status.Cycles != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LastCycle == nil || status.LastCycle.Duration != 4*time.Millisecond {
		t.Fatalf("unexpected last cycle %+v", status.LastCycle)
	}
}

func TestClient_Rescan(t *testing.T) {
	h := &fakeHandler{}
	path := startServer(t, h)
	c := NewClientAt(path)

	first, err := c.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	second, err := c.Rescan()
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if !first.Queued || second.Queued {
		t.Fatalf("queued = %v, %v; want true, false", first.Queued, second.Queued)
	}
	if h.rescans.Load() != 2 {
		t.Fatalf("handler saw %d rescans, want 2", h.rescans.Load())
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	path := startServer(t, &fakeHandler{})
	c := NewClientAt(path)

	_, err := c.sendRequest(&Request{Command: "UNDO"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestServer_MalformedRequest(t *testing.T) {
	path := startServer(t, &fakeHandler{})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(buf[:n]), `"status":"ERROR"`) {
		t.Fatalf("expected error response, got %q", buf[:n])
	}
}

func TestClient_NoDaemon(t *testing.T) {
	c := NewClientAt(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.GetStatus(); err == nil || !strings.Contains(err.Error(), "is the daemon running") {
		t.Fatalf("expected connection error, got %v", err)
	}
}
