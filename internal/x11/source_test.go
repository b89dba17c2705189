package x11

import (
	"context"
	"errors"
	"testing"

	"github.com/1broseidon/focusgov/internal/classify"
	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

func TestClientTracker_Translate(t *testing.T) {
	tr := &clientTracker{count: 2}

	tests := []struct {
		property string
		count    int
		want     platform.ChangeKind
		ok       bool
	}{
		{"_NET_ACTIVE_WINDOW", -1, platform.ChangeFocus, true},
		{"_NET_CURRENT_DESKTOP", -1, platform.ChangeFocus, true},
		{"_NET_CLIENT_LIST", 3, platform.ChangeNew, true},
		{"_NET_CLIENT_LIST", 1, platform.ChangeClose, true},
		{"_NET_CLIENT_LIST", 1, platform.ChangeOther, true},
		{"_NET_CLIENT_LIST", -1, "", false},
		{"_NET_WM_NAME", -1, "", false},
	}
	for _, tt := range tests {
		ev, ok := tr.translate(tt.property, tt.count)
		if ok != tt.ok {
			t.Fatalf("translate(%s, %d) ok = %v, want %v", tt.property, tt.count, ok, tt.ok)
		}
		if ok && ev.Kind != tt.want {
			t.Fatalf("translate(%s, %d) = %s, want %s", tt.property, tt.count, ev.Kind, tt.want)
		}
	}
}

func TestBuildTree(t *testing.T) {
	clients := []client{
		{ID: 0x100, Name: "editor", PID: 100, Desktop: 0, Focused: true},
		{ID: 0x200, Name: "browser", PID: 200, Desktop: 1},
		{ID: 0x300, Name: "panel", PID: 300, Desktop: -1},
		{ID: 0x400, Name: "minimized", PID: 400, Desktop: 0, Hidden: true},
		{ID: 0x500, Name: "no pid", Desktop: 0},
		{ID: 0x600, Name: "stray", PID: 600, Desktop: 7},
	}
	snap, err := buildTree([]string{"main", "web"}, 0, clients)
	if err != nil {
		t.Fatalf("buildTree() error: %v", err)
	}

	visible := map[int]bool{}
	controllable := 0
	err = tree.Walk(context.Background(), snap, func(_ context.Context, _ int, n tree.Node) error {
		unit, reason := classify.Classify(n)
		if reason != classify.ReasonNone {
			return nil
		}
		controllable++
		visible[unit.PID] = unit.Visible
		return nil
	}, tree.Options{})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}

	if controllable != 5 {
		t.Fatalf("controllable = %d, want 5", controllable)
	}
	want := map[int]bool{100: true, 200: false, 300: true, 400: false, 600: false}
	for pid, v := range want {
		if visible[pid] != v {
			t.Fatalf("pid %d visible = %v, want %v", pid, visible[pid], v)
		}
	}

	root := snap.Root()
	if root.Kind != tree.KindRoot || len(root.Children) != 4 {
		t.Fatalf("root = %+v, want 2 workspaces + 2 unplaced clients", root)
	}
}

type fakeQuery struct {
	desktopErr error
	closed     bool
}

func (f *fakeQuery) GetDesktopNames() ([]string, error) {
	if f.desktopErr != nil {
		return nil, f.desktopErr
	}
	return []string{"1", "2"}, nil
}

func (f *fakeQuery) GetCurrentDesktop() (int, error) { return 0, nil }

func (f *fakeQuery) clients() ([]client, error) {
	return []client{{ID: 10, Name: "term", PID: 100, Desktop: 0, Focused: true}}, nil
}

func (f *fakeQuery) Close() { f.closed = true }

func TestSource_TreeRedialsAfterQueryFailure(t *testing.T) {
	broken := &fakeQuery{desktopErr: errors.New("connection closed")}
	healthy := &fakeQuery{}
	conns := []*fakeQuery{broken, healthy}
	dials := 0

	s := NewSource(":0")
	s.dial = func(string) (treeQuery, error) {
		c := conns[dials]
		dials++
		return c, nil
	}

	if _, err := s.Tree(context.Background()); err == nil {
		t.Fatal("expected tree error from broken connection")
	}
	if !broken.closed {
		t.Fatal("broken connection was not closed")
	}
	snap, err := s.Tree(context.Background())
	if err != nil {
		t.Fatalf("Tree after redial: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dialed %d times, want 2", dials)
	}
	if snap.Len() == 0 {
		t.Fatal("empty snapshot")
	}

	// A healthy connection is reused.
	if _, err := s.Tree(context.Background()); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if dials != 2 || healthy.closed {
		t.Fatalf("healthy connection not reused: dials=%d closed=%v", dials, healthy.closed)
	}
}
