package sway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

const sampleTree = `{
  "id": 1, "type": "root", "name": "root",
  "nodes": [{
    "id": 2, "type": "output", "name": "eDP-1",
    "nodes": [{
      "id": 3, "type": "workspace", "name": "1",
      "nodes": [
        {"id": 4, "type": "con", "name": "firefox", "pid": 100, "visible": true, "focused": true, "nodes": []},
        {"id": 5, "type": "con", "name": null, "nodes": [
          {"id": 6, "type": "con", "app_id": "foot", "pid": 300, "visible": false}
        ]}
      ],
      "floating_nodes": [
        {"id": 7, "type": "floating_con", "name": "pavucontrol", "pid": 200, "visible": false}
      ]
    }]
  }]
}`

// fakeSway serves the i3-ipc protocol on a unix socket. Every connection
// answers GET_TREE with sampleTree; subscribers receive the queued events.
type fakeSway struct {
	path   string
	ln     net.Listener
	events chan []byte
}

func newFakeSway(t *testing.T) *fakeSway {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sway.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSway{path: path, ln: ln, events: make(chan []byte, 8)}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSway) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeSway) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		t, payload, err := readMessage(r)
		if err != nil {
			return
		}
		switch t {
		case MessageGetTree:
			writeMessage(conn, MessageGetTree, []byte(sampleTree))
		case MessageSubscribe:
			if !bytes.Contains(payload, []byte(`"window"`)) {
				writeMessage(conn, MessageSubscribe, []byte(`{"success":false}`))
				return
			}
			writeMessage(conn, MessageSubscribe, []byte(`{"success":true}`))
			for ev := range f.events {
				if ev == nil {
					writeMessage(conn, EventShutdown, []byte(`{"change":"exit"}`))
					continue
				}
				writeMessage(conn, EventWindow, ev)
			}
			return
		}
	}
}

func TestProtocol_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, MessageGetTree, []byte(`{}`)); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	if buf.Len() != headerSize+2 {
		t.Fatalf("frame length = %d", buf.Len())
	}
	mt, payload, err := readMessage(&buf)
	if err != nil || mt != MessageGetTree || string(payload) != "{}" {
		t.Fatalf("readMessage = %d %q %v", mt, payload, err)
	}

	if _, _, err := readMessage(bytes.NewReader([]byte("i3-ipX\x00\x00\x00\x00\x00\x00\x00\x00"))); !errors.Is(err, errBadMagic) {
		t.Fatalf("expected errBadMagic, got %v", err)
	}
	if !EventWindow.IsEvent() || MessageGetTree.IsEvent() {
		t.Fatal("IsEvent mismatch")
	}
}

func TestSource_TreeFlattensNodesAndFloatingNodes(t *testing.T) {
	f := newFakeSway(t)
	src := New(f.path)
	defer src.Close()

	snap, err := src.Tree(context.Background())
	if err != nil {
		t.Fatalf("Tree() error: %v", err)
	}

	var got []tree.Node
	tree.Walk(context.Background(), snap, func(_ context.Context, _ int, n tree.Node) error {
		got = append(got, n)
		return nil
	}, tree.Options{})

	wantIDs := []int64{1, 2, 3, 4, 5, 6, 7}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d nodes, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("node %d id = %d, want %d", i, got[i].ID, id)
		}
	}

	firefox := got[3]
	if firefox.PID != 100 || !firefox.Visible || !firefox.HasVisible || !firefox.Focused {
		t.Fatalf("firefox node = %+v", firefox)
	}
	split := got[4]
	if split.PID != 0 || split.HasVisible {
		t.Fatalf("split node = %+v", split)
	}
	foot := got[5]
	if foot.Name != "foot" || foot.PID != 300 || foot.Visible || !foot.HasVisible {
		t.Fatalf("foot node = %+v", foot)
	}
	floating := got[6]
	if floating.Kind != tree.KindFloatingCon || floating.PID != 200 {
		t.Fatalf("floating node = %+v", floating)
	}

	// The query connection is reused.
	if _, err := src.Tree(context.Background()); err != nil {
		t.Fatalf("second Tree() error: %v", err)
	}
}

func TestSource_SubscribeDeliversEventsInOrder(t *testing.T) {
	f := newFakeSway(t)
	src := New(f.path)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, errs, err := src.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	f.events <- []byte(`{"change":"focus","container":{"id":4}}`)
	f.events <- []byte(`{"change":"title","container":{"id":4}}`)
	f.events <- nil

	want := []platform.Event{
		{Kind: platform.ChangeFocus, Change: "focus", ContainerID: 4},
		{Kind: platform.ChangeOther, Change: "title", ContainerID: 4},
	}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev != w {
				t.Fatalf("event = %+v, want %+v", ev, w)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrShutdown) {
			t.Fatalf("expected ErrShutdown, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for shutdown")
	}
	if _, ok := <-events; ok {
		t.Fatal("expected events channel to be closed")
	}
	close(f.events)
}

func TestSource_SubscribeCancelClosesQuietly(t *testing.T) {
	f := newFakeSway(t)
	defer close(f.events)
	src := New(f.path)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, errs, err := src.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("unexpected event after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected error after cancel: %v", err)
	default:
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("SWAYSOCK", "")
	t.Setenv("I3SOCK", "")
	if _, err := SocketPath(""); err == nil {
		t.Fatal("expected error without socket")
	}

	t.Setenv("I3SOCK", "/run/i3.sock")
	if got, err := SocketPath(""); err == nil {
		t.Fatalf("SocketPath = %q, want error with only I3SOCK set", got)
	}
	t.Setenv("SWAYSOCK", "/run/sway.sock")
	if got, _ := SocketPath(""); got != "/run/sway.sock" {
		t.Fatalf("SocketPath = %q", got)
	}
	if got, _ := SocketPath(" /custom.sock "); got != "/custom.sock" {
		t.Fatalf("SocketPath override = %q", got)
	}
}

func TestSource_TreeDialFailure(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := src.Tree(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}
