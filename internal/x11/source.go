// Package x11 reads window events and a synthesized window tree from an
// EWMH-compliant X11 window manager.
package x11

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"

	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

// ErrEventLoopStopped is reported when the X event loop exits on its own,
// usually because the server went away.
var ErrEventLoopStopped = errors.New("x11 event loop stopped")

// Source implements platform.Source for X11. Events and tree queries use
// separate connections so the event loop never shares a connection with a
// walk.
type Source struct {
	display string
	dial    func(display string) (treeQuery, error)

	mu     sync.Mutex
	query  treeQuery
	events []*Connection
}

// treeQuery is the part of a Connection that Tree reads from.
type treeQuery interface {
	GetDesktopNames() ([]string, error)
	GetCurrentDesktop() (int, error)
	clients() ([]client, error)
	Close()
}

var (
	_ platform.Source = (*Source)(nil)
	_ treeQuery       = (*Connection)(nil)
)

// NewSource returns a source for display ("" means $DISPLAY).
func NewSource(display string) *Source {
	return &Source{display: display, dial: dialQuery}
}

func dialQuery(display string) (treeQuery, error) {
	conn, err := NewConnection(display)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Source) Name() string { return "x11" }

// Subscribe watches root-window property changes and translates them into
// window events.
func (s *Source) Subscribe(ctx context.Context) (<-chan platform.Event, <-chan error, error) {
	conn, err := NewConnection(s.display)
	if err != nil {
		return nil, nil, err
	}
	root := xwindow.New(conn.XUtil, conn.Root)
	if err := root.Listen(xproto.EventMaskPropertyChange); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to listen on root window: %w", err)
	}

	s.mu.Lock()
	s.events = append(s.events, conn)
	s.mu.Unlock()

	events := make(chan platform.Event)
	errs := make(chan error, 1)

	tracker := &clientTracker{}
	if ids, err := ewmh.ClientListGet(conn.XUtil); err == nil {
		tracker.count = len(ids)
	}

	xevent.PropertyNotifyFun(func(xu *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
		name, err := xprop.AtomName(xu, ev.Atom)
		if err != nil {
			return
		}
		count := -1
		if name == "_NET_CLIENT_LIST" {
			if ids, err := ewmh.ClientListGet(xu); err == nil {
				count = len(ids)
			}
		}
		out, ok := tracker.translate(name, count)
		if !ok {
			return
		}
		if out.ContainerID == 0 && out.Kind == platform.ChangeFocus {
			if active, err := ewmh.ActiveWindowGet(xu); err == nil {
				out.ContainerID = int64(active)
			}
		}
		select {
		case events <- out:
		case <-ctx.Done():
		}
	}).Connect(conn.XUtil, conn.Root)

	stop := context.AfterFunc(ctx, func() {
		xevent.Quit(conn.XUtil)
		conn.Close()
	})
	go func() {
		defer close(events)
		defer stop()

		xevent.Main(conn.XUtil)
		if ctx.Err() == nil {
			errs <- ErrEventLoopStopped
		}
	}()

	return events, errs, nil
}

// Tree synthesizes root -> one workspace per desktop -> one container per
// client window.
func (s *Source) Tree(ctx context.Context) (*tree.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.query == nil {
		conn, err := s.dial(s.display)
		if err != nil {
			return nil, err
		}
		s.query = conn
	}

	snap, err := s.readTree()
	if err != nil {
		// The connection may be dead; the next cycle dials a fresh one.
		s.query.Close()
		s.query = nil
		return nil, err
	}
	return snap, nil
}

func (s *Source) readTree() (*tree.Snapshot, error) {
	desktops, err := s.query.GetDesktopNames()
	if err != nil {
		return nil, err
	}
	current, err := s.query.GetCurrentDesktop()
	if err != nil {
		return nil, err
	}
	clients, err := s.query.clients()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return buildTree(desktops, current, clients)
}

// Close disconnects every connection the source opened.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.query != nil {
		s.query.Close()
		s.query = nil
	}
	for _, c := range s.events {
		xevent.Quit(c.XUtil)
		c.Close()
	}
	s.events = nil
	return nil
}

// clientTracker remembers the client count so _NET_CLIENT_LIST changes can
// be reported as new or close.
type clientTracker struct {
	count int
}

// translate maps a changed root property to an event. count is the new
// client count for _NET_CLIENT_LIST and ignored otherwise.
func (t *clientTracker) translate(property string, count int) (platform.Event, bool) {
	switch property {
	case "_NET_ACTIVE_WINDOW":
		return platform.Event{Kind: platform.ChangeFocus, Change: "focus"}, true
	case "_NET_CURRENT_DESKTOP":
		// Switching desktops changes visibility the same way a focus change does.
		return platform.Event{Kind: platform.ChangeFocus, Change: "desktop"}, true
	case "_NET_CLIENT_LIST":
		if count < 0 {
			return platform.Event{}, false
		}
		prev := t.count
		t.count = count
		switch {
		case count > prev:
			return platform.Event{Kind: platform.ChangeNew, Change: "new"}, true
		case count < prev:
			return platform.Event{Kind: platform.ChangeClose, Change: "close"}, true
		default:
			return platform.Event{Kind: platform.ChangeOther, Change: "restack"}, true
		}
	default:
		return platform.Event{}, false
	}
}

func buildTree(desktops []string, current int, clients []client) (*tree.Snapshot, error) {
	b := tree.NewBuilder(1 + len(desktops) + len(clients))
	root := b.Add(-1, tree.Node{Kind: tree.KindRoot, Name: "root"})

	workspaces := make([]int, len(desktops))
	for i, name := range desktops {
		workspaces[i] = b.Add(root, tree.Node{ID: int64(i + 1), Kind: tree.KindWorkspace, Name: name})
	}

	for _, c := range clients {
		parent := root
		if c.Desktop >= 0 && c.Desktop < len(workspaces) {
			parent = workspaces[c.Desktop]
		}
		onScreen := c.Desktop == -1 || c.Desktop == current
		b.Add(parent, tree.Node{
			ID:         int64(c.ID),
			Kind:       tree.KindCon,
			Name:       c.Name,
			PID:        c.PID,
			Visible:    onScreen && !c.Hidden,
			HasVisible: true,
			Focused:    c.Focused,
		})
	}
	return b.Build()
}
