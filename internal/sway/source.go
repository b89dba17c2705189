// Package sway reads window events and the window tree from sway over its
// IPC socket. i3 speaks the same protocol but reports no pids, so it is not
// a supported source.
package sway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/focusgov/internal/platform"
	"github.com/1broseidon/focusgov/internal/tree"
)

// ErrShutdown is reported when the window manager announces it is exiting.
var ErrShutdown = errors.New("sway ipc: window manager shut down")

const queryTimeout = 5 * time.Second

// SocketPath returns override if set, else $SWAYSOCK. $I3SOCK is not
// consulted.
func SocketPath(override string) (string, error) {
	if p := strings.TrimSpace(override); p != "" {
		return p, nil
	}
	if p := os.Getenv("SWAYSOCK"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("sway ipc socket not found: set SWAYSOCK or sway_socket in config")
}

// Source implements platform.Source over two IPC connections: one carries
// the event subscription, the other answers GET_TREE.
type Source struct {
	socketPath string

	mu    sync.Mutex
	query net.Conn
	subs  []net.Conn
}

var _ platform.Source = (*Source)(nil)

// New returns a source for the socket at socketPath. No connection is made
// until Subscribe or Tree is called.
func New(socketPath string) *Source {
	return &Source{socketPath: socketPath}
}

func (s *Source) Name() string { return "sway" }

func (s *Source) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sway ipc at %s: %w", s.socketPath, err)
	}
	return conn, nil
}

// Subscribe opens a dedicated connection and subscribes to window events.
func (s *Source) Subscribe(ctx context.Context) (<-chan platform.Event, <-chan error, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	payload, _ := json.Marshal([]string{"window", "shutdown"})
	if err := writeMessage(conn, MessageSubscribe, payload); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to send subscribe: %w", err)
	}
	reader := bufio.NewReader(conn)
	t, reply, err := readMessage(reader)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to read subscribe reply: %w", err)
	}
	if t != MessageSubscribe {
		conn.Close()
		return nil, nil, fmt.Errorf("unexpected reply type %d to subscribe", t)
	}
	var ok rawSuccess
	if err := json.Unmarshal(reply, &ok); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to parse subscribe reply: %w", err)
	}
	if !ok.Success {
		conn.Close()
		return nil, nil, fmt.Errorf("sway rejected subscription: %s", ok.Error)
	}

	s.mu.Lock()
	s.subs = append(s.subs, conn)
	s.mu.Unlock()

	events := make(chan platform.Event)
	errs := make(chan error, 1)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	go func() {
		defer close(events)
		defer stop()
		defer conn.Close()

		for {
			t, payload, err := readMessage(reader)
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("sway event stream: %w", err)
				}
				return
			}
			switch t {
			case EventShutdown:
				errs <- ErrShutdown
				return
			case EventWindow:
				var raw rawWindowEvent
				if err := json.Unmarshal(payload, &raw); err != nil {
					errs <- fmt.Errorf("failed to parse window event: %w", err)
					return
				}
				ev := platform.Event{
					Kind:        platform.ParseChange(raw.Change),
					Change:      raw.Change,
					ContainerID: raw.Container.ID,
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			default:
				// Replies or events we did not ask for.
			}
		}
	}()

	return events, errs, nil
}

// Tree requests GET_TREE on the query connection, dialing it on first use
// and again after any failure.
func (s *Source) Tree(ctx context.Context) (*tree.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.query == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			return nil, err
		}
		s.query = conn
	}

	snap, err := s.getTree(ctx, s.query)
	if err != nil {
		s.query.Close()
		s.query = nil
		return nil, err
	}
	return snap, nil
}

func (s *Source) getTree(ctx context.Context, conn net.Conn) (*tree.Snapshot, error) {
	deadline := time.Now().Add(queryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	if err := writeMessage(conn, MessageGetTree, nil); err != nil {
		return nil, fmt.Errorf("failed to send get_tree: %w", err)
	}
	t, payload, err := readMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read get_tree reply: %w", err)
	}
	if t != MessageGetTree {
		return nil, fmt.Errorf("unexpected reply type %d to get_tree", t)
	}

	var root rawNode
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("failed to parse tree: %w", err)
	}
	return buildSnapshot(&root)
}

// Close closes every connection the source opened.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.query != nil {
		errs = append(errs, s.query.Close())
		s.query = nil
	}
	for _, c := range s.subs {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

type pending struct {
	node   *rawNode
	parent int
}

// buildSnapshot flattens the decoded tree. Floating containers are children
// of their workspace, after the tiled ones.
func buildSnapshot(root *rawNode) (*tree.Snapshot, error) {
	b := tree.NewBuilder(64)
	stack := []pending{{node: root, parent: -1}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := p.node
		name := n.Name
		if name == "" {
			name = n.AppID
		}
		idx := b.Add(p.parent, tree.Node{
			ID:         n.ID,
			Kind:       tree.Kind(n.Type),
			Name:       name,
			PID:        n.PID,
			Visible:    n.Visible != nil && *n.Visible,
			HasVisible: n.Visible != nil,
			Focused:    n.Focused,
		})
		if idx < 0 {
			break
		}

		for i := len(n.FloatingNodes) - 1; i >= 0; i-- {
			stack = append(stack, pending{node: &n.FloatingNodes[i], parent: idx})
		}
		for i := len(n.Nodes) - 1; i >= 0; i-- {
			stack = append(stack, pending{node: &n.Nodes[i], parent: idx})
		}
	}
	return b.Build()
}
