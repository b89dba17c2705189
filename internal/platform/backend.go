package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/1broseidon/focusgov/internal/tree"
)

// ChangeKind is the normalized change type of a window event.
type ChangeKind string

const (
	ChangeNew        ChangeKind = "new"
	ChangeMove       ChangeKind = "move"
	ChangeClose      ChangeKind = "close"
	ChangeFullscreen ChangeKind = "fullscreen_mode"
	ChangeFloating   ChangeKind = "floating"
	ChangeFocus      ChangeKind = "focus"
	ChangeOther      ChangeKind = "other"
	// ChangeRescan is never produced by a window manager; the daemon uses it
	// for walks requested over the control socket.
	ChangeRescan ChangeKind = "rescan"
)

// ParseChange maps a window-manager change string to a ChangeKind. Unknown
// strings (title, urgent, mark, ...) become ChangeOther.
func ParseChange(s string) ChangeKind {
	switch ChangeKind(strings.ToLower(strings.TrimSpace(s))) {
	case ChangeNew:
		return ChangeNew
	case ChangeMove:
		return ChangeMove
	case ChangeClose:
		return ChangeClose
	case ChangeFullscreen:
		return ChangeFullscreen
	case ChangeFloating:
		return ChangeFloating
	case ChangeFocus:
		return ChangeFocus
	default:
		return ChangeOther
	}
}

// Event is one window change notification.
type Event struct {
	Kind ChangeKind
	// Change is the raw change string from the window manager.
	Change string
	// ContainerID identifies the window the event is about, if known.
	ContainerID int64
}

// Source abstracts the window manager: an ordered event subscription and a
// tree query.
type Source interface {
	Name() string
	// Subscribe starts the event stream. The events channel is closed when the
	// subscription ends; a non-nil value on errs explains why.
	Subscribe(ctx context.Context) (events <-chan Event, errs <-chan error, err error)
	// Tree fetches a fresh snapshot of the whole window tree.
	Tree(ctx context.Context) (*tree.Snapshot, error)
	Close() error
}

// TriggerSet is the set of change kinds that start a walk.
type TriggerSet map[ChangeKind]struct{}

// DefaultTriggers lists the kinds that can change which windows are visible.
func DefaultTriggers() []string {
	return []string{
		string(ChangeFocus),
		string(ChangeNew),
		string(ChangeMove),
		string(ChangeClose),
		string(ChangeFullscreen),
		string(ChangeFloating),
	}
}

// NewTriggerSet validates names and builds a set.
func NewTriggerSet(names []string) (TriggerSet, error) {
	set := make(TriggerSet, len(names))
	for _, name := range names {
		kind := ChangeKind(strings.ToLower(strings.TrimSpace(name)))
		switch kind {
		case ChangeNew, ChangeMove, ChangeClose, ChangeFullscreen, ChangeFloating, ChangeFocus, ChangeOther:
			set[kind] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown trigger %q", name)
		}
	}
	return set, nil
}

// Has reports whether kind triggers a walk. Rescans always do.
func (s TriggerSet) Has(kind ChangeKind) bool {
	if kind == ChangeRescan {
		return true
	}
	_, ok := s[kind]
	return ok
}

// Names returns the set members sorted.
func (s TriggerSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
