package tree

import "fmt"

// Kind is the node type reported by the window manager.
type Kind string

const (
	KindRoot        Kind = "root"
	KindOutput      Kind = "output"
	KindWorkspace   Kind = "workspace"
	KindCon         Kind = "con"
	KindFloatingCon Kind = "floating_con"
	KindDockArea    Kind = "dockarea"
)

const (
	rootIndex        = 0
	maxSnapshotNodes = 1 << 20
)

// Node is one entry of a window tree snapshot. Children are indices into the
// owning Snapshot's node table.
type Node struct {
	ID         int64
	Kind       Kind
	Name       string
	PID        int // 0 when the window manager did not report one
	Visible    bool
	HasVisible bool
	Focused    bool
	Children   []int
}

// Snapshot is an immutable window tree stored as a flat table. Nodes[0] is the
// root. A snapshot is fetched fresh for every walk and then discarded.
type Snapshot struct {
	nodes []Node
}

// Len returns the number of nodes in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

// Node returns the node at index i.
func (s *Snapshot) Node(i int) Node {
	return s.nodes[i]
}

// Root returns the root node.
func (s *Snapshot) Root() Node {
	return s.nodes[rootIndex]
}

// Builder assembles a Snapshot. The first node added must be the root
// (parent -1); every later node names an existing parent.
type Builder struct {
	nodes []Node
	err   error
}

// NewBuilder returns an empty builder with room for sizeHint nodes.
func NewBuilder(sizeHint int) *Builder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Builder{nodes: make([]Node, 0, sizeHint)}
}

// Add appends n as a child of parent and returns its index. Errors are sticky
// and reported by Build.
func (b *Builder) Add(parent int, n Node) int {
	if b.err != nil {
		return -1
	}
	if len(b.nodes) >= maxSnapshotNodes {
		b.err = fmt.Errorf("snapshot exceeds %d nodes", maxSnapshotNodes)
		return -1
	}

	n.Children = nil
	idx := len(b.nodes)
	switch {
	case idx == rootIndex && parent != -1:
		b.err = fmt.Errorf("first node must be the root, got parent %d", parent)
		return -1
	case idx != rootIndex && (parent < 0 || parent >= idx):
		b.err = fmt.Errorf("node %d (%s %d): parent index %d out of range", idx, n.Kind, n.ID, parent)
		return -1
	}

	b.nodes = append(b.nodes, n)
	if idx != rootIndex {
		b.nodes[parent].Children = append(b.nodes[parent].Children, idx)
	}
	return idx
}

// Build returns the finished snapshot. The builder must not be reused.
func (b *Builder) Build() (*Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	nodes := b.nodes
	b.nodes = nil
	return &Snapshot{nodes: nodes}, nil
}
