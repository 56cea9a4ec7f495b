package dag

import (
	"errors"
	"fmt"
	"maps"
)

// ErrInconsistent is returned by Restore when the records do not form a
// valid graph.
var ErrInconsistent = errors.New("inconsistent graph state")

// Record is the exported form of a node.
type Record[P any] struct {
	ID           string
	Parent       string
	Contributors []string
	Params       Params
	// Payload is nil when the payload was deferred.
	Payload     *P
	Depth       int
	BranchLabel string
	Timestep    int
	CreatedAt   int64
	Seq         uint64
	// Ordinal is the insertion rank; zero lets Restore assign one.
	Ordinal uint64
}

// Meta is the graph state outside the node and branch indexes.
type Meta struct {
	Head         string
	ActiveBranch string
	Seq          uint64
	Lane         string
	Detaches     uint64
}

// State is everything needed to rebuild a graph.
type State[P any] struct {
	Meta
	// Nodes lists every node, each parent before its children.
	Nodes    []Record[P]
	Branches map[string]string
}

func (n *Node[P]) Record() Record[P] {
	r := Record[P]{
		ID:           n.id,
		Parent:       n.parent,
		Contributors: n.Contributors(),
		Params:       maps.Clone(n.params),
		Depth:        n.depth,
		BranchLabel:  n.branch,
		Timestep:     n.timestep,
		CreatedAt:    n.createdAt,
		Seq:          n.seq,
		Ordinal:      n.ordinal,
	}
	if n.payload.ok {
		p := n.payload.value
		r.Payload = &p
	}
	return r
}

func (g *Graph[P]) Meta() Meta {
	return Meta{
		Head:         g.head,
		ActiveBranch: g.active,
		Seq:          g.seq,
		Lane:         g.lane,
		Detaches:     g.detaches,
	}
}

// Refs is a saved copy of the branch pointers and the active position.
type Refs struct {
	branches map[string]string
	head     string
	active   string
	detaches uint64
}

func (g *Graph[P]) Refs() Refs {
	return Refs{
		branches: maps.Clone(g.branches),
		head:     g.head,
		active:   g.active,
		detaches: g.detaches,
	}
}

// ResetRefs puts back refs taken by Refs. Nodes are left alone, so it only
// undoes operations that add none, such as Branch, Checkout or Detach.
func (g *Graph[P]) ResetRefs(r Refs) {
	g.branches = maps.Clone(r.branches)
	g.head = r.head
	g.active = r.active
	g.detaches = r.detaches
}

// State exports the graph, nodes in pre-order from the root.
func (g *Graph[P]) State() State[P] {
	root := g.Root()
	st := State[P]{
		Meta:     g.Meta(),
		Nodes:    []Record[P]{root.Record()},
		Branches: maps.Clone(g.branches),
	}
	for _, n := range g.descendants(root) {
		st.Nodes = append(st.Nodes, n.Record())
	}
	return st
}

// Restore rebuilds a graph from exported state. cfg.RootID is ignored; the
// root is the single record without a parent.
func Restore[P any](cfg Config[P], st State[P]) (*Graph[P], error) {
	cfg = cfg.withDefaults()
	if len(st.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInconsistent)
	}

	g := newGraph(cfg)
	for i, r := range st.Nodes {
		if _, dup := g.nodes[r.ID]; dup || r.ID == "" {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, r.ID)
		}
		n := &Node[P]{
			id:           r.ID,
			parent:       r.Parent,
			contributors: append([]string(nil), r.Contributors...),
			params:       maps.Clone(r.Params),
			depth:        r.Depth,
			branch:       r.BranchLabel,
			timestep:     r.Timestep,
			createdAt:    r.CreatedAt,
			seq:          r.Seq,
			sealed:       true,
		}
		if n.params == nil {
			n.params = Params{}
		}
		if r.Payload != nil {
			n.payload = snapshot[P]{value: *r.Payload, ok: true}
		}

		if i == 0 {
			if n.parent != "" {
				return nil, fmt.Errorf("%w: first record %q is not a root", ErrInconsistent, n.id)
			}
			if !n.payload.ok {
				return nil, fmt.Errorf("%w: %q", ErrUnreconstructibleRoot, n.id)
			}
			if n.depth != 0 {
				return nil, fmt.Errorf("%w: root %q has depth %d", ErrInconsistent, n.id, n.depth)
			}
			g.root = n.id
		} else {
			parent, ok := g.nodes[n.parent]
			if !ok {
				return nil, fmt.Errorf("%w: parent %q of %q", ErrInconsistent, n.parent, n.id)
			}
			if n.depth != parent.depth+1 {
				return nil, fmt.Errorf("%w: %q has depth %d under depth %d", ErrInconsistent, n.id, n.depth, parent.depth)
			}
			parent.children = append(parent.children, n.id)
		}
		g.insert(n)
		if r.Ordinal != 0 {
			n.ordinal = r.Ordinal
		}
		g.ordinals = max(g.ordinals, n.ordinal)
	}

	for _, n := range g.nodes {
		for _, id := range n.contributors {
			if _, ok := g.nodes[id]; !ok {
				return nil, fmt.Errorf("%w: contributor %q of %q", ErrInconsistent, id, n.id)
			}
		}
	}

	for name, id := range st.Branches {
		if _, clash := g.nodes[name]; clash {
			return nil, fmt.Errorf("%w: branch %q", ErrDuplicateIdentity, name)
		}
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("%w: branch %q points at %q", ErrInconsistent, name, id)
		}
		g.branches[name] = id
	}

	g.head = st.Head
	if g.head == "" {
		g.head = g.root
	}
	if _, ok := g.nodes[g.head]; !ok {
		return nil, fmt.Errorf("%w: head %q", ErrInconsistent, g.head)
	}
	g.active = st.ActiveBranch
	if g.active == "" {
		g.active = g.nodes[g.head].branch
	}
	g.seq = st.Seq
	g.lane = st.Lane
	g.detaches = st.Detaches
	return g, nil
}
