package dag

import "maps"

// Params holds the transition parameters that, with the parent payload and
// the contributors' payloads, reproduce a node's payload.
type Params map[string]any

// snapshot is either a materialized payload (ok) or a deferred one.
type snapshot[P any] struct {
	value P
	ok    bool
}

// Node is one commit. The graph owns every node; parent and children are
// stored as ids and resolved through the graph index.
type Node[P any] struct {
	id           string
	parent       string
	children     []string
	contributors []string
	params       Params
	payload      snapshot[P]
	depth        int
	branch       string
	timestep     int
	createdAt    int64
	seq          uint64
	ordinal      uint64
	sealed       bool
}

func (n *Node[P]) ID() string { return n.id }

// Parent returns the parent id, or "" for a root.
func (n *Node[P]) Parent() string { return n.parent }

func (n *Node[P]) IsRoot() bool { return n.parent == "" }

// Children returns the child ids in commit order.
func (n *Node[P]) Children() []string {
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

// Contributors returns the ids of the non-parent nodes the transition read from.
func (n *Node[P]) Contributors() []string {
	out := make([]string, len(n.contributors))
	copy(out, n.contributors)
	return out
}

// Params returns a copy of the transition parameters.
func (n *Node[P]) Params() Params {
	return maps.Clone(n.params)
}

// Payload returns the stored payload. The boolean is false when the payload
// was deferred by the snapshot policy; use Graph.Materialize to rebuild it.
func (n *Node[P]) Payload() (P, bool) {
	return n.payload.value, n.payload.ok
}

func (n *Node[P]) Materialized() bool { return n.payload.ok }

// Depth is the generation of the node, the root being 0.
func (n *Node[P]) Depth() int { return n.depth }

// BranchLabel is the branch the node was committed on.
func (n *Node[P]) BranchLabel() string { return n.branch }

func (n *Node[P]) Timestep() int { return n.timestep }

// CreatedAt is the commit time in unix milliseconds.
func (n *Node[P]) CreatedAt() int64 { return n.createdAt }

// Seq is the graph-local commit sequence number the node was created with.
func (n *Node[P]) Seq() uint64 { return n.seq }

// Ordinal is the node's position in the graph's insertion order. Siblings
// and generations are kept in ordinal order.
func (n *Node[P]) Ordinal() uint64 { return n.ordinal }

// SetID renames a pending node. It is only legal from a BeforeIdentity hook.
func (n *Node[P]) SetID(id string) error {
	if n.sealed {
		return ErrSealed
	}
	n.id = id
	return nil
}

func (n *Node[P]) clone() *Node[P] {
	c := *n
	c.children = append([]string(nil), n.children...)
	c.contributors = append([]string(nil), n.contributors...)
	c.params = maps.Clone(n.params)
	return &c
}
