package dag

import (
	"fmt"
	"maps"
	"strconv"

	"popgraph/logger"

	"go.uber.org/zap"
)

// Detach returns a new graph rooted at a copy of the active node. The copy
// carries the node's id and its materialized payload; descendants are not
// copied. The new graph has no branches until its first commit, which
// creates the inherited active branch. Hooks are not inherited.
func (g *Graph[P]) Detach() (*Graph[P], error) {
	head := g.Head()
	payload, err := g.Materialize(head.id, false)
	if err != nil {
		return nil, fmt.Errorf("detach %q: %w", head.id, err)
	}

	g.detaches++
	d := newGraph(Config[P]{
		DefaultBranch: g.defaultBranch,
		Sparsity:      g.sparsity,
		Transition:    g.transition,
	})
	d.lane = g.lane + strconv.FormatUint(g.detaches, 10) + "."

	root := &Node[P]{
		id:        head.id,
		params:    maps.Clone(head.params),
		payload:   snapshot[P]{value: payload, ok: true},
		branch:    g.active,
		timestep:  head.timestep,
		createdAt: head.createdAt,
		seq:       head.seq,
		sealed:    true,
	}
	d.insert(root)
	d.root = root.id
	d.head = root.id
	d.active = g.active

	logger.Logger.Debug("Detached graph",
		zap.String("root_id", root.id),
		zap.String("branch", d.active),
		zap.String("lane", d.lane))
	return d, nil
}

// Attach merges a graph previously detached from this one. The other
// graph's root must exist here; its descendants are spliced below that
// node with depths rebased. Colliding branch names get an integer suffix.
// A splice node with a deferred payload is materialized. Nodes are copied,
// so other is left unchanged.
func (g *Graph[P]) Attach(other *Graph[P]) error {
	splice, ok := g.nodes[other.root]
	if !ok {
		return fmt.Errorf("%w: attach point %q", ErrNotFound, other.root)
	}

	incoming := other.descendants(other.Root())
	incomingIDs := make(map[string]bool, len(incoming))
	for _, n := range incoming {
		if g.Exists(n.id) {
			return fmt.Errorf("%w: %q", ErrDuplicateIdentity, n.id)
		}
		incomingIDs[n.id] = true
	}

	rename := g.renameBranches(other, incomingIDs)

	// the incoming children count their unsaved ancestors from the splice
	spliceMaterialized := false
	if !splice.payload.ok {
		p, ok := other.Root().Payload()
		if !ok {
			var err error
			if p, err = g.materialize(splice, make(map[string]P)); err != nil {
				return fmt.Errorf("attach %q: %w", splice.id, err)
			}
		}
		splice.payload = snapshot[P]{value: p, ok: true}
		spliceMaterialized = true
	}

	prevChildren := len(splice.children)
	added := make([]*Node[P], 0, len(incoming))
	for _, n := range incoming {
		c := n.clone()
		if renamed, ok := rename[c.branch]; ok {
			c.branch = renamed
		}
		c.depth += splice.depth
		g.insert(c)
		added = append(added, c)
	}
	splice.children = append(splice.children, other.Root().children...)
	for name, id := range other.branches {
		g.branches[rename[name]] = id
	}

	if err := g.fire(AfterAttach, splice); err != nil {
		for _, name := range rename {
			delete(g.branches, name)
		}
		splice.children = splice.children[:prevChildren]
		for i := len(added) - 1; i >= 0; i-- {
			g.remove(added[i])
		}
		if spliceMaterialized {
			splice.payload = snapshot[P]{}
		}
		return err
	}

	logger.Logger.Debug("Attached graph",
		zap.String("splice_id", splice.id),
		zap.Int("nodes", len(added)),
		zap.Int("branches", len(rename)))
	return nil
}

// renameBranches maps every branch of other to a name free in g.
func (g *Graph[P]) renameBranches(other *Graph[P], incoming map[string]bool) map[string]string {
	names := other.Branches()

	rename := make(map[string]string, len(names))
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		if !g.Exists(name) {
			rename[name] = name
			taken[name] = true
		}
	}
	for _, name := range names {
		if _, ok := rename[name]; ok {
			continue
		}
		candidate := name
		for i := 1; g.Exists(candidate) || taken[candidate] || incoming[candidate]; i++ {
			candidate = name + strconv.Itoa(i)
		}
		rename[name] = candidate
		taken[candidate] = true
	}
	return rename
}
