package dag

import (
	"fmt"
	"maps"

	"popgraph/logger"

	"go.uber.org/zap"
)

// UnsavedAncestors returns 0 for a materialized node and otherwise one plus
// the unsaved counts of its parent and contributors.
func (g *Graph[P]) UnsavedAncestors(name string) (int, error) {
	n, err := g.Node(name)
	if err != nil {
		return 0, err
	}
	return g.unsaved(n, make(map[string]int))
}

func (g *Graph[P]) unsaved(n *Node[P], memo map[string]int) (int, error) {
	if n.payload.ok {
		return 0, nil
	}
	if v, ok := memo[n.id]; ok {
		return v, nil
	}
	v, err := g.unsavedDeferred(n, memo)
	if err != nil {
		return 0, err
	}
	memo[n.id] = v
	return v, nil
}

// unsavedDeferred counts n as if its payload were absent.
func (g *Graph[P]) unsavedDeferred(n *Node[P], memo map[string]int) (int, error) {
	if n.parent == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnreconstructibleRoot, n.id)
	}
	total := 1
	for _, id := range n.sources() {
		a, ok := g.nodes[id]
		if !ok {
			return 0, fmt.Errorf("%w: ancestor %q of %q", ErrNotFound, id, n.id)
		}
		v, err := g.unsaved(a, memo)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// applySnapshotPolicy keeps or drops the payload of a pending node. A forced
// snapshot without a payload is computed from the ancestors.
func (g *Graph[P]) applySnapshotPolicy(n *Node[P]) error {
	if g.sparsity == Unbounded {
		n.payload = snapshot[P]{}
		return nil
	}

	count, err := g.unsavedDeferred(n, make(map[string]int))
	if err != nil {
		return err
	}
	if count <= g.sparsity {
		n.payload = snapshot[P]{}
		return nil
	}
	if !n.payload.ok {
		p, err := g.compute(n, make(map[string]P))
		if err != nil {
			return fmt.Errorf("forced snapshot: %w", err)
		}
		n.payload = snapshot[P]{value: p, ok: true}
		logger.Logger.Debug("Computed forced snapshot",
			zap.String("parent_id", n.parent),
			zap.Int("unsaved_ancestors", count))
	}
	return nil
}

// Materialize returns the payload of a node, rebuilding it from its
// ancestors when it was deferred. With persist the rebuilt payload is
// stored on the node.
func (g *Graph[P]) Materialize(name string, persist bool) (P, error) {
	var zero P
	n, err := g.Node(name)
	if err != nil {
		return zero, err
	}
	if n.payload.ok {
		return n.payload.value, nil
	}

	p, err := g.materialize(n, make(map[string]P))
	if err != nil {
		return zero, err
	}
	if persist {
		n.payload = snapshot[P]{value: p, ok: true}
		if err := g.fire(AfterMaterialize, n); err != nil {
			n.payload = snapshot[P]{}
			return zero, err
		}
		logger.Logger.Debug("Persisted materialized payload", zap.String("node_id", n.id))
	}
	return p, nil
}

func (g *Graph[P]) materialize(n *Node[P], memo map[string]P) (P, error) {
	if n.payload.ok {
		return n.payload.value, nil
	}
	if p, ok := memo[n.id]; ok {
		return p, nil
	}
	p, err := g.compute(n, memo)
	if err != nil {
		var zero P
		return zero, err
	}
	memo[n.id] = p
	return p, nil
}

// compute runs the transition function for n, ignoring any payload n holds.
func (g *Graph[P]) compute(n *Node[P], memo map[string]P) (P, error) {
	var zero P
	if n.parent == "" {
		return zero, fmt.Errorf("%w: %q", ErrUnreconstructibleRoot, n.id)
	}
	if g.transition == nil {
		return zero, ErrNoTransitionFunction
	}

	parent, ok := g.nodes[n.parent]
	if !ok {
		return zero, fmt.Errorf("%w: parent %q of %q", ErrNotFound, n.parent, n.id)
	}
	pp, err := g.materialize(parent, memo)
	if err != nil {
		return zero, err
	}

	contributors := make([]P, 0, len(n.contributors))
	for _, id := range n.contributors {
		c, ok := g.nodes[id]
		if !ok {
			return zero, fmt.Errorf("%w: contributor %q of %q", ErrNotFound, id, n.id)
		}
		cp, err := g.materialize(c, memo)
		if err != nil {
			return zero, err
		}
		contributors = append(contributors, cp)
	}

	p, err := g.transition(pp, maps.Clone(n.params), contributors)
	if err != nil {
		return zero, fmt.Errorf("transition for %q: %w", n.id, err)
	}
	return p, nil
}

// sources returns the parent followed by the contributors.
func (n *Node[P]) sources() []string {
	out := make([]string, 0, 1+len(n.contributors))
	out = append(out, n.parent)
	return append(out, n.contributors...)
}
