package dag

// Lineage returns the ancestors of the named node, most recent first,
// starting with the node itself and stopping before the root. An empty
// name starts from the active node.
func (g *Graph[P]) Lineage(name string) ([]*Node[P], error) {
	n := g.Head()
	if name != "" {
		var err error
		if n, err = g.Node(name); err != nil {
			return nil, err
		}
	}

	var out []*Node[P]
	for n != nil && n.parent != "" {
		out = append(out, n)
		n = g.nodes[n.parent]
	}
	return out, nil
}

// Generation returns the nodes at the given depth in insertion order. A
// negative depth counts back from the deepest generation, -1 being the
// deepest. Out of range depths yield no nodes.
func (g *Graph[P]) Generation(depth int) []*Node[P] {
	if depth < 0 {
		depth += len(g.generations)
	}
	if depth < 0 || depth >= len(g.generations) {
		return nil
	}
	ids := g.generations[depth]
	out := make([]*Node[P], 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// CurrentGeneration returns the generation of the active node.
func (g *Graph[P]) CurrentGeneration() []*Node[P] {
	return g.Generation(g.Head().depth)
}

// Depth returns the depth of the deepest generation.
func (g *Graph[P]) Depth() int {
	return len(g.generations) - 1
}

// Flatten returns every strict descendant of the named node in pre-order.
// An empty name starts from the root.
func (g *Graph[P]) Flatten(from string) ([]*Node[P], error) {
	n := g.Root()
	if from != "" {
		var err error
		if n, err = g.Node(from); err != nil {
			return nil, err
		}
	}
	return g.descendants(n), nil
}

func (g *Graph[P]) descendants(n *Node[P]) []*Node[P] {
	var out []*Node[P]
	stack := append([]string(nil), n.children...)
	reverse(stack)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c := g.nodes[id]
		out = append(out, c)
		for i := len(c.children) - 1; i >= 0; i-- {
			stack = append(stack, c.children[i])
		}
	}
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
