package dag

import (
	"fmt"
	"maps"
	"sort"
	"time"

	"popgraph/logger"

	"go.uber.org/zap"
)

const (
	DefaultRootID = "_root"
	DefaultBranch = "main"

	// Unbounded disables forced snapshots: only the root keeps a payload.
	Unbounded = -1
)

// TransitionFunc recomputes a payload from its parent's payload, the
// transition parameters and the contributors' payloads. It must be
// deterministic.
type TransitionFunc[P any] func(parent P, params Params, contributors []P) (P, error)

// Config configures a Graph. The zero value is usable.
type Config[P any] struct {
	RootID        string
	DefaultBranch string
	// Sparsity is the number of consecutive unmaterialized ancestors a node
	// may have before its payload is kept. 0 keeps every payload.
	Sparsity   int
	Transition TransitionFunc[P]
	// RequiredParams lists the keys every commit must carry in its params.
	RequiredParams []string
	Hooks          []Hook[P]
}

func (c Config[P]) withDefaults() Config[P] {
	if c.RootID == "" {
		c.RootID = DefaultRootID
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = DefaultBranch
	}
	if c.Sparsity < Unbounded {
		c.Sparsity = Unbounded
	}
	return c
}

// Change describes one commit.
type Change[P any] struct {
	// ID is optional; one is derived from the parent when empty.
	ID      string
	Params  Params
	Payload *P
	// Contributors are ids or branch names of the other nodes the
	// transition depends on, e.g. opponents.
	Contributors []string
	Timestep     int
}

// Graph is a versioned lineage store: nodes are commits, branches name the
// tips of lineages. A Graph is not safe for concurrent use; callers
// serialize access.
type Graph[P any] struct {
	nodes       map[string]*Node[P]
	branches    map[string]string
	generations [][]string

	root   string
	head   string
	active string

	seq      uint64
	lane     string
	detaches uint64

	ordinals uint64

	defaultBranch  string
	sparsity       int
	transition     TransitionFunc[P]
	requiredParams []string
	hooks          []Hook[P]
}

// New creates a graph whose root carries the given payload, with the
// default branch pointing at it.
func New[P any](root P, cfg Config[P]) (*Graph[P], error) {
	cfg = cfg.withDefaults()
	if cfg.RootID == cfg.DefaultBranch {
		return nil, fmt.Errorf("%w: root id and default branch %q", ErrDuplicateIdentity, cfg.RootID)
	}

	g := newGraph(cfg)
	r := &Node[P]{
		id:        cfg.RootID,
		payload:   snapshot[P]{value: root, ok: true},
		branch:    cfg.DefaultBranch,
		timestep:  1,
		createdAt: nowMillis(),
		sealed:    true,
	}
	g.insert(r)
	g.root = r.id
	g.head = r.id
	g.active = cfg.DefaultBranch
	g.branches[cfg.DefaultBranch] = r.id
	return g, nil
}

func newGraph[P any](cfg Config[P]) *Graph[P] {
	return &Graph[P]{
		nodes:         make(map[string]*Node[P]),
		branches:      make(map[string]string),
		defaultBranch: cfg.DefaultBranch,
		sparsity:      cfg.Sparsity,
		transition:     cfg.Transition,
		requiredParams: append([]string(nil), cfg.RequiredParams...),
		hooks:          append([]Hook[P](nil), cfg.Hooks...),
	}
}

// Commit adds a child of the active node on the active branch and moves
// both the branch and the active node to it. It returns the new id.
func (g *Graph[P]) Commit(c Change[P]) (string, error) {
	parent := g.nodes[g.head]

	contributors := make([]string, 0, len(c.Contributors))
	for _, name := range c.Contributors {
		n, err := g.Node(name)
		if err != nil {
			return "", fmt.Errorf("contributor: %w", err)
		}
		contributors = append(contributors, n.id)
	}

	for _, key := range g.requiredParams {
		if _, ok := c.Params[key]; !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingParam, key)
		}
	}

	if c.ID != "" && g.Exists(c.ID) {
		return "", fmt.Errorf("%w: %q", ErrDuplicateIdentity, c.ID)
	}

	timestep := c.Timestep
	if timestep == 0 {
		timestep = 1
	}
	seq := g.seq + 1
	n := &Node[P]{
		id:           c.ID,
		parent:       parent.id,
		contributors: contributors,
		params:       maps.Clone(c.Params),
		depth:        parent.depth + 1,
		branch:       g.active,
		timestep:     timestep,
		createdAt:    nowMillis(),
		seq:          seq,
	}
	if n.params == nil {
		n.params = Params{}
	}
	if c.Payload != nil {
		n.payload = snapshot[P]{value: *c.Payload, ok: true}
	}

	if err := g.fire(BeforeIdentity, n); err != nil {
		return "", err
	}
	if n.id == "" {
		n.id = DeriveID(parent.id, g.disambiguator(seq))
	}
	if g.Exists(n.id) {
		return "", fmt.Errorf("%w: %q", ErrDuplicateIdentity, n.id)
	}
	if err := g.applySnapshotPolicy(n); err != nil {
		return "", err
	}
	n.sealed = true

	prevTip, hadBranch := g.branches[g.active]
	prevHead := g.head

	g.insert(n)
	parent.children = append(parent.children, n.id)
	g.branches[g.active] = n.id
	g.head = n.id
	g.seq = seq

	if err := g.fire(AfterCommit, n); err != nil {
		g.remove(n)
		parent.children = parent.children[:len(parent.children)-1]
		if hadBranch {
			g.branches[g.active] = prevTip
		} else {
			delete(g.branches, g.active)
		}
		g.head = prevHead
		g.seq = seq - 1
		return "", err
	}

	logger.Logger.Debug("Committed node",
		zap.String("node_id", n.id),
		zap.String("parent_id", n.parent),
		zap.String("branch", n.branch),
		zap.Int("depth", n.depth),
		zap.Bool("materialized", n.payload.ok))
	return n.id, nil
}

// Branch creates name at the active node and checks it out. An empty name
// returns the active branch without changing anything.
func (g *Graph[P]) Branch(name string) (string, error) {
	if name == "" {
		return g.active, nil
	}
	if g.Exists(name) {
		return "", fmt.Errorf("%w: %q", ErrBranchExists, name)
	}
	g.branches[name] = g.head
	return g.Checkout(name)
}

// ActiveBranch returns the name of the active branch.
func (g *Graph[P]) ActiveBranch() string {
	return g.active
}

// Checkout activates a branch, or moves to a node by id. In the latter case
// the active branch becomes the node's branch label.
func (g *Graph[P]) Checkout(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	if id, ok := g.branches[name]; ok {
		g.active = name
		g.head = id
	} else if n, ok := g.nodes[name]; ok {
		g.head = n.id
		g.active = n.branch
	} else {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	logger.Logger.Debug("Checked out",
		zap.String("name", name),
		zap.String("branch", g.active),
		zap.String("node_id", g.head))
	return g.active, nil
}

// Branches returns every branch name, sorted.
func (g *Graph[P]) Branches() []string {
	out := make([]string, 0, len(g.branches))
	for name := range g.branches {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BranchTip returns the id the branch points at.
func (g *Graph[P]) BranchTip(name string) (string, bool) {
	id, ok := g.branches[name]
	return id, ok
}

// Head returns the active node.
func (g *Graph[P]) Head() *Node[P] {
	return g.nodes[g.head]
}

func (g *Graph[P]) Root() *Node[P] {
	return g.nodes[g.root]
}

// Node resolves a node id or a branch name.
func (g *Graph[P]) Node(name string) (*Node[P], error) {
	if id, ok := g.branches[name]; ok {
		return g.nodes[id], nil
	}
	if n, ok := g.nodes[name]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Exists reports whether name is a node id or a branch name.
func (g *Graph[P]) Exists(name string) bool {
	if _, ok := g.branches[name]; ok {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

// Len returns the number of nodes, root included.
func (g *Graph[P]) Len() int {
	return len(g.nodes)
}

// Sparsity returns the configured snapshot threshold.
func (g *Graph[P]) Sparsity() int {
	return g.sparsity
}

func (g *Graph[P]) insert(n *Node[P]) {
	g.ordinals++
	n.ordinal = g.ordinals
	g.nodes[n.id] = n
	for len(g.generations) <= n.depth {
		g.generations = append(g.generations, nil)
	}
	g.generations[n.depth] = append(g.generations[n.depth], n.id)
}

// remove undoes insert. It only supports removing nodes without children.
func (g *Graph[P]) remove(n *Node[P]) {
	delete(g.nodes, n.id)
	gen := g.generations[n.depth]
	for i, id := range gen {
		if id == n.id {
			g.generations[n.depth] = append(gen[:i:i], gen[i+1:]...)
			break
		}
	}
	for len(g.generations) > 0 && len(g.generations[len(g.generations)-1]) == 0 {
		g.generations = g.generations[:len(g.generations)-1]
	}
}

// nowMillis returns current time in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
