package dag_test

import (
	"testing"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/require"

	"popgraph/dag"
)

// counter adds "delta" (default 1) and every contributor to the parent.
func counter(parent int, params dag.Params, contributors []int) (int, error) {
	v := parent + 1
	if d, ok := params["delta"]; ok {
		v = parent + cast.ToInt(d)
	}
	for _, c := range contributors {
		v += c
	}
	return v, nil
}

func newCounterGraph(t *testing.T, cfg dag.Config[int]) *dag.Graph[int] {
	t.Helper()
	if cfg.Transition == nil {
		cfg.Transition = counter
	}
	g, err := dag.New(0, cfg)
	require.NoError(t, err)
	return g
}

func commit(t *testing.T, g *dag.Graph[int], id string) string {
	t.Helper()
	got, err := g.Commit(dag.Change[int]{ID: id})
	require.NoError(t, err)
	return got
}

func mustBranch(t *testing.T, g *dag.Graph[int], name string) {
	t.Helper()
	_, err := g.Branch(name)
	require.NoError(t, err)
}

func mustCheckout(t *testing.T, g *dag.Graph[int], name string) {
	t.Helper()
	_, err := g.Checkout(name)
	require.NoError(t, err)
}

func ids[P any](nodes []*dag.Node[P]) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID())
	}
	return out
}

// nonlinear builds:
//
//	_root ─ 1 ─ 2 ─ 3   (b2_2)
//	  │     └── 5       (b1)
//	  └──── 4           (b3)
func nonlinear(t *testing.T) *dag.Graph[int] {
	t.Helper()
	g := newCounterGraph(t, dag.Config[int]{})
	mustBranch(t, g, "b1")
	mustBranch(t, g, "b2")
	mustCheckout(t, g, "b1")
	commit(t, g, "1")
	mustBranch(t, g, "b2_2")
	commit(t, g, "2")
	commit(t, g, "3")
	mustCheckout(t, g, "_root")
	mustBranch(t, g, "b3")
	mustCheckout(t, g, "b3")
	commit(t, g, "4")
	mustCheckout(t, g, "b1")
	commit(t, g, "5")
	return g
}

// allIDs returns every node id, root first.
func allIDs[P any](t *testing.T, g *dag.Graph[P]) []string {
	t.Helper()
	flat, err := g.Flatten("")
	require.NoError(t, err)
	return append([]string{g.Root().ID()}, ids(flat)...)
}
