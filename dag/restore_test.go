package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popgraph/dag"
)

func TestStateRestore_RoundTrip(t *testing.T) {
	g, d := detachScenario(t)
	require.NoError(t, g.Attach(d))
	mustCheckout(t, g, "b11")

	st := g.State()
	assert.Equal(t, "_root", st.Nodes[0].ID)
	assert.Len(t, st.Nodes, g.Len())

	r, err := dag.Restore(dag.Config[int]{Transition: counter}, st)
	require.NoError(t, err)

	assert.Equal(t, g.Len(), r.Len())
	assert.Equal(t, g.Branches(), r.Branches())
	assert.Equal(t, g.Head().ID(), r.Head().ID())
	assert.Equal(t, "b11", r.ActiveBranch())
	assert.Equal(t, allIDs(t, g), allIDs(t, r))
	for depth := 0; depth <= g.Depth(); depth++ {
		assert.ElementsMatch(t, ids(g.Generation(depth)), ids(r.Generation(depth)))
	}
	for _, id := range allIDs(t, g) {
		a, _ := g.Node(id)
		b, _ := r.Node(id)
		assert.Equal(t, a.Ordinal(), b.Ordinal(), id)
	}

	// Restored graphs keep deriving fresh ids.
	before := commit(t, g, "")
	after := commit(t, r, "")
	assert.Equal(t, before, after)
	assert.Equal(t, g.Head().Ordinal(), r.Head().Ordinal())
}

func TestStateRestore_DeferredPayloads(t *testing.T) {
	g := newCounterGraph(t, dag.Config[int]{Sparsity: 3})
	for i := 0; i < 6; i++ {
		commit(t, g, "")
	}

	r, err := dag.Restore(dag.Config[int]{Transition: counter, Sparsity: 3}, g.State())
	require.NoError(t, err)
	for _, id := range allIDs(t, g) {
		a, _ := g.Node(id)
		b, _ := r.Node(id)
		assert.Equal(t, a.Materialized(), b.Materialized())

		got, err := r.Materialize(id, false)
		require.NoError(t, err)
		assert.Equal(t, a.Depth(), got)
	}
}

func TestRestore_Rejects(t *testing.T) {
	zero := 0
	root := dag.Record[int]{ID: "_root", Payload: &zero}

	cases := map[string]struct {
		state dag.State[int]
		want  error
	}{
		"empty": {
			state: dag.State[int]{},
			want:  dag.ErrInconsistent,
		},
		"root without payload": {
			state: dag.State[int]{Nodes: []dag.Record[int]{{ID: "_root"}}},
			want:  dag.ErrUnreconstructibleRoot,
		},
		"orphan": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root, {ID: "a", Parent: "ghost", Depth: 1}}},
			want:  dag.ErrInconsistent,
		},
		"bad depth": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root, {ID: "a", Parent: "_root", Depth: 3}}},
			want:  dag.ErrInconsistent,
		},
		"duplicate node": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root, root}},
			want:  dag.ErrDuplicateIdentity,
		},
		"branch shadows node": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root}, Branches: map[string]string{"_root": "_root"}},
			want:  dag.ErrDuplicateIdentity,
		},
		"dangling branch": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root}, Branches: map[string]string{"main": "gone"}},
			want:  dag.ErrInconsistent,
		},
		"unknown contributor": {
			state: dag.State[int]{Nodes: []dag.Record[int]{root, {ID: "a", Parent: "_root", Depth: 1, Contributors: []string{"x"}}}},
			want:  dag.ErrInconsistent,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dag.Restore(dag.Config[int]{}, tc.state)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDeriveID(t *testing.T) {
	a := dag.DeriveID("_root", "1")
	assert.Len(t, a, dag.IDLength)
	assert.Equal(t, a, dag.DeriveID("_root", "1"))
	assert.NotEqual(t, a, dag.DeriveID("_root", "2"))
	assert.NotEqual(t, a, dag.DeriveID("_root1", ""))
}
