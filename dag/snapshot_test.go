package dag_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popgraph/dag"
	"popgraph/dna"
)

// dnaChain commits n random mutations of "OOOOO" and returns the payload
// history indexed by depth.
func dnaChain(t *testing.T, sparsity, n int) (*dag.Graph[dna.Strand], []dna.Strand) {
	t.Helper()
	g, err := dag.New[dna.Strand]("OOOOO", dag.Config[dna.Strand]{Sparsity: sparsity, Transition: dna.Mutate})
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	history := []dna.Strand{"OOOOO"}
	for i := 0; i < n; i++ {
		params := dna.RandomParams(r, 5)
		next, err := dna.Mutate(history[len(history)-1], params, nil)
		require.NoError(t, err)
		history = append(history, next)
		_, err = g.Commit(dag.Change[dna.Strand]{Params: params, Payload: &next})
		require.NoError(t, err)
	}
	return g, history
}

func TestSnapshotPolicy_EveryFourthNodeSaved(t *testing.T) {
	g, history := dnaChain(t, 3, 16)

	lineage, err := g.Lineage("")
	require.NoError(t, err)
	require.Len(t, lineage, 16)

	for _, n := range lineage {
		assert.Equal(t, n.Depth()%4 == 0, n.Materialized(), "depth %d", n.Depth())

		got, err := g.Materialize(n.ID(), false)
		require.NoError(t, err)
		assert.Equal(t, history[n.Depth()], got, "depth %d", n.Depth())

		unsaved, err := g.UnsavedAncestors(n.ID())
		require.NoError(t, err)
		assert.Equal(t, n.Depth()%4, unsaved)
	}
}

func TestSnapshotPolicy_SparseMatchesEager(t *testing.T) {
	eager, _ := dnaChain(t, 0, 16)
	sparse, _ := dnaChain(t, 3, 16)

	eagerLineage, err := eager.Lineage("")
	require.NoError(t, err)
	sparseLineage, err := sparse.Lineage("")
	require.NoError(t, err)

	for i, n := range eagerLineage {
		require.True(t, n.Materialized())
		want, _ := n.Payload()
		got, err := sparse.Materialize(sparseLineage[i].ID(), false)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMaterialize_Persist(t *testing.T) {
	var persisted []string
	hook := dag.HookFunc[int](func(ev dag.Event, g *dag.Graph[int], n *dag.Node[int]) error {
		if ev == dag.AfterMaterialize {
			persisted = append(persisted, n.ID())
		}
		return nil
	})
	g := newCounterGraph(t, dag.Config[int]{Sparsity: 5, Hooks: []dag.Hook[int]{hook}})
	commit(t, g, "a")
	commit(t, g, "b")

	n, err := g.Node("b")
	require.NoError(t, err)
	require.False(t, n.Materialized())

	got, err := g.Materialize("b", false)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.False(t, n.Materialized())

	got, err = g.Materialize("b", true)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.True(t, n.Materialized())
	assert.Equal(t, []string{"b"}, persisted)

	unsaved, err := g.UnsavedAncestors("b")
	require.NoError(t, err)
	assert.Zero(t, unsaved)
}

func TestMaterialize_NoTransitionFunction(t *testing.T) {
	g, err := dag.New(0, dag.Config[int]{Sparsity: 5})
	require.NoError(t, err)

	payload := 7
	_, err = g.Commit(dag.Change[int]{ID: "a", Payload: &payload})
	require.NoError(t, err)
	assert.False(t, g.Head().Materialized())

	_, err = g.Materialize("a", false)
	assert.ErrorIs(t, err, dag.ErrNoTransitionFunction)

	_, err = g.Materialize("ghost", false)
	assert.ErrorIs(t, err, dag.ErrNotFound)
}

func TestCommit_ForcedSnapshotIsComputed(t *testing.T) {
	g := newCounterGraph(t, dag.Config[int]{Sparsity: 1})
	commit(t, g, "a1")
	commit(t, g, "a2")

	a1, _ := g.Node("a1")
	a2, _ := g.Node("a2")
	assert.False(t, a1.Materialized())
	p, ok := a2.Payload()
	require.True(t, ok)
	assert.Equal(t, 2, p)
}

func TestCommit_ForcedSnapshotWithoutTransitionFails(t *testing.T) {
	g, err := dag.New(0, dag.Config[int]{})
	require.NoError(t, err)

	_, err = g.Commit(dag.Change[int]{ID: "a"})
	assert.ErrorIs(t, err, dag.ErrNoTransitionFunction)
	assert.False(t, g.Exists("a"))
	assert.Equal(t, 1, g.Len())
}

func TestSnapshotPolicy_ContributorsCount(t *testing.T) {
	g := newCounterGraph(t, dag.Config[int]{Sparsity: 1})
	mustBranch(t, g, "a")
	commit(t, g, "a1")

	mustCheckout(t, g, "_root")
	mustBranch(t, g, "b")
	_, err := g.Commit(dag.Change[int]{ID: "b1", Contributors: []string{"a"}})
	require.NoError(t, err)

	b1 := g.Head()
	assert.Equal(t, []string{"a1"}, b1.Contributors())
	p, ok := b1.Payload()
	require.True(t, ok, "parent and contributor push the count past sparsity")
	assert.Equal(t, 2, p)

	unsaved, err := g.UnsavedAncestors("a")
	require.NoError(t, err)
	assert.Equal(t, 1, unsaved)
}

func TestSnapshotPolicy_Unbounded(t *testing.T) {
	g := newCounterGraph(t, dag.Config[int]{Sparsity: dag.Unbounded})
	for i := 0; i < 50; i++ {
		commit(t, g, "")
	}
	flat, err := g.Flatten("")
	require.NoError(t, err)
	for _, n := range flat {
		assert.False(t, n.Materialized())
	}
	got, err := g.Materialize("", false)
	require.ErrorIs(t, err, dag.ErrNotFound)
	got, err = g.Materialize("main", false)
	require.NoError(t, err)
	assert.Equal(t, 50, got)
}

// TestSnapshotPolicy_RandomGraphs checks the sparsity bound and that
// materialized payloads match an eager recomputation, with random
// contributors and checkouts.
func TestSnapshotPolicy_RandomGraphs(t *testing.T) {
	for _, sparsity := range []int{0, 1, 2, 4} {
		t.Run(fmt.Sprintf("sparsity=%d", sparsity), func(t *testing.T) {
			r := rand.New(rand.NewSource(int64(sparsity) + 10))
			g := newCounterGraph(t, dag.Config[int]{Sparsity: sparsity})
			want := map[string]int{"_root": 0}

			for i := 0; i < 120; i++ {
				all := allIDs(t, g)
				if r.Intn(3) == 0 {
					mustCheckout(t, g, all[r.Intn(len(all))])
				}
				var contributors []string
				if r.Intn(2) == 0 {
					contributors = append(contributors, all[r.Intn(len(all))])
				}
				params := dag.Params{"delta": r.Intn(5)}
				parent := g.Head().ID()
				id, err := g.Commit(dag.Change[int]{Params: params, Contributors: contributors})
				require.NoError(t, err)

				v, _ := counter(want[parent], params, nil)
				for _, c := range contributors {
					v += want[c]
				}
				want[id] = v
			}

			for _, id := range allIDs(t, g) {
				unsaved, err := g.UnsavedAncestors(id)
				require.NoError(t, err)
				assert.LessOrEqual(t, unsaved, sparsity)

				got, err := g.Materialize(id, false)
				require.NoError(t, err)
				assert.Equal(t, want[id], got)
			}
		})
	}
}
