package persistence_test

import (
	"errors"
	"testing"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popgraph/dag"
	"popgraph/models"
	"popgraph/persistence"
	"popgraph/repository"
)

func counter(parent int, params dag.Params, contributors []int) (int, error) {
	v := parent + cast.ToInt(params["delta"])
	for _, c := range contributors {
		v += c
	}
	return v, nil
}

func newStore(t *testing.T, repo repository.NodeRepositoryInterface) *persistence.Store[int] {
	t.Helper()
	codec, err := persistence.NewJSONCodec[int](true)
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return persistence.NewStore[int](repo, codec)
}

func config(s *persistence.Store[int], sparsity int) dag.Config[int] {
	return dag.Config[int]{
		Sparsity:   sparsity,
		Transition: counter,
		Hooks:      []dag.Hook[int]{s},
	}
}

func step(t *testing.T, g *dag.Graph[int], delta int) string {
	t.Helper()
	id, err := g.Commit(dag.Change[int]{Params: dag.Params{"delta": delta}})
	require.NoError(t, err)
	return id
}

func TestStore_LoadEmpty(t *testing.T) {
	s := newStore(t, repository.NewMemoryRepository())
	_, err := s.Load(config(s, 0))
	assert.ErrorIs(t, err, persistence.ErrEmpty)
}

func TestStore_RoundTrip(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(10, config(s, 2))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))

	for i := 1; i <= 5; i++ {
		step(t, g, i)
	}
	_, err = g.Branch("side")
	require.NoError(t, err)
	side := step(t, g, 100)
	_, err = g.Checkout("main")
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 2))
	require.NoError(t, err)

	assert.Equal(t, g.Len(), r.Len())
	assert.Equal(t, g.Head().ID(), r.Head().ID())
	assert.Equal(t, "main", r.ActiveBranch())
	assert.Equal(t, g.Branches(), r.Branches())
	tip, ok := r.BranchTip("side")
	require.True(t, ok)
	assert.Equal(t, side, tip)

	nodes, err := g.Flatten("")
	require.NoError(t, err)
	for _, n := range nodes {
		want, err := g.Materialize(n.ID(), false)
		require.NoError(t, err)
		got, err := r.Materialize(n.ID(), false)
		require.NoError(t, err)
		assert.Equal(t, want, got, n.ID())
	}

	// the restored graph keeps deriving fresh ids
	next := step(t, r, 1)
	assert.False(t, g.Exists(next))
}

func TestStore_DeferredPayloadsStayDeferred(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, dag.Unbounded))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	id := step(t, g, 1)

	stored, err := repo.GetNode(id)
	require.NoError(t, err)
	assert.False(t, stored.Materialized)
	assert.Empty(t, stored.Payload)

	_, err = g.Materialize(id, true)
	require.NoError(t, err)
	stored, err = repo.GetNode(id)
	require.NoError(t, err)
	assert.True(t, stored.Materialized)
}

func TestStore_Attach(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	step(t, g, 1)

	w, err := g.Detach()
	require.NoError(t, err)
	_, err = w.Branch("trial")
	require.NoError(t, err)
	a := step(t, w, 2)
	b := step(t, w, 3)

	_, err = repo.GetNode(a)
	assert.ErrorIs(t, err, repository.ErrNodeNotFound, "detached graphs are not persisted")

	require.NoError(t, g.Attach(w))
	for _, id := range []string{a, b} {
		_, err := repo.GetNode(id)
		assert.NoError(t, err)
	}

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 0))
	require.NoError(t, err)
	tip, ok := r.BranchTip("trial")
	require.True(t, ok)
	assert.Equal(t, b, tip)
	got, err := r.Materialize(b, false)
	require.NoError(t, err)
	assert.Equal(t, 6, got)
}

func TestStore_RevisionContinuesAfterLoad(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	step(t, g, 1)

	before, err := repo.GetLatestCheckpoint()
	require.NoError(t, err)

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 0))
	require.NoError(t, err)
	head := step(t, r, 1)

	after, err := repo.GetLatestCheckpoint()
	require.NoError(t, err)
	assert.Greater(t, after.Revision, before.Revision)
	assert.Equal(t, head, after.Head)
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (failingRepo) Apply(*repository.Batch) error {
	return errors.New("disk full")
}

func TestStore_WriteFailureRollsBackCommit(t *testing.T) {
	repo := failingRepo{repository.NewMemoryRepository()}
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)

	_, err = g.Commit(dag.Change[int]{Params: dag.Params{"delta": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, g.Root().ID(), g.Head().ID())
}

// flakyRepo fails the nth batch and accepts every other one.
type flakyRepo struct {
	*repository.MemoryRepository
	calls, failOn int
}

func (f *flakyRepo) Apply(b *repository.Batch) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("connection reset")
	}
	return f.MemoryRepository.Apply(b)
}

func TestStore_FailedWriteLeavesNothingBehind(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: repository.NewMemoryRepository(), failOn: 3}
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	step(t, g, 1)

	_, err = g.Commit(dag.Change[int]{Params: dag.Params{"delta": 1}})
	require.Error(t, err)
	require.Equal(t, 2, g.Len())

	stored, err := repo.GetAllNodes()
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 0))
	require.NoError(t, err)
	assert.Equal(t, g.Len(), r.Len())
	assert.Equal(t, g.Head().ID(), r.Head().ID())

	_, err = r.Commit(dag.Change[int]{Params: dag.Params{"delta": 1}})
	assert.NoError(t, err)
}

func TestStore_LoadSkipsStoredSequenceNumbers(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	head := step(t, g, 1)

	// a node whose checkpoint never made it to the repository
	orphan := dag.DeriveID(head, "2")
	require.NoError(t, repo.PutNode(&models.Node{
		ID: orphan, Parent: head, Depth: 2, Branch: "main", Seq: 2, Ordinal: 3,
		Params: map[string]any{"delta": 1},
	}))

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 0))
	require.NoError(t, err)
	require.Equal(t, head, r.Head().ID())

	next, err := r.Commit(dag.Change[int]{Params: dag.Params{"delta": 1}})
	require.NoError(t, err)
	assert.NotEqual(t, orphan, next)
}

func TestStore_LoadKeepsSiblingOrder(t *testing.T) {
	repo := repository.NewMemoryRepository()
	s := newStore(t, repo)
	g, err := dag.New(0, config(s, 0))
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))

	step(t, g, 1)
	_, err = g.Checkout(g.Root().ID())
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))

	w, err := g.Detach()
	require.NoError(t, err)
	// the detached graph's first commit reuses sequence number 1
	step(t, w, 5)

	_, err = g.Branch("late")
	require.NoError(t, err)
	require.NoError(t, s.Sync(g))
	step(t, g, 2)
	step(t, g, 3)
	require.NoError(t, g.Attach(w))

	reloaded := newStore(t, repo)
	r, err := reloaded.Load(config(reloaded, 0))
	require.NoError(t, err)

	assert.Equal(t, g.Root().Children(), r.Root().Children())
	for depth := 0; depth <= g.Depth(); depth++ {
		assert.Equal(t, ids(g.Generation(depth)), ids(r.Generation(depth)), "depth %d", depth)
	}
}

func ids(nodes []*dag.Node[int]) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID())
	}
	return out
}
