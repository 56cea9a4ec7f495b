// Package repositorytest holds the behavior every repository backend must
// share. Backends run it against a fresh, empty store.
package repositorytest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popgraph/models"
	"popgraph/repository"
)

func RunContract(t *testing.T, repo repository.NodeRepositoryInterface) {
	t.Run("Empty", func(t *testing.T) {
		nodes, err := repo.GetAllNodes()
		require.NoError(t, err)
		assert.Empty(t, nodes)

		cp, err := repo.GetLatestCheckpoint()
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("Put and Get Node", func(t *testing.T) {
		node := &models.Node{
			ID:           "a",
			Parent:       "_root",
			Contributors: []string{"_root"},
			Params:       map[string]any{"spot": 3.0},
			Payload:      []byte(`"ACGT"`),
			Materialized: true,
			Depth:        1,
			Branch:       "main",
			Timestep:     1,
			CreatedAt:    1700000000000,
			Seq:          1,
		}
		require.NoError(t, repo.PutNode(node))

		got, err := repo.GetNode("a")
		require.NoError(t, err)
		assert.Equal(t, node, got)

		// overwrite keeps a single copy
		node.Materialized = false
		node.Payload = nil
		require.NoError(t, repo.PutNode(node))
		got, err = repo.GetNode("a")
		require.NoError(t, err)
		assert.False(t, got.Materialized)
		assert.Empty(t, got.Payload)
	})

	t.Run("Get Missing Node", func(t *testing.T) {
		_, err := repo.GetNode("missing")
		assert.ErrorIs(t, err, repository.ErrNodeNotFound)
	})

	t.Run("All Nodes", func(t *testing.T) {
		require.NoError(t, repo.PutNode(&models.Node{ID: "b", Parent: "a", Depth: 2}))
		nodes, err := repo.GetAllNodes()
		require.NoError(t, err)
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		sort.Strings(ids)
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("Branches", func(t *testing.T) {
		require.NoError(t, repo.PutBranch(&models.Branch{Name: "main", Target: "a"}))
		require.NoError(t, repo.PutBranch(&models.Branch{Name: "side", Target: "a"}))
		require.NoError(t, repo.PutBranch(&models.Branch{Name: "main", Target: "b"}))

		branches, err := repo.GetBranches()
		require.NoError(t, err)
		got := map[string]string{}
		for _, b := range branches {
			got[b.Name] = b.Target
		}
		assert.Equal(t, map[string]string{"main": "b", "side": "a"}, got)
	})

	t.Run("Apply Batch", func(t *testing.T) {
		require.NoError(t, repo.Apply(&repository.Batch{
			Nodes: []*models.Node{
				{ID: "c", Parent: "b", Depth: 3, Seq: 3, Ordinal: 4},
				{ID: "d", Parent: "c", Depth: 4, Seq: 4, Ordinal: 5},
			},
			Branches:   []*models.Branch{{Name: "batch", Target: "d"}},
			Checkpoint: &models.Checkpoint{ID: "c0", Revision: 0, Head: "d"},
		}))

		got, err := repo.GetNode("d")
		require.NoError(t, err)
		assert.Equal(t, "c", got.Parent)
		assert.Equal(t, uint64(5), got.Ordinal)
		_, err = repo.GetNode("c")
		require.NoError(t, err)

		branches, err := repo.GetBranches()
		require.NoError(t, err)
		found := false
		for _, b := range branches {
			if b.Name == "batch" {
				found = true
				assert.Equal(t, "d", b.Target)
			}
		}
		assert.True(t, found)

		cp, err := repo.GetLatestCheckpoint()
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "c0", cp.ID)
	})

	t.Run("Latest Checkpoint", func(t *testing.T) {
		require.NoError(t, repo.PutCheckpoint(&models.Checkpoint{ID: "c2", Revision: 2, Head: "b"}))
		require.NoError(t, repo.PutCheckpoint(&models.Checkpoint{ID: "c1", Revision: 1, Head: "a"}))

		cp, err := repo.GetLatestCheckpoint()
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "c2", cp.ID)
		assert.Equal(t, "b", cp.Head)
	})
}
