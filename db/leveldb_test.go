package db_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popgraph/db"
)

func TestLevelDB(t *testing.T) {
	ldb, err := db.NewLevelDB(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	defer ldb.Close()

	require.NoError(t, ldb.Put([]byte("node:a"), []byte("1")))
	require.NoError(t, ldb.PutAll(map[string][]byte{
		"node:b":   []byte("2"),
		"branch:x": []byte("a"),
	}))

	got, err := ldb.Get([]byte("node:b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	iter := ldb.NewPrefixIterator([]byte("node:"))
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	iter.Release()
	require.NoError(t, iter.Error())
	assert.Equal(t, []string{"node:a", "node:b"}, keys)

	_, err = ldb.Get([]byte("node:missing"))
	assert.True(t, errors.Is(err, db.ErrNotFound))
}
