package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	batch := new(leveldb.Batch)
	batch.Put([]byte("key"), []byte("value"))
	require.NoError(t, db1.Write(batch))
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestGetReportsNotFoundDistinctFromEmpty(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	batch := new(leveldb.Batch)
	batch.Put([]byte("empty"), []byte{})
	require.NoError(t, db.Write(batch))

	value, err := db.Get([]byte("empty"))
	require.NoError(t, err)
	require.Empty(t, value)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionCommitAndDiscard(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.OpenTransaction()
	require.NoError(t, err)
	batch := new(leveldb.Batch)
	batch.Put([]byte("a"), []byte("1"))
	require.NoError(t, tx.Write(batch))

	got, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	tx.Discard()

	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)

	tx, err = db.OpenTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Write(batch))
	require.NoError(t, tx.Commit())

	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestIteratorRespectsPrefix(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	batch := new(leveldb.Batch)
	batch.Put([]byte("p/2"), []byte("b"))
	batch.Put([]byte("p/1"), []byte("a"))
	batch.Put([]byte("q/1"), []byte("c"))
	require.NoError(t, db.Write(batch))

	it := db.NewIterator([]byte("p/"))
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"p/1", "p/2"}, keys)
}
