package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent. It is distinct from a
// stored empty or zero value.
var ErrNotFound = errors.New("storage: key not found")

// Reader is the read side shared by a database and its open transaction.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// NewIterator walks every key starting with prefix in ascending byte
	// order. A nil prefix walks the whole keyspace.
	NewIterator(prefix []byte) iterator.Iterator
}

// Writer applies a write batch atomically: either every put/delete lands or
// none do.
type Writer interface {
	Write(batch *leveldb.Batch) error
}

// ReadWriter groups the read and write sides.
type ReadWriter interface {
	Reader
	Writer
}

// Transaction is a scoped view over the database. Writes become visible to
// other readers only after Commit.
type Transaction interface {
	ReadWriter
	Commit() error
	Discard()
}

// Database is a generic interface for an ordered key-value store.
// This allows the fee pools to use any backend (in-memory or persistent).
type Database interface {
	ReadWriter
	// OpenTransaction starts a transaction. Only one transaction can be open
	// at a time and direct writes block until it is committed or discarded.
	OpenTransaction() (Transaction, error)
	Close() error
}

// LevelDB is an ordered key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemDB opens a LevelDB instance over volatile memory storage. It behaves
// exactly like the persistent database, which keeps tests honest about batch
// and transaction semantics.
func NewMemDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether the key exists.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// NewIterator returns an ordered iterator over keys starting with prefix.
func (ldb *LevelDB) NewIterator(prefix []byte) iterator.Iterator {
	return ldb.db.NewIterator(prefixRange(prefix), nil)
}

// Write applies the batch atomically.
func (ldb *LevelDB) Write(batch *leveldb.Batch) error {
	return ldb.db.Write(batch, nil)
}

// OpenTransaction opens a LevelDB transaction.
func (ldb *LevelDB) OpenTransaction() (Transaction, error) {
	tx, err := ldb.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &levelTx{tx: tx}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelTx struct {
	tx *leveldb.Transaction
}

func (t *levelTx) Get(key []byte) ([]byte, error) {
	value, err := t.tx.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (t *levelTx) Has(key []byte) (bool, error) {
	return t.tx.Has(key, nil)
}

func (t *levelTx) NewIterator(prefix []byte) iterator.Iterator {
	return t.tx.NewIterator(prefixRange(prefix), nil)
}

func (t *levelTx) Write(batch *leveldb.Batch) error {
	return t.tx.Write(batch, nil)
}

func (t *levelTx) Commit() error {
	return t.tx.Commit()
}

func (t *levelTx) Discard() {
	t.tx.Discard()
}

func prefixRange(prefix []byte) *util.Range {
	if len(prefix) == 0 {
		return nil
	}
	return util.BytesPrefix(prefix)
}
