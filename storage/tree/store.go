package tree

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/syndtr/goleveldb/leveldb"

	"feepools/storage"
)

// Store is an authenticated, path-addressed key-value store on top of an
// ordered database. Elements live under nested subtrees; every mutation goes
// through a Batch that is validated against the current state and then
// written as one atomic database batch.
//
// Store is not safe for concurrent mutation. Reads may run concurrently with
// each other.
type Store struct {
	db storage.Database
}

// Open wraps an ordered database.
func Open(db storage.Database) *Store {
	return &Store{db: db}
}

// Database exposes the backing database.
func (s *Store) Database() storage.Database {
	return s.db
}

// Transaction scopes reads and writes. Batches applied against a transaction
// are visible through it immediately and to everyone else after Commit.
type Transaction struct {
	tx   storage.Transaction
	done bool
}

// StartTransaction opens a transaction on the backing database.
func (s *Store) StartTransaction() (*Transaction, error) {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: open transaction: %w", ErrBackend, err)
	}
	return &Transaction{tx: tx}, nil
}

// Commit makes the transaction's writes durable.
func (t *Transaction) Commit() error {
	if t.done {
		return errors.New("tree: transaction already finished")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrBackend, err)
	}
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Discard()
}

func (s *Store) reader(tx *Transaction) storage.ReadWriter {
	if tx != nil {
		return tx.tx
	}
	return s.db
}

// Get returns the element stored at path/key. It fails with ErrPathNotFound
// when an ancestor subtree is missing and with ErrKeyNotFound when only the
// key itself is missing.
func (s *Store) Get(path Path, key []byte, tx *Transaction) (Element, error) {
	return s.get(newOverlay(s.reader(tx)), path, key)
}

// GetPending is Get with the batch's queued writes layered on top of the
// stored state, so a caller can build read-modify-write operations on keys
// already touched earlier in the same batch.
func (s *Store) GetPending(batch *Batch, path Path, key []byte, tx *Transaction) (Element, error) {
	value, deleted, found := batch.Lookup(path, key)
	switch {
	case found && deleted:
		return Element{}, fmt.Errorf("%w: %s/%x", ErrKeyNotFound, path, key)
	case found:
		return Element{Kind: KindItem, Value: value}, nil
	}
	return s.Get(path, key, tx)
}

// Has reports whether an element exists at path/key.
func (s *Store) Has(path Path, key []byte, tx *Transaction) (bool, error) {
	_, err := s.Get(path, key, tx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrPathNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Children lists the direct children of the subtree at path in key order.
func (s *Store) Children(path Path, tx *Transaction) ([]Entry, error) {
	r := s.reader(tx)
	if err := s.requireTree(newOverlay(r), path); err != nil {
		return nil, err
	}
	prefix, err := encodePath(path)
	if err != nil {
		return nil, err
	}
	it := r.NewIterator(prefix)
	defer it.Release()
	var entries []Entry
	for it.Next() {
		childKey, ok := directChild(it.Key()[len(prefix):])
		if !ok {
			continue
		}
		element, err := decodeElement(it.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: append([]byte(nil), childKey...), Element: element})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %w", ErrBackend, path, err)
	}
	return entries, nil
}

// IsEmptyTree reports whether the subtree at path has no children.
func (s *Store) IsEmptyTree(path Path, tx *Transaction) (bool, error) {
	r := s.reader(tx)
	if err := s.requireTree(newOverlay(r), path); err != nil {
		return false, err
	}
	prefix, err := encodePath(path)
	if err != nil {
		return false, err
	}
	it := r.NewIterator(prefix)
	defer it.Release()
	for it.Next() {
		if len(it.Key()) > len(prefix) {
			return false, nil
		}
	}
	if err := it.Error(); err != nil {
		return false, fmt.Errorf("%w: iterate %s: %w", ErrBackend, path, err)
	}
	return true, nil
}

// ApplyBatch validates every operation in order against the current state
// plus the effects of the operations before it, then writes the whole batch
// in one database write. Nothing is written if any operation is invalid or
// the write fails.
func (s *Store) ApplyBatch(batch *Batch, tx *Transaction) error {
	if batch.IsEmpty() {
		return ErrBatchEmpty
	}
	rw := s.reader(tx)
	view := newOverlay(rw)
	out := new(leveldb.Batch)
	for i, op := range batch.ops {
		if err := s.applyOp(view, out, op); err != nil {
			return fmt.Errorf("op %d (%s %s/%x): %w", i, op.Kind, op.Path, op.Key, err)
		}
	}
	if err := rw.Write(out); err != nil {
		return fmt.Errorf("%w: write batch: %w", ErrBackend, err)
	}
	return nil
}

func (s *Store) applyOp(view *overlay, out *leveldb.Batch, op Op) error {
	if err := s.requireTree(view, op.Path); err != nil {
		return err
	}
	encoded, err := encodeKey(op.Path, op.Key)
	if err != nil {
		return err
	}
	existing, exists, err := view.element(encoded)
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpInsertTree:
		if exists {
			if !existing.IsTree() {
				return ErrNotTree
			}
			return nil
		}
		view.put(out, encoded, EmptyTree().encode())
	case OpInsertItem:
		if exists && existing.IsTree() {
			return ErrNotItem
		}
		view.put(out, encoded, Item(op.Value).encode())
	case OpDelete:
		if exists && existing.IsTree() {
			return ErrNotItem
		}
		if exists {
			view.delete(out, encoded)
		}
	case OpDeleteTree:
		if !exists {
			return nil
		}
		if !existing.IsTree() {
			return ErrNotTree
		}
		keys, err := view.keysWithPrefix(encoded)
		if err != nil {
			return err
		}
		for _, key := range keys {
			view.delete(out, key)
		}
	default:
		return fmt.Errorf("tree: unknown op kind %d", op.Kind)
	}
	return nil
}

func (s *Store) get(view *overlay, path Path, key []byte) (Element, error) {
	if err := s.requireTree(view, path); err != nil {
		return Element{}, err
	}
	encoded, err := encodeKey(path, key)
	if err != nil {
		return Element{}, err
	}
	element, ok, err := view.element(encoded)
	if err != nil {
		return Element{}, err
	}
	if !ok {
		return Element{}, fmt.Errorf("%w: %s/%x", ErrKeyNotFound, path, key)
	}
	return element, nil
}

// requireTree checks that every subtree along path exists.
func (s *Store) requireTree(view *overlay, path Path) error {
	for depth := 1; depth <= len(path); depth++ {
		encoded, err := encodeKey(path[:depth-1], path[depth-1])
		if err != nil {
			return err
		}
		element, ok, err := view.element(encoded)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrPathNotFound, path[:depth])
		}
		if !element.IsTree() {
			return fmt.Errorf("%w: %s", ErrNotTree, path[:depth])
		}
	}
	return nil
}

// RootHash commits to the full store contents. Entries are fed in key order
// into a stack trie, so two stores holding identical elements produce the same
// hash regardless of the history that produced them.
func (s *Store) RootHash(tx *Transaction) (common.Hash, error) {
	r := s.reader(tx)
	it := r.NewIterator(nil)
	defer it.Release()
	st := gethtrie.NewStackTrie(nil)
	for it.Next() {
		// The terminator keeps a subtree marker from being a prefix of its
		// descendants' keys while preserving key order.
		key := append(append([]byte(nil), it.Key()...), 0x00)
		if err := st.Update(key, append([]byte(nil), it.Value()...)); err != nil {
			return common.Hash{}, fmt.Errorf("tree: hash entry %x: %w", it.Key(), err)
		}
	}
	if err := it.Error(); err != nil {
		return common.Hash{}, fmt.Errorf("%w: iterate: %w", ErrBackend, err)
	}
	return st.Hash(), nil
}

// overlay layers uncommitted batch writes over a reader. A nil value marks a
// deletion.
type overlay struct {
	base    storage.Reader
	pending map[string][]byte
}

func newOverlay(base storage.Reader) *overlay {
	return &overlay{base: base, pending: make(map[string][]byte)}
}

func (o *overlay) element(key []byte) (Element, bool, error) {
	if raw, ok := o.pending[string(key)]; ok {
		if raw == nil {
			return Element{}, false, nil
		}
		element, err := decodeElement(raw)
		return element, err == nil, err
	}
	raw, err := o.base.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return Element{}, false, nil
	}
	if err != nil {
		return Element{}, false, fmt.Errorf("%w: get: %w", ErrBackend, err)
	}
	element, err := decodeElement(raw)
	if err != nil {
		return Element{}, false, err
	}
	return element, true, nil
}

func (o *overlay) put(out *leveldb.Batch, key, value []byte) {
	o.pending[string(key)] = value
	out.Put(key, value)
}

func (o *overlay) delete(out *leveldb.Batch, key []byte) {
	o.pending[string(key)] = nil
	out.Delete(key)
}

// keysWithPrefix returns live keys starting with prefix, in byte order,
// merging stored keys with pending writes.
func (o *overlay) keysWithPrefix(prefix []byte) ([][]byte, error) {
	seen := make(map[string]struct{})
	var keys [][]byte
	it := o.base.NewIterator(prefix)
	for it.Next() {
		key := string(it.Key())
		if raw, ok := o.pending[key]; ok && raw == nil {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, []byte(key))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return nil, fmt.Errorf("%w: iterate: %w", ErrBackend, err)
	}
	for key, raw := range o.pending {
		if raw == nil || !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		keys = append(keys, []byte(key))
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys [][]byte) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
}
