package tree

import "bytes"

// OpKind enumerates batch operations.
type OpKind uint8

const (
	// OpInsertTree inserts an empty subtree if the key is absent.
	OpInsertTree OpKind = iota + 1
	// OpInsertItem inserts or overwrites an item.
	OpInsertItem
	// OpDelete removes an item.
	OpDelete
	// OpDeleteTree removes a subtree and everything below it.
	OpDeleteTree
)

func (k OpKind) String() string {
	switch k {
	case OpInsertTree:
		return "insert_tree"
	case OpInsertItem:
		return "insert_item"
	case OpDelete:
		return "delete"
	case OpDeleteTree:
		return "delete_tree"
	default:
		return "unknown"
	}
}

// Op is a single queued mutation.
type Op struct {
	Kind  OpKind
	Path  Path
	Key   []byte
	Value []byte

	encoded []byte
}

// Batch collects mutations that Store.ApplyBatch applies atomically and in
// insertion order. A Batch is not safe for concurrent use.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// InsertEmptyTree queues creation of an empty subtree at path/key. Applying
// it is a no-op when the subtree already exists.
func (b *Batch) InsertEmptyTree(path Path, key []byte) {
	b.push(Op{Kind: OpInsertTree, Path: path, Key: key})
}

// InsertItem queues an insert or overwrite of an item at path/key.
func (b *Batch) InsertItem(path Path, key, value []byte) {
	b.push(Op{Kind: OpInsertItem, Path: path, Key: key, Value: append([]byte(nil), value...)})
}

// Delete queues removal of the item at path/key.
func (b *Batch) Delete(path Path, key []byte) {
	b.push(Op{Kind: OpDelete, Path: path, Key: key})
}

// DeleteTree queues removal of the subtree at path/key with all descendants.
func (b *Batch) DeleteTree(path Path, key []byte) {
	b.push(Op{Kind: OpDeleteTree, Path: path, Key: key})
}

// Append queues every operation of other after the operations of b.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.ops = append(b.ops, other.ops...)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// IsEmpty reports whether the batch has no operations.
func (b *Batch) IsEmpty() bool {
	return b.Len() == 0
}

// Ops returns a copy of the queued operations.
func (b *Batch) Ops() []Op {
	out := make([]Op, len(b.ops))
	copy(out, b.ops)
	return out
}

// Lookup reports the latest queued state of the item at path/key. found is
// false when nothing in the batch touches the key; deleted is true when the
// latest operation removed it, directly or through an ancestor subtree.
func (b *Batch) Lookup(path Path, key []byte) (value []byte, deleted bool, found bool) {
	if b == nil {
		return nil, false, false
	}
	target, err := encodeKey(path, key)
	if err != nil {
		return nil, false, false
	}
	for i := len(b.ops) - 1; i >= 0; i-- {
		op := b.ops[i]
		encoded := op.encoded
		if encoded == nil {
			continue
		}
		if bytes.Equal(encoded, target) {
			switch op.Kind {
			case OpInsertItem:
				return append([]byte(nil), op.Value...), false, true
			case OpDelete, OpDeleteTree:
				return nil, true, true
			default:
				return nil, false, false
			}
		}
		if op.Kind == OpDeleteTree && bytes.HasPrefix(target, encoded) {
			return nil, true, true
		}
	}
	return nil, false, false
}

func (b *Batch) push(op Op) {
	op.Key = append([]byte(nil), op.Key...)
	// Invalid keys are caught again by ApplyBatch; Lookup just skips them.
	op.encoded, _ = encodeKey(op.Path, op.Key)
	b.ops = append(b.ops, op)
}
