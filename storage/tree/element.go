package tree

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned when an ancestor subtree of the addressed
	// key does not exist.
	ErrPathNotFound = errors.New("tree: path not found")
	// ErrKeyNotFound is returned when the parent subtree exists but the key
	// does not.
	ErrKeyNotFound = errors.New("tree: key not found")
	// ErrNotTree is returned when a subtree operation addresses an item.
	ErrNotTree = errors.New("tree: element is not a tree")
	// ErrNotItem is returned when an item operation addresses a subtree.
	ErrNotItem = errors.New("tree: element is not an item")
	// ErrCorruptedElement is returned when a stored element cannot be decoded.
	ErrCorruptedElement = errors.New("tree: corrupted element")
	// ErrBatchEmpty rejects applying a batch without operations. An empty
	// commit usually means a caller ran the same step twice.
	ErrBatchEmpty = errors.New("tree: batch is empty")
	// ErrInvalidKey is returned for empty keys or segments longer than 255
	// bytes.
	ErrInvalidKey = errors.New("tree: invalid key")
	// ErrBackend wraps failures of the underlying key-value store.
	ErrBackend = errors.New("tree: backend failure")
)

// Kind distinguishes the two element types a tree holds.
type Kind uint8

const (
	KindItem Kind = 0x00
	KindTree Kind = 0x01
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindTree:
		return "tree"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Element is a stored value: either an opaque item or a subtree marker.
type Element struct {
	Kind  Kind
	Value []byte
}

// Item builds an item element.
func Item(value []byte) Element {
	return Element{Kind: KindItem, Value: append([]byte(nil), value...)}
}

// EmptyTree builds a subtree marker.
func EmptyTree() Element {
	return Element{Kind: KindTree}
}

// IsTree reports whether the element is a subtree marker.
func (e Element) IsTree() bool { return e.Kind == KindTree }

// IsItem reports whether the element is an item.
func (e Element) IsItem() bool { return e.Kind == KindItem }

// Equal compares kind and payload.
func (e Element) Equal(other Element) bool {
	return e.Kind == other.Kind && bytes.Equal(e.Value, other.Value)
}

func (e Element) encode() []byte {
	if e.Kind == KindTree {
		return []byte{byte(KindTree)}
	}
	buf := make([]byte, 1+len(e.Value))
	buf[0] = byte(KindItem)
	copy(buf[1:], e.Value)
	return buf
}

func decodeElement(raw []byte) (Element, error) {
	if len(raw) == 0 {
		return Element{}, ErrCorruptedElement
	}
	switch Kind(raw[0]) {
	case KindItem:
		return Element{Kind: KindItem, Value: append([]byte(nil), raw[1:]...)}, nil
	case KindTree:
		if len(raw) != 1 {
			return Element{}, ErrCorruptedElement
		}
		return Element{Kind: KindTree}, nil
	default:
		return Element{}, fmt.Errorf("%w: unknown kind %d", ErrCorruptedElement, raw[0])
	}
}

// Entry pairs a child key with its element.
type Entry struct {
	Key     []byte
	Element Element
}
