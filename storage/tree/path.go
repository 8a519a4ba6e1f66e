package tree

import (
	"bytes"
	"fmt"
)

// Path addresses a subtree as the list of keys leading to it from the root.
// The nil path is the root itself, which always exists.
type Path [][]byte

// Child returns a new path extended by key.
func (p Path) Child(key []byte) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, append([]byte(nil), key...))
}

// Parent splits the path into its parent path and last key.
func (p Path) Parent() (Path, []byte, bool) {
	if len(p) == 0 {
		return nil, nil, false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

func (p Path) String() string {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i, seg := range p {
		if i > 0 {
			buf.WriteByte('/')
		}
		fmt.Fprintf(&buf, "%x", seg)
	}
	return buf.String()
}

// Every segment is written as a one byte length followed by its bytes. Keys of
// a subtree therefore share the encoded path as prefix, no sibling key is a
// prefix of another sibling's encoding, and children of a subtree sort by
// (length, bytes). Fixed-width keys sort in plain byte order.
func encodePath(path Path) ([]byte, error) {
	size := 0
	for _, seg := range path {
		if len(seg) == 0 || len(seg) > 255 {
			return nil, fmt.Errorf("%w: segment length %d", ErrInvalidKey, len(seg))
		}
		size += 1 + len(seg)
	}
	buf := make([]byte, 0, size)
	for _, seg := range path {
		buf = append(buf, byte(len(seg)))
		buf = append(buf, seg...)
	}
	return buf, nil
}

func encodeKey(path Path, key []byte) ([]byte, error) {
	if len(key) == 0 || len(key) > 255 {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidKey, len(key))
	}
	prefix, err := encodePath(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(prefix)+1+len(key))
	buf = append(buf, prefix...)
	buf = append(buf, byte(len(key)))
	return append(buf, key...), nil
}

// directChild reports the child key when rest (an encoded key with the parent
// prefix stripped) names an immediate child rather than a deeper descendant.
func directChild(rest []byte) ([]byte, bool) {
	if len(rest) == 0 {
		return nil, false
	}
	size := int(rest[0])
	if len(rest) != 1+size {
		return nil, false
	}
	return rest[1:], true
}
