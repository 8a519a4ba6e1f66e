package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// EpochIndex numbers epochs from zero.
type EpochIndex = uint16

// IdentifierLength is the width of identity and proposer ids.
const IdentifierLength = 32

// Identifier is a 32-byte identity id.
type Identifier [IdentifierLength]byte

// ProposerID identifies a block producer.
type ProposerID = Identifier

// IdentifierFromBytes copies a 32-byte slice.
func IdentifierFromBytes(raw []byte) (Identifier, error) {
	var id Identifier
	if len(raw) != IdentifierLength {
		return id, fmt.Errorf("types: identifier must be %d bytes, got %d", IdentifierLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseIdentifier decodes a hex id with an optional 0x prefix.
func ParseIdentifier(s string) (Identifier, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return Identifier{}, fmt.Errorf("types: parse identifier: %w", err)
	}
	return IdentifierFromBytes(raw)
}

// Bytes returns a copy of the id.
func (id Identifier) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// Compare orders ids by their bytes.
func (id Identifier) Compare(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the id as hex.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText accepts hex with or without 0x.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
