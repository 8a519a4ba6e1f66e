package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifierTextRoundTrip(t *testing.T) {
	var id Identifier
	id[0] = 0xab
	id[31] = 0x01

	encoded, err := json.Marshal(BlockInfo{Height: 3, ProposerID: id})
	require.NoError(t, err)

	var decoded BlockInfo
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, id, decoded.ProposerID)

	parsed, err := ParseIdentifier("0x" + id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestIdentifierRejectsWrongLength(t *testing.T) {
	_, err := ParseIdentifier("abcd")
	require.Error(t, err)
	_, err = IdentifierFromBytes(make([]byte, 20))
	require.Error(t, err)
}

func TestIdentifierCompare(t *testing.T) {
	a := Identifier{1}
	b := Identifier{2}
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))
}
