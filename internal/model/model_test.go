package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexKeyBytesRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  IndexKey
	}{
		{"zero", IndexKey{}},
		{"typical", IndexKey{Height: 812345, DuplicateID: 0, TxIndex: 12, IOIndex: 3}},
		{"max fields", IndexKey{Height: 0xFFFFFFFF, DuplicateID: 0xFF, TxIndex: 0xFFFFFFFF, IOIndex: 0xFFFFFFFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.key.Bytes()
			require.Len(t, b, IndexKeySize)

			got, err := ParseIndexKey(b)
			require.NoError(t, err)
			require.Equal(t, tc.key, got)
		})
	}
}

func TestParseIndexKeyWrongLength(t *testing.T) {
	_, err := ParseIndexKey([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestIndexKeyBytesOrderMatchesLess(t *testing.T) {
	keys := []IndexKey{
		{Height: 1, DuplicateID: 0, TxIndex: 0, IOIndex: 0},
		{Height: 1, DuplicateID: 0, TxIndex: 0, IOIndex: 1},
		{Height: 1, DuplicateID: 0, TxIndex: 1, IOIndex: 0},
		{Height: 1, DuplicateID: 1, TxIndex: 0, IOIndex: 0},
		{Height: 2, DuplicateID: 0, TxIndex: 0, IOIndex: 0},
	}

	for i := 0; i < len(keys)-1; i++ {
		require.True(t, keys[i].Less(keys[i+1]), "keys[%d] should sort before keys[%d]", i, i+1)
		require.True(t, string(keys[i].Bytes()) < string(keys[i+1].Bytes()),
			"byte encoding of keys[%d] should sort before keys[%d]", i, i+1)
	}
}

func TestByteRangeSlice(t *testing.T) {
	payload := []byte("0123456789")
	r := ByteRange{Start: 3, Length: 4}
	require.Equal(t, []byte("3456"), r.Slice(payload))
}

func TestUnspentOutputKey(t *testing.T) {
	u := UnspentOutput{
		Height:          100,
		DuplicateID:     DuplicateIDCanonical,
		TxIndexInBlock:  2,
		OutputIndexInTx: 1,
	}
	require.Equal(t, IndexKey{Height: 100, DuplicateID: 0, TxIndex: 2, IOIndex: 1}, u.Key())
}

func TestScriptAddressString(t *testing.T) {
	var a ScriptAddress
	a[0] = 0xAB
	a[1] = 0xCD
	require.Contains(t, a.String(), "abcd")
}
