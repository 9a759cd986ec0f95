package chainparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForNetworkKnown(t *testing.T) {
	tests := []struct {
		name  string
		net   Network
		magic [4]byte
	}{
		{"main", Main, mainMagic},
		{"test", Test, testnetMagic},
		{"regtest", Regtest, regtestMagic},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ForNetwork(tc.net)
			require.NoError(t, err)
			require.Equal(t, tc.net, p.Network)
			require.Equal(t, tc.magic, p.Magic)
			require.NotNil(t, p.BTCParams)
			require.NotEqual(t, p.GenesisHash.String(), "")
		})
	}
}

func TestForNetworkUnknown(t *testing.T) {
	_, err := ForNetwork(Network("nonesuch"))
	require.Error(t, err)
}

func TestNetworkUnmarshalFlag(t *testing.T) {
	var n Network
	require.NoError(t, n.UnmarshalFlag("test"))
	require.Equal(t, Test, n)

	err := n.UnmarshalFlag("nonesuch")
	require.Error(t, err)
}
