// Package chainparams supplies the per-network constants the core threads
// through parsers and committers explicitly, rather than reading them from
// process-wide globals.
package chainparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Network identifies which Bitcoin network a scan targets.
type Network string

const (
	Main    Network = "main"
	Test    Network = "test"
	Regtest Network = "regtest"
)

// UnmarshalFlag implements flags.Unmarshaler so Network can be used directly
// as a jessevdk/go-flags struct field.
func (n *Network) UnmarshalFlag(value string) error {
	switch Network(value) {
	case Main, Test, Regtest:
		*n = Network(value)
		return nil
	default:
		return fmt.Errorf("unknown network %q", value)
	}
}

// Params bundles the magic bytes, genesis identifiers, and address-prefix
// bytes for one network. Threading this explicit value through parsers and
// committers replaces the process-wide globals the original scanner used.
type Params struct {
	Network       Network
	Magic         [4]byte
	GenesisHash   chainhash.Hash
	GenesisTxHash chainhash.Hash
	BTCParams     *chaincfg.Params
}

var (
	mainMagic    = [4]byte{0xF9, 0xBE, 0xB4, 0xD9}
	testnetMagic = [4]byte{0x0B, 0x11, 0x09, 0x07}
	regtestMagic = [4]byte{0xFA, 0xBF, 0xB5, 0xDA}
)

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

// ForNetwork returns the Params for a known network name.
func ForNetwork(n Network) (Params, error) {
	switch n {
	case Main:
		return Params{
			Network:       Main,
			Magic:         mainMagic,
			GenesisHash:   mustHash("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"),
			GenesisTxHash: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
			BTCParams:     &chaincfg.MainNetParams,
		}, nil
	case Test:
		return Params{
			Network:       Test,
			Magic:         testnetMagic,
			GenesisHash:   mustHash("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943"),
			GenesisTxHash: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
			BTCParams:     &chaincfg.TestNet3Params,
		}, nil
	case Regtest:
		return Params{
			Network:       Regtest,
			Magic:         regtestMagic,
			GenesisHash:   mustHash("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"),
			GenesisTxHash: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
			BTCParams:     &chaincfg.RegressionNetParams,
		}, nil
	default:
		return Params{}, fmt.Errorf("chainparams: unknown network %q", n)
	}
}
