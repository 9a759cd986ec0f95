// Package scriptaddr derives the fixed-length ScriptAddress the scanner
// filters and indexes on from a raw output scriptPubKey. It is adapted from
// the teacher's script-decoding component (internal/utxo/bitcoin's
// scriptDecoder), retargeted from btcjson.Vout RPC results onto the raw
// bytes the light parser hands it.
package scriptaddr

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
)

// Deriver implements the scriptToAddress pure function spec §3 describes:
// a fixed-length ScriptAddress derived from an output script.
type Deriver struct {
	params *chaincfg.Params
}

// New builds a Deriver for the given network's address prefixes.
func New(net chainparams.Params) *Deriver {
	return &Deriver{params: net.BTCParams}
}

// Derive extracts the scanner's ScriptAddress from a raw scriptPubKey. The
// address space is opaque to the caller: the first byte tags which address
// class matched (P2PKH, P2SH, P2WPKH, P2WSH, or a raw-script fallback
// keyed on a hash of the script itself), and the remaining bytes hold the
// canonical hash payload, zero-padded to the fixed 25-byte width or, when
// wider than the 24-byte slot, folded to its 20-byte Hash160.
//
// Non-standard or unparseable scripts still get a stable ScriptAddress
// (class 0xFF, script hash) so every output can be indexed even when it
// will never match a wallet's AddressFilter.
func (d *Deriver) Derive(script []byte) (model.ScriptAddress, error) {
	var addr model.ScriptAddress

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, d.params)
	if err != nil || len(addrs) == 0 {
		return fallbackAddress(script), nil
	}

	payload := addrs[0].ScriptAddress()
	addr[0] = byte(class)
	if len(payload) > len(addr)-1 {
		// P2WSH's ScriptAddress is the full 32-byte SHA-256 witness program,
		// too wide for the 24-byte payload slot. Fold it down the same way
		// fallbackAddress does for non-standard scripts rather than
		// truncating, which would alias distinct scripts sharing a leading
		// 24-byte prefix onto the same ScriptAddress.
		payload = btcutil.Hash160(payload)
	}
	copy(addr[1:], payload)
	return addr, nil
}

// DeriveFromAddressString decodes a base58 or bech32 wallet address string
// (as a user would paste it) and derives the same ScriptAddress Derive
// would produce for that address's output script. It grounds the wallet
// layer's address-registration side of AddressFilter (spec §4.4, "supplied
// by the wallet layer") for standalone operation, where addresses arrive as
// human-readable strings rather than parsed scripts.
func (d *Deriver) DeriveFromAddressString(s string) (model.ScriptAddress, error) {
	addr, err := btcutil.DecodeAddress(s, d.params)
	if err != nil {
		return model.ScriptAddress{}, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return model.ScriptAddress{}, err
	}
	return d.Derive(script)
}

func fallbackAddress(script []byte) model.ScriptAddress {
	var addr model.ScriptAddress
	addr[0] = 0xFF
	h := btcutil.Hash160(script)
	copy(addr[1:], h)
	return addr
}
