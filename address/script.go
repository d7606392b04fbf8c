// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// Script returns the canonical output script paying to a.
func (a Address) Script() ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	switch a.Type {
	case P2WPKH, P2WSH, P2TR, WitnessUnknown:
		if err := checkProgram(a.WitnessVersion, a.Program); err != nil {
			return nil, err
		}

		op := byte(txscript.OP_0)
		if a.WitnessVersion > 0 {
			op = txscript.OP_1 + a.WitnessVersion - 1
		}
		builder.AddOp(op).AddData(a.Program)

	case P2PKH:
		builder.AddOp(txscript.OP_DUP).
			AddOp(txscript.OP_HASH160).
			AddData(a.Program).
			AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG)

	case P2SH:
		builder.AddOp(txscript.OP_HASH160).
			AddData(a.Program).
			AddOp(txscript.OP_EQUAL)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScriptType,
			a.Type)
	}

	return builder.Script()
}

// OutputScript decodes addr and returns the output script paying to it.
func OutputScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := Decode(addr, params)
	if err != nil {
		return nil, err
	}

	return decoded.Script()
}

// ScriptHash returns the Electrum index key of an output script: its SHA256
// digest in reversed byte order, hex encoded.
func ScriptHash(script []byte) string {
	// chainhash renders hashes in reversed byte order, which is exactly the
	// order Electrum servers expect.
	return chainhash.HashH(script).String()
}

// ScriptHashFor returns the Electrum index key of the output script paying to
// addr.
func ScriptHashFor(addr string, params *chaincfg.Params) (string, error) {
	script, err := OutputScript(addr, params)
	if err != nil {
		return "", err
	}

	return ScriptHash(script), nil
}
