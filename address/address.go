// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package address converts public key material into bitcoin addresses and
// output scripts, and addresses back into the scripthash keys used by
// Electrum servers to index history.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrInvalidAddress is returned for any checksum, prefix, version or
	// length error while decoding an address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPublicKey is returned when a public key is not a valid
	// compressed secp256k1 point.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrUnsupportedScriptType is returned when an operation is asked for a
	// script type it does not implement.
	ErrUnsupportedScriptType = errors.New("unsupported script type")
)

// ScriptType is the closed set of output script kinds an address can encode.
type ScriptType uint8

const (
	// Unknown is the zero value and never produced by a successful
	// decode.
	Unknown ScriptType = iota

	// P2WPKH pays to a 20-byte witness v0 public key hash. It is the
	// only type the wallet derives.
	P2WPKH

	// P2WSH pays to a 32-byte witness v0 script hash.
	P2WSH

	// P2TR pays to a 32-byte witness v1 taproot output key.
	P2TR

	// WitnessUnknown is any other witness version and program, valid
	// to pay to but not understood.
	WitnessUnknown

	// P2PKH is the legacy Base58Check public key hash type.
	P2PKH

	// P2SH is the legacy Base58Check script hash type.
	P2SH
)

// String returns the conventional name of the script type.
func (s ScriptType) String() string {
	switch s {
	case P2WPKH:
		return "p2wpkh"

	case P2WSH:
		return "p2wsh"

	case P2TR:
		return "p2tr"

	case WitnessUnknown:
		return "witness_unknown"

	case P2PKH:
		return "p2pkh"

	case P2SH:
		return "p2sh"

	default:
		return "unknown"
	}
}

// IsWitness reports whether s is spent through witness data.
func (s ScriptType) IsWitness() bool {
	return s == P2WPKH || s == P2WSH || s == P2TR || s == WitnessUnknown
}

// Address is a decoded address tagged with its script type.
type Address struct {
	// Encoded is the canonical string form.
	Encoded string

	// Type selects how Program is turned into an output script.
	Type ScriptType

	// WitnessVersion is only meaningful for witness types.
	WitnessVersion byte

	// Program is the witness program for segwit types, or the 20-byte
	// hash for the Base58Check types.
	Program []byte
}

// String returns the encoded address.
func (a Address) String() string {
	return a.Encoded
}

// Decode parses any supported address of the given network.
func Decode(addr string, params *chaincfg.Params) (Address, error) {
	prefix := strings.ToLower(params.Bech32HRPSegwit) + "1"
	if strings.HasPrefix(strings.ToLower(addr), prefix) {
		version, program, err := DecodeSegwit(addr, params)
		if err != nil {
			return Address{}, err
		}

		return Address{
			Encoded:        strings.ToLower(addr),
			Type:           witnessType(version, program),
			WitnessVersion: version,
			Program:        program,
		}, nil
	}

	payload, version, err := FromBase58Check(addr)
	if err != nil {
		return Address{}, err
	}

	if len(payload) != 20 {
		return Address{}, fmt.Errorf("%w: payload length %d",
			ErrInvalidAddress, len(payload))
	}

	var scriptType ScriptType
	switch version {
	case params.PubKeyHashAddrID:
		scriptType = P2PKH

	case params.ScriptHashAddrID:
		scriptType = P2SH

	default:
		return Address{}, fmt.Errorf("%w: version byte 0x%02x not on %s",
			ErrInvalidAddress, version, params.Name)
	}

	return Address{
		Encoded: addr,
		Type:    scriptType,
		Program: payload,
	}, nil
}

// witnessType maps a witness version and program to its script type.
func witnessType(version byte, program []byte) ScriptType {
	switch {
	case version == 0 && len(program) == p2wpkhProgramLen:
		return P2WPKH

	case version == 0 && len(program) == p2wshProgramLen:
		return P2WSH

	case version == 1 && len(program) == 32:
		return P2TR

	default:
		return WitnessUnknown
	}
}

// ToBase58Check encodes payload prefixed with a version byte and suffixed with
// a four byte double-SHA256 checksum.
func ToBase58Check(payload []byte, version byte) string {
	return base58.CheckEncode(payload, version)
}

// FromBase58Check is the inverse of ToBase58Check.
func FromBase58Check(s string) ([]byte, byte, error) {
	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	return payload, version, nil
}

// P2PKHAddress returns the legacy pay-to-pubkey-hash address of pubKey.
func P2PKHAddress(pubKey []byte, params *chaincfg.Params) string {
	return ToBase58Check(btcutil.Hash160(pubKey), params.PubKeyHashAddrID)
}
