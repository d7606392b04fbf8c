// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// MaxWitnessVersion is the highest witness version a segwit address
	// can carry.
	MaxWitnessVersion = 16

	minProgramLen = 2
	maxProgramLen = 40

	// p2wpkhProgramLen and p2wshProgramLen are the only program lengths
	// allowed for witness version 0.
	p2wpkhProgramLen = 20
	p2wshProgramLen  = 32
)

// SegwitAddress encodes the pay-to-witness-pubkey-hash address of a
// compressed public key. Only witness version 0 is derivable from a bare
// public key; taproot outputs need a tweaked key and are rejected here.
func SegwitAddress(pubKey []byte, version byte,
	params *chaincfg.Params) (string, error) {

	if version != 0 {
		return "", fmt.Errorf("%w: witness v%d from a bare public key",
			ErrUnsupportedScriptType, version)
	}

	if _, err := btcec.ParsePubKey(pubKey); err != nil ||
		len(pubKey) != btcec.PubKeyBytesLenCompressed {

		return "", fmt.Errorf("%w: not a compressed public key",
			ErrInvalidPublicKey)
	}

	return EncodeSegwit(params.Bech32HRPSegwit, 0, btcutil.Hash160(pubKey))
}

// EncodeSegwit encodes a witness program under hrp. Version 0 uses Bech32,
// versions 1 and above use Bech32m.
func EncodeSegwit(hrp string, version byte, program []byte) (string, error) {
	if err := checkProgram(version, program); err != nil {
		return "", err
	}

	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	data := make([]byte, 0, len(converted)+1)
	data = append(data, version)
	data = append(data, converted...)

	if version == 0 {
		return bech32.Encode(hrp, data)
	}

	return bech32.EncodeM(hrp, data)
}

// DecodeSegwit is the inverse of EncodeSegwit. It rejects addresses of another
// network, the wrong checksum variant for the version, and witness programs
// of invalid length.
func DecodeSegwit(addr string,
	params *chaincfg.Params) (byte, []byte, error) {

	hrp, data, variant, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	if hrp != strings.ToLower(params.Bech32HRPSegwit) {
		return 0, nil, fmt.Errorf("%w: prefix %q is not %q",
			ErrInvalidAddress, hrp, params.Bech32HRPSegwit)
	}

	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: missing witness version",
			ErrInvalidAddress)
	}

	version := data[0]
	if version > MaxWitnessVersion {
		return 0, nil, fmt.Errorf("%w: witness version %d",
			ErrInvalidAddress, version)
	}

	switch {
	case version == 0 && variant != bech32.Version0:
		return 0, nil, fmt.Errorf("%w: v0 requires bech32",
			ErrInvalidAddress)

	case version != 0 && variant != bech32.VersionM:
		return 0, nil, fmt.Errorf("%w: v%d requires bech32m",
			ErrInvalidAddress, version)
	}

	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	if err := checkProgram(version, program); err != nil {
		return 0, nil, err
	}

	return version, program, nil
}

// checkProgram enforces the BIP141 program length rules.
func checkProgram(version byte, program []byte) error {
	if version > MaxWitnessVersion {
		return fmt.Errorf("%w: witness version %d", ErrInvalidAddress,
			version)
	}

	if len(program) < minProgramLen || len(program) > maxProgramLen {
		return fmt.Errorf("%w: program length %d", ErrInvalidAddress,
			len(program))
	}

	if version == 0 && len(program) != p2wpkhProgramLen &&
		len(program) != p2wshProgramLen {

		return fmt.Errorf("%w: v0 program length %d", ErrInvalidAddress,
			len(program))
	}

	return nil
}
