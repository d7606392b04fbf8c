// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain implements BIP32 hierarchical deterministic key derivation
// over secp256k1 for the BIP84 native segwit account structure.
//
// Every type in this package is a value. Derivation never mutates its input,
// so the same seed and path always yield byte-identical keys.
package keychain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// HardenedKeyStart is the index at which hardened child keys start.
	HardenedKeyStart = hdkeychain.HardenedKeyStart

	// keyLen is the length of both the private key material and the chain
	// code of an extended key.
	keyLen = 32
)

var (
	// ZprvVersion is the SLIP-0132 version prefix for BIP84 mainnet
	// extended private keys.
	ZprvVersion = [4]byte{0x04, 0xb2, 0x43, 0x0c}

	// ZpubVersion is the SLIP-0132 version prefix for BIP84 mainnet
	// extended public keys.
	ZpubVersion = [4]byte{0x04, 0xb2, 0x47, 0x46}
)

// ExtendedKey is a private key bundled with the chain code needed to derive
// its children.
type ExtendedKey struct {
	// Key is the 32-byte big-endian private scalar.
	Key [keyLen]byte

	// ChainCode is the 32-byte BIP32 chain code.
	ChainCode [keyLen]byte

	// Depth is zero for the master key and grows by one per derivation.
	Depth uint8

	// ChildIndex is the index this key was derived at, including the
	// hardened bit.
	ChildIndex uint32

	// ParentFingerprint is the first four bytes of HASH160 of the parent's
	// compressed public key, or zero for the master key.
	ParentFingerprint uint32
}

// MasterKeyFrom derives the depth-zero extended key from a seed using
// HMAC-SHA512 keyed with "Bitcoin seed".
func MasterKeyFrom(seed []byte) (ExtendedKey, error) {
	if len(seed) < hdkeychain.MinSeedBytes ||
		len(seed) > hdkeychain.MaxSeedBytes {

		return ExtendedKey{}, fmt.Errorf("%w: got %d bytes, want %d..%d",
			ErrInvalidSeed, len(seed), hdkeychain.MinSeedBytes,
			hdkeychain.MaxSeedBytes)
	}

	// The network only selects the serialization version, which is
	// irrelevant for the key material itself.
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	switch {
	case errors.Is(err, hdkeychain.ErrUnusableSeed):
		return ExtendedKey{}, fmt.Errorf("%w: master key out of range",
			ErrInvalidKeyMaterial)

	case err != nil:
		return ExtendedKey{}, fmt.Errorf("master key: %w", err)
	}

	return fromHD(master)
}

// DeriveChild derives the child at index below parent. Index must be below
// HardenedKeyStart; the hardened flag adds the hardened offset.
func DeriveChild(parent ExtendedKey, index uint32,
	hardened bool) (ExtendedKey, error) {

	if index >= HardenedKeyStart {
		return ExtendedKey{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	if hardened {
		index += HardenedKeyStart
	}

	if err := parent.validate(); err != nil {
		return ExtendedKey{}, err
	}

	child, err := parent.hd(chaincfg.MainNetParams.HDPrivateKeyID[:]).
		Derive(index)
	switch {
	case errors.Is(err, hdkeychain.ErrInvalidChild):
		return ExtendedKey{}, fmt.Errorf("%w: child %d of %x",
			ErrInvalidKeyMaterial, index, parent.Fingerprint())

	case err != nil:
		return ExtendedKey{}, fmt.Errorf("derive child %d: %w", index,
			err)
	}

	return fromHD(child)
}

// PublicKeyOf returns the 33-byte compressed public key of key.
func PublicKeyOf(key ExtendedKey) ([]byte, error) {
	return key.PublicKey()
}

// PublicKey returns the 33-byte compressed public key.
func (k ExtendedKey) PublicKey() ([]byte, error) {
	priv, err := k.PrivKey()
	if err != nil {
		return nil, err
	}

	return priv.PubKey().SerializeCompressed(), nil
}

// PrivKey returns the key as a btcec private key for signing.
func (k ExtendedKey) PrivKey() (*btcec.PrivateKey, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(k.Key[:])

	return priv, nil
}

// Fingerprint returns the first four bytes of HASH160 of the compressed public
// key. It returns zero for invalid key material.
func (k ExtendedKey) Fingerprint() uint32 {
	pub, err := k.PublicKey()
	if err != nil {
		return 0
	}

	return binary.BigEndian.Uint32(btcutil.Hash160(pub)[:4])
}

// Serialize returns the Base58Check extended private key using the given
// four version bytes, e.g. ZprvVersion.
func (k ExtendedKey) Serialize(version [4]byte) (string, error) {
	if err := k.validate(); err != nil {
		return "", err
	}

	return k.hd(version[:]).String(), nil
}

// NeuteredString returns the Base58Check extended public key of k using the
// given four version bytes, e.g. ZpubVersion.
func (k ExtendedKey) NeuteredString(version [4]byte) (string, error) {
	if err := k.validate(); err != nil {
		return "", err
	}

	// Neuter only knows the registered private/public version pairs, so
	// neuter under the mainnet xprv version and relabel afterwards.
	pub, err := k.hd(chaincfg.MainNetParams.HDPrivateKeyID[:]).Neuter()
	if err != nil {
		return "", fmt.Errorf("neuter: %w", err)
	}

	pub, err = pub.CloneWithVersion(version[:])
	if err != nil {
		return "", fmt.Errorf("relabel: %w", err)
	}

	return pub.String(), nil
}

// validate checks the key is a usable secp256k1 scalar, i.e. non-zero and
// below the curve order.
func (k ExtendedKey) validate() error {
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(k.Key[:]); overflow {
		return fmt.Errorf("%w: key not below curve order",
			ErrInvalidKeyMaterial)
	}

	if scalar.IsZero() {
		return fmt.Errorf("%w: zero key", ErrInvalidKeyMaterial)
	}

	return nil
}

// hd converts k into the hdkeychain representation labelled with version.
func (k ExtendedKey) hd(version []byte) *hdkeychain.ExtendedKey {
	var parentFP [4]byte
	binary.BigEndian.PutUint32(parentFP[:], k.ParentFingerprint)

	return hdkeychain.NewExtendedKey(
		version, k.Key[:], k.ChainCode[:], parentFP[:], k.Depth,
		k.ChildIndex, true,
	)
}

// fromHD copies an hdkeychain private key into a value ExtendedKey.
func fromHD(key *hdkeychain.ExtendedKey) (ExtendedKey, error) {
	priv, err := key.ECPrivKey()
	if err != nil {
		return ExtendedKey{}, fmt.Errorf("private key: %w", err)
	}

	out := ExtendedKey{
		Depth:             key.Depth(),
		ChildIndex:        key.ChildIndex(),
		ParentFingerprint: key.ParentFingerprint(),
	}
	copy(out.Key[:], priv.Serialize())
	copy(out.ChainCode[:], key.ChainCode())

	if err := out.validate(); err != nil {
		return ExtendedKey{}, err
	}

	return out, nil
}
