// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// DefaultEntropyBits is the entropy of a fresh 12 word mnemonic.
const DefaultEntropyBits = 128

// NewMnemonic generates a BIP39 mnemonic from bits of fresh entropy. Bits must
// be a multiple of 32 between 128 and 256.
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}

	return EntropyToMnemonic(entropy)
}

// EntropyToMnemonic encodes raw entropy as a BIP39 mnemonic.
func EntropyToMnemonic(entropy []byte) (string, error) {
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}

	return mnemonic, nil
}

// NormalizeMnemonic lowercases m and collapses runs of whitespace.
func NormalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(strings.ToLower(m)), " ")
}

// ValidateMnemonic checks the words and checksum of m.
func ValidateMnemonic(m string) error {
	if !bip39.IsMnemonicValid(NormalizeMnemonic(m)) {
		return ErrInvalidMnemonic
	}

	return nil
}

// SeedFromMnemonic stretches a validated mnemonic and optional passphrase into
// the 64-byte BIP39 seed.
func SeedFromMnemonic(m, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(
		NormalizeMnemonic(m), passphrase,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}

	return seed, nil
}
