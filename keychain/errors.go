// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import "errors"

var (
	// ErrInvalidSeed is returned when a seed is shorter than 16 bytes or
	// longer than 64 bytes.
	ErrInvalidSeed = errors.New("invalid seed length")

	// ErrInvalidKeyMaterial is returned when a derivation step produces a
	// key that is zero or not below the curve order. This is a hard error
	// and must never be retried with the same inputs.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrInvalidIndex is returned when a child index already carries the
	// hardened bit. Hardening is requested through the hardened flag.
	ErrInvalidIndex = errors.New("child index out of range")

	// ErrInvalidPath is returned when a textual derivation path cannot be
	// parsed.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrInvalidMnemonic is returned when a mnemonic fails the BIP39
	// wordlist or checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)
