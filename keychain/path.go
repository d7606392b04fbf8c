// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// PurposeBIP84 is the purpose level of native segwit accounts.
	PurposeBIP84 uint32 = 84

	// CoinTypeBitcoin is the SLIP-0044 coin type of bitcoin mainnet.
	CoinTypeBitcoin uint32 = 0
)

// Branch is the change level of a BIP84 path.
type Branch uint32

const (
	// ExternalBranch holds the receiving addresses.
	ExternalBranch Branch = 0

	// InternalBranch holds the change addresses.
	InternalBranch Branch = 1
)

// String returns a human-readable name of the branch.
func (b Branch) String() string {
	switch b {
	case ExternalBranch:
		return "receiving"

	case InternalBranch:
		return "change"

	default:
		return fmt.Sprintf("branch(%d)", uint32(b))
	}
}

// PathLevel is a single step of a derivation path.
type PathLevel struct {
	Index    uint32
	Hardened bool
}

// DerivationPath is an ordered list of derivation steps starting at the master
// key.
type DerivationPath []PathLevel

// BIP84Account returns the path m/84'/0'/account'.
func BIP84Account(account uint32) DerivationPath {
	return DerivationPath{
		{Index: PurposeBIP84, Hardened: true},
		{Index: CoinTypeBitcoin, Hardened: true},
		{Index: account, Hardened: true},
	}
}

// BIP84Address returns the path m/84'/0'/account'/branch/index.
func BIP84Address(account uint32, branch Branch,
	index uint32) DerivationPath {

	return BIP84Account(account).
		Child(uint32(branch), false).
		Child(index, false)
}

// Child returns a copy of p extended by one level.
func (p DerivationPath) Child(index uint32, hardened bool) DerivationPath {
	out := make(DerivationPath, len(p), len(p)+1)
	copy(out, p)

	return append(out, PathLevel{Index: index, Hardened: hardened})
}

// IsBIP84 reports whether p has the full address shape
// 84'/0'/account'/change/index with change being 0 or 1.
func (p DerivationPath) IsBIP84() bool {
	if len(p) != 5 {
		return false
	}

	return p[0] == PathLevel{Index: PurposeBIP84, Hardened: true} &&
		p[1] == PathLevel{Index: CoinTypeBitcoin, Hardened: true} &&
		p[2].Hardened && !p[3].Hardened && !p[4].Hardened &&
		p[3].Index <= uint32(InternalBranch)
}

// String renders p in the conventional m/84'/0'/0'/0/5 notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")

	for _, level := range p {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(level.Index), 10))

		if level.Hardened {
			b.WriteByte('\'')
		}
	}

	return b.String()
}

// ParsePath parses the m/84'/0'/0'/0/5 notation. Both ' and h mark a
// hardened level.
func ParsePath(s string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath,
			s)
	}

	path := make(DerivationPath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") ||
			strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || index >= HardenedKeyStart {
			return nil, fmt.Errorf("%w: bad level %q in %q",
				ErrInvalidPath, part, s)
		}

		path = append(path, PathLevel{
			Index:    uint32(index),
			Hardened: hardened,
		})
	}

	return path, nil
}

// DerivePath folds DeriveChild over every level of path starting at root.
func DerivePath(root ExtendedKey, path DerivationPath) (ExtendedKey, error) {
	key := root
	for _, level := range path {
		var err error

		key, err = DeriveChild(key, level.Index, level.Hardened)
		if err != nil {
			return ExtendedKey{}, fmt.Errorf("derive %v: %w", path, err)
		}
	}

	return key, nil
}
